package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxFieldLength bounds the id, aggregate and type columns.
	MaxFieldLength = 255
	// MaxPayloadBytes bounds the serialized payload.
	MaxPayloadBytes = 1 << 20
)

// Record is one not-yet-relayed domain event as stored in the outbox table.
type Record struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewRecord builds a record, JSON-encoding payload.
func NewRecord(id, aggregateType, aggregateID, eventType string, payload any) (*Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadEncoding, err)
	}

	return &Record{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       body,
	}, nil
}

// Validate checks the column constraints of the outbox table.
func (r *Record) Validate() error {
	if r == nil {
		return ErrRecordRequired
	}

	fields := []struct {
		name  string
		value string
	}{
		{"id", r.ID},
		{"aggregate type", r.AggregateType},
		{"aggregate id", r.AggregateID},
		{"type", r.Type},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidRecord, f.name)
		}
		if len(f.value) > MaxFieldLength {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidRecord, f.name, MaxFieldLength)
		}
	}

	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidRecord)
	}
	if len(r.Payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidRecord, MaxPayloadBytes)
	}
	if !json.Valid(r.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrInvalidRecord)
	}

	return nil
}
