package inbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the minimum a received message must expose to be deduplicated.
type Event interface {
	EventID() string
}

// ReceivedEvent wraps an (id, type, payload) triple delivered by a transport.
type ReceivedEvent[P any] struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload P      `json:"payload"`
}

var _ Event = ReceivedEvent[json.RawMessage]{}

func (e ReceivedEvent[P]) EventID() string {
	return e.ID
}

// Decode converts a raw envelope into a typed one.
func Decode[P any](raw ReceivedEvent[json.RawMessage]) (ReceivedEvent[P], error) {
	var payload P
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return ReceivedEvent[P]{}, fmt.Errorf("failed to decode payload of event %s: %w", raw.ID, err)
	}

	return ReceivedEvent[P]{ID: raw.ID, Type: raw.Type, Payload: payload}, nil
}

// ConsumedEvent marks an event id as processed.
type ConsumedEvent struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"time_of_received"`
}
