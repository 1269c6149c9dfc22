package outbox

import "github.com/google/uuid"

// Event is anything that can be fired into the outbox.
type Event interface {
	EventID() string
	OutboxRecord() (*Record, error)
}

// Envelope is a typed domain event carrying its routing metadata.
type Envelope[P any] struct {
	ID            string
	AggregateType string
	AggregateID   string
	Type          string
	Payload       P
}

var _ Event = Envelope[struct{}]{}

func (e Envelope[P]) EventID() string {
	return e.ID
}

// OutboxRecord serializes the payload and copies the metadata into a record.
func (e Envelope[P]) OutboxRecord() (*Record, error) {
	return NewRecord(e.ID, e.AggregateType, e.AggregateID, e.Type, e.Payload)
}

// NewEventID returns a random UUID suitable as an event id.
func NewEventID() string {
	return uuid.NewString()
}
