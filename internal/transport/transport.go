// Package transport holds what the NATS, RabbitMQ and Kafka adapters share:
// the handler signature for received events and the header names carrying
// the event metadata next to the payload.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/phillus33/outbox-inbox/pkg/inbox"
)

const (
	HeaderEventID       = "event-id"
	HeaderEventType     = "event-type"
	HeaderAggregateType = "aggregate-type"
	HeaderAggregateID   = "aggregate-id"
	ContentTypeJSON     = "application/json"
)

var ErrMissingEventID = errors.New("message carries no event id")

// Handler receives events decoded from a transport message.
type Handler func(ctx context.Context, ev inbox.ReceivedEvent[json.RawMessage]) error
