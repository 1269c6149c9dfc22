package outbox

import (
	"context"

	"github.com/phillus33/outbox-inbox/pkg/outbox"
)

// Store is the storage side of the relay contract. Records are listed oldest
// first and removed only after the transport accepted them.
type Store interface {
	ListPending(ctx context.Context, limit int) ([]*outbox.Record, error)
	Delete(ctx context.Context, id string) error
}

// Publisher hands a record to a transport. A nil error means the transport
// durably accepted the message.
type Publisher interface {
	Publish(ctx context.Context, rec *outbox.Record) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, rec *outbox.Record) error

func (fn PublisherFunc) Publish(ctx context.Context, rec *outbox.Record) error {
	return fn(ctx, rec)
}
