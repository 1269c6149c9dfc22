// Package outbox provides the producer half of the transactional outbox
// pattern. Events are written as outbox records through the caller's unit of
// work, so a record becomes visible exactly when the business transaction
// around it commits. Publishing to a transport is left to a relay.
package outbox

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/pkg/storage"
)

// RecordInserter is the storage capability the Writer needs. Implementations
// must execute the insert inside the transaction they are bound to.
type RecordInserter interface {
	InsertOutboxRecord(ctx context.Context, rec *Record) error
}

// Writer translates domain events into outbox records.
type Writer struct {
	logger *zap.Logger
}

type Option func(*Writer)

func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a Writer.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FireEvent inserts ev into the outbox through uow. It neither begins nor
// commits a transaction: the record is durable once the caller commits and
// disappears with the caller's rollback.
func (w *Writer) FireEvent(ctx context.Context, uow RecordInserter, ev Event) error {
	if uow == nil {
		return ErrUnitOfWorkRequired
	}
	if ev == nil {
		return ErrEventRequired
	}

	rec, err := ev.OutboxRecord()
	if err != nil {
		return fmt.Errorf("failed to build outbox record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID != ev.EventID() {
		return fmt.Errorf("%w: %q != %q", ErrEventIDMismatch, rec.ID, ev.EventID())
	}

	if err := uow.InsertOutboxRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrUniqueViolation) {
			return fmt.Errorf("%w: %s", ErrDuplicateEventID, rec.ID)
		}
		return fmt.Errorf("failed to insert outbox record: %w", err)
	}

	w.logger.Debug("Outbox event written",
		zap.String("event_id", rec.ID),
		zap.String("event_type", rec.Type),
		zap.String("aggregate_type", rec.AggregateType),
		zap.String("aggregate_id", rec.AggregateID),
	)

	return nil
}
