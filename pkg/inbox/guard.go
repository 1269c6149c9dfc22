// Package inbox provides the consumer half of the pattern: a Guard that
// records processed event ids so redelivered events are applied at most once.
//
// The guarantee holds only if the handler's writes and the dedup insert share
// one transaction. Guard.Consume and Processor compose them that way.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/pkg/storage"
)

// Ledger is the storage capability the Guard needs.
type Ledger interface {
	InsertConsumedEvent(ctx context.Context, ev ConsumedEvent) error
	// FindConsumedEvent returns storage.ErrNotFound when id is unknown.
	FindConsumedEvent(ctx context.Context, id string) (*ConsumedEvent, error)
}

// Guard decides whether a received event should be processed.
type Guard struct {
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Guard)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the source of ReceivedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasBeenConsumed reports whether a dedup record exists for ev.
func (g *Guard) HasBeenConsumed(ctx context.Context, uow Ledger, ev Event) (bool, error) {
	id, err := eventID(uow, ev)
	if err != nil {
		return false, err
	}

	_, err = uow.FindConsumedEvent(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up consumed event %s: %w", id, err)
	}
}

// Add records ev as consumed. A second Add for the same id returns
// ErrAlreadyConsumed and never creates a second record.
func (g *Guard) Add(ctx context.Context, uow Ledger, ev Event) error {
	id, err := eventID(uow, ev)
	if err != nil {
		return err
	}

	consumed := ConsumedEvent{ID: id, ReceivedAt: g.now().UTC()}
	if err := uow.InsertConsumedEvent(ctx, consumed); err != nil {
		if errors.Is(err, storage.ErrUniqueViolation) {
			g.logger.Debug("Event already consumed", zap.String("event_id", id))
			return fmt.Errorf("%w: %s", ErrAlreadyConsumed, id)
		}
		return fmt.Errorf("failed to record consumed event %s: %w", id, err)
	}

	return nil
}

// Consume runs apply for ev unless it was already consumed, then records it.
// Both apply and the dedup insert must go through uow's transaction. On
// ErrAlreadyConsumed or any other error the caller must roll back.
func (g *Guard) Consume(ctx context.Context, uow Ledger, ev Event, apply func(ctx context.Context) error) error {
	consumed, err := g.HasBeenConsumed(ctx, uow, ev)
	if err != nil {
		return err
	}
	if consumed {
		g.logger.Debug("Skipping consumed event", zap.String("event_id", ev.EventID()))
		return fmt.Errorf("%w: %s", ErrAlreadyConsumed, ev.EventID())
	}

	if apply != nil {
		if err := apply(ctx); err != nil {
			return err
		}
	}

	return g.Add(ctx, uow, ev)
}

func eventID(uow Ledger, ev Event) (string, error) {
	if uow == nil {
		return "", ErrUnitOfWorkRequired
	}
	if ev == nil {
		return "", ErrEventRequired
	}

	id := ev.EventID()
	if strings.TrimSpace(id) == "" {
		return "", ErrEventIDRequired
	}
	return id, nil
}
