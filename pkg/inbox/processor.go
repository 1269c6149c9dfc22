package inbox

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// TxRunner runs fn inside one transaction, committing when fn returns nil
// and rolling back otherwise.
type TxRunner[U any] interface {
	InTx(ctx context.Context, fn func(ctx context.Context, uow U) error) error
}

// Handler applies the business effects of an event through uow.
type Handler[U any] func(ctx context.Context, uow U) error

// Processor wraps the Guard in a transaction so that duplicates are absorbed
// instead of surfacing as errors.
type Processor[U Ledger] struct {
	guard  *Guard
	runner TxRunner[U]
	logger *zap.Logger
}

func NewProcessor[U Ledger](guard *Guard, runner TxRunner[U], logger *zap.Logger) *Processor[U] {
	if guard == nil {
		guard = NewGuard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor[U]{guard: guard, runner: runner, logger: logger}
}

// Process applies handle for ev at most once. processed is false when ev was
// a duplicate; err is non-nil only for real failures, which the transport
// loop should answer with a redelivery.
func (p *Processor[U]) Process(ctx context.Context, ev Event, handle Handler[U]) (processed bool, err error) {
	err = p.runner.InTx(ctx, func(ctx context.Context, uow U) error {
		return p.guard.Consume(ctx, uow, ev, func(ctx context.Context) error {
			if handle == nil {
				return nil
			}
			return handle(ctx, uow)
		})
	})

	switch {
	case err == nil:
		p.logger.Debug("Event processed", zap.String("event_id", ev.EventID()))
		return true, nil
	case errors.Is(err, ErrAlreadyConsumed):
		p.logger.Info("Skipping duplicate event", zap.String("event_id", ev.EventID()))
		return false, nil
	default:
		return false, err
	}
}
