// Package outbox implements the relay for the transactional outbox pattern.
// It polls committed outbox records, hands them to a transport and deletes
// them once accepted. Delivery is at-least-once: a crash between publish and
// delete republishes the record, and consumers deduplicate by event id.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/pkg/outbox"
	"github.com/phillus33/outbox-inbox/pkg/storage"
)

var ErrWorkerMisconfigured = errors.New("worker requires a store and a publisher")

// Worker handles the polling and publishing of records from the outbox.
// Only the leader instance drains the table.
type Worker struct {
	store        Store
	publisher    Publisher
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
	retryBackoff time.Duration
	isLeader     func() bool
	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	done         chan struct{}
}

// WorkerConfig provides configuration options for the Worker.
type WorkerConfig struct {
	Store        Store
	Publisher    Publisher
	Logger       *zap.Logger
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	IsLeader     func() bool
}

func NewWorker(config WorkerConfig) *Worker {
	w := &Worker{
		store:        config.Store,
		publisher:    config.Publisher,
		logger:       config.Logger,
		pollInterval: config.PollInterval,
		batchSize:    config.BatchSize,
		maxRetries:   config.MaxRetries,
		retryBackoff: config.RetryBackoff,
		isLeader:     config.IsLeader,
	}

	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 100
	}
	if w.maxRetries <= 0 {
		w.maxRetries = 1
	}
	if w.isLeader == nil {
		w.isLeader = func() bool { return true }
	}
	return w
}

func (w *Worker) Start(ctx context.Context) error {
	if w.store == nil || w.publisher == nil {
		return ErrWorkerMisconfigured
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx, w.stopCh, w.done)
	return nil
}

// Stop signals the polling loop and waits for the in-flight batch to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	done := w.done
	w.running = false
	w.mu.Unlock()

	<-done
}

func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !w.isLeader() {
				continue
			}

			if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch relays one batch and returns how many records were published.
// It stops at the first record that cannot be published so that later
// records of the batch are not delivered ahead of it.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	records, err := w.store.ListPending(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending records: %w", err)
	}

	published := 0
	for _, rec := range records {
		if err := w.publishRecord(ctx, rec); err != nil {
			return published, fmt.Errorf("failed to publish record %s: %w", rec.ID, err)
		}

		if err := w.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			// Already published: the next poll republishes it and the
			// consumer's inbox absorbs the duplicate.
			return published, fmt.Errorf("failed to delete record %s: %w", rec.ID, err)
		}

		published++
		w.logger.Debug("Outbox record relayed",
			zap.String("event_id", rec.ID),
			zap.String("event_type", rec.Type),
		)
	}

	if published > 0 {
		w.logger.Info("Outbox batch relayed", zap.Int("published", published))
	}
	return published, nil
}

func (w *Worker) publishRecord(ctx context.Context, rec *outbox.Record) error {
	var err error
	for i := 0; i < w.maxRetries; i++ {
		if err = w.publisher.Publish(ctx, rec); err == nil {
			return nil
		}

		w.logger.Warn("Publish attempt failed",
			zap.String("event_id", rec.ID),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		if i == w.maxRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retryBackoff * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed to publish after %d retries: %w", w.maxRetries, err)
}
