package memory

import (
	"context"
	"fmt"

	"github.com/phillus33/outbox-inbox/pkg/inbox"
	"github.com/phillus33/outbox-inbox/pkg/outbox"
	"github.com/phillus33/outbox-inbox/pkg/storage"
)

// UnitOfWork stages writes until Commit. It is not safe for concurrent use.
type UnitOfWork struct {
	store    *Store
	records  []*outbox.Record
	consumed []inbox.ConsumedEvent
	values   map[string]string
	claims   []claimKey
	done     bool
}

var (
	_ outbox.RecordInserter = (*UnitOfWork)(nil)
	_ inbox.Ledger          = (*UnitOfWork)(nil)
)

func (u *UnitOfWork) InsertOutboxRecord(ctx context.Context, rec *outbox.Record) error {
	if err := u.check(ctx); err != nil {
		return err
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	if err := u.store.claim(u, claimKey{outboxTable, rec.ID}); err != nil {
		return fmt.Errorf("insert outbox record: %w", err)
	}
	u.records = append(u.records, cloneRecord(rec))
	return nil
}

// FindOutboxRecord sees this unit of work's own writes and committed state.
func (u *UnitOfWork) FindOutboxRecord(ctx context.Context, id string) (*outbox.Record, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	for _, rec := range u.records {
		if rec.ID == id {
			return cloneRecord(rec), nil
		}
	}
	return u.store.FindOutboxRecord(ctx, id)
}

func (u *UnitOfWork) InsertConsumedEvent(ctx context.Context, ev inbox.ConsumedEvent) error {
	if err := u.check(ctx); err != nil {
		return err
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	if err := u.store.claim(u, claimKey{consumedTable, ev.ID}); err != nil {
		return fmt.Errorf("insert consumed event: %w", err)
	}
	u.consumed = append(u.consumed, ev)
	return nil
}

func (u *UnitOfWork) FindConsumedEvent(ctx context.Context, id string) (*inbox.ConsumedEvent, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	for _, ev := range u.consumed {
		if ev.ID == id {
			found := ev
			return &found, nil
		}
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	ev, ok := u.store.consumed[id]
	if !ok {
		return nil, fmt.Errorf("consumed event %s: %w", id, storage.ErrNotFound)
	}
	return &ev, nil
}

// Put stages a business write so tests can observe it commit or roll back
// together with the outbox and inbox rows.
func (u *UnitOfWork) Put(key, value string) {
	u.values[key] = value
}

func (u *UnitOfWork) Commit() error {
	if u.done {
		return ErrTxDone
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, rec := range u.records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}
	for _, ev := range u.consumed {
		s.consumed[ev.ID] = ev
	}
	for k, v := range u.values {
		s.values[k] = v
	}

	s.release(u)
	u.done = true
	return nil
}

// Rollback discards staged writes. Calling it after Commit is a no-op.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}

	u.store.mu.Lock()
	u.store.release(u)
	u.store.mu.Unlock()

	u.records, u.consumed = nil, nil
	u.values = make(map[string]string)
	u.done = true
	return nil
}

func (u *UnitOfWork) check(ctx context.Context) error {
	if u.done {
		return ErrTxDone
	}
	return ctx.Err()
}
