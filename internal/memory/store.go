// Package memory is an in-process storage engine implementing the same unit
// of work contract as the Postgres adapter. Writes are staged per unit of work
// and become visible on Commit. Primary keys are claimed at insert time, so
// two open units of work can never both insert the same id.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phillus33/outbox-inbox/pkg/inbox"
	"github.com/phillus33/outbox-inbox/pkg/outbox"
	"github.com/phillus33/outbox-inbox/pkg/storage"
)

var ErrTxDone = errors.New("unit of work already committed or rolled back")

type table int

const (
	outboxTable table = iota
	consumedTable
)

type claimKey struct {
	table table
	id    string
}

// Store holds committed state.
type Store struct {
	mu       sync.Mutex
	records  map[string]*outbox.Record
	order    []string
	consumed map[string]inbox.ConsumedEvent
	values   map[string]string
	claims   map[claimKey]*UnitOfWork
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		records:  make(map[string]*outbox.Record),
		consumed: make(map[string]inbox.ConsumedEvent),
		values:   make(map[string]string),
		claims:   make(map[claimKey]*UnitOfWork),
		now:      time.Now,
	}
}

// Begin opens a unit of work.
func (s *Store) Begin() *UnitOfWork {
	return &UnitOfWork{store: s, values: make(map[string]string)}
}

// InTx runs fn in a fresh unit of work, committing on nil and rolling back
// otherwise.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) (err error) {
	uow := s.Begin()
	defer func() {
		if p := recover(); p != nil {
			_ = uow.Rollback()
			panic(p)
		}
		if err != nil {
			_ = uow.Rollback()
		}
	}()

	if err = fn(ctx, uow); err != nil {
		return err
	}
	return uow.Commit()
}

// FindOutboxRecord reads a committed outbox record.
func (s *Store) FindOutboxRecord(ctx context.Context, id string) (*outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("outbox record %s: %w", id, storage.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// ListPending returns up to limit committed outbox records in insertion
// order. A limit of zero or less returns nothing, as LIMIT does in SQL.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*outbox.Record
	for _, id := range s.order {
		if len(pending) >= limit {
			break
		}
		pending = append(pending, cloneRecord(s.records[id]))
	}
	return pending, nil
}

// Delete removes a committed outbox record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("outbox record %s: %w", id, storage.ErrNotFound)
	}
	delete(s.records, id)

	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ConsumedEvents returns the number of committed dedup records.
func (s *Store) ConsumedEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumed)
}

// Value reads committed business state written with UnitOfWork.Put.
func (s *Store) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Store) claim(uow *UnitOfWork, key claimKey) error {
	if _, ok := s.committed(key); ok {
		return fmt.Errorf("%s: %w", key.id, storage.ErrUniqueViolation)
	}
	if _, ok := s.claims[key]; ok {
		return fmt.Errorf("%s: %w", key.id, storage.ErrUniqueViolation)
	}
	s.claims[key] = uow
	uow.claims = append(uow.claims, key)
	return nil
}

func (s *Store) committed(key claimKey) (any, bool) {
	switch key.table {
	case outboxTable:
		rec, ok := s.records[key.id]
		return rec, ok
	case consumedTable:
		ev, ok := s.consumed[key.id]
		return ev, ok
	}
	return nil, false
}

func (s *Store) release(uow *UnitOfWork) {
	for _, key := range uow.claims {
		if s.claims[key] == uow {
			delete(s.claims, key)
		}
	}
	uow.claims = nil
}

func cloneRecord(rec *outbox.Record) *outbox.Record {
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return &cp
}
