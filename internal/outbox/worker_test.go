package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillus33/outbox-inbox/internal/memory"
	"github.com/phillus33/outbox-inbox/internal/transport/natsbus"
	"github.com/phillus33/outbox-inbox/pkg/inbox"
	"github.com/phillus33/outbox-inbox/pkg/outbox"
)

type mockStore struct {
	mu       sync.Mutex
	records  []*outbox.Record
	deleted  []string
	listErr  error
	deleteFn func(id string) error
}

func (m *mockStore) ListPending(ctx context.Context, limit int) ([]*outbox.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var pending []*outbox.Record
	for _, rec := range m.records {
		isDeleted := false
		for _, id := range m.deleted {
			if rec.ID == id {
				isDeleted = true
				break
			}
		}
		if !isDeleted && len(pending) < limit {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteFn != nil {
		if err := m.deleteFn(id); err != nil {
			return err
		}
	}
	m.deleted = append(m.deleted, id)
	return nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []string
	failures  map[string]int
}

func (m *mockPublisher) Publish(ctx context.Context, rec *outbox.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures[rec.ID] > 0 {
		m.failures[rec.ID]--
		return errors.New("broker unavailable")
	}
	m.published = append(m.published, rec.ID)
	return nil
}

func testRecord(id string) *outbox.Record {
	return &outbox.Record{
		ID:            id,
		AggregateType: "Order",
		AggregateID:   "o1",
		Type:          "OrderCreated",
		Payload:       json.RawMessage(`{"test":"data"}`),
	}
}

func TestWorker_ProcessBatch(t *testing.T) {
	store := &mockStore{records: []*outbox.Record{testRecord("e1"), testRecord("e2"), testRecord("e3")}}
	pub := &mockPublisher{}

	worker := NewWorker(WorkerConfig{Store: store, Publisher: pub, BatchSize: 2})

	n, err := worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"e1", "e2"}, pub.published)
	assert.Equal(t, []string{"e1", "e2"}, store.deleted)

	n, err = worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"e1", "e2", "e3"}, store.deleted)
}

func TestWorker_StopsBatchOnPublishFailure(t *testing.T) {
	store := &mockStore{records: []*outbox.Record{testRecord("e1"), testRecord("e2"), testRecord("e3")}}
	pub := &mockPublisher{failures: map[string]int{"e2": 10}}

	worker := NewWorker(WorkerConfig{Store: store, Publisher: pub, MaxRetries: 2, RetryBackoff: time.Millisecond})

	n, err := worker.ProcessBatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"e1"}, pub.published)
	assert.Equal(t, []string{"e1"}, store.deleted, "a record is removed only after it was published")
}

func TestWorker_RetriesPublish(t *testing.T) {
	store := &mockStore{records: []*outbox.Record{testRecord("e1")}}
	pub := &mockPublisher{failures: map[string]int{"e1": 2}}

	worker := NewWorker(WorkerConfig{Store: store, Publisher: pub, MaxRetries: 3, RetryBackoff: time.Millisecond})

	n, err := worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"e1"}, store.deleted)
}

func TestWorker_DeleteFailureRepublishes(t *testing.T) {
	failOnce := true
	store := &mockStore{
		records: []*outbox.Record{testRecord("e1")},
		deleteFn: func(string) error {
			if failOnce {
				failOnce = false
				return errors.New("connection reset")
			}
			return nil
		},
	}
	pub := &mockPublisher{}
	worker := NewWorker(WorkerConfig{Store: store, Publisher: pub})

	_, err := worker.ProcessBatch(context.Background())
	require.Error(t, err)

	_, err = worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e1"}, pub.published, "delivery is at-least-once")
}

func TestWorker_CancelDuringBackoff(t *testing.T) {
	store := &mockStore{records: []*outbox.Record{testRecord("e1")}}
	ctx, cancel := context.WithCancel(context.Background())

	pub := PublisherFunc(func(ctx context.Context, rec *outbox.Record) error {
		cancel()
		return errors.New("broker unavailable")
	})
	worker := NewWorker(WorkerConfig{Store: store, Publisher: pub, MaxRetries: 5, RetryBackoff: time.Hour})

	_, err := worker.ProcessBatch(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.deleted)
}

func TestWorker_ListFailure(t *testing.T) {
	listErr := errors.New("db down")
	worker := NewWorker(WorkerConfig{Store: &mockStore{listErr: listErr}, Publisher: &mockPublisher{}})

	_, err := worker.ProcessBatch(context.Background())
	require.ErrorIs(t, err, listErr)
}

func TestWorker_StartRequiresCollaborators(t *testing.T) {
	worker := NewWorker(WorkerConfig{})
	require.ErrorIs(t, worker.Start(context.Background()), ErrWorkerMisconfigured)
}

func TestWorker_OnlyLeaderRelays(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	uow := store.Begin()
	require.NoError(t, uow.InsertOutboxRecord(ctx, testRecord("e1")))
	require.NoError(t, uow.Commit())

	var leader sync.Mutex
	isLeader := false
	pub := &mockPublisher{}

	worker := NewWorker(WorkerConfig{
		Store:        store,
		Publisher:    pub,
		PollInterval: 10 * time.Millisecond,
		IsLeader: func() bool {
			leader.Lock()
			defer leader.Unlock()
			return isLeader
		},
	})
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	time.Sleep(50 * time.Millisecond)
	pending, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "a follower must not drain the outbox")

	leader.Lock()
	isLeader = true
	leader.Unlock()

	require.Eventually(t, func() bool {
		pending, err := store.ListPending(ctx, 10)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_LateConsumerReceivesRelayedRecord(t *testing.T) {
	// Setup NATS
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skipf("Skipping test, NATS not available: %v", err)
		return
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := natsbus.EnsureStream(ctx, js, "WORKER_TEST", "worker-test")
	if err != nil {
		t.Skipf("Skipping test, JetStream not available: %v", err)
	}
	defer js.DeleteStream(context.Background(), "WORKER_TEST")

	store := memory.NewStore()
	uow := store.Begin()
	require.NoError(t, uow.InsertOutboxRecord(ctx, testRecord("e1")))
	require.NoError(t, uow.Commit())

	worker := NewWorker(WorkerConfig{
		Store:     store,
		Publisher: natsbus.NewPublisher(js, "worker-test"),
		BatchSize: 10,
	})

	// No consumer exists yet.
	n, err := worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	received := make(chan inbox.ReceivedEvent[json.RawMessage], 1)
	cc, err := natsbus.Consume(ctx, stream, "worker-test", "worker-test.>", func(ctx context.Context, ev inbox.ReceivedEvent[json.RawMessage]) error {
		received <- ev
		return nil
	}, nil)
	require.NoError(t, err)
	defer cc.Stop()

	select {
	case ev := <-received:
		assert.Equal(t, "e1", ev.ID)
		assert.JSONEq(t, `{"test":"data"}`, string(ev.Payload))
	case <-ctx.Done():
		t.Fatal("Timeout waiting for message")
	}
}
