package inbox_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillus33/outbox-inbox/internal/memory"
	"github.com/phillus33/outbox-inbox/pkg/inbox"
)

func TestProcessor_Redelivery(t *testing.T) {
	store := memory.NewStore()
	processor := inbox.NewProcessor[*memory.UnitOfWork](inbox.NewGuard(), store, nil)
	ctx := context.Background()
	ev := received("e1")
	applied := 0

	handle := func(ctx context.Context, uow *memory.UnitOfWork) error {
		applied++
		uow.Put("total:o1", "42")
		return nil
	}

	processed, err := processor.Process(ctx, ev, handle)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = processor.Process(ctx, ev, handle)
	require.NoError(t, err, "a duplicate must not surface as an error")
	assert.False(t, processed)

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, store.ConsumedEvents())
}

func TestProcessor_HandlerError(t *testing.T) {
	store := memory.NewStore()
	processor := inbox.NewProcessor[*memory.UnitOfWork](nil, store, nil)
	ctx := context.Background()
	handlerErr := errors.New("boom")

	processed, err := processor.Process(ctx, received("e1"), func(context.Context, *memory.UnitOfWork) error {
		return handlerErr
	})
	require.ErrorIs(t, err, handlerErr)
	assert.False(t, processed)
	assert.Equal(t, 0, store.ConsumedEvents())

	processed, err = processor.Process(ctx, received("e1"), nil)
	require.NoError(t, err)
	assert.True(t, processed, "a failed attempt must not mark the event consumed")
}

func TestProcessor_ConcurrentRedelivery(t *testing.T) {
	store := memory.NewStore()
	processor := inbox.NewProcessor[*memory.UnitOfWork](inbox.NewGuard(), store, nil)
	ctx := context.Background()
	ev := received("e1")

	const consumers = 8
	var (
		wg        sync.WaitGroup
		processed atomic.Int32
	)

	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := processor.Process(ctx, ev, func(ctx context.Context, uow *memory.UnitOfWork) error {
				uow.Put("total:o1", "42")
				return nil
			})
			assert.NoError(t, err)
			if ok {
				processed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), processed.Load())
	assert.Equal(t, 1, store.ConsumedEvents())

	v, ok := store.Value("total:o1")
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}
