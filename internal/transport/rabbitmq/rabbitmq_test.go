package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/internal/transport"
	"github.com/phillus33/outbox-inbox/pkg/inbox"
	"github.com/phillus33/outbox-inbox/pkg/outbox"
)

type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAck) Ack(bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(_, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func TestPublishing(t *testing.T) {
	rec := &outbox.Record{
		ID:            "e1",
		AggregateType: "Order",
		AggregateID:   "o1",
		Type:          "OrderCreated",
		Payload:       json.RawMessage(`{"total":10}`),
		CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	p := Publishing(rec)
	assert.Equal(t, "e1", p.MessageId)
	assert.Equal(t, "OrderCreated", p.Type)
	assert.Equal(t, transport.ContentTypeJSON, p.ContentType)
	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	assert.Equal(t, rec.CreatedAt, p.Timestamp)
	assert.Equal(t, "o1", p.Headers[transport.HeaderAggregateID])

	ev, err := ReceivedFromDelivery(amqp.Delivery{MessageId: p.MessageId, Type: p.Type, Body: p.Body})
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, "OrderCreated", ev.Type)
	assert.JSONEq(t, `{"total":10}`, string(ev.Payload))
}

func TestReceivedFromDelivery(t *testing.T) {
	ev, err := ReceivedFromDelivery(amqp.Delivery{MessageId: "e1", RoutingKey: "OrderCreated", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "OrderCreated", ev.Type)

	_, err = ReceivedFromDelivery(amqp.Delivery{Body: []byte(`{}`)})
	require.ErrorIs(t, err, transport.ErrMissingEventID)
}

func TestHandleDelivery(t *testing.T) {
	tests := []struct {
		name        string
		delivery    amqp.Delivery
		handlerErr  error
		wantAck     bool
		wantRequeue bool
	}{
		{
			name:     "handled",
			delivery: amqp.Delivery{MessageId: "e1", Body: []byte(`{}`)},
			wantAck:  true,
		},
		{
			name:        "handler failure is requeued",
			delivery:    amqp.Delivery{MessageId: "e1", Body: []byte(`{}`)},
			handlerErr:  errors.New("database unavailable"),
			wantRequeue: true,
		},
		{
			name:     "missing id is dropped",
			delivery: amqp.Delivery{Body: []byte(`{}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAck{}
			handler := func(ctx context.Context, ev inbox.ReceivedEvent[json.RawMessage]) error {
				return tt.handlerErr
			}

			HandleDelivery(context.Background(), tt.delivery, ack, handler, zap.NewNop())

			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, !tt.wantAck, ack.nacked)
			assert.Equal(t, tt.wantRequeue, ack.requeue)
		})
	}
}

type fakeDeclarer struct {
	declared []string
	bindings [][3]string
	bindErr  error
}

func (d *fakeDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	d.declared = append(d.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (d *fakeDeclarer) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if d.bindErr != nil {
		return d.bindErr
	}
	d.bindings = append(d.bindings, [3]string{name, key, exchange})
	return nil
}

func TestDeclareQueue(t *testing.T) {
	t.Run("default exchange", func(t *testing.T) {
		ch := &fakeDeclarer{}
		require.NoError(t, DeclareQueue(ch, "", "outbox_events", "outbox_events"))
		assert.Equal(t, []string{"outbox_events"}, ch.declared)
		assert.Empty(t, ch.bindings)
	})

	t.Run("named exchange is bound", func(t *testing.T) {
		ch := &fakeDeclarer{}
		require.NoError(t, DeclareQueue(ch, "orders", "outbox_events", "#"))
		assert.Equal(t, [][3]string{{"outbox_events", "#", "orders"}}, ch.bindings)
	})

	t.Run("bind failure", func(t *testing.T) {
		bindErr := errors.New("exchange not found")
		ch := &fakeDeclarer{bindErr: bindErr}
		require.ErrorIs(t, DeclareQueue(ch, "orders", "outbox_events", "#"), bindErr)
	})
}
