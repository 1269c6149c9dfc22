package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/internal/transport"
	"github.com/phillus33/outbox-inbox/pkg/inbox"
)

// Acknowledger is the part of amqp.Delivery the consume loop needs.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consume handles deliveries from queue until ctx is done or the channel
// closes. Successful deliveries are acked, failed ones requeued, malformed
// ones dropped.
func Consume(ctx context.Context, ch *amqp.Channel, queue string, handler transport.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				logger.Info("Delivery channel closed", zap.String("queue", queue))
				return nil
			}
			HandleDelivery(ctx, d, d, handler, logger)
		}
	}
}

// HandleDelivery runs handler for one delivery and settles it through ack.
func HandleDelivery(ctx context.Context, d amqp.Delivery, ack Acknowledger, handler transport.Handler, logger *zap.Logger) {
	ev, err := ReceivedFromDelivery(d)
	if err != nil {
		logger.Error("Dropping malformed delivery", zap.Error(err))
		if err := ack.Nack(false, false); err != nil {
			logger.Warn("Failed to nack delivery", zap.Error(err))
		}
		return
	}

	if err := handler(ctx, ev); err != nil {
		logger.Error("Failed to process delivery, requeueing",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		if err := ack.Nack(false, true); err != nil {
			logger.Warn("Failed to nack delivery", zap.Error(err))
		}
		return
	}

	if err := ack.Ack(false); err != nil {
		logger.Warn("Failed to ack delivery", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

// ReceivedFromDelivery wraps an AMQP delivery in a received event.
func ReceivedFromDelivery(d amqp.Delivery) (inbox.ReceivedEvent[json.RawMessage], error) {
	if d.MessageId == "" {
		return inbox.ReceivedEvent[json.RawMessage]{}, transport.ErrMissingEventID
	}

	eventType := d.Type
	if eventType == "" {
		eventType = d.RoutingKey
	}

	return inbox.ReceivedEvent[json.RawMessage]{
		ID:      d.MessageId,
		Type:    eventType,
		Payload: json.RawMessage(d.Body),
	}, nil
}
