package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/internal/transport"
	"github.com/phillus33/outbox-inbox/pkg/inbox"
)

// Message is the part of jetstream.Msg the consume loop needs.
type Message interface {
	Headers() nats.Header
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// Consume delivers messages matching filter to handler through the durable
// consumer. Instances sharing durable share the work. Messages stay
// unacknowledged until the handler succeeds.
func Consume(ctx context.Context, stream jetstream.Stream, durable, filter string, handler transport.Handler, logger *zap.Logger) (jetstream.ConsumeContext, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", durable, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		HandleMsg(ctx, msg, handler, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", durable, err)
	}
	return cc, nil
}

// HandleMsg runs handler for one message and settles it: ack on success,
// nak for redelivery on failure, term when the message is malformed.
func HandleMsg(ctx context.Context, msg Message, handler transport.Handler, logger *zap.Logger) {
	ev, err := ReceivedFromMsg(msg)
	if err != nil {
		logger.Error("Dropping malformed message", zap.String("subject", msg.Subject()), zap.Error(err))
		if err := msg.Term(); err != nil {
			logger.Warn("Failed to terminate message", zap.Error(err))
		}
		return
	}

	if err := handler(ctx, ev); err != nil {
		logger.Error("Failed to handle message, redelivering",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err),
		)
		if err := msg.Nak(); err != nil {
			logger.Warn("Failed to nak message", zap.String("event_id", ev.ID), zap.Error(err))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Warn("Failed to ack message", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

// ReceivedFromMsg wraps a NATS message in a received event.
func ReceivedFromMsg(msg Message) (inbox.ReceivedEvent[json.RawMessage], error) {
	headers := msg.Headers()
	id := headers.Get(nats.MsgIdHdr)
	if id == "" {
		return inbox.ReceivedEvent[json.RawMessage]{}, transport.ErrMissingEventID
	}

	eventType := headers.Get(transport.HeaderEventType)
	if eventType == "" {
		eventType = msg.Subject()
	}

	return inbox.ReceivedEvent[json.RawMessage]{
		ID:      id,
		Type:    eventType,
		Payload: json.RawMessage(msg.Data()),
	}, nil
}
