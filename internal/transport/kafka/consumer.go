package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/internal/transport"
	"github.com/phillus33/outbox-inbox/pkg/inbox"
)

// GroupHandler implements sarama.ConsumerGroupHandler. An offset is marked
// only after the handler succeeded; a failure ends the claim so the message
// is redelivered after the next rebalance.
type GroupHandler struct {
	handler transport.Handler
	logger  *zap.Logger
}

var _ sarama.ConsumerGroupHandler = (*GroupHandler)(nil)

func NewGroupHandler(handler transport.Handler, logger *zap.Logger) *GroupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupHandler{handler: handler, logger: logger}
}

func (h *GroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *GroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *GroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			ev, err := ReceivedFromMessage(msg)
			if err != nil {
				h.logger.Error("Skipping malformed message",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
				sess.MarkMessage(msg, "")
				continue
			}

			if err := h.handler(ctx, ev); err != nil {
				h.logger.Error("Failed to handle message", zap.String("event_id", ev.ID), zap.Error(err))
				return err
			}
			sess.MarkMessage(msg, "")
		}
	}
}

// Run consumes topics until ctx is done. After a failed session it waits
// backoff before rejoining the group.
func Run(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler *GroupHandler, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		err := group.Consume(ctx, topics, handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Rebalance: rejoin immediately.
			continue
		}

		handler.logger.Error("Consumer group session failed, rejoining",
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// ReceivedFromMessage wraps a Kafka message in a received event.
func ReceivedFromMessage(msg *sarama.ConsumerMessage) (inbox.ReceivedEvent[json.RawMessage], error) {
	ev := inbox.ReceivedEvent[json.RawMessage]{Payload: json.RawMessage(msg.Value)}
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		switch string(h.Key) {
		case transport.HeaderEventID:
			ev.ID = string(h.Value)
		case transport.HeaderEventType:
			ev.Type = string(h.Value)
		}
	}

	if ev.ID == "" {
		return inbox.ReceivedEvent[json.RawMessage]{}, transport.ErrMissingEventID
	}
	return ev, nil
}
