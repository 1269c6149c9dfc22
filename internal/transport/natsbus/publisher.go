// Package natsbus relays outbox records through NATS JetStream and consumes
// them with a durable, explicitly acked consumer. The event id travels in the
// Nats-Msg-Id header, so the stream drops republished records inside its
// duplicate window.
package natsbus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/phillus33/outbox-inbox/internal/transport"
	"github.com/phillus33/outbox-inbox/pkg/outbox"
)

type Publisher struct {
	js            jetstream.JetStream
	subjectPrefix string
}

// NewPublisher publishes each record on subjectPrefix + record type. A stream
// must capture those subjects, see EnsureStream.
func NewPublisher(js jetstream.JetStream, subjectPrefix string) *Publisher {
	return &Publisher{js: js, subjectPrefix: subjectPrefix}
}

// Publish returns once the stream acknowledged the message as stored.
func (p *Publisher) Publish(ctx context.Context, rec *outbox.Record) error {
	if _, err := p.js.PublishMsg(ctx, NewMsg(Subject(p.subjectPrefix, rec.Type), rec)); err != nil {
		return fmt.Errorf("failed to publish to jetstream: %w", err)
	}
	return nil
}

// Subject joins prefix and event type with a dot.
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// NewMsg maps a record onto a NATS message.
func NewMsg(subject string, rec *outbox.Record) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = rec.Payload
	msg.Header.Set(nats.MsgIdHdr, rec.ID)
	msg.Header.Set(transport.HeaderEventType, rec.Type)
	msg.Header.Set(transport.HeaderAggregateType, rec.AggregateType)
	msg.Header.Set(transport.HeaderAggregateID, rec.AggregateID)
	return msg
}
