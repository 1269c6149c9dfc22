// Package rabbitmq relays outbox records over AMQP with publisher confirms and
// consumes deliveries with manual acknowledgements.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/phillus33/outbox-inbox/internal/transport"
	"github.com/phillus33/outbox-inbox/pkg/outbox"
)

var ErrNotConfirmed = errors.New("broker did not confirm the message")

type Publisher struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewPublisher opens a confirming channel on conn. With an empty exchange the
// routing key names a durable queue, which is declared here. An empty
// routing key routes each record by its event type.
func NewPublisher(conn *amqp.Connection, exchange, routingKey string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if exchange == "" && routingKey != "" {
		_, err = ch.QueueDeclare(
			routingKey, // name
			true,       // durable
			false,      // delete when unused
			false,      // exclusive
			false,      // no-wait
			nil,        // arguments
		)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare a queue: %w", err)
		}
	}

	return &Publisher{channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

// Publish returns once the broker confirmed the message.
func (p *Publisher) Publish(ctx context.Context, rec *outbox.Record) error {
	key := p.routingKey
	if key == "" {
		key = rec.Type
	}

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		Publishing(rec),
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNotConfirmed, rec.ID)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}

// Publishing maps a record onto a persistent AMQP message.
func Publishing(rec *outbox.Record) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    rec.ID,
		Type:         rec.Type,
		ContentType:  transport.ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    rec.CreatedAt,
		Headers: amqp.Table{
			transport.HeaderAggregateType: rec.AggregateType,
			transport.HeaderAggregateID:   rec.AggregateID,
		},
		Body: rec.Payload,
	}
}
