// Package kafka relays outbox records to a Kafka topic and consumes them
// through a consumer group. Records are keyed by aggregate id, so events of
// one aggregate land on one partition.
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/phillus33/outbox-inbox/internal/transport"
	"github.com/phillus33/outbox-inbox/pkg/outbox"
)

type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// NewSyncProducer builds a producer that waits for all in-sync replicas.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

func (p *Publisher) Publish(ctx context.Context, rec *outbox.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, _, err := p.producer.SendMessage(ProducerMessage(p.topic, rec)); err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

// ProducerMessage maps a record onto a Kafka message.
func ProducerMessage(topic string, rec *outbox.Record) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(rec.AggregateID),
		Value: sarama.ByteEncoder(rec.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(transport.HeaderEventID), Value: []byte(rec.ID)},
			{Key: []byte(transport.HeaderEventType), Value: []byte(rec.Type)},
			{Key: []byte(transport.HeaderAggregateType), Value: []byte(rec.AggregateType)},
		},
	}
}
