package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/internal/config"
	"github.com/phillus33/outbox-inbox/internal/logging"
	"github.com/phillus33/outbox-inbox/internal/postgres"
	"github.com/phillus33/outbox-inbox/internal/transport"
	"github.com/phillus33/outbox-inbox/internal/transport/kafka"
	"github.com/phillus33/outbox-inbox/internal/transport/natsbus"
	"github.com/phillus33/outbox-inbox/internal/transport/rabbitmq"
	"github.com/phillus33/outbox-inbox/pkg/inbox"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	logger = logger.With(zap.String("instance_id", cfg.InstanceID))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Consumer failed", zap.Error(err))
	}
	logger.Info("Consumer has shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxConnections)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return err
	}

	processor := inbox.NewProcessor[*postgres.UnitOfWork](inbox.NewGuard(inbox.WithLogger(logger)), postgres.New(db), logger)

	// Every transport feeds the same handler; the inbox drops redeliveries.
	handler := func(ctx context.Context, ev inbox.ReceivedEvent[json.RawMessage]) error {
		processed, err := processor.Process(ctx, ev, func(ctx context.Context, uow *postgres.UnitOfWork) error {
			logger.Info("Applying event",
				zap.String("event_id", ev.ID),
				zap.String("event_type", ev.Type),
				zap.ByteString("payload", ev.Payload),
			)
			return nil
		})
		if err != nil {
			return err
		}
		if !processed {
			logger.Debug("Redelivery ignored", zap.String("event_id", ev.ID))
		}
		return nil
	}

	logger.Info("Consumer started", zap.String("transport", cfg.Worker.Transport))
	return consume(ctx, cfg, handler, logger)
}

func consume(ctx context.Context, cfg *config.Config, handler transport.Handler, logger *zap.Logger) error {
	switch cfg.Worker.Transport {
	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL, nats.MaxReconnects(cfg.NATS.MaxReconnects))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("failed to open jetstream: %w", err)
		}
		stream, err := natsbus.EnsureStream(ctx, js, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}

		cc, err := natsbus.Consume(ctx, stream, cfg.NATS.Durable, natsbus.Subject(cfg.NATS.SubjectPrefix, ">"), handler, logger)
		if err != nil {
			return err
		}
		defer cc.Stop()

		<-ctx.Done()
		return ctx.Err()

	case "rabbitmq":
		conn, err := amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("failed to open a channel: %w", err)
		}
		defer ch.Close()

		// An empty routing key means records are routed by event type.
		bindingKey := cfg.RabbitMQ.RoutingKey
		if bindingKey == "" {
			bindingKey = "#"
		}
		if err := rabbitmq.DeclareQueue(ch, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, bindingKey); err != nil {
			return err
		}
		return rabbitmq.Consume(ctx, ch, cfg.RabbitMQ.Queue, handler, logger)

	case "kafka":
		saramaCfg := sarama.NewConfig()
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

		group, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, saramaCfg)
		if err != nil {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		defer group.Close()

		return kafka.Run(ctx, group, []string{cfg.Kafka.Topic}, kafka.NewGroupHandler(handler, logger), cfg.Worker.RetryBackoff)
	}

	return fmt.Errorf("unknown transport %q", cfg.Worker.Transport)
}
