package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/internal/config"
	"github.com/phillus33/outbox-inbox/internal/leader"
	"github.com/phillus33/outbox-inbox/internal/logging"
	"github.com/phillus33/outbox-inbox/internal/outbox"
	"github.com/phillus33/outbox-inbox/internal/postgres"
	"github.com/phillus33/outbox-inbox/internal/transport/kafka"
	"github.com/phillus33/outbox-inbox/internal/transport/natsbus"
	"github.com/phillus33/outbox-inbox/internal/transport/rabbitmq"
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Relay failed", zap.Error(err))
	}
	logger.Info("Relay has shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxConnections)
	if err != nil {
		return err
	}
	defer db.Close()

	publisher, closePublisher, err := newPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	election := leader.NewElection(db, cfg.Leader.LockKey, cfg.Leader.RetryInterval, logger)
	go election.Run(ctx)

	worker := outbox.NewWorker(outbox.WorkerConfig{
		Store:        postgres.New(db),
		Publisher:    publisher,
		Logger:       logger,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		MaxRetries:   cfg.Worker.MaxRetries,
		RetryBackoff: cfg.Worker.RetryBackoff,
		IsLeader:     election.IsLeader,
	})

	if err := worker.Start(ctx); err != nil {
		return err
	}
	logger.Info("Relay started", zap.String("transport", cfg.Worker.Transport))

	<-ctx.Done()
	worker.Stop()
	return nil
}

func newPublisher(ctx context.Context, cfg *config.Config) (outbox.Publisher, func(), error) {
	switch cfg.Worker.Transport {
	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL, nats.MaxReconnects(cfg.NATS.MaxReconnects))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to open jetstream: %w", err)
		}
		if _, err := natsbus.EnsureStream(ctx, js, cfg.NATS.Stream, cfg.NATS.SubjectPrefix); err != nil {
			nc.Close()
			return nil, nil, err
		}
		return natsbus.NewPublisher(js, cfg.NATS.SubjectPrefix), nc.Close, nil

	case "rabbitmq":
		conn, err := amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		pub, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return pub, func() {
			pub.Close()
			conn.Close()
		}, nil

	case "kafka":
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return nil, nil, err
		}
		pub := kafka.NewPublisher(producer, cfg.Kafka.Topic)
		return pub, func() { pub.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Worker.Transport)
}
