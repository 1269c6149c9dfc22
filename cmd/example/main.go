package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/phillus33/outbox-inbox/internal/config"
	"github.com/phillus33/outbox-inbox/internal/logging"
	"github.com/phillus33/outbox-inbox/internal/outbox"
	"github.com/phillus33/outbox-inbox/internal/postgres"
	"github.com/phillus33/outbox-inbox/internal/transport/natsbus"
	"github.com/phillus33/outbox-inbox/pkg/inbox"
	outboxpkg "github.com/phillus33/outbox-inbox/pkg/outbox"
)

const exampleSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id    VARCHAR(255) PRIMARY KEY,
	total INT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_totals (
	order_id VARCHAR(255) PRIMARY KEY,
	total    INT NOT NULL
);`

type OrderCreated struct {
	OrderID string `json:"order_id"`
	Total   int    `json:"total"`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	logger = logger.With(zap.String("instance_id", cfg.InstanceID))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxConnections)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}
	if _, err := db.ExecContext(ctx, exampleSchema); err != nil {
		logger.Fatal("Failed to create example tables", zap.Error(err))
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.MaxReconnects(cfg.NATS.MaxReconnects))
	if err != nil {
		logger.Fatal("Failed to connect to nats", zap.Error(err))
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		logger.Fatal("Failed to open jetstream", zap.Error(err))
	}
	stream, err := natsbus.EnsureStream(ctx, js, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
	if err != nil {
		logger.Fatal("Failed to ensure stream", zap.Error(err))
	}

	store := postgres.New(db)

	// Consumer side: apply OrderCreated at most once.
	processor := inbox.NewProcessor[*postgres.UnitOfWork](inbox.NewGuard(inbox.WithLogger(logger)), store, logger)
	cc, err := natsbus.Consume(ctx, stream, cfg.NATS.Durable, natsbus.Subject(cfg.NATS.SubjectPrefix, ">"),
		func(ctx context.Context, raw inbox.ReceivedEvent[json.RawMessage]) error {
			ev, err := inbox.Decode[OrderCreated](raw)
			if err != nil {
				return err
			}

			processed, err := processor.Process(ctx, ev, func(ctx context.Context, uow *postgres.UnitOfWork) error {
				_, err := uow.Tx().ExecContext(ctx,
					`INSERT INTO order_totals (order_id, total) VALUES ($1, $2)`,
					ev.Payload.OrderID, ev.Payload.Total)
				return err
			})
			if err != nil {
				return err
			}
			logger.Info("Order event handled", zap.String("event_id", ev.ID), zap.Bool("processed", processed))
			return nil
		}, logger)
	if err != nil {
		logger.Fatal("Failed to subscribe", zap.Error(err))
	}
	defer cc.Stop()

	// Relay.
	worker := outbox.NewWorker(outbox.WorkerConfig{
		Store:        store,
		Publisher:    natsbus.NewPublisher(js, cfg.NATS.SubjectPrefix),
		Logger:       logger,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		MaxRetries:   cfg.Worker.MaxRetries,
		RetryBackoff: cfg.Worker.RetryBackoff,
	})
	if err := worker.Start(ctx); err != nil {
		logger.Fatal("Failed to start relay", zap.Error(err))
	}

	// Producer side: the order row and its event commit together.
	writer := outboxpkg.NewWriter(outboxpkg.WithLogger(logger))
	order := OrderCreated{OrderID: outboxpkg.NewEventID(), Total: 42}

	err = store.InTx(ctx, func(ctx context.Context, uow *postgres.UnitOfWork) error {
		if _, err := uow.Tx().ExecContext(ctx,
			`INSERT INTO orders (id, total) VALUES ($1, $2)`, order.OrderID, order.Total); err != nil {
			return err
		}

		return writer.FireEvent(ctx, uow, outboxpkg.Envelope[OrderCreated]{
			ID:            outboxpkg.NewEventID(),
			AggregateType: "Order",
			AggregateID:   order.OrderID,
			Type:          "OrderCreated",
			Payload:       order,
		})
	})
	if err != nil {
		logger.Fatal("Failed to create order", zap.Error(err))
	}
	logger.Info("Order created", zap.String("order_id", order.OrderID))

	<-ctx.Done()
	worker.Stop()
}
