package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/eventbus"
	"github.com/rbaliyan/eventbus/checkpoint"
	"github.com/rbaliyan/eventbus/transport"
	"github.com/rbaliyan/eventbus/transport/memory"
	mongolog "github.com/rbaliyan/eventbus/transport/mongodb"
	natstransport "github.com/rbaliyan/eventbus/transport/nats"
	redistransport "github.com/rbaliyan/eventbus/transport/redis"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// backend is a connected bus plus the checkpoint store and client
// connections behind it. The bus owns the transports, the backend owns the
// clients.
type backend struct {
	bus         *eventbus.DistributedBus
	checkpoints checkpoint.Store
	closers     []func(context.Context) error
}

func openBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	log, notifier, err := b.transports(ctx, cfg, logger)
	if err != nil {
		_ = b.closeClients(ctx)
		return nil, err
	}

	codec, _ := eventbus.CodecByName(cfg.Codec)
	bus, err := eventbus.NewDistributedBus(log, notifier,
		eventbus.WithName("eventbus-cli"),
		eventbus.WithLogger(logger),
		eventbus.WithCodec(codec),
		eventbus.WithPrefix(cfg.Prefix),
		eventbus.WithPollInterval(cfg.PollInterval),
	)
	if err != nil {
		_ = b.closeClients(ctx)
		return nil, err
	}
	b.bus = bus
	return b, nil
}

func (b *backend) transports(ctx context.Context, cfg Config, logger *slog.Logger) (transport.Log, transport.Notifier, error) {
	switch cfg.Backend {
	case "memory":
		hub := memory.New(memory.WithMaxLen(int(cfg.MaxLen)), memory.WithLogger(logger))
		b.checkpoints = checkpoint.NewMemoryStore()
		return hub, hub, nil

	case "redis":
		client, err := b.redisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		t, err := redistransport.New(client,
			redistransport.WithPrefix(cfg.Prefix),
			redistransport.WithMaxLen(cfg.MaxLen),
			redistransport.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		b.checkpoints = checkpoint.NewRedisStore(client, cfg.Prefix+":checkpoints")
		return t, t, nil

	case "nats":
		conn, err := nats.Connect(cfg.NATSURL, nats.Name("eventbus-cli"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error {
			conn.Close()
			return nil
		})
		notifier, err := natstransport.NewNotifier(conn,
			natstransport.WithPrefix(cfg.Prefix),
			natstransport.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		log, err := natstransport.NewLog(ctx, conn,
			natstransport.WithLogPrefix(cfg.Prefix),
			natstransport.WithMaxLen(cfg.MaxLen),
			natstransport.WithLogLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		// JetStream has no hash type a cursor store fits well; cursors
		// live for the duration of the command.
		b.checkpoints = checkpoint.NewMemoryStore()
		return log, notifier, nil

	case "mongodb":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongodb: %w", err)
		}
		b.closers = append(b.closers, client.Disconnect)
		db := client.Database(cfg.MongoDatabase)

		log, err := mongolog.New(db,
			mongolog.WithPrefix(cfg.Prefix),
			mongolog.WithMaxLen(cfg.MaxLen),
			mongolog.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		if err := log.EnsureIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure log indexes: %w", err)
		}

		store := checkpoint.NewMongoStore(db.Collection(cfg.Prefix + "_checkpoints"))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure checkpoint indexes: %w", err)
		}
		b.checkpoints = store

		// MongoDB has no pub/sub, notifications go through Redis.
		rc, err := b.redisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		notifier, err := redistransport.New(rc,
			redistransport.WithPrefix(cfg.Prefix),
			redistransport.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return log, notifier, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func (b *backend) redisClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	b.closers = append(b.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func (b *backend) closeClients(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Close closes the bus, then the client connections.
func (b *backend) Close(ctx context.Context) error {
	var err error
	if b.bus != nil {
		err = b.bus.Close(ctx)
	}
	return errors.Join(err, b.closeClients(ctx))
}
