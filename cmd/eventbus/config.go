package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rbaliyan/eventbus"
)

// Backends accepted by EVENTBUS_BACKEND.
var backends = []string{"memory", "redis", "nats", "mongodb"}

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	Backend       string        `env:"EVENTBUS_BACKEND" envDefault:"redis"`
	RedisURL      string        `env:"EVENTBUS_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	NATSURL       string        `env:"EVENTBUS_NATS_URL" envDefault:"nats://localhost:4222"`
	MongoURL      string        `env:"EVENTBUS_MONGO_URL" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string        `env:"EVENTBUS_MONGO_DATABASE" envDefault:"eventbus"`
	Prefix        string        `env:"EVENTBUS_PREFIX" envDefault:"platform_events"`
	MaxLen        int64         `env:"EVENTBUS_MAX_LEN" envDefault:"10000"`
	PollInterval  time.Duration `env:"EVENTBUS_POLL_INTERVAL" envDefault:"1s"`
	Codec         string        `env:"EVENTBUS_CODEC" envDefault:"json"`
	Source        string        `env:"EVENTBUS_SOURCE" envDefault:"eventbus-cli"`
	LogLevel      string        `env:"EVENTBUS_LOG_LEVEL" envDefault:"warn"`
}

// loadConfig loads files into the process environment (a missing default
// .env is ignored) and parses the result.
func loadConfig(files ...string) (Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if !slices.Contains(backends, c.Backend) {
		return fmt.Errorf("unknown backend %q (must be one of %v)", c.Backend, backends)
	}
	if c.Prefix == "" {
		return fmt.Errorf("EVENTBUS_PREFIX must not be empty")
	}
	if c.MaxLen <= 0 {
		return fmt.Errorf("EVENTBUS_MAX_LEN must be positive, got %d", c.MaxLen)
	}
	if c.PollInterval <= 0 || c.PollInterval > eventbus.MaxPollInterval {
		return fmt.Errorf("EVENTBUS_POLL_INTERVAL must be in (0, %s], got %s", eventbus.MaxPollInterval, c.PollInterval)
	}
	if _, ok := eventbus.CodecByName(c.Codec); !ok {
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	return nil
}
