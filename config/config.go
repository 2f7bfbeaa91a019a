// Package config loads node configuration from INKWELL_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ripkitten-co/inkwell/channel"
)

type Config struct {
	// Transport selects the channel transport: memory, postgres or sqlite.
	Transport string `env:"INKWELL_TRANSPORT" envDefault:"memory"`
	// Storage selects the binder backend: memory, postgres or sqlite.
	Storage string `env:"INKWELL_STORAGE" envDefault:"memory"`

	SQLitePath  string `env:"INKWELL_SQLITE_PATH" envDefault:"inkwell.db"`
	PostgresURL string `env:"INKWELL_POSTGRES_URL"`

	DispatchBuffer int           `env:"INKWELL_DISPATCH_BUFFER" envDefault:"16"`
	StopTimeout    time.Duration `env:"INKWELL_STOP_TIMEOUT"    envDefault:"5s"`
	PollInterval   time.Duration `env:"INKWELL_POLL_INTERVAL"   envDefault:"250ms"`
	StreamTimeout  time.Duration `env:"INKWELL_STREAM_TIMEOUT"  envDefault:"5s"`

	// WriteRetries bounds the attempts at writing one fold result before the
	// projection stalls.
	WriteRetries    uint          `env:"INKWELL_WRITE_RETRIES"     envDefault:"5"`
	WriteRetryDelay time.Duration `env:"INKWELL_WRITE_RETRY_DELAY" envDefault:"50ms"`
	WriteRetryMax   time.Duration `env:"INKWELL_WRITE_RETRY_MAX"   envDefault:"2s"`

	// Checkpoints makes projections resume from their last applied position.
	Checkpoints bool `env:"INKWELL_CHECKPOINTS" envDefault:"true"`

	PublishAllow   []string `env:"INKWELL_PUBLISH_ALLOW"   envSeparator:","`
	SubscribeAllow []string `env:"INKWELL_SUBSCRIBE_ALLOW" envSeparator:","`

	ServiceName string `env:"INKWELL_SERVICE_NAME" envDefault:"inkwell"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Policy builds the channel policy from the allow lists. Empty lists allow
// every channel.
func (c Config) Policy() channel.Policy {
	if len(c.PublishAllow) == 0 && len(c.SubscribeAllow) == 0 {
		return channel.AllowAll
	}
	return channel.AllowList{Publish: c.PublishAllow, Subscribe: c.SubscribeAllow}
}
