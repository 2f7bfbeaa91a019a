package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/config"
	"github.com/ripkitten-co/inkwell/storage"
	"github.com/ripkitten-co/inkwell/storage/memstore"
	"github.com/ripkitten-co/inkwell/storage/pgstore"
	"github.com/ripkitten-co/inkwell/storage/sqlitestore"
	"github.com/ripkitten-co/inkwell/transport/memory"
	"github.com/ripkitten-co/inkwell/transport/pgtransport"
	"github.com/ripkitten-co/inkwell/transport/sqlitetransport"
)

// Fallback is the registry key used when the configured one is unknown.
const Fallback = "memory"

type TransportFactory func(ctx context.Context, cfg config.Config, log *slog.Logger) (channel.Transport, error)

type StorageFactory func(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.Backend, error)

func defaultTransports() map[string]TransportFactory {
	return map[string]TransportFactory{
		"memory": func(_ context.Context, _ config.Config, log *slog.Logger) (channel.Transport, error) {
			return memory.New(memory.WithLogger(log)), nil
		},
		"postgres": func(ctx context.Context, cfg config.Config, log *slog.Logger) (channel.Transport, error) {
			if cfg.PostgresURL == "" {
				return nil, fmt.Errorf("postgres transport: INKWELL_POSTGRES_URL is required")
			}
			return pgtransport.Open(ctx, cfg.PostgresURL,
				pgtransport.WithLogger(log),
				pgtransport.WithPollInterval(cfg.PollInterval))
		},
		"sqlite": func(_ context.Context, cfg config.Config, log *slog.Logger) (channel.Transport, error) {
			return sqlitetransport.Open(cfg.SQLitePath,
				sqlitetransport.WithLogger(log),
				sqlitetransport.WithPollInterval(cfg.PollInterval))
		},
	}
}

func defaultStorages() map[string]StorageFactory {
	return map[string]StorageFactory{
		"memory": func(context.Context, config.Config, *slog.Logger) (storage.Backend, error) {
			return memstore.New(), nil
		},
		"postgres": func(ctx context.Context, cfg config.Config, _ *slog.Logger) (storage.Backend, error) {
			if cfg.PostgresURL == "" {
				return nil, fmt.Errorf("postgres storage: INKWELL_POSTGRES_URL is required")
			}
			return pgstore.Open(ctx, cfg.PostgresURL)
		},
		"sqlite": func(_ context.Context, cfg config.Config, _ *slog.Logger) (storage.Backend, error) {
			return sqlitestore.Open(cfg.SQLitePath)
		},
	}
}

// pick returns the factory registered under key, or the fallback one with a
// warning when key is unknown.
func pick[F any](registry map[string]F, kind, key string, log *slog.Logger) (F, string) {
	if f, ok := registry[key]; ok {
		return f, key
	}
	log.Warn("unknown "+kind+", falling back", "requested", key, "using", Fallback)
	return registry[Fallback], Fallback
}
