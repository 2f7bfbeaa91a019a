// Package node assembles a running inkwell process from configuration: a
// transport behind the channel policy and metrics, a binder store, a
// projection engine and a command manager.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ripkitten-co/inkwell/binder"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/command"
	"github.com/ripkitten-co/inkwell/config"
	"github.com/ripkitten-co/inkwell/metrics"
	"github.com/ripkitten-co/inkwell/projection"
	"github.com/ripkitten-co/inkwell/transport/pgtransport"
)

type Option func(*options)

type options struct {
	logger     *slog.Logger
	readers    []sdkmetric.Reader
	transports map[string]TransportFactory
	storages   map[string]StorageFactory
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricReader attaches an OpenTelemetry reader to the node's meter
// provider.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// WithTransport registers or replaces a transport factory.
func WithTransport(key string, f TransportFactory) Option {
	return func(o *options) { o.transports[key] = f }
}

// WithStorage registers or replaces a storage factory.
func WithStorage(key string, f StorageFactory) Option {
	return func(o *options) { o.storages[key] = f }
}

type Node struct {
	Config        config.Config
	TransportKind string
	StorageKind   string

	Transport   channel.Transport
	Binders     *binder.Store
	Projections *projection.Engine
	Commands    *command.Manager
	Metrics     *metrics.Registry

	log *slog.Logger
}

// Open builds every component. On failure the parts already built are
// closed.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (n *Node, err error) {
	o := options{
		logger:     slog.Default(),
		transports: defaultTransports(),
		storages:   defaultStorages(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	n = &Node{Config: cfg, log: o.logger}
	defer func() {
		if err != nil {
			n.Close(context.WithoutCancel(ctx))
			n = nil
		}
	}()

	mopts := make([]sdkmetric.Option, 0, len(o.readers))
	for _, r := range o.readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}
	n.Metrics = metrics.New(cfg.ServiceName, mopts...)

	newTransport, kind := pick(o.transports, "transport", cfg.Transport, o.logger)
	raw, err := newTransport(ctx, cfg, o.logger)
	if err != nil {
		return n, fmt.Errorf("node: transport %s: %w", kind, err)
	}
	n.TransportKind = kind
	n.Transport = raw

	instrumented, err := metrics.InstrumentTransport(raw, n.Metrics.Meter())
	if err != nil {
		return n, fmt.Errorf("node: %w", err)
	}
	n.Transport = channel.Guard(instrumented, cfg.Policy())

	newStorage, kind := pick(o.storages, "storage", cfg.Storage, o.logger)
	backend, err := newStorage(ctx, cfg, o.logger)
	if err != nil {
		return n, fmt.Errorf("node: storage %s: %w", kind, err)
	}
	n.StorageKind = kind

	n.Binders, err = binder.NewStore(ctx, backend,
		binder.WithLogger(o.logger),
		binder.WithStreamTimeout(cfg.StreamTimeout))
	if err != nil {
		backend.Close()
		return n, fmt.Errorf("node: %w", err)
	}

	popts := []projection.Option{
		projection.WithLogger(o.logger),
		projection.WithBuffer(cfg.DispatchBuffer),
		projection.WithStopTimeout(cfg.StopTimeout),
		projection.WithRetry(cfg.WriteRetryDelay, cfg.WriteRetryMax, cfg.WriteRetries),
	}
	if cfg.Checkpoints {
		cps, err := checkpointsFor(ctx, raw, n.Binders)
		if err != nil {
			return n, fmt.Errorf("node: %w", err)
		}
		popts = append(popts, projection.WithCheckpoints(cps))
	}
	n.Projections = projection.NewEngine(n.Transport, n.Binders, popts...)
	n.Commands = command.NewManager(n.Transport, command.WithLogger(o.logger))

	o.logger.Info("node opened", "transport", n.TransportKind, "storage", n.StorageKind)
	return n, nil
}

// checkpointsFor keeps checkpoints next to the events when the transport is
// PostgreSQL, and in a binder otherwise.
func checkpointsFor(ctx context.Context, t channel.Transport, binders *binder.Store) (projection.Checkpoints, error) {
	if pgt, ok := t.(*pgtransport.Transport); ok {
		return projection.NewPGCheckpoints(pgt.Executor()), nil
	}
	return projection.NewBinderCheckpoints(ctx, binders)
}

// Close tears the node down: projections first so no fold is in flight,
// then binders, the transport and finally metrics.
func (n *Node) Close(ctx context.Context) error {
	var errs []error
	if n.Projections != nil {
		if err := n.Projections.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if n.Binders != nil {
		if err := n.Binders.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.Transport != nil {
		if err := n.Transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	if n.Metrics != nil {
		if err := n.Metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
