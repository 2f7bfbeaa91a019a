// Package metrics exposes inkwell instrumentation through OpenTelemetry.
// A Registry owns a MeterProvider; InstrumentTransport decorates any
// channel transport with publish and delivery instruments.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/future"
)

const meterName = "github.com/ripkitten-co/inkwell"

// Registry owns the meter provider of a node.
type Registry struct {
	provider *sdkmetric.MeterProvider
}

// New builds a provider for serviceName. Pass sdkmetric.WithReader to export;
// without a reader instruments record nothing.
func New(serviceName string, opts ...sdkmetric.Option) *Registry {
	res := resource.NewSchemaless(semconv.ServiceName(serviceName))
	opts = append([]sdkmetric.Option{sdkmetric.WithResource(res)}, opts...)
	return &Registry{provider: sdkmetric.NewMeterProvider(opts...)}
}

func (r *Registry) Meter() metric.Meter {
	return r.provider.Meter(meterName)
}

// Shutdown flushes and stops the provider.
func (r *Registry) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

type instrumented struct {
	channel.Transport
	published metric.Int64Counter
	latency   metric.Float64Histogram
	delivered metric.Int64Counter
}

// InstrumentTransport records, per channel:
//   - inkwell.channel.published: publishes by outcome
//   - inkwell.channel.publish.duration: publish latency in seconds
//   - inkwell.channel.delivered: records handed to subscribers
func InstrumentTransport(t channel.Transport, meter metric.Meter) (channel.Transport, error) {
	published, err := meter.Int64Counter("inkwell.channel.published",
		metric.WithDescription("Records published, by channel and outcome."))
	if err != nil {
		return nil, fmt.Errorf("metrics: published counter: %w", err)
	}
	latency, err := meter.Float64Histogram("inkwell.channel.publish.duration",
		metric.WithDescription("Publish latency."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("metrics: publish histogram: %w", err)
	}
	delivered, err := meter.Int64Counter("inkwell.channel.delivered",
		metric.WithDescription("Records delivered to subscribers, by channel."))
	if err != nil {
		return nil, fmt.Errorf("metrics: delivered counter: %w", err)
	}
	return &instrumented{
		Transport: t,
		published: published,
		latency:   latency,
		delivered: delivered,
	}, nil
}

func (i *instrumented) record(ctx context.Context, name string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ch := attribute.String("channel", name)
	i.published.Add(ctx, 1, metric.WithAttributes(ch, attribute.String("outcome", outcome)))
	i.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(ch))
}

func (i *instrumented) PublishSync(ctx context.Context, name string, payload []byte) (channel.Position, error) {
	start := time.Now()
	pos, err := i.Transport.PublishSync(ctx, name, payload)
	i.record(ctx, name, start, err)
	return pos, err
}

func (i *instrumented) PublishAsync(ctx context.Context, name string, payload []byte) *future.Future[channel.Position] {
	start := time.Now()
	f := i.Transport.PublishAsync(ctx, name, payload)
	go func() {
		_, err := f.Wait(context.Background())
		i.record(context.WithoutCancel(ctx), name, start, err)
	}()
	return f
}

func (i *instrumented) Subscribe(ctx context.Context, name string, after channel.Position, fn channel.RecordFunc) (channel.Subscription, error) {
	attrs := metric.WithAttributes(attribute.String("channel", name))
	return i.Transport.Subscribe(ctx, name, after, func(ctx context.Context, rec channel.Record) error {
		i.delivered.Add(ctx, 1, attrs)
		return fn(ctx, rec)
	})
}
