package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/transport/memory"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want.ToSlice() {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v.Emit() != kv.Value.Emit() {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func setup(t *testing.T) (channel.Transport, *memory.Transport, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	reg := New("inkwell-test", sdkmetric.WithReader(reader))
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	mem := memory.New()
	t.Cleanup(func() { mem.Close() })
	tr, err := InstrumentTransport(mem, reg.Meter())
	require.NoError(t, err)
	return tr, mem, reader
}

func TestInstrumentTransport_CountsPublishes(t *testing.T) {
	tr, _, reader := setup(t)
	ctx := context.Background()

	_, err := tr.PublishSync(ctx, "orders", []byte("{}"))
	require.NoError(t, err)
	_, err = tr.PublishSync(ctx, "orders", []byte("{}"))
	require.NoError(t, err)
	_, err = tr.PublishSync(ctx, "refunds", []byte("{}"))
	require.NoError(t, err)

	metrics := collect(t, reader)
	published := metrics["inkwell.channel.published"]
	assert.Equal(t, int64(2), sumFor(t, published, attribute.String("channel", "orders"), attribute.String("outcome", "ok")))
	assert.Equal(t, int64(1), sumFor(t, published, attribute.String("channel", "refunds")))

	hist, ok := metrics["inkwell.channel.publish.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestInstrumentTransport_CountsAsyncFailures(t *testing.T) {
	tr, mem, reader := setup(t)
	require.NoError(t, mem.Close())

	ctx := context.Background()
	_, err := tr.PublishAsync(ctx, "orders", []byte("{}")).Wait(ctx)
	require.ErrorIs(t, err, inkwell.ErrClosed)

	require.Eventually(t, func() bool {
		m, ok := collect(t, reader)["inkwell.channel.published"]
		return ok && sumFor(t, m, attribute.String("outcome", "error")) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInstrumentTransport_CountsDeliveries(t *testing.T) {
	tr, _, reader := setup(t)
	ctx := context.Background()

	got := make(chan struct{}, 8)
	sub, err := tr.Subscribe(ctx, "orders", channel.Earliest, func(context.Context, channel.Record) error {
		got <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	for range 3 {
		_, err := tr.PublishSync(ctx, "orders", []byte("{}"))
		require.NoError(t, err)
	}
	for range 3 {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("delivery timed out")
		}
	}

	delivered := collect(t, reader)["inkwell.channel.delivered"]
	assert.Equal(t, int64(3), sumFor(t, delivered, attribute.String("channel", "orders")))
}
