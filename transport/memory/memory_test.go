package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
)

type collector struct {
	mu   sync.Mutex
	recs []channel.Record
	got  chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 1024)}
}

func (c *collector) fn(_ context.Context, rec channel.Record) error {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *collector) waitFor(t *testing.T, n int) []channel.Record {
	t.Helper()
	for range n {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d records", n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channel.Record(nil), c.recs...)
}

func publishN(t *testing.T, tr *Transport, name string, n int) {
	t.Helper()
	for i := range n {
		if _, err := tr.PublishSync(context.Background(), name, []byte(fmt.Sprintf(`{"n":%d}`, i+1))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
}

func TestPublish_PositionsStartAtOne(t *testing.T) {
	tr := New()
	defer tr.Close()
	ctx := context.Background()

	p1, err := tr.PublishSync(ctx, "orders", []byte("a"))
	if err != nil {
		t.Fatalf("publish sync: %v", err)
	}
	p2, err := tr.PublishAsync(ctx, "orders", []byte("b")).Wait(ctx)
	if err != nil {
		t.Fatalf("publish async: %v", err)
	}
	other, err := tr.PublishSync(ctx, "refunds", []byte("c"))
	if err != nil {
		t.Fatalf("publish sync: %v", err)
	}

	if p1 != 1 || p2 != 2 {
		t.Errorf("orders positions: got %d and %d, want 1 and 2", p1, p2)
	}
	if other != 1 {
		t.Errorf("refunds position: got %d, want 1", other)
	}

	if head, _ := tr.Head(ctx, "orders"); head != 2 {
		t.Errorf("head: got %d, want 2", head)
	}
}

func TestSubscribe_ReplaysInOrder(t *testing.T) {
	tr := New()
	defer tr.Close()
	publishN(t, tr, "orders", 5)

	c := newCollector()
	sub, err := tr.Subscribe(context.Background(), "orders", channel.Earliest, c.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	publishN(t, tr, "orders", 3)
	for i, rec := range c.waitFor(t, 8) {
		if rec.Position != channel.Position(i+1) {
			t.Errorf("record %d: got position %d, want %d", i, rec.Position, i+1)
		}
		if _, err := channel.Decode(rec); err != nil {
			t.Errorf("record %d: decode: %v", i, err)
		}
	}
}

func TestSubscribe_Latest(t *testing.T) {
	tr := New()
	defer tr.Close()
	publishN(t, tr, "orders", 3)

	c := newCollector()
	sub, err := tr.Subscribe(context.Background(), "orders", channel.Latest, c.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	publishN(t, tr, "orders", 1)
	if recs := c.waitFor(t, 1); recs[0].Position != 4 {
		t.Errorf("got position %d, want 4", recs[0].Position)
	}
}

func TestSubscribe_ResumesAfterPosition(t *testing.T) {
	tr := New()
	defer tr.Close()
	publishN(t, tr, "orders", 5)

	c := newCollector()
	sub, err := tr.Subscribe(context.Background(), "orders", 3, c.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	recs := c.waitFor(t, 2)
	if recs[0].Position != 4 || recs[1].Position != 5 {
		t.Errorf("got positions %d and %d, want 4 and 5", recs[0].Position, recs[1].Position)
	}
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	tr := New()
	defer tr.Close()

	var calls sync.WaitGroup
	var mu sync.Mutex
	closed := false
	sub, err := tr.Subscribe(context.Background(), "orders", channel.Earliest, func(context.Context, channel.Record) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			t.Error("delivery after Close returned")
		}
		calls.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	calls.Add(1)
	publishN(t, tr, "orders", 1)
	calls.Wait()

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	mu.Lock()
	closed = true
	mu.Unlock()

	publishN(t, tr, "orders", 3)
	time.Sleep(20 * time.Millisecond)
}

func TestClose_RejectsWork(t *testing.T) {
	tr := New()
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := tr.PublishSync(context.Background(), "orders", []byte("x")); !errors.Is(err, inkwell.ErrClosed) {
		t.Errorf("publish sync: expected ErrClosed, got %v", err)
	}
	if _, err := tr.PublishAsync(context.Background(), "orders", []byte("x")).Wait(context.Background()); !errors.Is(err, inkwell.ErrClosed) {
		t.Errorf("publish async: expected ErrClosed, got %v", err)
	}
	if _, err := tr.Subscribe(context.Background(), "orders", channel.Earliest, newCollector().fn); !errors.Is(err, inkwell.ErrClosed) {
		t.Errorf("subscribe: expected ErrClosed, got %v", err)
	}
}

func TestReadAfter_Limit(t *testing.T) {
	tr := New()
	defer tr.Close()
	publishN(t, tr, "orders", 10)

	recs, err := tr.ReadAfter(context.Background(), "orders", 2, 3)
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Position != 3 || recs[2].Position != 5 {
		t.Errorf("got positions %d..%d, want 3..5", recs[0].Position, recs[2].Position)
	}

	recs, err = tr.ReadAfter(context.Background(), "orders", 10, 3)
	if err != nil {
		t.Fatalf("read after head: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("read after head returned %d records", len(recs))
	}
}

func TestWithClock(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := New(WithClock(func() time.Time { return at }))
	defer tr.Close()
	publishN(t, tr, "orders", 1)

	recs, _ := tr.ReadAfter(context.Background(), "orders", channel.Earliest, 0)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if !recs[0].Timestamp.Equal(at) {
		t.Errorf("timestamp: got %v, want %v", recs[0].Timestamp, at)
	}
}
