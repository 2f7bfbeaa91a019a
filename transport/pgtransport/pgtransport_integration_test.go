//go:build integration

package pgtransport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/internal/testutil"
	"github.com/ripkitten-co/inkwell/transport/pgtransport"
)

func setup(t *testing.T) *pgtransport.Transport {
	t.Helper()
	connStr := testutil.SetupPostgres(t)
	tr, err := pgtransport.Open(context.Background(), connStr, pgtransport.WithPollInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestPublish_PositionsIncreasePerChannel(t *testing.T) {
	tr := setup(t)
	ctx := context.Background()

	var last channel.Position
	for i := range 5 {
		name := "orders"
		if i%2 == 1 {
			name = "refunds"
		}
		pos, err := tr.PublishSync(ctx, name, []byte(`{}`))
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if pos <= last {
			t.Fatalf("position %d not after %d", pos, last)
		}
		last = pos
	}

	recs, err := tr.ReadAfter(ctx, "orders", channel.Earliest, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 orders records, got %d", len(recs))
	}
	for _, rec := range recs {
		if _, err := channel.Decode(rec); err != nil {
			t.Errorf("decode %d: %v", rec.Position, err)
		}
	}
}

func TestSubscribe_ReceivesNewRecords(t *testing.T) {
	tr := setup(t)
	ctx := context.Background()

	if _, err := tr.PublishSync(ctx, "orders", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var mu sync.Mutex
	var got []channel.Position
	sub, err := tr.Subscribe(ctx, "orders", channel.Earliest, func(_ context.Context, rec channel.Record) error {
		mu.Lock()
		got = append(got, rec.Position)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := tr.PublishAsync(ctx, "orders", []byte(`{"n":2}`)).Wait(ctx); err != nil {
		t.Fatalf("publish async: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected 2 records, got %v", got)
}

func TestHead(t *testing.T) {
	tr := setup(t)
	ctx := context.Background()

	head, err := tr.Head(ctx, "empty")
	if err != nil || head != 0 {
		t.Fatalf("head of empty channel: %d, %v", head, err)
	}
	pos, _ := tr.PublishSync(ctx, "orders", []byte(`{}`))
	head, _ = tr.Head(ctx, "orders")
	if head != pos {
		t.Errorf("head: got %d, want %d", head, pos)
	}
}
