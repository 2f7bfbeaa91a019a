package sqlitetransport

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/storage/sqlitestore"
)

func openTemp(t *testing.T) (*Transport, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.db")
	tr, err := Open(path, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, path
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPublish_DensePositionsPerChannel(t *testing.T) {
	tr, _ := openTemp(t)
	ctx := context.Background()

	tests := []struct {
		channel string
		want    channel.Position
	}{
		{"orders", 1},
		{"orders", 2},
		{"refunds", 1},
		{"orders", 3},
	}
	for _, tt := range tests {
		got, err := tr.PublishSync(ctx, tt.channel, []byte(`{}`))
		if err != nil {
			t.Fatalf("publish %s: %v", tt.channel, err)
		}
		if got != tt.want {
			t.Errorf("publish %s: got %d, want %d", tt.channel, got, tt.want)
		}
	}

	head, err := tr.Head(ctx, "orders")
	if err != nil || head != 3 {
		t.Errorf("head: %d, %v", head, err)
	}
}

func TestReadAfter_VerifiesChecksums(t *testing.T) {
	tr, _ := openTemp(t)
	ctx := context.Background()
	for _, p := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if _, err := tr.PublishSync(ctx, "orders", []byte(p)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	recs, err := tr.ReadAfter(ctx, "orders", 1, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	for _, rec := range recs {
		evt, err := channel.Decode(rec)
		if err != nil {
			t.Fatalf("decode %d: %v", rec.Position, err)
		}
		if evt.Channel != "orders" {
			t.Errorf("channel: got %q", evt.Channel)
		}
	}
	if string(recs[0].Payload) != `{"n":2}` {
		t.Errorf("payload: got %s", recs[0].Payload)
	}
}

func TestSubscribe_WokenByPublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.db")
	tr, err := Open(path, WithPollInterval(time.Hour))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tr.Close()

	got := make(chan channel.Position, 4)
	sub, err := tr.Subscribe(context.Background(), "orders", channel.Earliest, func(_ context.Context, rec channel.Record) error {
		got <- rec.Position
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := tr.PublishAsync(context.Background(), "orders", []byte(`{}`)).Wait(context.Background()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case pos := <-got:
		if pos != 1 {
			t.Errorf("position: got %d, want 1", pos)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not woken by publish")
	}
}

func TestReopen_KeepsLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.db")
	tr, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tr.PublishSync(context.Background(), "orders", []byte(`{}`))
	tr.PublishSync(context.Background(), "orders", []byte(`{}`))
	tr.Close()

	tr, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tr.Close()

	pos, err := tr.PublishSync(context.Background(), "orders", []byte(`{}`))
	if err != nil || pos != 3 {
		t.Errorf("publish after reopen: %d, %v", pos, err)
	}
}

func TestClose_RejectsPublishAndStopsSubscriptions(t *testing.T) {
	tr, _ := openTemp(t)

	var mu sync.Mutex
	calls := 0
	_, err := tr.Subscribe(context.Background(), "orders", channel.Earliest, func(context.Context, channel.Record) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := tr.PublishSync(context.Background(), "orders", []byte(`{}`)); !errors.Is(err, inkwell.ErrClosed) {
		t.Errorf("publish after close: %v", err)
	}
	if _, err := tr.Subscribe(context.Background(), "orders", channel.Earliest, nil); !errors.Is(err, inkwell.ErrClosed) {
		t.Errorf("subscribe after close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("unexpected deliveries: %d", calls)
	}
}

func TestNew_SharesStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	backend, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer backend.Close()

	tr, err := New(backend.DB())
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()

	if _, err := tr.PublishSync(context.Background(), "orders", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := backend.OpenBucket(context.Background(), "orders"); err != nil {
		t.Fatalf("bucket on shared file: %v", err)
	}
}
