// Package memory is a volatile channel transport. Every channel is an
// in-process slice; positions start at 1. It backs tests and single-process
// nodes and is the fallback when no transport is configured.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/future"
)

type Option func(*Transport)

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

type stream struct {
	records []channel.Record
	changed chan struct{}
}

type Transport struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
	subs    map[string]*subscription
	closed  bool
}

var _ channel.Transport = (*Transport)(nil)

func New(opts ...Option) *Transport {
	t := &Transport{
		log:     slog.Default(),
		now:     time.Now,
		streams: make(map[string]*stream),
		subs:    make(map[string]*subscription),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// stream returns the named stream; the caller holds t.mu.
func (t *Transport) stream(name string) *stream {
	s, ok := t.streams[name]
	if !ok {
		s = &stream{changed: make(chan struct{})}
		t.streams[name] = s
	}
	return s
}

func (t *Transport) PublishSync(ctx context.Context, name string, payload []byte) (channel.Position, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, fmt.Errorf("memory transport: publish %s: %w", name, inkwell.ErrClosed)
	}

	s := t.stream(name)
	pos := channel.Position(len(s.records) + 1)
	s.records = append(s.records, channel.NewRecord(name, pos, t.now(), slices.Clone(payload)))
	close(s.changed)
	s.changed = make(chan struct{})
	return pos, nil
}

// PublishAsync appends before returning, so publishes from one goroutine
// keep their order.
func (t *Transport) PublishAsync(ctx context.Context, name string, payload []byte) *future.Future[channel.Position] {
	pos, err := t.PublishSync(ctx, name, payload)
	if err != nil {
		return future.Failed[channel.Position](err)
	}
	return future.Resolved(pos)
}

// ReadAfter returns up to limit records with positions greater than after.
func (t *Transport) ReadAfter(_ context.Context, name string, after channel.Position, limit int) ([]channel.Record, error) {
	recs, _ := t.readAfter(name, after, limit)
	return recs, nil
}

// Head returns the position of the last record in the channel, 0 if empty.
func (t *Transport) Head(_ context.Context, name string) (channel.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[name]
	if !ok {
		return 0, nil
	}
	return channel.Position(len(s.records)), nil
}

func (t *Transport) readAfter(name string, after channel.Position, limit int) ([]channel.Record, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stream(name)
	start := int(max(after, 0))
	if start >= len(s.records) {
		return nil, s.changed
	}
	end := len(s.records)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return slices.Clone(s.records[start:end]), s.changed
}

func (t *Transport) Subscribe(ctx context.Context, name string, after channel.Position, fn channel.RecordFunc) (channel.Subscription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("memory transport: subscribe %s: %w", name, inkwell.ErrClosed)
	}
	if after == channel.Latest {
		after = channel.Position(len(t.stream(name).records))
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.remove = func() {
		t.mu.Lock()
		delete(t.subs, sub.id)
		t.mu.Unlock()
	}
	t.subs[sub.id] = sub
	t.mu.Unlock()

	go t.deliver(subCtx, sub, name, after, fn)
	return sub, nil
}

func (t *Transport) deliver(ctx context.Context, sub *subscription, name string, next channel.Position, fn channel.RecordFunc) {
	defer close(sub.done)
	for {
		recs, changed := t.readAfter(name, next, 0)
		for _, rec := range recs {
			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx, rec); err != nil {
				t.log.Warn("deliver record", "channel", name, "position", rec.Position, "subscription", sub.id, "error", err)
			}
			next = rec.Position
		}
		if len(recs) > 0 {
			continue
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops every subscription and rejects later publishes.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

type subscription struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	remove func()
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.remove()
	})
	return nil
}
