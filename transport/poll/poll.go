// Package poll turns a readable, position-indexed event log into channel
// subscriptions. Database transports implement Reader and hand their
// subscriptions to Subscribe; an optional wake channel shortens the wait
// between polls when the backend can signal new records.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ripkitten-co/inkwell/channel"
)

// Reader reads a channel log by position.
type Reader interface {
	// ReadAfter returns up to limit records with positions greater than
	// after, in position order.
	ReadAfter(ctx context.Context, name string, after channel.Position, limit int) ([]channel.Record, error)
	// Head returns the position of the newest record, 0 when empty.
	Head(ctx context.Context, name string) (channel.Position, error)
}

type Option func(*config)

type config struct {
	interval time.Duration
	batch    int
	logger   *slog.Logger
	wake     <-chan struct{}
	backoff  func() *backoff.ExponentialBackOff
}

// WithInterval sets the idle poll interval. Default 200ms.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithBatch sets the maximum records read per poll. Default 256.
func WithBatch(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batch = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithWake makes a receive on ch trigger an immediate poll.
func WithWake(ch <-chan struct{}) Option {
	return func(c *config) { c.wake = ch }
}

// WithRetry sets the backoff used after read errors.
func WithRetry(initial, maxInterval time.Duration) Option {
	return func(c *config) {
		c.backoff = func() *backoff.ExponentialBackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			return b
		}
	}
}

// Subscribe starts a polling subscription. Read errors are logged and
// retried with exponential backoff until the subscription closes.
func Subscribe(ctx context.Context, r Reader, name string, after channel.Position, fn channel.RecordFunc, opts ...Option) (channel.Subscription, error) {
	cfg := config{
		interval: 200 * time.Millisecond,
		batch:    256,
		logger:   slog.Default(),
		backoff:  backoff.NewExponentialBackOff,
	}
	for _, o := range opts {
		o(&cfg)
	}

	if after == channel.Latest {
		head, err := r.Head(ctx, name)
		if err != nil {
			return nil, err
		}
		after = head
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{cancel: cancel, done: make(chan struct{})}
	p := &poller{
		reader: r,
		name:   name,
		next:   after,
		fn:     fn,
		cfg:    cfg,
		log:    cfg.logger.With("channel", name),
	}
	go func() {
		defer close(s.done)
		p.run(subCtx)
	}()
	return s, nil
}

type poller struct {
	reader Reader
	name   string
	next   channel.Position
	fn     channel.RecordFunc
	cfg    config
	log    *slog.Logger
}

func (p *poller) run(ctx context.Context) {
	bo := p.cfg.backoff()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.cfg.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		n, err := p.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			p.log.Warn("poll channel", "error", err, "retry_in", wait)
			timer.Reset(wait)
			continue
		}
		bo.Reset()

		if n == p.cfg.batch {
			timer.Reset(0)
		} else {
			timer.Reset(p.cfg.interval)
		}
	}
}

func (p *poller) poll(ctx context.Context) (int, error) {
	recs, err := p.reader.ReadAfter(ctx, p.name, p.next, p.cfg.batch)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err := p.fn(ctx, rec); err != nil {
			p.log.Warn("deliver record", "position", rec.Position, "error", err)
		}
		p.next = rec.Position
	}
	return len(recs), nil
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
