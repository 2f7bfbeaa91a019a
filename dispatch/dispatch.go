// Package dispatch decouples a transport's delivery goroutine from the
// handler consuming its events. A Dispatcher keeps exactly one handler call
// in flight, delivers in dispatch order, and bounds read-ahead with a small
// buffer: a full buffer blocks the transport instead of dropping events.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/dedupe"
)

var (
	// ErrStopped is returned by Dispatch once Stop has been called.
	ErrStopped = errors.New("dispatcher stopped")

	// ErrDrainTimeout is returned by Stop when buffered events were still
	// being handled after the stop timeout.
	ErrDrainTimeout = errors.New("dispatcher drain timed out")
)

// Handler processes one event. Errors are logged; they never stop the loop.
type Handler func(ctx context.Context, evt channel.Event) error

type Option func(*config)

type config struct {
	buffer      int
	stopTimeout time.Duration
	logger      *slog.Logger
	window      *dedupe.Window
}

// WithBuffer sets the read-ahead capacity. Default 16.
func WithBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the buffer to drain.
// Default 5s.
func WithStopTimeout(d time.Duration) Option {
	return func(c *config) { c.stopTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithDedupe drops events whose payload is already inside the window. Only
// enqueued events are remembered.
func WithDedupe(w *dedupe.Window) Option {
	return func(c *config) { c.window = w }
}

// Stats are running counters of a dispatcher.
type Stats struct {
	Handled   uint64
	Failed    uint64
	Corrupt   uint64
	Duplicate uint64
}

type Dispatcher struct {
	name    string
	handler Handler
	cfg     config
	log     *slog.Logger

	mu      sync.RWMutex
	stopped bool
	buf     chan channel.Event
	quit    chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	stopOnce sync.Once
	stopErr  error

	handled   atomic.Uint64
	failed    atomic.Uint64
	corrupt   atomic.Uint64
	duplicate atomic.Uint64
}

// New starts a dispatcher and its consumer goroutine.
func New(name string, handler Handler, opts ...Option) *Dispatcher {
	cfg := config{
		buffer:      16,
		stopTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		name:    name,
		handler: handler,
		cfg:     cfg,
		log:     cfg.logger.With("dispatcher", name),
		buf:     make(chan channel.Event, cfg.buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go d.run()
	return d
}

// Name returns the dispatcher name used in logs.
func (d *Dispatcher) Name() string { return d.name }

// Dispatch verifies rec and enqueues it. It blocks while the buffer is full.
// Corrupt and duplicate records are logged and skipped with a nil error so
// the delivering stream continues.
func (d *Dispatcher) Dispatch(ctx context.Context, rec channel.Record) error {
	evt, err := channel.Decode(rec)
	if err != nil {
		d.corrupt.Add(1)
		d.log.Warn("skip corrupt record", "channel", rec.Channel, "position", rec.Position, "error", err)
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return fmt.Errorf("dispatch %s: %w", d.name, ErrStopped)
	}

	// the checksum is the payload hash; an event that is not enqueued is
	// forgotten again so a redelivery is not mistaken for a duplicate
	if d.cfg.window != nil && d.cfg.window.SeenHash(evt.Checksum) {
		d.duplicate.Add(1)
		d.log.Debug("skip duplicate event", "channel", evt.Channel, "position", evt.Position)
		return nil
	}

	select {
	case d.buf <- evt:
		return nil
	case <-d.quit:
		d.forget(evt)
		return fmt.Errorf("dispatch %s: %w", d.name, ErrStopped)
	case <-ctx.Done():
		d.forget(evt)
		return ctx.Err()
	}
}

func (d *Dispatcher) forget(evt channel.Event) {
	if d.cfg.window != nil {
		d.cfg.window.Forget(evt.Checksum)
	}
}

// Stop rejects new dispatches, lets buffered events drain, and waits up to
// the stop timeout. A timed-out drain is logged and reported with
// ErrDrainTimeout; the consumer keeps draining in the background. Stop is
// idempotent.
func (d *Dispatcher) Stop() error {
	d.stopOnce.Do(func() {
		close(d.quit)

		d.mu.Lock()
		d.stopped = true
		close(d.buf)
		d.mu.Unlock()

		timer := time.NewTimer(d.cfg.stopTimeout)
		defer timer.Stop()

		select {
		case <-d.done:
		case <-timer.C:
			d.log.Warn("stop timed out before drain completed",
				"timeout", d.cfg.stopTimeout, "buffered", len(d.buf))
			d.stopErr = fmt.Errorf("dispatch %s: %w", d.name, ErrDrainTimeout)
		}
		d.cancel()
	})
	return d.stopErr
}

// Done is closed when the consumer goroutine has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Handled:   d.handled.Load(),
		Failed:    d.failed.Load(),
		Corrupt:   d.corrupt.Load(),
		Duplicate: d.duplicate.Load(),
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.buf {
		d.handle(evt)
	}
}

func (d *Dispatcher) handle(evt channel.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Error("handler panic", "channel", evt.Channel, "position", evt.Position, "panic", r)
		}
	}()

	if err := d.handler(d.ctx, evt); err != nil {
		d.failed.Add(1)
		d.log.Error("handle event", "channel", evt.Channel, "position", evt.Position, "error", err)
		return
	}
	d.handled.Add(1)
}
