package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/binder"
	"github.com/ripkitten-co/inkwell/channel"
	"github.com/ripkitten-co/inkwell/dedupe"
	"github.com/ripkitten-co/inkwell/dispatch"
	"github.com/ripkitten-co/inkwell/internal/codecs"
)

type Option func(*engineConfig)

type engineConfig struct {
	checkpoints  Checkpoints
	buffer       int
	stopTimeout  time.Duration
	dedupeSize   int
	retryInitial time.Duration
	retryMax     time.Duration
	retryTries   uint
	logger       *slog.Logger
}

// WithCheckpoints makes projections resume after their last applied
// position instead of replaying from the earliest one.
func WithCheckpoints(c Checkpoints) Option {
	return func(cfg *engineConfig) { cfg.checkpoints = c }
}

// WithBuffer sets each projection's dispatcher read-ahead.
func WithBuffer(n int) Option {
	return func(cfg *engineConfig) { cfg.buffer = n }
}

// WithStopTimeout bounds how long stopping a projection waits for its
// dispatcher to drain. Default 5s.
func WithStopTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) { cfg.stopTimeout = d }
}

// WithDedupe gives every projection its own window of the given size,
// dropping events whose payload was seen recently.
func WithDedupe(size int) Option {
	return func(cfg *engineConfig) { cfg.dedupeSize = size }
}

// WithRetry sets the exponential backoff used when writing a fold result
// fails, and how many attempts are made before the projection stalls.
// Defaults: 50ms initial, 2s max, 5 attempts. Zero values keep the default.
func WithRetry(initial, max time.Duration, tries uint) Option {
	return func(cfg *engineConfig) {
		if initial > 0 {
			cfg.retryInitial = initial
		}
		if max > 0 {
			cfg.retryMax = max
		}
		if tries > 0 {
			cfg.retryTries = tries
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) { cfg.logger = l }
}

// errSkipped marks filter, key and fold failures; the event is dropped and
// the checkpoint still advances past it.
var errSkipped = errors.New("event skipped")

type running struct {
	def        Definition
	binder     *binder.Binder
	sub        channel.Subscription
	dispatcher *dispatch.Dispatcher

	// stalled is set when an event could not be written. Later events are
	// not applied and no checkpoint is saved until the projection restarts.
	stalled atomic.Bool
}

// Engine runs projections. At most one projection per name is live.
type Engine struct {
	source  channel.Source
	binders *binder.Store
	cfg     engineConfig
	log     *slog.Logger
	codec   codecs.Codec

	mu       sync.Mutex
	live     map[string]*running
	starting map[string]struct{}
}

func NewEngine(source channel.Source, binders *binder.Store, opts ...Option) *Engine {
	cfg := engineConfig{
		stopTimeout:  5 * time.Second,
		retryInitial: 50 * time.Millisecond,
		retryMax:     2 * time.Second,
		retryTries:   5,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Engine{
		source:   source,
		binders:  binders,
		cfg:      cfg,
		log:      cfg.logger,
		codec:    codecs.Default(),
		live:     make(map[string]*running),
		starting: make(map[string]struct{}),
	}
}

// Create opens the destination binder and subscribes the projection. When
// the binder cannot be opened no subscription is made and the error wraps
// inkwell.ErrProjectionSetupFailed.
func (e *Engine) Create(ctx context.Context, def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}

	e.mu.Lock()
	_, live := e.live[def.Name]
	_, starting := e.starting[def.Name]
	if live || starting {
		e.mu.Unlock()
		return fmt.Errorf("projection %s: %w", def.Name, inkwell.ErrProjectionExists)
	}
	e.starting[def.Name] = struct{}{}
	e.mu.Unlock()

	r, err := e.start(ctx, def)

	e.mu.Lock()
	delete(e.starting, def.Name)
	if err == nil {
		e.live[def.Name] = r
	}
	e.mu.Unlock()
	return err
}

func (e *Engine) start(ctx context.Context, def Definition) (*running, error) {
	b, err := e.binders.Open(ctx, def.Binder)
	if err != nil {
		return nil, fmt.Errorf("projection %s: open binder %s: %w: %w", def.Name, def.Binder, inkwell.ErrProjectionSetupFailed, err)
	}

	after := channel.Earliest
	if e.cfg.checkpoints != nil {
		pos, ok, err := e.cfg.checkpoints.Load(ctx, def.Name)
		if err != nil {
			return nil, fmt.Errorf("projection %s: %w: %w", def.Name, inkwell.ErrProjectionSetupFailed, err)
		}
		if ok {
			after = pos
		}
	}

	r := &running{def: def, binder: b}
	opts := []dispatch.Option{
		dispatch.WithLogger(e.log),
		dispatch.WithStopTimeout(e.cfg.stopTimeout),
	}
	if e.cfg.buffer > 0 {
		opts = append(opts, dispatch.WithBuffer(e.cfg.buffer))
	}
	if e.cfg.dedupeSize > 0 {
		opts = append(opts, dispatch.WithDedupe(dedupe.New(e.cfg.dedupeSize)))
	}
	r.dispatcher = dispatch.New("projection "+def.Name, func(ctx context.Context, evt channel.Event) error {
		return e.apply(ctx, r, evt)
	}, opts...)

	sub, err := e.source.Subscribe(context.WithoutCancel(ctx), def.Channel, after, r.dispatcher.Dispatch)
	if err != nil {
		r.dispatcher.Stop()
		return nil, fmt.Errorf("projection %s: subscribe %s: %w: %w", def.Name, def.Channel, inkwell.ErrProjectionSetupFailed, err)
	}
	r.sub = sub

	e.log.Info("projection started", "projection", def.Name, "channel", def.Channel, "binder", def.Binder, "after", after)
	return r, nil
}

func (e *Engine) apply(ctx context.Context, r *running, evt channel.Event) error {
	def := r.def
	if r.stalled.Load() {
		e.log.Debug("projection stalled, event not applied", "projection", def.Name, "position", evt.Position)
		return nil
	}

	pe := Event{Event: evt}
	var body inkwell.Document
	if err := e.codec.Unmarshal(evt.Payload, &body); err == nil {
		pe.Body = body
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.retryInitial
	policy.MaxInterval = e.cfg.retryMax
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.fold(ctx, r, pe)
		if errors.Is(err, errSkipped) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(e.cfg.retryTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.log.Warn("retry projection write", "projection", def.Name, "position", evt.Position, "in", next, "error", err)
		}),
	)
	if err != nil && !errors.Is(err, errSkipped) {
		r.stalled.Store(true)
		e.log.Error("projection stalled; restart it to replay from the last checkpoint",
			"projection", def.Name, "position", evt.Position, "error", err)
		return err
	}

	if e.cfg.checkpoints != nil {
		if cerr := e.cfg.checkpoints.Save(ctx, def.Name, evt.Position); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}

// fold applies one event. Failures of the user supplied filter, key and fold
// functions, panics included, wrap errSkipped; anything else is a write
// failure worth retrying.
func (e *Engine) fold(ctx context.Context, r *running, evt Event) error {
	def := r.def

	var (
		keep bool
		id   string
	)
	err := guard(func() error {
		keep = def.Filter == nil || def.Filter(evt)
		if !keep {
			return nil
		}
		var err error
		id, err = def.Key(evt)
		return err
	})
	if err != nil {
		return fmt.Errorf("projection %s: key at %d: %w: %w", def.Name, evt.Position, errSkipped, err)
	}
	if !keep {
		return nil
	}

	_, err = r.binder.Update(ctx, id, func(prev inkwell.Document) (inkwell.Document, error) {
		var next inkwell.Document
		err := guard(func() error {
			var err error
			next, err = def.Fold(ctx, prev, evt)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errSkipped, err)
		}
		return next, nil
	})
	if errors.Is(err, binder.ErrPanic) {
		err = fmt.Errorf("%w: %w", errSkipped, err)
	}
	if err != nil {
		return fmt.Errorf("projection %s: fold %s at %d: %w", def.Name, id, evt.Position, err)
	}
	return nil
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// IsStalled reports whether the live projection name stopped applying events
// after a write kept failing.
func (e *Engine) IsStalled(name string) bool {
	e.mu.Lock()
	r, ok := e.live[name]
	e.mu.Unlock()
	return ok && r.stalled.Load()
}

// IsProjection reports whether a projection named name is live.
func (e *Engine) IsProjection(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.live[name]
	return ok
}

// Names returns the live projection names in order.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.live))
	for name := range e.live {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stop closes the projection's subscription and drains its dispatcher.
func (e *Engine) Stop(ctx context.Context, name string) error {
	e.mu.Lock()
	r, ok := e.live[name]
	delete(e.live, name)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("projection %s: %w", name, inkwell.ErrUnknownProjection)
	}
	return e.stop(ctx, r)
}

func (e *Engine) stop(ctx context.Context, r *running) error {
	done := make(chan error, 1)
	go func() {
		r.sub.Close()
		done <- r.dispatcher.Stop()
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, dispatch.ErrDrainTimeout) {
			return fmt.Errorf("projection %s: stop: %w", r.def.Name, err)
		}
		e.log.Info("projection stopped", "projection", r.def.Name)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every live projection concurrently. One projection failing
// to stop does not interrupt the others; failures are reported together as
// a *StopError.
func (e *Engine) StopAll(ctx context.Context) error {
	e.mu.Lock()
	live := e.live
	e.live = make(map[string]*running)
	e.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	for name, r := range live {
		g.Go(func() error {
			if err := e.stop(ctx, r); err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return &StopError{Total: len(live), Errors: errs}
	}
	return nil
}

// Restart stops the projection and creates it again from the same
// definition. With checkpoints it resumes after the last saved position,
// which replays an event a stalled projection could not write.
func (e *Engine) Restart(ctx context.Context, name string) error {
	e.mu.Lock()
	r, ok := e.live[name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("projection %s: %w", name, inkwell.ErrUnknownProjection)
	}
	if err := e.Stop(ctx, name); err != nil {
		return err
	}
	return e.Create(ctx, r.def)
}

// Rebuild stops the projection, empties its binder and checkpoint, and
// starts it again from the earliest position.
func (e *Engine) Rebuild(ctx context.Context, name string) error {
	e.mu.Lock()
	r, ok := e.live[name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("projection %s: %w", name, inkwell.ErrUnknownProjection)
	}

	if err := e.Stop(ctx, name); err != nil {
		return err
	}

	keys, err := r.binder.Keys(ctx)
	if err != nil {
		return fmt.Errorf("projection %s: rebuild: %w", name, err)
	}
	for _, id := range keys {
		if _, err := r.binder.Delete(ctx, id); err != nil {
			return fmt.Errorf("projection %s: rebuild: %w", name, err)
		}
	}
	if e.cfg.checkpoints != nil {
		if err := e.cfg.checkpoints.Clear(ctx, name); err != nil {
			return fmt.Errorf("projection %s: rebuild: %w", name, err)
		}
	}

	e.log.Info("projection rebuilding", "projection", name)
	return e.Create(ctx, r.def)
}
