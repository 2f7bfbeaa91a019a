package binder

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/internal/codecs"
	"github.com/ripkitten-co/inkwell/storage"
)

var (
	// ErrPanic is returned by an operation whose job panicked on the worker.
	// The worker survives and keeps serving the binder.
	ErrPanic = errors.New("panic in binder job")

	// ErrStreamDropped is returned by Close when stream publishes failed
	// during the binder's lifetime.
	ErrStreamDropped = errors.New("stream publishes dropped")
)

// Entry is one document yielded by Scan.
type Entry struct {
	ID       string
	Document inkwell.Document
}

// Predicate selects documents during Scan. A nil predicate selects all.
type Predicate func(id string, doc inkwell.Document) bool

// UpdateFunc computes the replacement for a document. prev is nil when the
// id is absent. Returning a nil document deletes the id.
type UpdateFunc func(prev inkwell.Document) (inkwell.Document, error)

type Binder struct {
	name   string
	bucket storage.Bucket
	codec  codecs.Codec
	log    *slog.Logger

	jobs      chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	stream   atomic.Pointer[streamer]
	streams  sync.WaitGroup
	dropped  atomic.Uint64
	closeErr error
	cfg      *storeConfig
}

func newBinder(bucket storage.Bucket, cfg *storeConfig) *Binder {
	b := &Binder{
		name:    bucket.Name(),
		bucket:  bucket,
		codec:   cfg.codec,
		log:     cfg.logger.With("binder", bucket.Name()),
		jobs:    make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		cfg:     cfg,
	}
	go b.work()
	return b
}

func (b *Binder) Name() string { return b.name }

func (b *Binder) work() {
	defer close(b.stopped)
	for {
		select {
		case job := <-b.jobs:
			job()
		case <-b.quit:
			return
		}
	}
}

type result[T any] struct {
	val T
	err error
}

// run hands fn to the worker and waits for its result. Once the worker has
// accepted the job the result is always delivered, also when fn panics; fn
// itself observes ctx.
func run[T any](ctx context.Context, b *Binder, fn func() (T, error)) (T, error) {
	var zero T
	res := make(chan result[T], 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("job panic", "panic", r)
				res <- result[T]{zero, fmt.Errorf("binder %s: %w: %v", b.name, ErrPanic, r)}
			}
		}()
		v, err := fn()
		res <- result[T]{v, err}
	}

	select {
	case b.jobs <- job:
	case <-b.quit:
		return zero, fmt.Errorf("binder %s: %w", b.name, inkwell.ErrClosed)
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	r := <-res
	return r.val, r.err
}

// Get returns the document stored under id. ok is false when the id is
// absent.
func (b *Binder) Get(ctx context.Context, id string) (doc inkwell.Document, ok bool, err error) {
	type found struct {
		doc inkwell.Document
		ok  bool
	}
	f, err := run(ctx, b, func() (found, error) {
		doc, ok, err := b.load(ctx, id)
		return found{doc, ok}, err
	})
	return f.doc, f.ok, err
}

// Put replaces the document stored under id.
func (b *Binder) Put(ctx context.Context, id string, doc inkwell.Document) error {
	data, err := b.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("binder %s: put %s: marshal: %w", b.name, id, err)
	}
	_, err = run(ctx, b, func() (struct{}, error) {
		if err := b.bucket.Write(ctx, id, data); err != nil {
			return struct{}{}, fmt.Errorf("binder %s: put %s: %w", b.name, id, err)
		}
		b.notify(id, doc)
		return struct{}{}, nil
	})
	return err
}

// Delete removes id and reports whether it existed.
func (b *Binder) Delete(ctx context.Context, id string) (bool, error) {
	return run(ctx, b, func() (bool, error) {
		ok, err := b.bucket.Delete(ctx, id)
		if err != nil {
			return false, fmt.Errorf("binder %s: delete %s: %w", b.name, id, err)
		}
		return ok, nil
	})
}

// Update reads the document under id, passes it to fn and stores the result,
// all inside one worker job. No other operation on this binder interleaves.
func (b *Binder) Update(ctx context.Context, id string, fn UpdateFunc) (inkwell.Document, error) {
	return run(ctx, b, func() (inkwell.Document, error) {
		prev, _, err := b.load(ctx, id)
		if err != nil {
			return nil, err
		}

		next, err := fn(prev)
		if err != nil {
			return nil, fmt.Errorf("binder %s: update %s: %w", b.name, id, err)
		}

		if next == nil {
			if _, err := b.bucket.Delete(ctx, id); err != nil {
				return nil, fmt.Errorf("binder %s: update %s: delete: %w", b.name, id, err)
			}
			return nil, nil
		}

		data, err := b.codec.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("binder %s: update %s: marshal: %w", b.name, id, err)
		}
		if err := b.bucket.Write(ctx, id, data); err != nil {
			return nil, fmt.Errorf("binder %s: update %s: %w", b.name, id, err)
		}
		b.notify(id, next)
		return next, nil
	})
}

// Keys returns the stored ids in ascending order.
func (b *Binder) Keys(ctx context.Context) ([]string, error) {
	return run(ctx, b, func() ([]string, error) {
		keys, err := b.bucket.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("binder %s: keys: %w", b.name, err)
		}
		return keys, nil
	})
}

// Scan lazily yields the documents matching pred in id order. The id set is
// taken when iteration starts; each document is loaded as it is reached, so
// ids deleted meanwhile are skipped. A failure is yielded once as the error
// and ends the iteration.
func (b *Binder) Scan(ctx context.Context, pred Predicate) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		keys, err := b.Keys(ctx)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		for _, id := range keys {
			doc, ok, err := b.Get(ctx, id)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !ok {
				continue
			}
			if pred != nil && !pred(id, doc) {
				continue
			}
			if !yield(Entry{ID: id, Document: doc}, nil) {
				return
			}
		}
	}
}

// Close stops the worker after the job in progress and waits for pending
// stream publishes. Later operations fail with inkwell.ErrClosed. The error
// wraps ErrStreamDropped when any stream publish failed.
func (b *Binder) Close() error {
	b.closeOnce.Do(func() {
		close(b.quit)
		<-b.stopped
		b.streams.Wait()
		if n := b.dropped.Load(); n > 0 {
			b.closeErr = fmt.Errorf("binder %s: close: %d %w", b.name, n, ErrStreamDropped)
		}
	})
	return b.closeErr
}

func (b *Binder) load(ctx context.Context, id string) (inkwell.Document, bool, error) {
	data, err := b.bucket.Read(ctx, id)
	if err != nil {
		if errors.Is(err, inkwell.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("binder %s: get %s: %w", b.name, id, err)
	}

	var doc inkwell.Document
	if err := b.codec.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("binder %s: get %s: %w: %v", b.name, id, inkwell.ErrCorruptDocument, err)
	}
	return doc, true, nil
}
