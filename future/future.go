// Package future provides a single-assignment result that resolves exactly
// once, used for asynchronous publishes and command executions.
package future

import (
	"context"
	"sync"
)

// Future holds the eventual result of an asynchronous operation.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Go runs fn on a new goroutine and resolves the future with its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := New[T]()
	go func() {
		v, err := fn()
		f.Resolve(v, err)
	}()
	return f
}

// Resolved returns a future already resolved with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v, nil)
	return f
}

// Failed returns a future already failed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	var zero T
	f.Resolve(zero, err)
	return f
}

// Resolve sets the result. Only the first call has an effect; it reports
// whether this call resolved the future.
func (f *Future[T]) Resolve(v T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future has resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. A cancelled wait
// does not cancel the underlying operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then returns a future resolved with fn applied to this future's value.
// Errors pass through without calling fn.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := New[U]()
	go func() {
		<-f.done
		if f.err != nil {
			var zero U
			out.Resolve(zero, f.err)
			return
		}
		out.Resolve(fn(f.value))
	}()
	return out
}
