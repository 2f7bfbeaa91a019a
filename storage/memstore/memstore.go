// Package memstore is a volatile storage backend for tests and ephemeral
// nodes.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/storage"
)

type Backend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
}

func New() *Backend {
	return &Backend{buckets: make(map[string]*bucket)}
}

func (b *Backend) OpenBucket(_ context.Context, name string) (storage.Bucket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memstore: open %s: %w", name, inkwell.ErrClosed)
	}
	bk, ok := b.buckets[name]
	if !ok {
		bk = &bucket{name: name, data: make(map[string][]byte)}
		b.buckets[name] = bk
	}
	return bk, nil
}

func (b *Backend) Buckets(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.buckets))
	for n := range b.buckets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (b *Backend) DropBucket(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[name]; !ok {
		return fmt.Errorf("memstore: drop %s: %w", name, inkwell.ErrNotFound)
	}
	delete(b.buckets, name)
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type bucket struct {
	name string
	mu   sync.RWMutex
	data map[string][]byte
}

func (b *bucket) Name() string { return b.name }

func (b *bucket) Read(_ context.Context, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.data[id]
	if !ok {
		return nil, fmt.Errorf("memstore %s: read %s: %w", b.name, id, inkwell.ErrNotFound)
	}
	return slices.Clone(data), nil
}

func (b *bucket) Write(_ context.Context, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[id] = slices.Clone(data)
	return nil
}

func (b *bucket) Delete(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[id]
	delete(b.data, id)
	return ok, nil
}

func (b *bucket) Keys(context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
