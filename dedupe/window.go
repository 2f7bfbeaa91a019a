// Package dedupe suppresses repeated deliveries within a bounded recency
// window of content hashes.
//
// Hash collisions can classify a new item as a duplicate. A repeated item
// that is still inside the window is always reported as a duplicate.
package dedupe

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Window is a bounded, insertion-ordered set of content hashes. It is safe
// for concurrent use: the test-and-insert in Seen is one critical section.
type Window struct {
	mu    sync.Mutex
	size  int
	ring  []uint64
	used  []bool
	next  int
	index map[uint64]int
}

// New returns a window remembering the last size distinct items. A size
// below one is treated as one.
func New(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		size:  size,
		ring:  make([]uint64, size),
		used:  make([]bool, size),
		index: make(map[uint64]int, size),
	}
}

// Seen reports whether data was already inside the window and records it if
// it was not. When the window is full the oldest hash is evicted. A hit does
// not refresh the item's place in the window.
func (w *Window) Seen(data []byte) bool {
	return w.SeenHash(xxhash.Sum64(data))
}

// SeenHash is Seen for a precomputed hash.
func (w *Window) SeenHash(h uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.index[h]; ok {
		return true
	}

	if w.used[w.next] {
		delete(w.index, w.ring[w.next])
	}
	w.ring[w.next] = h
	w.used[w.next] = true
	w.index[h] = w.next
	w.next = (w.next + 1) % w.size
	return false
}

// Forget removes h from the window, so the next SeenHash(h) reports false.
// Callers use it to undo a Seen whose item was never delivered. The freed
// slot is reused when the ring wraps around to it.
func (w *Window) Forget(h uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot, ok := w.index[h]
	if !ok {
		return
	}
	delete(w.index, h)
	w.used[slot] = false
}

// Len returns the number of hashes currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}

// Size returns the window capacity.
func (w *Window) Size() int {
	return w.size
}

// Reset forgets every hash.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.index)
	clear(w.used)
	w.next = 0
}
