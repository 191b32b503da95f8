// Package ringlog holds fixed-capacity, most-recent-first logs.
package ringlog

import "sync"

// Ring keeps at most Cap entries, newest first. Pushing past capacity evicts
// the oldest entry.
type Ring[T any] struct {
	mu      sync.RWMutex
	cap     int
	entries []T
}

func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{cap: capacity, entries: make([]T, 0, capacity)}
}

func (r *Ring[T]) Push(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) < r.cap {
		r.entries = append(r.entries, entry)
	}
	copy(r.entries[1:], r.entries[:len(r.entries)-1])
	r.entries[0] = entry
}

// Snapshot returns a copy of the entries, newest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Ring[T]) Cap() int {
	return r.cap
}
