// Package testutil provides small shared test helpers.
package testutil

import "sync"

// Recorder is a thread-safe event capture for test observers: appliers,
// notification sinks, action handlers.
type Recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

// Record appends one event
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

// Len returns the number of recorded events
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// Snapshot returns a copy of all recorded events
func (r *Recorder[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.got))
	copy(out, r.got)
	return out
}

// First returns the first recorded event; the bool is false when empty
func (r *Recorder[T]) First() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.got) == 0 {
		return zero, false
	}
	return r.got[0], true
}
