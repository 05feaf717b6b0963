// Package buffer provides a bounded circular buffer with configurable
// overflow policies, used for fan-out to subscribers with independent
// consumption rates. Dropped-item counts let a slow consumer detect a gap
// and resynchronize from current state.
package buffer

import (
	"sync/atomic"

	"github.com/c360/dataflow/errors"
)

// OverflowPolicy selects behavior when writing to a full buffer
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item
	DropNewest
	// Block waits until a reader frees space
	Block
)

// Buffer is a bounded FIFO queue
type Buffer[T any] interface {
	Write(item T) error
	Read() (T, bool)
	Size() int
	Capacity() int
	Stats() *Statistics
	Close() error
}

// Statistics tracks buffer activity with atomic counters
type Statistics struct {
	writes  atomic.Int64
	reads   atomic.Int64
	dropped atomic.Int64
}

// Writes returns the total successful writes
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total successful reads
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Dropped returns the total items lost to overflow. A consumer that sees
// this grow between reads has observed a gap.
func (s *Statistics) Dropped() int64 { return s.dropped.Load() }

// Option configures a buffer
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback func(T)
}

// WithOverflowPolicy sets the policy applied when the buffer is full
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback invokes fn for every item lost to overflow
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = fn
	}
}

// NewCircular creates a circular buffer with the given capacity
func NewCircular[T any](capacity int, opts ...Option[T]) (Buffer[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidConfig, "buffer", "NewCircular", "capacity must be positive")
	}

	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		opt(o)
	}

	return newCircular(capacity, o), nil
}
