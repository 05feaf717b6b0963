package buffer

import (
	"sync"

	"github.com/c360/dataflow/errors"
)

type circular[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	opts     *options[T]

	notFull *sync.Cond
	closed  bool
}

func newCircular[T any](capacity int, opts *options[T]) *circular[T] {
	cb := &circular[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    &Statistics{},
		opts:     opts,
	}
	cb.notFull = sync.NewCond(&cb.mu)
	return cb
}

// Write adds an item according to the overflow policy. The drop
// callback runs after the lock is released so it may call back into
// the buffer.
func (cb *circular[T]) Write(item T) error {
	cb.mu.Lock()

	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Write", "buffer closed")
	}

	var dropped *T
	if cb.size == cb.capacity {
		switch cb.opts.policy {
		case DropOldest:
			old := cb.items[cb.tail]
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--
			cb.stats.dropped.Add(1)
			dropped = &old

		case DropNewest:
			cb.stats.dropped.Add(1)
			cb.mu.Unlock()
			if cb.opts.dropCallback != nil {
				cb.opts.dropCallback(item)
			}
			return nil

		case Block:
			for cb.size == cb.capacity && !cb.closed {
				cb.notFull.Wait()
			}
			if cb.closed {
				cb.mu.Unlock()
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Write",
					"buffer closed during blocking wait")
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	cb.stats.writes.Add(1)
	cb.mu.Unlock()

	if dropped != nil && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(*dropped)
	}
	return nil
}

// Read retrieves and removes the oldest item.
func (cb *circular[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // release for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	cb.stats.reads.Add(1)
	cb.notFull.Signal()
	return item, true
}

func (cb *circular[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circular[T]) Capacity() int {
	return cb.capacity
}

func (cb *circular[T]) Stats() *Statistics {
	return cb.stats
}

// Close shuts down the buffer; blocked writers are released with an error.
func (cb *circular[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	cb.notFull.Broadcast()
	return nil
}
