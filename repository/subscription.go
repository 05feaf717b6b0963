package repository

import (
	"sync"

	"github.com/google/uuid"

	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/pkg/buffer"
)

// subscriptionBufferSize bounds how far a subscriber may lag before
// changes are dropped. At-least-once: a subscriber that observes Dropped()
// growing has a gap and must resynchronize from current repository state.
const subscriptionBufferSize = 256

// Subscription is one subscriber's view of the change stream. Changes
// arrive on C() in publish order; a slow consumer loses the oldest
// undelivered changes rather than blocking writers.
type Subscription struct {
	id     string
	filter datapath.Path // zero value means all changes

	buf       buffer.Buffer[flow.Change]
	wake      chan struct{}
	out       chan flow.Change
	done      chan struct{}
	repo      *Repository
	closeOnce sync.Once

	// lastDropped tracks the buffer drop count already reported to
	// metrics; guarded by the repository lock
	lastDropped int64
}

// Subscribe returns a subscription receiving every change
func (r *Repository) Subscribe() *Subscription {
	return r.subscribe(datapath.Path{})
}

// SubscribePath returns a subscription receiving only changes whose path
// equals the given path or is a descendant of it
func (r *Repository) SubscribePath(path datapath.Path) *Subscription {
	return r.subscribe(path)
}

func (r *Repository) subscribe(filter datapath.Path) *Subscription {
	buf, _ := buffer.NewCircular[flow.Change](subscriptionBufferSize,
		buffer.WithOverflowPolicy[flow.Change](buffer.DropOldest))

	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		buf:    buf,
		wake:   make(chan struct{}, 1),
		out:    make(chan flow.Change),
		done:   make(chan struct{}),
		repo:   r,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(sub.out)
		return sub
	}
	r.subs[sub.id] = sub
	r.mu.Unlock()

	go sub.deliver()
	return sub
}

// C returns the channel of change notifications. It is closed when the
// subscription or the repository shuts down.
func (s *Subscription) C() <-chan flow.Change {
	return s.out
}

// Dropped returns how many changes were lost to backpressure. Consumers
// that see this grow should re-read current repository state.
func (s *Subscription) Dropped() int64 {
	return s.buf.Stats().Dropped()
}

// Close detaches the subscription from the repository
func (s *Subscription) Close() {
	s.repo.mu.Lock()
	delete(s.repo.subs, s.id)
	s.repo.mu.Unlock()
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.buf.Close()
	})
}

// publishLocked routes a change to every matching subscriber. Called with
// the repository lock held so buffer writes keep global publish order.
func (r *Repository) publishLocked(change flow.Change) {
	published := false
	for _, sub := range r.subs {
		if !sub.filter.IsZero() && !sub.filter.Contains(change.Path) {
			continue
		}
		if err := sub.buf.Write(change); err != nil {
			continue
		}
		published = true
		if r.metrics != nil {
			if d := sub.buf.Stats().Dropped(); d > sub.lastDropped {
				r.metrics.ChangesDropped.WithLabelValues(sub.id).Add(float64(d - sub.lastDropped))
				sub.lastDropped = d
			}
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}

	if r.metrics != nil && published {
		r.metrics.ChangesPublished.Inc()
	}
}

// deliver drains the buffer into the out channel in FIFO order
func (s *Subscription) deliver() {
	defer close(s.out)

	for {
		change, ok := s.buf.Read()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- change:
		case <-s.done:
			return
		}
	}
}
