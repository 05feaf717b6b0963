// Package collector defines the contract shared by all source collectors
// and the lifecycle base they embed. A collector produces typed updates
// from one external feed; variants live in subpackages (timer, httppoll,
// stream, broker, file).
package collector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
)

// State is a collector lifecycle state
type State int

// Collector states
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateReconnecting
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status reports a collector's current state
type Status struct {
	State   State
	Reason  string // populated when State is StateError
	Since   time.Time
	Updates int64 // total updates emitted
}

// Collector is one unit producing typed updates from an external feed.
// Stop must not return until in-flight work has observably ceased; a
// stopped collector emits no further updates.
type Collector interface {
	ID() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	// Refresh forces an out-of-band fetch for polling variants.
	// Streaming variants return ErrRefreshUnsupported.
	Refresh(ctx context.Context) error
	Subscribe() <-chan flow.Update
	Status() Status
}

// subscriberBufferSize is the per-subscriber channel capacity. The engine
// pump drains continuously; a full channel means the consumer has stalled
// and the update is dropped rather than blocking the feed.
const subscriberBufferSize = 64

// Base carries the lifecycle and fan-out machinery common to every
// collector variant. Variants embed *Base and drive it from their own
// Start/Stop.
type Base struct {
	id      string
	logger  *slog.Logger
	metrics *metric.CoreMetrics

	lifecycleMu sync.Mutex
	shutdownMu  sync.Mutex
	shutdown    chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     atomic.Bool

	statusMu sync.RWMutex
	state    State
	reason   string
	since    time.Time

	subsMu  sync.RWMutex
	subs    []chan flow.Update
	emitted atomic.Int64
}

// NewBase creates the shared collector base
func NewBase(id string, logger *slog.Logger, metrics *metric.CoreMetrics) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		id:      id,
		logger:  logger.With("collector", id),
		metrics: metrics,
		state:   StateStopped,
		since:   time.Now(),
	}
}

// ID returns the collector identifier
func (b *Base) ID() string { return b.id }

// Logger returns the collector-scoped logger
func (b *Base) Logger() *slog.Logger { return b.logger }

// Refresh is the default for variants without an on-demand fetch
func (b *Base) Refresh(_ context.Context) error {
	return errors.WrapInvalid(errors.ErrRefreshUnsupported, b.id, "Refresh", "on-demand fetch")
}

// Subscribe returns a new receiver attached to this collector's update
// stream. Safe to call at any time, including while the collector runs.
func (b *Base) Subscribe() <-chan flow.Update {
	ch := make(chan flow.Update, subscriberBufferSize)
	b.subsMu.Lock()
	b.subs = append(b.subs, ch)
	b.subsMu.Unlock()
	return ch
}

// Status reports the current state
func (b *Base) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return Status{
		State:   b.state,
		Reason:  b.reason,
		Since:   b.since,
		Updates: b.emitted.Load(),
	}
}

// SetState records a state transition. The reason is kept only for
// StateError.
func (b *Base) SetState(state State, reason string) {
	b.statusMu.Lock()
	changed := b.state != state
	b.state = state
	if state == StateError {
		b.reason = reason
	} else {
		b.reason = ""
	}
	if changed {
		b.since = time.Now()
	}
	b.statusMu.Unlock()

	if changed {
		b.logger.Debug("collector state changed", "state", state.String(), "reason", reason)
	}
	if b.metrics != nil {
		b.metrics.CollectorStatus.WithLabelValues(b.id).Set(float64(state))
	}
}

// Emit fans an update out to every subscriber. Sends never block: a
// subscriber that has stalled loses the update and must resynchronize
// from repository state.
func (b *Base) Emit(update flow.Update) {
	b.emitted.Add(1)
	if b.metrics != nil {
		b.metrics.UpdatesReceived.WithLabelValues(b.id).Inc()
	}

	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- update:
		default:
			b.logger.Warn("subscriber stalled, update dropped", "path", update.Path.String())
		}
	}
}

// BeginStart guards a Start call. It returns a context cancelled on Stop
// and an error when the collector is already running. Collectors are
// restartable: each BeginStart installs a fresh shutdown channel.
func (b *Base) BeginStart(ctx context.Context) (context.Context, error) {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.started.Load() {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStarted, b.id, "Start", "check started state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.shutdownMu.Lock()
	b.shutdown = make(chan struct{})
	b.shutdownMu.Unlock()
	b.cancel = cancel
	b.started.Store(true)
	b.SetState(StateStarting, "")
	return runCtx, nil
}

// AbortStart rolls back a BeginStart whose mode-specific setup failed
func (b *Base) AbortStart() {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	b.cancel()
	b.shutdownMu.Lock()
	close(b.shutdown)
	b.shutdownMu.Unlock()
	b.started.Store(false)
	b.SetState(StateStopped, "")
}

// EndStop guards a Stop call: it signals shutdown, runs the variant's
// teardown, then waits for all goroutines started via Go to finish.
// Stopping an already stopped collector is a no-op.
func (b *Base) EndStop(timeout time.Duration, teardown func()) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.started.Load() {
		return nil
	}

	b.shutdownMu.Lock()
	close(b.shutdown)
	b.shutdownMu.Unlock()
	b.cancel()
	if teardown != nil {
		teardown()
	}

	doneCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			errors.ErrRequestTimeout, b.id, "Stop", "wait for goroutines")
	}

	b.started.Store(false)
	b.SetState(StateStopped, "")
	return nil
}

// Go runs fn on a tracked goroutine; EndStop waits for it
func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Shutdown returns the channel closed when Stop begins. Valid only
// between BeginStart and EndStop.
func (b *Base) Shutdown() <-chan struct{} {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	return b.shutdown
}

// Running reports whether the collector is between Start and Stop
func (b *Base) Running() bool {
	return b.started.Load()
}
