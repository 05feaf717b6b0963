package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
	"github.com/c360/dataflow/pkg/worker"
	"github.com/c360/dataflow/repository"
)

// Dispatch pool sizing
const (
	defaultDispatchWorkers = 4
	defaultDispatchQueue   = 256
)

// Evaluator evaluates every registered trigger on every repository
// change and dispatches matched fires asynchronously
type Evaluator struct {
	mu       sync.RWMutex
	triggers map[string]*Trigger

	registry *Registry
	repo     *repository.Repository
	notify   NotifySink
	pool     *worker.Pool[Fire]
	logger   *slog.Logger
	metrics  *metric.CoreMetrics
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithMetrics wires core metrics into the evaluator
func WithMetrics(m *metric.CoreMetrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithNotifySink sets the outward notification sink
func WithNotifySink(sink NotifySink) Option {
	return func(e *Evaluator) { e.notify = sink }
}

// NewEvaluator creates a trigger evaluator over the given action
// registry
func NewEvaluator(repo *repository.Repository, registry *Registry, logger *slog.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		triggers: make(map[string]*Trigger),
		registry: registry,
		repo:     repo,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pool = worker.NewPool(defaultDispatchWorkers, defaultDispatchQueue, e.process)
	return e
}

// Start launches the dispatch pool
func (e *Evaluator) Start(ctx context.Context) error {
	return e.pool.Start(ctx)
}

// Stop drains the dispatch pool
func (e *Evaluator) Stop(timeout time.Duration) error {
	return e.pool.Stop(timeout)
}

// Register adds a trigger. The action must exist in the registry.
func (e *Evaluator) Register(spec Spec) (*Trigger, error) {
	t, err := newTrigger(spec)
	if err != nil {
		return nil, err
	}
	if _, ok := e.registry.Get(t.action); !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("action %q: %w", t.action, errors.ErrUnknownAction),
			"Evaluator", "Register", "resolve action")
	}

	e.mu.Lock()
	e.triggers[t.id] = t
	e.mu.Unlock()

	e.logger.Debug("trigger registered",
		"trigger", t.id, "path", t.path.String(), "action", t.action,
		"condition", string(t.condition.Kind))
	return t, nil
}

// Remove deletes a trigger; unknown ids are ignored
func (e *Evaluator) Remove(id string) {
	e.mu.Lock()
	delete(e.triggers, id)
	e.mu.Unlock()
}

// Len returns the number of registered triggers
func (e *Evaluator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.triggers)
}

// OnChange evaluates all triggers against one change. Matched,
// non-suppressed triggers are handed to the dispatch pool; this method
// never blocks on action execution.
func (e *Evaluator) OnChange(change flow.Change) {
	e.mu.RLock()
	matched := make([]*Trigger, 0, len(e.triggers))
	for _, t := range e.triggers {
		if t.matches(change) {
			matched = append(matched, t)
		}
	}
	e.mu.RUnlock()

	now := time.Now()
	for _, t := range matched {
		fire, reason := t.shouldFire(now)
		if !fire {
			if e.metrics != nil {
				e.metrics.TriggerSuppressed.WithLabelValues(t.action, reason).Inc()
			}
			continue
		}

		if e.metrics != nil {
			e.metrics.TriggerFires.WithLabelValues(t.action).Inc()
		}
		err := e.pool.Submit(Fire{
			TriggerID: t.id,
			Action:    t.action,
			Params:    t.params,
			Change:    change,
		})
		if err != nil {
			e.logger.Warn("trigger dispatch dropped",
				"trigger", t.id, "action", t.action, "error", err)
		}
	}
}

// process executes one fire. Failures are logged and never propagate.
func (e *Evaluator) process(ctx context.Context, fire Fire) error {
	action, ok := e.registry.Get(fire.Action)
	if !ok {
		e.logger.Error("fired action not found", "trigger", fire.TriggerID, "action", fire.Action)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked",
				"trigger", fire.TriggerID, "action", fire.Action, "panic", r)
			if e.metrics != nil {
				e.metrics.ActionFailures.WithLabelValues(fire.Action).Inc()
			}
		}
	}()

	err := action.Execute(ctx, ExecContext{
		TriggerID: fire.TriggerID,
		Change:    fire.Change,
		Params:    fire.Params,
		Repo:      e.repo,
		Notify:    e.notify,
	})
	if err != nil {
		e.logger.Warn("action failed",
			"trigger", fire.TriggerID, "action", fire.Action, "error", err)
		if e.metrics != nil {
			e.metrics.ActionFailures.WithLabelValues(fire.Action).Inc()
		}
	}
	return nil
}
