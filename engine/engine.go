// Package engine is the composition root: it owns the repository, wires
// collectors through their transform pipelines into it, and dispatches
// change notifications to the binding system and trigger evaluator.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/dataflow/binding"
	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/health"
	"github.com/c360/dataflow/metric"
	"github.com/c360/dataflow/repository"
	"github.com/c360/dataflow/transform"
	"github.com/c360/dataflow/trigger"
)

// managedState serializes lifecycle transitions per collector id
type managedState int

const (
	managedStopped managedState = iota
	managedStarting
	managedRunning
	managedStopping
)

// managedSource pairs a collector with its pipeline and guards its
// start/stop transitions
type managedSource struct {
	col      collector.Collector
	pipeline *transform.Pipeline
	updates  <-chan flow.Update

	mu    sync.Mutex
	state managedState
}

// Engine coordinates collectors, the repository, bindings, and triggers
type Engine struct {
	repo     *repository.Repository
	bindings *binding.System
	triggers *trigger.Evaluator
	monitor  *health.Monitor
	logger   *slog.Logger
	metrics  *metric.CoreMetrics

	sourcesMu sync.RWMutex
	sources   map[string]*managedSource

	lifecycleMu sync.Mutex
	started     atomic.Bool
	runCtx      context.Context
	cancel      context.CancelFunc
	sub         *repository.Subscription
	wg          sync.WaitGroup
}

// Options configure engine construction
type Options struct {
	// Applier receives binding deliveries; nil installs a no-op
	Applier binding.Applier
	// NotifySink receives notify-action events
	NotifySink trigger.NotifySink
	// Actions extends the built-in action registry; may be nil
	Actions *trigger.Registry
	// Metrics wires Prometheus instrumentation through every component
	Metrics *metric.CoreMetrics
}

// New creates an engine and its owned subsystems
func New(logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	applier := opts.Applier
	if applier == nil {
		applier = func(binding.Target, any) error { return nil }
	}
	registry := opts.Actions
	if registry == nil {
		registry = trigger.NewRegistry()
	}

	var repoOpts []repository.Option
	var bindOpts []binding.Option
	trigOpts := []trigger.Option{trigger.WithNotifySink(opts.NotifySink)}
	if opts.Metrics != nil {
		repoOpts = append(repoOpts, repository.WithMetrics(opts.Metrics))
		bindOpts = append(bindOpts, binding.WithMetrics(opts.Metrics))
		trigOpts = append(trigOpts, trigger.WithMetrics(opts.Metrics))
	}

	repo := repository.New(logger, repoOpts...)
	return &Engine{
		repo:     repo,
		bindings: binding.NewSystem(repo, applier, logger, bindOpts...),
		triggers: trigger.NewEvaluator(repo, registry, logger, trigOpts...),
		monitor:  health.NewMonitor(),
		logger:   logger,
		metrics:  opts.Metrics,
		sources:  make(map[string]*managedSource),
	}
}

// Repository exposes the read/write surface shared with external
// subsystems (UI reads, extensions)
func (e *Engine) Repository() *repository.Repository {
	return e.repo
}

// Bindings exposes the binding system for registration and TwoWay pushes
func (e *Engine) Bindings() *binding.System {
	return e.bindings
}

// Triggers exposes the trigger evaluator for registration
func (e *Engine) Triggers() *trigger.Evaluator {
	return e.triggers
}

// Get reads the current value at a path; the synchronous non-blocking
// read handed to the layout subsystem
func (e *Engine) Get(path datapath.Path) (any, bool) {
	return e.repo.Get(path)
}

// AddSource registers a collector and the pipeline applied to its
// updates. The pump starts with the engine (or immediately when the
// engine is already running); the collector itself is started by Start
// or StartSource.
func (e *Engine) AddSource(col collector.Collector, pipeline *transform.Pipeline) error {
	id := col.ID()

	e.sourcesMu.Lock()
	if _, exists := e.sources[id]; exists {
		e.sourcesMu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("source %q already registered: %w", id, errors.ErrInvalidConfig),
			"Engine", "AddSource", "check id")
	}
	src := &managedSource{
		col:      col,
		pipeline: pipeline,
		updates:  col.Subscribe(),
	}
	e.sources[id] = src
	e.sourcesMu.Unlock()

	e.lifecycleMu.Lock()
	if e.started.Load() {
		e.wg.Add(1)
		go e.pump(e.runCtx, src)
	}
	e.lifecycleMu.Unlock()
	return nil
}

// Start launches the dispatch loop, all pumps, and every registered
// collector. Collectors start in parallel; the first failure aborts the
// start and stops what already came up.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "check started state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel

	if err := e.triggers.Start(runCtx); err != nil {
		cancel()
		return errors.Wrap(err, "Engine", "Start", "start trigger evaluator")
	}

	e.sub = e.repo.Subscribe()
	e.wg.Add(1)
	go e.dispatch()

	e.started.Store(true)

	e.sourcesMu.RLock()
	ids := make([]string, 0, len(e.sources))
	for id, src := range e.sources {
		ids = append(ids, id)
		e.wg.Add(1)
		go e.pump(runCtx, src)
	}
	e.sourcesMu.RUnlock()

	// Collectors inherit runCtx, which lives until Stop; the group only
	// collects start errors.
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := e.StartSource(runCtx, id); err != nil {
				return fmt.Errorf("source %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("engine start failed", "error", err)
		e.stopLocked(10 * time.Second)
		return errors.Wrap(err, "Engine", "Start", "start collectors")
	}

	e.logger.Info("engine started", "sources", len(ids))
	return nil
}

// Stop shuts the engine down: collectors first, then dispatch, then the
// trigger pool and repository
func (e *Engine) Stop(timeout time.Duration) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.started.Load() {
		return nil
	}
	return e.stopLocked(timeout)
}

func (e *Engine) stopLocked(timeout time.Duration) error {
	e.sourcesMu.RLock()
	ids := make([]string, 0, len(e.sources))
	for id := range e.sources {
		ids = append(ids, id)
	}
	e.sourcesMu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := e.StopSource(id, timeout); err != nil {
				return fmt.Errorf("source %s: %w", id, err)
			}
			return nil
		})
	}
	stopErr := g.Wait()

	e.cancel()
	e.sub.Close()

	doneCh := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(timeout):
		stopErr = errors.WrapTransient(errors.ErrRequestTimeout, "Engine", "Stop", "wait for loops")
	}

	if err := e.triggers.Stop(timeout); err != nil && stopErr == nil {
		stopErr = err
	}
	e.repo.Close()
	e.started.Store(false)

	if stopErr != nil {
		return errors.Wrap(stopErr, "Engine", "Stop", "shut down")
	}
	e.logger.Info("engine stopped")
	return nil
}

// StartSource starts one collector. A Start issued while the same id is
// stopping fails with ErrStopInProgress instead of racing the stop.
func (e *Engine) StartSource(ctx context.Context, id string) error {
	src, err := e.source(id)
	if err != nil {
		return err
	}

	src.mu.Lock()
	switch src.state {
	case managedStarting, managedRunning:
		src.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "StartSource", id)
	case managedStopping:
		src.mu.Unlock()
		return errors.WrapInvalid(errors.ErrStopInProgress, "Engine", "StartSource", id)
	}
	src.state = managedStarting
	src.mu.Unlock()

	err = src.col.Start(ctx)

	src.mu.Lock()
	if err != nil {
		src.state = managedStopped
	} else {
		src.state = managedRunning
	}
	src.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "Engine", "StartSource", id)
	}
	return nil
}

// StopSource stops one collector and does not return until its work has
// ceased
func (e *Engine) StopSource(id string, timeout time.Duration) error {
	src, err := e.source(id)
	if err != nil {
		return err
	}

	src.mu.Lock()
	switch src.state {
	case managedStopped:
		src.mu.Unlock()
		return nil
	case managedStopping:
		src.mu.Unlock()
		return errors.WrapInvalid(errors.ErrStopInProgress, "Engine", "StopSource", id)
	case managedStarting:
		// Let the start settle; the caller retries
		src.mu.Unlock()
		return errors.WrapTransient(errors.ErrAlreadyStarted, "Engine", "StopSource", id)
	}
	src.state = managedStopping
	src.mu.Unlock()

	err = src.col.Stop(timeout)

	src.mu.Lock()
	src.state = managedStopped
	src.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "Engine", "StopSource", id)
	}
	return nil
}

// Refresh forces an out-of-band fetch on one collector
func (e *Engine) Refresh(ctx context.Context, id string) error {
	src, err := e.source(id)
	if err != nil {
		return err
	}
	return src.col.Refresh(ctx)
}

// Health aggregates current collector statuses
func (e *Engine) Health() health.Status {
	e.sourcesMu.RLock()
	for id, src := range e.sources {
		e.monitor.Update(id, health.FromCollector(id, src.col.Status()))
	}
	e.sourcesMu.RUnlock()
	return e.monitor.AggregateHealth("engine")
}

// SourceStatus reports one collector's status
func (e *Engine) SourceStatus(id string) (collector.Status, error) {
	src, err := e.source(id)
	if err != nil {
		return collector.Status{}, err
	}
	return src.col.Status(), nil
}

func (e *Engine) source(id string) (*managedSource, error) {
	e.sourcesMu.RLock()
	defer e.sourcesMu.RUnlock()
	src, ok := e.sources[id]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("source %q: %w", id, errors.ErrPathNotFound),
			"Engine", "source", "look up source")
	}
	return src, nil
}

// pump drains one collector's update stream through its pipeline into
// the repository. A pipeline failure drops that update and leaves the
// previous repository value untouched. The update channel survives
// source restarts, so the pump runs for the engine lifetime and exits on
// engine shutdown.
func (e *Engine) pump(ctx context.Context, src *managedSource) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-src.updates:
			if src.pipeline != nil && src.pipeline.Len() > 0 {
				transformed, err := src.pipeline.Execute(update.Value)
				if err != nil {
					e.logger.Warn("pipeline failed, update dropped",
						"source", update.Source, "path", update.Path.String(), "error", err)
					continue
				}
				update.Value = transformed
			}

			if err := e.repo.Apply(update); err != nil {
				e.logger.Warn("repository write failed",
					"source", update.Source, "path", update.Path.String(), "error", err)
			}
		}
	}
}

// dispatch fans repository changes out to the binding system and the
// trigger evaluator
func (e *Engine) dispatch() {
	defer e.wg.Done()

	for change := range e.sub.C() {
		e.bindings.OnChange(change)
		e.triggers.OnChange(change)
	}
}
