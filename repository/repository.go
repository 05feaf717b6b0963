// Package repository provides the shared, path-addressed store of latest
// known values. It is the system of record for all collected and derived
// data: every write is atomic with respect to readers, every successful
// write emits exactly one change notification, and writes to the same path
// are observed in write order.
package repository

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
	"github.com/c360/dataflow/value"
)

// Repository is the single authoritative store keyed by root then path
type Repository struct {
	mu     sync.RWMutex
	trees  map[datapath.Root]any
	subs   map[string]*Subscription
	closed bool

	logger  *slog.Logger
	metrics *metric.CoreMetrics
}

// Option configures a Repository
type Option func(*Repository)

// WithMetrics wires core metrics into the repository
func WithMetrics(m *metric.CoreMetrics) Option {
	return func(r *Repository) {
		r.metrics = m
	}
}

// New creates an empty repository
func New(logger *slog.Logger, opts ...Option) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{
		trees:  make(map[datapath.Root]any),
		subs:   make(map[string]*Subscription),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get reads the current value at a path. The bool is false when any
// segment is absent. The returned value is a deep copy; readers never
// share containers with the store.
func (r *Repository) Get(path datapath.Path) (any, bool) {
	if path.IsZero() {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tree, ok := r.trees[path.Root()]
	if !ok {
		return nil, false
	}
	v, ok := value.Get(tree, path.Segments())
	if !ok {
		return nil, false
	}
	return value.Clone(v), true
}

// Set writes a full replacement value at the path. Shorthand for Apply
// with a Full update.
func (r *Repository) Set(path datapath.Path, v any) error {
	return r.Apply(flow.Update{
		Path:      path,
		Value:     v,
		Timestamp: time.Now(),
		Mode:      flow.ModeFull,
	})
}

// Apply applies one update according to its discipline, creating
// intermediate containers as needed, and emits exactly one change on
// success. A failed apply leaves the store unmodified and emits nothing.
func (r *Repository) Apply(update flow.Update) error {
	if err := r.validate(update); err != nil {
		return err
	}

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Repository", "Apply", "store closed")
	}

	root := update.Path.Root()
	segments := update.Path.Segments()
	tree := r.trees[root]

	var previous any
	if old, ok := value.Get(tree, segments); ok {
		previous = value.Clone(old)
	}

	// Incoming values are cloned before storage so the producer cannot
	// mutate the store after the write.
	var newTree any
	var newValue any
	var err error

	switch update.Mode {
	case flow.ModeFull:
		newValue = value.Clone(update.Value)
		newTree, err = value.Set(tree, segments, newValue)

	case flow.ModePartial:
		current, _ := value.Get(tree, segments)
		newValue = value.Merge(current, value.Clone(update.Value))
		newTree, err = value.Set(tree, segments, newValue)

	case flow.ModeAppend:
		current, _ := value.Get(tree, segments)
		newValue, err = value.Append(current, value.Clone(update.Value))
		if err == nil {
			newTree, err = value.Set(tree, segments, newValue)
		}

	case flow.ModeRemove:
		removed, ok := value.Delete(tree, segments)
		if !ok {
			r.mu.Unlock()
			return errors.WrapInvalid(
				fmt.Errorf("%s: %w", update.Path, errors.ErrPathNotFound),
				"Repository", "Apply", "remove value")
		}
		previous = removed
		newTree = tree
		newValue = nil
	}

	if err != nil {
		r.mu.Unlock()
		return errors.WrapInvalid(err, "Repository", "Apply", "apply update")
	}

	r.trees[root] = newTree

	change := flow.Change{
		Path:      update.Path,
		Previous:  previous,
		Value:     value.Clone(newValue),
		Timestamp: update.Timestamp,
		Origin:    update.Source,
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}

	// Publish while still holding the lock so subscribers observe
	// same-path changes in write order.
	r.publishLocked(change)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RepositoryWrites.WithLabelValues(string(root)).Inc()
	}
	return nil
}

// Delete removes the value at the path and returns it. The bool is false
// when the path was absent; nothing is emitted in that case.
func (r *Repository) Delete(path datapath.Path) (any, bool) {
	update := flow.Update{Path: path, Timestamp: time.Now(), Mode: flow.ModeRemove}
	if r.validate(update) != nil {
		return nil, false
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false
	}

	tree := r.trees[path.Root()]
	removed, ok := value.Delete(tree, path.Segments())
	if !ok {
		r.mu.Unlock()
		return nil, false
	}

	r.publishLocked(flow.Change{
		Path:      path,
		Previous:  removed,
		Value:     nil,
		Timestamp: update.Timestamp,
	})
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RepositoryWrites.WithLabelValues(string(path.Root())).Inc()
	}
	return removed, true
}

func (r *Repository) validate(update flow.Update) error {
	if update.Path.IsZero() {
		return errors.WrapInvalid(errors.ErrInvalidPath, "Repository", "Apply", "validate path")
	}
	if !update.Mode.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown update mode %q: %w", update.Mode, errors.ErrInvalidConfig),
			"Repository", "Apply", "validate mode")
	}
	for _, seg := range update.Path.Segments() {
		if seg.Kind == datapath.SegmentWildcard {
			return errors.WrapInvalid(
				fmt.Errorf("wildcard in write path %s: %w", update.Path, errors.ErrInvalidPath),
				"Repository", "Apply", "validate path")
		}
	}
	if update.Mode == flow.ModeRemove && update.Path.Len() == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("cannot remove root %s: %w", update.Path, errors.ErrInvalidPath),
			"Repository", "Apply", "validate path")
	}
	return nil
}

// Close shuts down the repository and all subscriptions
func (r *Repository) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}
