// Package binding propagates repository values into named external
// targets. A binding is a standing registration from a source path to a
// component property; the system suppresses redundant deliveries and
// breaks TwoWay feedback loops by tagging its own writebacks.
package binding

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
	"github.com/c360/dataflow/repository"
	"github.com/c360/dataflow/transform"
	"github.com/c360/dataflow/value"
)

// Mode selects the propagation direction and lifetime of a binding
type Mode string

// Binding modes
const (
	OneWay  Mode = "one-way"
	TwoWay  Mode = "two-way"
	OneTime Mode = "one-time"
)

// Valid reports whether the mode is a known binding mode
func (m Mode) Valid() bool {
	switch m {
	case OneWay, TwoWay, OneTime:
		return true
	}
	return false
}

// Target identifies the external property a binding writes to
type Target struct {
	Component string `json:"component" yaml:"component"`
	Property  string `json:"property"  yaml:"property"`
}

func (t Target) String() string {
	return t.Component + "." + t.Property
}

// Applier delivers a value to an external target property. Called from
// the dispatch path; implementations should be quick or hand off.
type Applier func(target Target, v any) error

// Binding is one active source-path to target-property registration
type Binding struct {
	id        string
	source    datapath.Path
	target    Target
	mode      Mode
	transform transform.Transform

	mu        sync.Mutex
	lastValue any
	delivered bool
}

// ID returns the binding identifier
func (b *Binding) ID() string { return b.id }

// Source returns the bound repository path
func (b *Binding) Source() datapath.Path { return b.source }

// Target returns the bound external target
func (b *Binding) Target() Target { return b.target }

// Mode returns the binding mode
func (b *Binding) Mode() Mode { return b.mode }

// originTag marks repository writes issued by this binding so the
// resulting change is not re-delivered to it
func (b *Binding) originTag() string {
	return "binding:" + b.id
}

// System owns all active bindings and dispatches repository changes to
// them. Registration and removal are safe while dispatch is running.
type System struct {
	mu   sync.RWMutex
	byID map[string]*Binding

	repo    *repository.Repository
	applier Applier
	logger  *slog.Logger
	metrics *metric.CoreMetrics
}

// Option configures a System
type Option func(*System)

// WithMetrics wires core metrics into the binding system
func WithMetrics(m *metric.CoreMetrics) Option {
	return func(s *System) { s.metrics = m }
}

// NewSystem creates a binding system. The applier receives every
// non-suppressed value delivery; the repository is used for TwoWay
// writebacks.
func NewSystem(repo *repository.Repository, applier Applier, logger *slog.Logger, opts ...Option) *System {
	if logger == nil {
		logger = slog.Default()
	}
	s := &System{
		byID:    make(map[string]*Binding),
		repo:    repo,
		applier: applier,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a binding from a source path to a target property.
// Changes at the source path, at an ancestor of it, or inside its
// subtree all reach the binding.
func (s *System) Register(source datapath.Path, target Target, mode Mode, t transform.Transform) (*Binding, error) {
	if source.IsZero() {
		return nil, errors.WrapInvalid(errors.ErrInvalidPath, "binding", "Register", "validate source")
	}
	if target.Component == "" || target.Property == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "binding", "Register", "validate target")
	}
	if !mode.Valid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown binding mode %q: %w", mode, errors.ErrInvalidConfig),
			"binding", "Register", "validate mode")
	}

	b := &Binding{
		id:        uuid.NewString(),
		source:    source,
		target:    target,
		mode:      mode,
		transform: t,
	}

	s.mu.Lock()
	s.byID[b.id] = b
	s.mu.Unlock()

	s.logger.Debug("binding registered",
		"binding", b.id, "source", source.String(), "target", target.String(), "mode", string(mode))
	return b, nil
}

// Remove deletes a binding; unknown ids are ignored
func (s *System) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Len returns the number of active bindings
func (s *System) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// OnChange dispatches one repository change to every binding the
// changed subtree touches. A binding on the exact path receives the
// written value; a binding bound deeper inside the written subtree
// receives the sub-value extracted from it; a binding on an ancestor
// of the changed path receives its own path re-read from the
// repository.
func (s *System) OnChange(change flow.Change) {
	type match struct {
		b *Binding
		v any
	}

	s.mu.RLock()
	var matched []match
	for _, b := range s.byID {
		switch {
		case b.source.Equal(change.Path):
			matched = append(matched, match{b: b, v: change.Value})
		case change.Path.Contains(b.source):
			rel := b.source.Segments()[change.Path.Len():]
			v, ok := value.Get(change.Value, rel)
			if !ok {
				continue
			}
			matched = append(matched, match{b: b, v: v})
		case b.source.Contains(change.Path):
			v, ok := s.repo.Get(b.source)
			if !ok {
				continue
			}
			matched = append(matched, match{b: b, v: v})
		}
	}
	s.mu.RUnlock()

	for _, m := range matched {
		s.dispatch(m.b, change, m.v)
	}
}

func (s *System) dispatch(b *Binding, change flow.Change, v any) {
	// A TwoWay binding's own writeback comes home as a change tagged
	// with its origin; re-delivering it would loop forever.
	if b.mode == TwoWay && change.Origin == b.originTag() {
		return
	}

	if b.transform != nil {
		transformed, err := b.transform.Apply(v)
		if err != nil {
			s.logger.Warn("binding transform failed",
				"binding", b.id, "target", b.target.String(), "error", err)
			return
		}
		v = transformed
	}

	b.mu.Lock()
	if b.delivered && value.Equal(v, b.lastValue) {
		b.mu.Unlock()
		if s.metrics != nil {
			s.metrics.BindingSuppressed.WithLabelValues(b.target.String()).Inc()
		}
		return
	}

	if err := s.applier(b.target, v); err != nil {
		b.mu.Unlock()
		s.logger.Warn("binding apply failed",
			"binding", b.id, "target", b.target.String(), "error", err)
		return
	}
	b.lastValue = value.Clone(v)
	b.delivered = true
	b.mu.Unlock()

	if s.metrics != nil {
		s.metrics.BindingApplies.WithLabelValues(b.target.String()).Inc()
	}

	if b.mode == OneTime {
		s.Remove(b.id)
	}
}

// PushExternal writes an external-origin value (for example a user edit)
// back to a TwoWay binding's source path. The resulting change is tagged
// so it is not re-delivered to the same binding.
func (s *System) PushExternal(id string, v any) error {
	s.mu.RLock()
	b, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("binding %s: %w", id, errors.ErrPathNotFound),
			"binding", "PushExternal", "look up binding")
	}
	if b.mode != TwoWay {
		return errors.WrapInvalid(
			fmt.Errorf("binding %s is %s: %w", id, b.mode, errors.ErrInvalidConfig),
			"binding", "PushExternal", "check mode")
	}

	// Remember the pushed value as delivered so the echoed change from
	// other writers with the same value is also suppressed.
	b.mu.Lock()
	b.lastValue = value.Clone(v)
	b.delivered = true
	b.mu.Unlock()

	return s.repo.Apply(flow.Update{
		Source:    b.originTag(),
		Path:      b.source,
		Value:     v,
		Timestamp: time.Now(),
		Mode:      flow.ModeFull,
	})
}
