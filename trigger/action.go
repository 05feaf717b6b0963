package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/repository"
)

// Notification is the outward event emitted by the notify action
type Notification struct {
	Trigger   string
	Message   string
	Path      string
	Value     any
	Timestamp time.Time
}

// NotifySink receives notifications emitted by actions
type NotifySink func(Notification)

// ExecContext carries everything an action may touch: the firing
// trigger's metadata, the repository handle, and the outward
// notification sink.
type ExecContext struct {
	TriggerID string
	Change    flow.Change
	Params    map[string]any
	Repo      *repository.Repository
	Notify    NotifySink
}

// Action is a named side-effecting operation invoked by triggers
type Action interface {
	Name() string
	Execute(ctx context.Context, ec ExecContext) error
}

// Registry holds the known actions by name
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates a registry pre-populated with the built-in
// actions (notify, set-data, sequence)
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action)}
	_ = r.Register(&NotifyAction{})
	_ = r.Register(&SetDataAction{})
	_ = r.Register(&SequenceAction{registry: r})
	return r
}

// Register adds an action; registering a duplicate name is an error
func (r *Registry) Register(a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.Name()]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("action %q already registered: %w", a.Name(), errors.ErrInvalidConfig),
			"Registry", "Register", "check name")
	}
	r.actions[a.Name()] = a
	return nil
}

// Get looks an action up by name
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// NotifyAction emits an outward notification event
type NotifyAction struct{}

// Name implements Action
func (a *NotifyAction) Name() string { return "notify" }

// Execute implements Action
func (a *NotifyAction) Execute(_ context.Context, ec ExecContext) error {
	if ec.Notify == nil {
		return nil
	}
	message, _ := ec.Params["message"].(string)
	ec.Notify(Notification{
		Trigger:   ec.TriggerID,
		Message:   message,
		Path:      ec.Change.Path.String(),
		Value:     ec.Change.Value,
		Timestamp: time.Now(),
	})
	return nil
}

// SetDataAction writes a value directly to the repository, enabling
// derived-trigger chains
type SetDataAction struct{}

// Name implements Action
func (a *SetDataAction) Name() string { return "set-data" }

// Execute implements Action
func (a *SetDataAction) Execute(_ context.Context, ec ExecContext) error {
	pathStr, ok := ec.Params["path"].(string)
	if !ok || pathStr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "set-data", "Execute", "path param required")
	}
	path, err := datapath.Parse(pathStr)
	if err != nil {
		return errors.WrapInvalid(err, "set-data", "Execute", "parse path")
	}

	v, ok := ec.Params["value"]
	if !ok {
		// Default to the changed value that fired the trigger
		v = ec.Change.Value
	}

	return ec.Repo.Apply(flow.Update{
		Source:    "trigger:" + ec.TriggerID,
		Path:      path,
		Value:     v,
		Timestamp: time.Now(),
		Mode:      flow.ModeFull,
	})
}

// SequenceAction executes named sub-actions in order, stopping at the
// first failure
type SequenceAction struct {
	registry *Registry
}

// Name implements Action
func (a *SequenceAction) Name() string { return "sequence" }

// Execute implements Action
func (a *SequenceAction) Execute(ctx context.Context, ec ExecContext) error {
	steps, ok := ec.Params["actions"].([]any)
	if !ok {
		return errors.WrapInvalid(errors.ErrMissingConfig, "sequence", "Execute", "actions param required")
	}

	for i, raw := range steps {
		step, ok := raw.(map[string]any)
		if !ok {
			return errors.WrapInvalid(
				fmt.Errorf("step %d is not an object: %w", i, errors.ErrInvalidConfig),
				"sequence", "Execute", "decode step")
		}
		name, _ := step["action"].(string)
		sub, ok := a.registry.Get(name)
		if !ok {
			return errors.WrapInvalid(
				fmt.Errorf("step %d action %q: %w", i, name, errors.ErrUnknownAction),
				"sequence", "Execute", "resolve action")
		}

		subEC := ec
		if params, ok := step["params"].(map[string]any); ok {
			subEC.Params = params
		} else {
			subEC.Params = nil
		}

		if err := sub.Execute(ctx, subEC); err != nil {
			return errors.WrapTransient(
				fmt.Errorf("step %d (%s): %w", i, name, err),
				"sequence", "Execute", "run step")
		}
	}
	return nil
}
