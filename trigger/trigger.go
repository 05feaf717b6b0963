// Package trigger evaluates registered triggers against repository
// changes and invokes named actions when a condition matches. Matched
// fires pass through debounce and throttle gates, then dispatch
// asynchronously so the evaluation path never blocks on an action.
package trigger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/value"
)

// ConditionKind selects how a trigger matches a change
type ConditionKind string

// Condition kinds
const (
	PathChanged ConditionKind = "path-changed"
	Expression  ConditionKind = "expression"
	Threshold   ConditionKind = "threshold"
)

// Direction selects which way a Threshold condition must cross
type Direction string

// Threshold directions
const (
	Above Direction = "above"
	Below Direction = "below"
)

// Condition is the closed set of trigger conditions
type Condition struct {
	Kind ConditionKind `json:"kind"  yaml:"kind"`
	// Field selects a dot-notation field within the changed value;
	// empty means the value itself. Used by Expression and Threshold.
	Field    string `json:"field,omitempty"    yaml:"field,omitempty"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"` // expression comparison
	// Value is the expression operand or the threshold level
	Value     any       `json:"value,omitempty"     yaml:"value,omitempty"`
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// expressionOperators mirrors the filter transform's comparison set
var expressionOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "lt": true,
	"gte": true, "lte": true, "contains": true,
}

// Validate checks the condition is well-formed
func (c Condition) Validate() error {
	switch c.Kind {
	case PathChanged:
		return nil
	case Expression:
		if !expressionOperators[c.Operator] {
			return errors.WrapInvalid(
				fmt.Errorf("unknown operator %q: %w", c.Operator, errors.ErrInvalidConfig),
				"trigger", "Validate", "validate expression")
		}
		return nil
	case Threshold:
		if c.Direction != Above && c.Direction != Below {
			return errors.WrapInvalid(
				fmt.Errorf("unknown direction %q: %w", c.Direction, errors.ErrInvalidConfig),
				"trigger", "Validate", "validate threshold")
		}
		if _, ok := value.AsFloat(c.Value); !ok {
			return errors.WrapInvalid(
				fmt.Errorf("threshold value %v is not numeric: %w", c.Value, errors.ErrInvalidConfig),
				"trigger", "Validate", "validate threshold")
		}
		return nil
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown condition kind %q: %w", c.Kind, errors.ErrInvalidConfig),
			"trigger", "Validate", "validate kind")
	}
}

// Trigger is one standing registration: a condition on a path, an action
// to invoke, and rate-limit windows
type Trigger struct {
	id        string
	path      datapath.Path
	condition Condition
	action    string
	params    map[string]any
	debounce  time.Duration
	throttle  *rate.Limiter // nil when no throttle window is set

	mu        sync.Mutex
	lastFired time.Time
}

// ID returns the trigger identifier
func (t *Trigger) ID() string { return t.id }

// Path returns the watched path
func (t *Trigger) Path() datapath.Path { return t.path }

// Action returns the bound action name
func (t *Trigger) Action() string { return t.action }

// Spec declares one trigger, as produced by the configuration subsystem
type Spec struct {
	Path      string         `json:"path"               yaml:"path"`
	Condition Condition      `json:"condition"          yaml:"condition"`
	Action    string         `json:"action"             yaml:"action"`
	Params    map[string]any `json:"params,omitempty"   yaml:"params,omitempty"`
	Debounce  time.Duration  `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	Throttle  time.Duration  `json:"throttle,omitempty" yaml:"throttle,omitempty"`
}

// newTrigger builds a trigger from its spec
func newTrigger(spec Spec) (*Trigger, error) {
	path, err := datapath.Parse(spec.Path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "trigger", "newTrigger", "parse path")
	}
	if err := spec.Condition.Validate(); err != nil {
		return nil, err
	}
	if spec.Action == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "trigger", "newTrigger", "action required")
	}
	if spec.Debounce < 0 || spec.Throttle < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "trigger", "newTrigger", "negative window")
	}

	t := &Trigger{
		id:        uuid.NewString(),
		path:      path,
		condition: spec.Condition,
		action:    spec.Action,
		params:    spec.Params,
		debounce:  spec.Debounce,
	}
	if spec.Throttle > 0 {
		t.throttle = rate.NewLimiter(rate.Every(spec.Throttle), 1)
	}
	return t, nil
}

// matches reports whether the change satisfies this trigger's path and
// condition
func (t *Trigger) matches(change flow.Change) bool {
	if !t.path.Contains(change.Path) {
		return false
	}

	switch t.condition.Kind {
	case PathChanged:
		return true
	case Expression:
		return t.matchExpression(change.Value)
	case Threshold:
		return t.matchThreshold(change.Previous, change.Value)
	default:
		return false
	}
}

func (t *Trigger) fieldOf(v any) (any, bool) {
	if t.condition.Field == "" {
		return v, v != nil
	}
	return value.Field(v, t.condition.Field)
}

func (t *Trigger) matchExpression(v any) bool {
	fv, ok := t.fieldOf(v)
	if !ok {
		return false
	}

	switch t.condition.Operator {
	case "eq":
		return value.Compare(fv, t.condition.Value) == 0
	case "neq":
		return value.Compare(fv, t.condition.Value) != 0
	case "gt":
		return value.Compare(fv, t.condition.Value) > 0
	case "gte":
		return value.Compare(fv, t.condition.Value) >= 0
	case "lt":
		return value.Compare(fv, t.condition.Value) < 0
	case "lte":
		return value.Compare(fv, t.condition.Value) <= 0
	case "contains":
		return strings.Contains(fmt.Sprint(fv), fmt.Sprint(t.condition.Value))
	default:
		return false
	}
}

// matchThreshold fires only on a crossing: the previous value must be
// known and on the opposite side of the threshold.
func (t *Trigger) matchThreshold(previous, current any) bool {
	prevField, ok := t.fieldOf(previous)
	if !ok {
		return false
	}
	curField, ok := t.fieldOf(current)
	if !ok {
		return false
	}

	prev, ok := value.AsFloat(prevField)
	if !ok {
		return false
	}
	cur, ok := value.AsFloat(curField)
	if !ok {
		return false
	}
	level, _ := value.AsFloat(t.condition.Value)

	switch t.condition.Direction {
	case Above:
		return prev <= level && cur > level
	case Below:
		return prev >= level && cur < level
	default:
		return false
	}
}

// suppression reasons reported in metrics
const (
	suppressDebounce = "debounce"
	suppressThrottle = "throttle"
)

// shouldFire applies the debounce and throttle gates and, when both
// pass, records the fire time. Returns the suppression reason otherwise.
func (t *Trigger) shouldFire(now time.Time) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.debounce > 0 && !t.lastFired.IsZero() && now.Sub(t.lastFired) < t.debounce {
		return false, suppressDebounce
	}
	if t.throttle != nil && !t.throttle.Allow() {
		return false, suppressThrottle
	}
	t.lastFired = now
	return true, ""
}

// Fire is the unit of work handed to the dispatch pool
type Fire struct {
	TriggerID string
	Action    string
	Params    map[string]any
	Change    flow.Change
}
