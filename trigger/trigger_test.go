package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/repository"
)

// captureAction records every execution
type captureAction struct {
	name string
	mu   sync.Mutex
	runs []ExecContext
	err  error
}

func (a *captureAction) Name() string { return a.name }

func (a *captureAction) Execute(_ context.Context, ec ExecContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.runs = append(a.runs, ec)
	return nil
}

func (a *captureAction) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.runs)
}

func change(path string, previous, current any) flow.Change {
	return flow.Change{
		Path:      datapath.MustParse(path),
		Previous:  previous,
		Value:     current,
		Timestamp: time.Now(),
	}
}

func newTestEvaluator(t *testing.T) (*Evaluator, *captureAction, *repository.Repository) {
	t.Helper()
	repo := repository.New(nil)
	t.Cleanup(repo.Close)

	registry := NewRegistry()
	capture := &captureAction{name: "capture"}
	require.NoError(t, registry.Register(capture))

	e := NewEvaluator(repo, registry, nil)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(time.Second) })
	return e, capture, repo
}

func waitRuns(t *testing.T, a *captureAction, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return a.count() == want },
		2*time.Second, time.Millisecond, "expected %d action runs, have %d", want, a.count())
}

func TestRegisterValidation(t *testing.T) {
	e, _, _ := newTestEvaluator(t)

	_, err := e.Register(Spec{Path: "data.v", Condition: Condition{Kind: PathChanged}})
	assert.Error(t, err, "action required")

	_, err = e.Register(Spec{Path: "data.v", Condition: Condition{Kind: PathChanged}, Action: "nope"})
	assert.Error(t, err, "unknown action")

	_, err = e.Register(Spec{
		Path:      "data.v",
		Condition: Condition{Kind: Expression, Operator: "like"},
		Action:    "capture",
	})
	assert.Error(t, err, "unknown operator")

	_, err = e.Register(Spec{
		Path:      "data.v",
		Condition: Condition{Kind: Threshold, Direction: "sideways", Value: 1},
		Action:    "capture",
	})
	assert.Error(t, err, "unknown direction")

	_, err = e.Register(Spec{
		Path:      "data.v",
		Condition: Condition{Kind: Threshold, Direction: Above, Value: "not a number"},
		Action:    "capture",
	})
	assert.Error(t, err, "non-numeric threshold")

	_, err = e.Register(Spec{Path: "data.v", Condition: Condition{Kind: PathChanged}, Action: "capture"})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Len())
}

func TestPathChangedFiresOnAncestorMatch(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	_, err := e.Register(Spec{
		Path:      "data.weather",
		Condition: Condition{Kind: PathChanged},
		Action:    "capture",
	})
	require.NoError(t, err)

	e.OnChange(change("data.weather.temp", nil, 20))
	e.OnChange(change("data.weather", nil, map[string]any{"temp": 20}))
	e.OnChange(change("data.wind", nil, 5))

	waitRuns(t, capture, 2)
}

func TestExpressionCondition(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	_, err := e.Register(Spec{
		Path:      "data.sensor",
		Condition: Condition{Kind: Expression, Field: "status", Operator: "eq", Value: "alarm"},
		Action:    "capture",
	})
	require.NoError(t, err)

	e.OnChange(change("data.sensor", nil, map[string]any{"status": "ok"}))
	e.OnChange(change("data.sensor", nil, map[string]any{"status": "alarm"}))
	e.OnChange(change("data.sensor", nil, map[string]any{"other": 1}))

	waitRuns(t, capture, 1)
}

func TestThresholdCrossing(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	_, err := e.Register(Spec{
		Path:      "data.sensor.value",
		Condition: Condition{Kind: Threshold, Direction: Above, Value: 90},
		Action:    "capture",
	})
	require.NoError(t, err)

	// 85 -> 95 crosses
	e.OnChange(change("data.sensor.value", 85, 95))
	waitRuns(t, capture, 1)

	// 95 -> 96 stays above, no second fire
	e.OnChange(change("data.sensor.value", 95, 96))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, capture.count())

	// back below, then crossing again fires again
	e.OnChange(change("data.sensor.value", 96, 80))
	e.OnChange(change("data.sensor.value", 80, 92))
	waitRuns(t, capture, 2)
}

func TestThresholdRequiresKnownPrevious(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	_, err := e.Register(Spec{
		Path:      "data.v",
		Condition: Condition{Kind: Threshold, Direction: Above, Value: 50},
		Action:    "capture",
	})
	require.NoError(t, err)

	// First ever write has no previous value; never a crossing
	e.OnChange(change("data.v", nil, 95))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, capture.count())
}

func TestThresholdBelow(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	_, err := e.Register(Spec{
		Path:      "data.v",
		Condition: Condition{Kind: Threshold, Direction: Below, Value: 10},
		Action:    "capture",
	})
	require.NoError(t, err)

	e.OnChange(change("data.v", 15, 5))
	waitRuns(t, capture, 1)

	e.OnChange(change("data.v", 5, 3))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, capture.count())
}

func TestDebounceSuppressesWithinWindow(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	_, err := e.Register(Spec{
		Path:      "data.sensor.value",
		Condition: Condition{Kind: Threshold, Direction: Above, Value: 50},
		Action:    "capture",
		Debounce:  5 * time.Second,
	})
	require.NoError(t, err)

	// Two crossings in quick succession fire once
	e.OnChange(change("data.sensor.value", 40, 60))
	e.OnChange(change("data.sensor.value", 45, 65))

	waitRuns(t, capture, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, capture.count())
}

func TestDebounceAllowsAfterQuietPeriod(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	_, err := e.Register(Spec{
		Path:      "data.v",
		Condition: Condition{Kind: PathChanged},
		Action:    "capture",
		Debounce:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	e.OnChange(change("data.v", nil, 1))
	waitRuns(t, capture, 1)

	time.Sleep(20 * time.Millisecond)
	e.OnChange(change("data.v", 1, 2))
	waitRuns(t, capture, 2)
}

func TestThrottleLimitsFireRate(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	_, err := e.Register(Spec{
		Path:      "data.v",
		Condition: Condition{Kind: PathChanged},
		Action:    "capture",
		Throttle:  time.Hour,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		e.OnChange(change("data.v", i, i+1))
	}

	waitRuns(t, capture, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, capture.count())
}

func TestActionFailureDoesNotBlockOthers(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)

	failing := &captureAction{name: "failing", err: assert.AnError}
	require.NoError(t, e.registry.Register(failing))

	_, err := e.Register(Spec{Path: "data.v", Condition: Condition{Kind: PathChanged}, Action: "failing"})
	require.NoError(t, err)
	_, err = e.Register(Spec{Path: "data.v", Condition: Condition{Kind: PathChanged}, Action: "capture"})
	require.NoError(t, err)

	e.OnChange(change("data.v", nil, 1))
	waitRuns(t, capture, 1)

	e.OnChange(change("data.v", 1, 2))
	waitRuns(t, capture, 2)
}

func TestRemove(t *testing.T) {
	e, capture, _ := newTestEvaluator(t)
	tr, err := e.Register(Spec{Path: "data.v", Condition: Condition{Kind: PathChanged}, Action: "capture"})
	require.NoError(t, err)

	e.Remove(tr.ID())
	e.OnChange(change("data.v", nil, 1))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, capture.count())
	assert.Equal(t, 0, e.Len())
}

func TestNotifyAction(t *testing.T) {
	repo := repository.New(nil)
	t.Cleanup(repo.Close)

	var mu sync.Mutex
	var got []Notification
	sink := func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
	}

	e := NewEvaluator(repo, NewRegistry(), nil, WithNotifySink(sink))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(time.Second) })

	_, err := e.Register(Spec{
		Path:      "data.alerts",
		Condition: Condition{Kind: PathChanged},
		Action:    "notify",
		Params:    map[string]any{"message": "alert raised"},
	})
	require.NoError(t, err)

	e.OnChange(change("data.alerts", nil, "overheat"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "alert raised", got[0].Message)
	assert.Equal(t, "data.alerts", got[0].Path)
	assert.Equal(t, "overheat", got[0].Value)
}

func TestSetDataActionEnablesDerivedChains(t *testing.T) {
	e, _, repo := newTestEvaluator(t)

	_, err := e.Register(Spec{
		Path:      "data.sensor.value",
		Condition: Condition{Kind: Threshold, Direction: Above, Value: 90},
		Action:    "set-data",
		Params:    map[string]any{"path": "data.alarm", "value": true},
	})
	require.NoError(t, err)

	e.OnChange(change("data.sensor.value", 85, 95))

	require.Eventually(t, func() bool {
		v, ok := repo.Get(datapath.MustParse("data.alarm"))
		return ok && v == true
	}, 2*time.Second, time.Millisecond)
}

func TestSequenceAction(t *testing.T) {
	e, _, repo := newTestEvaluator(t)

	_, err := e.Register(Spec{
		Path:      "data.go",
		Condition: Condition{Kind: PathChanged},
		Action:    "sequence",
		Params: map[string]any{
			"actions": []any{
				map[string]any{"action": "set-data", "params": map[string]any{"path": "data.step1", "value": 1}},
				map[string]any{"action": "set-data", "params": map[string]any{"path": "data.step2", "value": 2}},
			},
		},
	})
	require.NoError(t, err)

	e.OnChange(change("data.go", nil, "now"))

	require.Eventually(t, func() bool {
		_, ok1 := repo.Get(datapath.MustParse("data.step1"))
		_, ok2 := repo.Get(datapath.MustParse("data.step2"))
		return ok1 && ok2
	}, 2*time.Second, time.Millisecond)
}

func TestSequenceStopsOnUnknownAction(t *testing.T) {
	registry := NewRegistry()
	seq, _ := registry.Get("sequence")

	err := seq.Execute(context.Background(), ExecContext{
		Params: map[string]any{
			"actions": []any{
				map[string]any{"action": "does-not-exist"},
			},
		},
	})
	assert.Error(t, err)
}
