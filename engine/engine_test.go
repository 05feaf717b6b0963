package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataflow/binding"
	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/config"
	"github.com/c360/dataflow/datapath"
	dferrors "github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/testutil"
	"github.com/c360/dataflow/transform"
	"github.com/c360/dataflow/trigger"
)

type delivery struct {
	target binding.Target
	value  any
}

func recordingApplier(rec *testutil.Recorder[delivery]) binding.Applier {
	return func(target binding.Target, v any) error {
		rec.Record(delivery{target: target, value: v})
		return nil
	}
}

// fakeCollector drives the engine without any real transport
type fakeCollector struct {
	*collector.Base
	stopGate chan struct{} // non-nil blocks Stop until closed
}

func newFake(id string) *fakeCollector {
	return &fakeCollector{Base: collector.NewBase(id, nil, nil)}
}

func (f *fakeCollector) Start(ctx context.Context) error {
	if _, err := f.BeginStart(ctx); err != nil {
		return err
	}
	f.SetState(collector.StateRunning, "")
	return nil
}

func (f *fakeCollector) Stop(timeout time.Duration) error {
	if f.stopGate != nil {
		<-f.stopGate
	}
	return f.EndStop(timeout, func() {})
}

// pulseCollector emits an incrementing counter for as long as its run
// context lives
type pulseCollector struct {
	*collector.Base
	path datapath.Path
}

func newPulse(id string) *pulseCollector {
	return &pulseCollector{
		Base: collector.NewBase(id, nil, nil),
		path: datapath.MustParse("data." + id),
	}
}

func (p *pulseCollector) Start(ctx context.Context) error {
	runCtx, err := p.BeginStart(ctx)
	if err != nil {
		return err
	}
	p.Go(func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		var n int
		for {
			select {
			case <-runCtx.Done():
				return
			case <-p.Shutdown():
				return
			case <-ticker.C:
				n++
				p.Emit(flow.NewUpdate(p.ID(), p.path, n))
			}
		}
	})
	p.SetState(collector.StateRunning, "")
	return nil
}

func (p *pulseCollector) Stop(timeout time.Duration) error {
	return p.EndStop(timeout, nil)
}

func mustPath(t *testing.T, s string) datapath.Path {
	t.Helper()
	p, err := datapath.Parse(s)
	require.NoError(t, err)
	return p
}

func TestEndToEndWeatherBinding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp_c": 18, "humidity": 40}`))
	}))
	defer server.Close()

	applied := &testutil.Recorder[delivery]{}
	e := New(nil, Options{Applier: recordingApplier(applied)})

	cfg := &config.Config{
		Sources: []config.SourceConfig{{
			ID:       "weather",
			Type:     config.SourceHTTPPoll,
			URL:      server.URL,
			Interval: config.Duration(50 * time.Millisecond),
			Path:     "data.weather",
			Transforms: []transform.Spec{
				{Op: "map", Fields: map[string]string{"temp_c": "t"}},
				{Op: "select", Keep: []string{"t"}},
			},
		}},
		Bindings: []config.BindingConfig{{
			Source: "data.weather.t",
			Target: binding.Target{Component: "label1", Property: "text"},
		}},
	}
	require.NoError(t, e.Configure(cfg))

	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(2 * time.Second) }()

	require.Eventually(t, func() bool {
		return applied.Len() > 0
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := applied.First()
	assert.Equal(t, binding.Target{Component: "label1", Property: "text"}, got.target)
	assert.Equal(t, float64(18), got.value, "binding on the sub-path receives the scalar")

	v, ok := e.Get(mustPath(t, "data.weather.t"))
	require.True(t, ok)
	assert.Equal(t, float64(18), v)
}

func TestCollectorsOutliveStart(t *testing.T) {
	src := newPulse("pulse")
	e := New(nil, Options{})
	require.NoError(t, e.AddSource(src, nil))

	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(2 * time.Second) }()

	// Updates keep flowing well after Start has returned
	path := mustPath(t, "data.pulse")
	require.Eventually(t, func() bool {
		v, ok := e.Get(path)
		if !ok {
			return false
		}
		n, _ := v.(int)
		return n >= 5
	}, 2*time.Second, 5*time.Millisecond)

	status, err := e.SourceStatus("pulse")
	require.NoError(t, err)
	assert.Equal(t, collector.StateRunning, status.State)
}

func TestTriggerFiresThroughEngine(t *testing.T) {
	notified := make(chan trigger.Notification, 8)
	sink := func(n trigger.Notification) { notified <- n }

	e := New(nil, Options{NotifySink: sink})
	_, err := e.Triggers().Register(trigger.Spec{
		Path:      "data.temp",
		Condition: trigger.Condition{Kind: trigger.Threshold, Value: 90, Direction: trigger.Above},
		Action:    "notify",
		Params:    map[string]any{"message": "too hot"},
	})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(2 * time.Second) }()

	path := mustPath(t, "data.temp")
	require.NoError(t, e.Repository().Set(path, 85))
	require.NoError(t, e.Repository().Set(path, 95))

	select {
	case n := <-notified:
		assert.Equal(t, "too hot", n.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestPipelineFailureKeepsPreviousValue(t *testing.T) {
	src := newFake("readings")
	filter, err := transform.NewFilter("n", "gt", 1)
	require.NoError(t, err)

	e := New(nil, Options{})
	require.NoError(t, e.AddSource(src, transform.NewPipeline("readings", filter)))
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(2 * time.Second) }()

	path := mustPath(t, "data.readings")
	src.Emit(flow.NewUpdate("readings", path, []any{
		map[string]any{"n": 1},
		map[string]any{"n": 2},
	}))

	require.Eventually(t, func() bool {
		v, ok := e.Get(path)
		if !ok {
			return false
		}
		arr, ok := v.([]any)
		return ok && len(arr) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Non-array input fails the filter stage; the stored value survives
	src.Emit(flow.NewUpdate("readings", path, 5))
	time.Sleep(50 * time.Millisecond)

	v, ok := e.Get(path)
	require.True(t, ok)
	arr, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, arr, 1)
	assert.Equal(t, map[string]any{"n": 2}, arr[0])
}

func TestStartSourceWhileStoppingRejected(t *testing.T) {
	src := newFake("slow")
	src.stopGate = make(chan struct{})

	e := New(nil, Options{})
	require.NoError(t, e.AddSource(src, nil))

	require.NoError(t, e.StartSource(context.Background(), "slow"))

	stopDone := make(chan error, 1)
	go func() { stopDone <- e.StopSource("slow", 2*time.Second) }()

	require.Eventually(t, func() bool {
		err := e.StartSource(context.Background(), "slow")
		return errors.Is(err, dferrors.ErrStopInProgress)
	}, time.Second, 5*time.Millisecond)

	close(src.stopGate)
	require.NoError(t, <-stopDone)

	// Once the stop settles the source is startable again
	require.NoError(t, e.StartSource(context.Background(), "slow"))
	require.NoError(t, e.StopSource("slow", time.Second))
}

func TestAddSourceDuplicateRejected(t *testing.T) {
	e := New(nil, Options{})
	require.NoError(t, e.AddSource(newFake("a"), nil))

	err := e.AddSource(newFake("a"), nil)
	assert.True(t, errors.Is(err, dferrors.ErrInvalidConfig))
}

func TestUnknownSourceOperations(t *testing.T) {
	e := New(nil, Options{})

	assert.True(t, errors.Is(e.StartSource(context.Background(), "ghost"), dferrors.ErrPathNotFound))
	assert.True(t, errors.Is(e.StopSource("ghost", time.Second), dferrors.ErrPathNotFound))
	assert.True(t, errors.Is(e.Refresh(context.Background(), "ghost"), dferrors.ErrPathNotFound))

	_, err := e.SourceStatus("ghost")
	assert.True(t, errors.Is(err, dferrors.ErrPathNotFound))
}

func TestRefreshPassthrough(t *testing.T) {
	src := newFake("plain")
	e := New(nil, Options{})
	require.NoError(t, e.AddSource(src, nil))

	err := e.Refresh(context.Background(), "plain")
	assert.True(t, errors.Is(err, dferrors.ErrRefreshUnsupported))
}

func TestEngineLifecycle(t *testing.T) {
	src := newFake("a")
	e := New(nil, Options{})
	require.NoError(t, e.AddSource(src, nil))

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, errors.Is(e.Start(context.Background()), dferrors.ErrAlreadyStarted))

	status, err := e.SourceStatus("a")
	require.NoError(t, err)
	assert.Equal(t, collector.StateRunning, status.State)

	require.NoError(t, e.Stop(2*time.Second))
	assert.NoError(t, e.Stop(2*time.Second), "second stop is a no-op")
}

func TestHealthAggregation(t *testing.T) {
	healthy := newFake("up")
	broken := newFake("down")

	e := New(nil, Options{})
	require.NoError(t, e.AddSource(healthy, nil))
	require.NoError(t, e.AddSource(broken, nil))

	require.NoError(t, e.StartSource(context.Background(), "up"))
	broken.SetState(collector.StateError, "connect refused")

	agg := e.Health()
	assert.True(t, agg.IsUnhealthy())
	assert.Len(t, agg.SubStatuses, 2)

	broken.SetState(collector.StateRunning, "")
	assert.True(t, e.Health().IsHealthy())

	require.NoError(t, e.StopSource("up", time.Second))
}
