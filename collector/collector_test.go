package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/flow"
)

func testUpdate(v any) flow.Update {
	return flow.Update{
		Source:    "test",
		Path:      datapath.MustParse("data.test"),
		Value:     v,
		Timestamp: time.Now(),
		Mode:      flow.ModeFull,
	}
}

func TestBaseFanOut(t *testing.T) {
	b := NewBase("test", nil, nil)
	first := b.Subscribe()
	second := b.Subscribe()

	b.Emit(testUpdate(1))

	for _, ch := range []<-chan flow.Update{first, second} {
		select {
		case u := <-ch:
			assert.Equal(t, 1, u.Value)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive update")
		}
	}
	assert.Equal(t, int64(1), b.Status().Updates)
}

func TestBaseEmitCountsEmits(t *testing.T) {
	b := NewBase("test", nil, nil)
	_ = b.Subscribe()

	b.Emit(testUpdate(1))
	b.Emit(testUpdate(2))
	assert.Equal(t, int64(2), b.Status().Updates)
}

func TestBaseStalledSubscriberDoesNotBlock(t *testing.T) {
	b := NewBase("test", nil, nil)
	_ = b.Subscribe() // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Emit(testUpdate(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on stalled subscriber")
	}
}

func TestBaseDoubleStartRejected(t *testing.T) {
	b := NewBase("test", nil, nil)

	_, err := b.BeginStart(context.Background())
	require.NoError(t, err)

	_, err = b.BeginStart(context.Background())
	assert.Error(t, err)

	require.NoError(t, b.EndStop(time.Second, nil))
}

func TestBaseRestartable(t *testing.T) {
	b := NewBase("test", nil, nil)

	for i := 0; i < 3; i++ {
		ctx, err := b.BeginStart(context.Background())
		require.NoError(t, err)
		require.NoError(t, ctx.Err())
		require.NoError(t, b.EndStop(time.Second, nil))
		assert.Equal(t, StateStopped, b.Status().State)
	}
}

func TestBaseStopWaitsForGoroutines(t *testing.T) {
	b := NewBase("test", nil, nil)
	ctx, err := b.BeginStart(context.Background())
	require.NoError(t, err)

	finished := make(chan struct{})
	b.Go(func() {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		close(finished)
	})

	require.NoError(t, b.EndStop(time.Second, nil))
	select {
	case <-finished:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("Stop returned before goroutine finished")
	}
}

func TestBaseStopTimeout(t *testing.T) {
	b := NewBase("test", nil, nil)
	_, err := b.BeginStart(context.Background())
	require.NoError(t, err)

	release := make(chan struct{})
	b.Go(func() { <-release })
	defer close(release)

	err = b.EndStop(20*time.Millisecond, nil)
	assert.Error(t, err)
}

func TestBaseStopWhenStoppedIsNoOp(t *testing.T) {
	b := NewBase("test", nil, nil)
	assert.NoError(t, b.EndStop(time.Second, nil))
}

func TestBaseStateTransitions(t *testing.T) {
	b := NewBase("test", nil, nil)
	assert.Equal(t, StateStopped, b.Status().State)

	b.SetState(StateError, "boom")
	st := b.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, "boom", st.Reason)

	b.SetState(StateRunning, "")
	st = b.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Empty(t, st.Reason, "reason cleared on non-error state")
}

func TestBaseDefaultRefreshUnsupported(t *testing.T) {
	b := NewBase("test", nil, nil)
	assert.Error(t, b.Refresh(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "error", StateError.String())
}
