package httppoll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		Policy:       retry.Constant,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{URL: "http://x", Interval: time.Second}, nil, nil)
	assert.Error(t, err, "id required")

	_, err = New(Config{ID: "w", Interval: time.Second}, nil, nil)
	assert.Error(t, err, "url required")

	_, err = New(Config{ID: "w", URL: "http://x"}, nil, nil)
	assert.Error(t, err, "interval required")
}

func TestFirstFetchIsImmediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"temp_c": 18}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		ID:       "weather",
		URL:      srv.URL,
		Interval: time.Hour,
		Retry:    fastRetry(),
	}, nil, nil)
	require.NoError(t, err)

	updates := c.Subscribe()
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	select {
	case u := <-updates:
		assert.Equal(t, flow.ModeFull, u.Mode)
		assert.Equal(t, "weather", u.Source)
		assert.Equal(t, "data.weather", u.Path.String())
		assert.Equal(t, map[string]any{"temp_c": float64(18)}, u.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no update from first fetch")
	}
}

func TestPollsOnInterval(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"n": 1}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		ID:       "poll",
		URL:      srv.URL,
		Interval: 10 * time.Millisecond,
		Retry:    fastRetry(),
	}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	require.Eventually(t, func() bool { return hits.Load() >= 3 },
		2*time.Second, 5*time.Millisecond)
}

func TestRetryThenSuccess(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		ID:       "flaky",
		URL:      srv.URL,
		Interval: time.Hour,
		Retry:    fastRetry(),
	}, nil, nil)
	require.NoError(t, err)

	updates := c.Subscribe()
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	select {
	case u := <-updates:
		assert.Equal(t, map[string]any{"ok": true}, u.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not recover")
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestExhaustedRetriesSurfaceErrorAndKeepRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{
		ID:       "down",
		URL:      srv.URL,
		Interval: time.Hour,
		Retry:    fastRetry(),
	}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	require.Eventually(t, func() bool {
		return c.Status().State == collector.StateError
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, c.Status().Reason)
	assert.True(t, c.Running(), "collector keeps running after exhausted retries")
}

func TestMalformedBodyIsNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c, err := New(Config{
		ID:       "garbled",
		URL:      srv.URL,
		Interval: time.Hour,
		Retry:    fastRetry(),
	}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	require.Eventually(t, func() bool {
		return c.Status().State == collector.StateError
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), hits.Load(), "parse failure short-circuits retry")
}

func TestRetryBackoffDoesNotDelayTicks(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// The backoff dwarfs the interval. A fetch that held the tick loop
	// hostage would manage two requests in this window; concurrent
	// per-tick fetches keep issuing first attempts on schedule.
	c, err := New(Config{
		ID:       "slowretry",
		URL:      srv.URL,
		Interval: 25 * time.Millisecond,
		Retry: retry.Config{
			Policy:       retry.Constant,
			MaxAttempts:  3,
			InitialDelay: 300 * time.Millisecond,
			MaxDelay:     300 * time.Millisecond,
		},
	}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(2 * time.Second) }()

	require.Eventually(t, func() bool { return hits.Load() >= 5 },
		500*time.Millisecond, 5*time.Millisecond)
}

func TestRefreshForcesFetch(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"n": 1}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		ID:       "refresh",
		URL:      srv.URL,
		Interval: time.Hour,
		Retry:    fastRetry(),
	}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	require.Eventually(t, func() bool { return hits.Load() == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Refresh(context.Background()))
	require.Eventually(t, func() bool { return hits.Load() == 2 },
		2*time.Second, 5*time.Millisecond)
}

func TestHeadersSent(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		ID:       "auth",
		URL:      srv.URL,
		Interval: time.Hour,
		Headers:  map[string]string{"Authorization": "Bearer token"},
		Retry:    fastRetry(),
	}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	require.Eventually(t, func() bool {
		v, _ := got.Load().(string)
		return v == "Bearer token"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStoppedCollectorStopsPolling(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		ID:       "stopme",
		URL:      srv.URL,
		Interval: 5 * time.Millisecond,
		Retry:    fastRetry(),
	}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return hits.Load() >= 2 },
		2*time.Second, time.Millisecond)
	require.NoError(t, c.Stop(time.Second))

	settled := hits.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, hits.Load(), "no fetches after stop")
}
