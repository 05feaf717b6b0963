package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/errors"
)

type fakeSub struct {
	unsubscribed bool
	mu           sync.Mutex
}

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	return nil
}

type fakeConn struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	sub      *fakeSub
	closed   bool
}

func (c *fakeConn) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]func([]byte))
	}
	c.handlers[subject] = handler
	c.sub = &fakeSub{}
	return c.sub, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) publish(subject string, data []byte) {
	c.mu.Lock()
	handler := c.handlers[subject]
	c.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

type fakeDialer struct {
	conn    *fakeConn
	err     error
	onState func(collector.State, string)
}

func (d *fakeDialer) Dial(_ context.Context, onState func(collector.State, string)) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.onState = onState
	return d.conn, nil
}

func newTestCollector(t *testing.T, dialer Dialer) *Collector {
	t.Helper()
	c, err := New(Config{ID: "sensors", Subject: "sensors.temp"}, dialer, nil, nil)
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	d := &fakeDialer{conn: &fakeConn{}}

	_, err := New(Config{Subject: "s"}, d, nil, nil)
	assert.Error(t, err, "id required")

	_, err = New(Config{ID: "b"}, d, nil, nil)
	assert.Error(t, err, "subject required")

	_, err = New(Config{ID: "b", Subject: "s"}, nil, nil, nil)
	assert.Error(t, err, "dialer required")
}

func TestMessagesEmitted(t *testing.T) {
	conn := &fakeConn{}
	c := newTestCollector(t, &fakeDialer{conn: conn})

	updates := c.Subscribe()
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	assert.Equal(t, collector.StateRunning, c.Status().State)

	conn.publish("sensors.temp", []byte(`{"value": 21.5}`))

	select {
	case u := <-updates:
		assert.Equal(t, "sensors", u.Source)
		assert.Equal(t, "data.sensors", u.Path.String())
		assert.Equal(t, map[string]any{"value": 21.5}, u.Value)
	case <-time.After(time.Second):
		t.Fatal("no update for published message")
	}
}

func TestMalformedMessageSkipped(t *testing.T) {
	conn := &fakeConn{}
	c := newTestCollector(t, &fakeDialer{conn: conn})

	updates := c.Subscribe()
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	conn.publish("sensors.temp", []byte(`{oops`))
	conn.publish("sensors.temp", []byte(`{"ok": true}`))

	select {
	case u := <-updates:
		assert.Equal(t, map[string]any{"ok": true}, u.Value)
	case <-time.After(time.Second):
		t.Fatal("valid message lost after malformed one")
	}
}

func TestDialFailureAbortsStart(t *testing.T) {
	c := newTestCollector(t, &fakeDialer{err: errors.ErrConnectionFailed})

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.False(t, c.Running())
	assert.Equal(t, collector.StateStopped, c.Status().State)

	// A later start against a working dialer is still possible
	c2 := newTestCollector(t, &fakeDialer{conn: &fakeConn{}})
	require.NoError(t, c2.Start(context.Background()))
	_ = c2.Stop(time.Second)
}

func TestStopUnsubscribesAndCloses(t *testing.T) {
	conn := &fakeConn{}
	c := newTestCollector(t, &fakeDialer{conn: conn})

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(time.Second))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
	assert.True(t, conn.sub.unsubscribed)
}

func TestDialerStateSurfacedInStatus(t *testing.T) {
	conn := &fakeConn{}
	dialer := &fakeDialer{conn: conn}
	c := newTestCollector(t, dialer)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	dialer.onState(collector.StateReconnecting, "broker away")
	assert.Equal(t, collector.StateReconnecting, c.Status().State)

	dialer.onState(collector.StateRunning, "")
	assert.Equal(t, collector.StateRunning, c.Status().State)
}

func TestRefreshUnsupported(t *testing.T) {
	c := newTestCollector(t, &fakeDialer{conn: &fakeConn{}})
	assert.Error(t, c.Refresh(context.Background()))
}
