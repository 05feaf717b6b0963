// Package stream provides the persistent-stream collector. It maintains a
// WebSocket client connection, emits one Full update per received message
// in receipt order, and reconnects with capped exponential backoff on
// disconnect. A clean Stop closes the connection and prevents any further
// reconnect attempt.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
)

// ReconnectConfig bounds the reconnect loop. Zero MaxRetries means
// unbounded attempts.
type ReconnectConfig struct {
	MaxRetries      int           `json:"max_retries,omitempty"      yaml:"max_retries,omitempty"`
	InitialInterval time.Duration `json:"initial_interval,omitempty" yaml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `json:"max_interval,omitempty"     yaml:"max_interval,omitempty"`
	Multiplier      float64       `json:"multiplier,omitempty"       yaml:"multiplier,omitempty"`
}

func (rc ReconnectConfig) withDefaults() ReconnectConfig {
	if rc.InitialInterval <= 0 {
		rc.InitialInterval = time.Second
	}
	if rc.MaxInterval <= 0 {
		rc.MaxInterval = 30 * time.Second
	}
	if rc.Multiplier <= 1 {
		rc.Multiplier = 2.0
	}
	return rc
}

// delay returns the backoff before the given zero-based attempt
func (rc ReconnectConfig) delay(attempt int32) time.Duration {
	d := rc.InitialInterval
	for i := int32(0); i < attempt; i++ {
		d = time.Duration(float64(d) * rc.Multiplier)
		if d > rc.MaxInterval {
			return rc.MaxInterval
		}
	}
	return d
}

// Config for the stream collector
type Config struct {
	ID      string            `json:"id"                yaml:"id"`
	URL     string            `json:"url"               yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Path receives each message; defaults to data.<id>
	Path      string          `json:"path,omitempty"      yaml:"path,omitempty"`
	Reconnect ReconnectConfig `json:"reconnect,omitempty" yaml:"reconnect,omitempty"`
}

// Collector consumes a persistent WebSocket stream
type Collector struct {
	*collector.Base

	url       string
	headers   http.Header
	path      datapath.Path
	reconnect ReconnectConfig
	dialer    *websocket.Dialer

	connMu   sync.Mutex
	conn     *websocket.Conn
	attempts atomic.Int32
}

var _ collector.Collector = (*Collector)(nil)

// New creates a stream collector
func New(cfg Config, logger *slog.Logger, metrics *metric.CoreMetrics) (*Collector, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "stream", "New", "id required")
	}
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, cfg.ID, "New", "url required")
	}

	pathStr := cfg.Path
	if pathStr == "" {
		pathStr = "data." + cfg.ID
	}
	path, err := datapath.Parse(pathStr)
	if err != nil {
		return nil, errors.WrapInvalid(err, cfg.ID, "New", "parse path")
	}

	headers := http.Header{}
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	return &Collector{
		Base:      collector.NewBase(cfg.ID, logger, metrics),
		url:       cfg.URL,
		headers:   headers,
		path:      path,
		reconnect: cfg.Reconnect.withDefaults(),
		dialer:    &websocket.Dialer{HandshakeTimeout: 45 * time.Second},
	}, nil
}

// Start launches the connect loop
func (c *Collector) Start(ctx context.Context) error {
	runCtx, err := c.BeginStart(ctx)
	if err != nil {
		return err
	}

	c.attempts.Store(0)
	c.Go(func() { c.connectLoop(runCtx) })
	return nil
}

// Stop closes the active connection and halts reconnection. After Stop
// returns no further update is emitted and no connection remains open.
func (c *Collector) Stop(timeout time.Duration) error {
	return c.EndStop(timeout, func() {
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
}

// connectLoop manages the connection with reconnection backoff
func (c *Collector) connectLoop(ctx context.Context) {
	shutdown := c.Shutdown()
	for {
		select {
		case <-ctx.Done():
			c.SetState(collector.StateStopped, "")
			return
		case <-shutdown:
			return
		default:
		}

		conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !c.shouldReconnect() {
				c.SetState(collector.StateError,
					fmt.Sprintf("%v: %v", errors.ErrConnectionFailed, err))
				return
			}
			c.SetState(collector.StateReconnecting, "")
			select {
			case <-time.After(c.reconnect.delay(c.attempts.Load())):
			case <-shutdown:
				return
			case <-ctx.Done():
				c.SetState(collector.StateStopped, "")
				return
			}
			continue
		}

		c.attempts.Store(0)
		c.connMu.Lock()
		// Stop may have closed the shutdown channel between the dial and
		// here; drop the fresh connection instead of keeping it alive.
		select {
		case <-shutdown:
			_ = conn.Close()
			c.connMu.Unlock()
			return
		default:
		}
		c.conn = conn
		c.connMu.Unlock()
		c.SetState(collector.StateRunning, "")

		c.readLoop(conn, shutdown)

		c.connMu.Lock()
		if c.conn == conn {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		select {
		case <-shutdown:
			return
		default:
		}
		if !c.shouldReconnect() {
			c.SetState(collector.StateError, errors.ErrConnectionLost.Error())
			return
		}
		c.SetState(collector.StateReconnecting, "")
	}
}

// readLoop reads until disconnect or shutdown, emitting one update per
// message in receipt order
func (c *Collector) readLoop(conn *websocket.Conn, shutdown <-chan struct{}) {
	for {
		select {
		case <-shutdown:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var value any
		if err := json.Unmarshal(message, &value); err != nil {
			c.Logger().Warn("message parse failed", "error", err)
			continue
		}

		c.Emit(flow.Update{
			Source:    c.ID(),
			Path:      c.path,
			Value:     value,
			Timestamp: time.Now(),
			Mode:      flow.ModeFull,
		})
	}
}

func (c *Collector) shouldReconnect() bool {
	limit := c.reconnect.MaxRetries
	if limit > 0 && int(c.attempts.Load()) >= limit {
		return false
	}
	c.attempts.Add(1)
	return true
}
