// Package broker provides the subject-subscription collector. The wire
// client is abstracted behind a Dialer so broker flavors share one
// collector shape; a NATS dialer is provided.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
)

// Subscription is an active subject subscription
type Subscription interface {
	Unsubscribe() error
}

// Conn is a connected broker client
type Conn interface {
	// Subscribe registers handler for messages on the subject
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
	Close() error
}

// Dialer establishes broker connections. onState receives connection
// state transitions (reconnecting, running, error) observed after Dial
// returns.
type Dialer interface {
	Dial(ctx context.Context, onState func(collector.State, string)) (Conn, error)
}

// Config for the broker collector
type Config struct {
	ID      string `json:"id"      yaml:"id"`
	Subject string `json:"subject" yaml:"subject"`
	// Path receives each message; defaults to data.<id>
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Collector consumes messages from a broker subject
type Collector struct {
	*collector.Base

	subject string
	path    datapath.Path
	dialer  Dialer

	connMu sync.Mutex
	conn   Conn
	sub    Subscription
}

var _ collector.Collector = (*Collector)(nil)

// New creates a broker collector over the given dialer
func New(cfg Config, dialer Dialer, logger *slog.Logger, metrics *metric.CoreMetrics) (*Collector, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "broker", "New", "id required")
	}
	if cfg.Subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, cfg.ID, "New", "subject required")
	}
	if dialer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, cfg.ID, "New", "dialer required")
	}

	pathStr := cfg.Path
	if pathStr == "" {
		pathStr = "data." + cfg.ID
	}
	path, err := datapath.Parse(pathStr)
	if err != nil {
		return nil, errors.WrapInvalid(err, cfg.ID, "New", "parse path")
	}

	return &Collector{
		Base:    collector.NewBase(cfg.ID, logger, metrics),
		subject: cfg.Subject,
		path:    path,
		dialer:  dialer,
	}, nil
}

// Start connects and subscribes. The dialer owns reconnection; state
// transitions it reports are surfaced through Status.
func (c *Collector) Start(ctx context.Context) error {
	runCtx, err := c.BeginStart(ctx)
	if err != nil {
		return err
	}

	conn, err := c.dialer.Dial(runCtx, func(state collector.State, reason string) {
		if c.Running() {
			c.SetState(state, reason)
		}
	})
	if err != nil {
		c.AbortStart()
		return errors.WrapTransient(err, c.ID(), "Start", "dial broker")
	}

	sub, err := conn.Subscribe(c.subject, c.handleMessage)
	if err != nil {
		_ = conn.Close()
		c.AbortStart()
		return errors.WrapTransient(err, c.ID(), "Start", "subscribe subject")
	}

	c.connMu.Lock()
	c.conn = conn
	c.sub = sub
	c.connMu.Unlock()

	c.SetState(collector.StateRunning, "")
	return nil
}

// Stop unsubscribes and closes the connection
func (c *Collector) Stop(timeout time.Duration) error {
	return c.EndStop(timeout, func() {
		c.connMu.Lock()
		if c.sub != nil {
			_ = c.sub.Unsubscribe()
			c.sub = nil
		}
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
}

func (c *Collector) handleMessage(data []byte) {
	if !c.Running() {
		return
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		c.Logger().Warn("message parse failed", "subject", c.subject, "error", err)
		return
	}

	c.Emit(flow.Update{
		Source:    c.ID(),
		Path:      c.path,
		Value:     value,
		Timestamp: time.Now(),
		Mode:      flow.ModeFull,
	})
}
