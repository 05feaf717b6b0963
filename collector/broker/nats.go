package broker

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/errors"
)

// NATSConfig configures the NATS dialer
type NATSConfig struct {
	URL           string        `json:"url"                      yaml:"url"`
	Name          string        `json:"name,omitempty"           yaml:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"        yaml:"timeout,omitempty"`
}

// NATSDialer dials a NATS server and adapts its connection callbacks to
// collector state transitions
type NATSDialer struct {
	cfg NATSConfig
}

var _ Dialer = (*NATSDialer)(nil)

// NewNATSDialer creates a NATS dialer
func NewNATSDialer(cfg NATSConfig) (*NATSDialer, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSDialer", "NewNATSDialer", "url required")
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1 // reconnect forever
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &NATSDialer{cfg: cfg}, nil
}

// Dial implements Dialer
func (d *NATSDialer) Dial(_ context.Context, onState func(collector.State, string)) (Conn, error) {
	opts := []nats.Option{
		nats.Name(d.cfg.Name),
		nats.MaxReconnects(d.cfg.MaxReconnects),
		nats.ReconnectWait(d.cfg.ReconnectWait),
		nats.Timeout(d.cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			reason := ""
			if err != nil {
				reason = err.Error()
			}
			onState(collector.StateReconnecting, reason)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			onState(collector.StateRunning, "")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				onState(collector.StateError, err.Error())
			}
		}),
	}

	nc, err := nats.Connect(d.cfg.URL, opts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSDialer", "Dial", "connect")
	}
	return &natsConn{nc: nc}, nil
}

// natsConn adapts *nats.Conn to the Conn interface
type natsConn struct {
	nc *nats.Conn
}

func (c *natsConn) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsConn", "Subscribe", "subscribe subject")
	}
	return sub, nil
}

func (c *natsConn) Close() error {
	c.nc.Close()
	return nil
}
