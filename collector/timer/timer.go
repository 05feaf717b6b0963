// Package timer provides the periodic-timer collector. Each interval tick
// emits one Full update carrying the tick count and timestamp.
package timer

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
)

// Config for the timer collector
type Config struct {
	ID       string        `json:"id"       yaml:"id"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Path receives the tick value; defaults to data.<id>
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Collector emits a tick value on a fixed interval
type Collector struct {
	*collector.Base

	interval time.Duration
	path     datapath.Path
	refresh  chan struct{}
}

var _ collector.Collector = (*Collector)(nil)

// New creates a timer collector
func New(cfg Config, logger *slog.Logger, metrics *metric.CoreMetrics) (*Collector, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "timer", "New", "id required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, cfg.ID, "New", "interval must be positive")
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
		Base:     collector.NewBase(cfg.ID, logger, metrics),
		interval: cfg.Interval,
		path:     path,
		refresh:  make(chan struct{}, 1),
	}, nil
}

// Start begins emitting ticks
func (c *Collector) Start(ctx context.Context) error {
	runCtx, err := c.BeginStart(ctx)
	if err != nil {
		return err
	}

	c.Go(func() { c.run(runCtx) })
	c.SetState(collector.StateRunning, "")
	return nil
}

// Stop halts the tick loop
func (c *Collector) Stop(timeout time.Duration) error {
	return c.EndStop(timeout, nil)
}

// Refresh emits an out-of-band tick without disturbing the schedule
func (c *Collector) Refresh(_ context.Context) error {
	if !c.Running() {
		return errors.WrapInvalid(errors.ErrNotStarted, c.ID(), "Refresh", "check started state")
	}
	select {
	case c.refresh <- struct{}{}:
	default:
	}
	return nil
}

func (c *Collector) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var tick int64
	for {
		select {
		case <-ctx.Done():
			c.SetState(collector.StateStopped, "")
			return
		case <-c.Shutdown():
			return
		case <-ticker.C:
			tick++
			c.emitTick(tick)
		case <-c.refresh:
			tick++
			c.emitTick(tick)
		}
	}
}

func (c *Collector) emitTick(tick int64) {
	now := time.Now()
	c.Emit(flow.Update{
		Source: c.ID(),
		Path:   c.path,
		Value: map[string]any{
			"tick": tick,
			"time": now.Format(time.RFC3339Nano),
		},
		Timestamp: now,
		Mode:      flow.ModeFull,
	})
}
