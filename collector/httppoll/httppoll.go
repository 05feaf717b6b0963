// Package httppoll provides the interval HTTP fetch collector. On each
// tick it issues a GET, parses the JSON body, and emits one Full update.
// Fetch failures follow the configured retry policy without blocking the
// next scheduled tick.
package httppoll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
	"github.com/c360/dataflow/pkg/retry"
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 8 << 20

// Config for the HTTP polling collector
type Config struct {
	ID       string            `json:"id"                yaml:"id"`
	URL      string            `json:"url"               yaml:"url"`
	Interval time.Duration     `json:"interval"          yaml:"interval"`
	Timeout  time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Path receives the fetched value; defaults to data.<id>
	Path  string       `json:"path,omitempty"  yaml:"path,omitempty"`
	Retry retry.Config `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Collector polls a URL on a fixed interval
type Collector struct {
	*collector.Base

	url      string
	interval time.Duration
	headers  map[string]string
	path     datapath.Path
	retryCfg retry.Config
	client   *http.Client
	refresh  chan struct{}
}

var _ collector.Collector = (*Collector)(nil)

// New creates an HTTP polling collector
func New(cfg Config, logger *slog.Logger, metrics *metric.CoreMetrics) (*Collector, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "httppoll", "New", "id required")
	}
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, cfg.ID, "New", "url required")
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

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Collector{
		Base:     collector.NewBase(cfg.ID, logger, metrics),
		url:      cfg.URL,
		interval: cfg.Interval,
		headers:  cfg.Headers,
		path:     path,
		retryCfg: cfg.Retry,
		client:   &http.Client{Timeout: timeout},
		refresh:  make(chan struct{}, 1),
	}, nil
}

// Start begins the polling loop. The first fetch happens immediately
// rather than waiting one interval.
func (c *Collector) Start(ctx context.Context) error {
	runCtx, err := c.BeginStart(ctx)
	if err != nil {
		return err
	}

	c.Go(func() { c.run(runCtx) })
	c.SetState(collector.StateRunning, "")
	return nil
}

// Stop halts polling
func (c *Collector) Stop(timeout time.Duration) error {
	return c.EndStop(timeout, nil)
}

// Refresh forces an out-of-band fetch
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

	// Each fetch runs on its own goroutine: a retry cycle backing off
	// longer than the interval must not delay the tick schedule.
	c.Go(func() { c.poll(ctx) })
	for {
		select {
		case <-ctx.Done():
			c.SetState(collector.StateStopped, "")
			return
		case <-c.Shutdown():
			return
		case <-ticker.C:
			c.Go(func() { c.poll(ctx) })
		case <-c.refresh:
			c.Go(func() { c.poll(ctx) })
		}
	}
}

// poll fetches once with retries. Exhausted retries surface as Error
// status; the collector keeps running and tries again next tick.
func (c *Collector) poll(ctx context.Context) {
	value, err := retry.DoWithResult(ctx, c.retryCfg, func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.Logger().Warn("poll failed after retries", "url", c.url, "error", err)
		c.SetState(collector.StateError, err.Error())
		return
	}

	c.SetState(collector.StateRunning, "")
	c.Emit(flow.Update{
		Source:    c.ID(),
		Path:      c.path,
		Value:     value,
		Timestamp: time.Now(),
		Mode:      flow.ModeFull,
	})
}

func (c *Collector) fetch(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, c.ID(), "fetch", "build request")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrRequestFailed, err), c.ID(), "fetch", "issue request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.WrapTransient(
			fmt.Errorf("status %d: %w", resp.StatusCode, errors.ErrRequestFailed),
			c.ID(), "fetch", "check status")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.WrapTransient(err, c.ID(), "fetch", "read body")
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		// A malformed body will not improve on retry
		return nil, retry.NonRetryable(errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParseFailed, err), c.ID(), "fetch", "decode body"))
	}
	return value, nil
}
