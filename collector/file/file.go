// Package file provides the filesystem collector. It reads a file once at
// start and, when watching is enabled, re-reads on every change event.
package file

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/flow"
	"github.com/c360/dataflow/metric"
)

// Format selects how the file body becomes a value
type Format string

// Supported file formats
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config for the file collector
type Config struct {
	ID   string `json:"id"   yaml:"id"`
	File string `json:"file" yaml:"file"`
	// Path receives the file value; defaults to data.<id>
	Path   string `json:"path,omitempty"   yaml:"path,omitempty"`
	Watch  bool   `json:"watch,omitempty"  yaml:"watch,omitempty"`
	Format Format `json:"format,omitempty" yaml:"format,omitempty"`
}

// Collector reads a file and optionally watches it for changes
type Collector struct {
	*collector.Base

	file   string
	path   datapath.Path
	watch  bool
	format Format
}

var _ collector.Collector = (*Collector)(nil)

// New creates a file collector
func New(cfg Config, logger *slog.Logger, metrics *metric.CoreMetrics) (*Collector, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "file", "New", "id required")
	}
	if cfg.File == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, cfg.ID, "New", "file required")
	}

	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatText {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, cfg.ID, "New", "unknown format")
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
		Base:   collector.NewBase(cfg.ID, logger, metrics),
		file:   cfg.File,
		path:   path,
		watch:  cfg.Watch,
		format: format,
	}, nil
}

// Start reads the file once and begins watching when configured
func (c *Collector) Start(ctx context.Context) error {
	runCtx, err := c.BeginStart(ctx)
	if err != nil {
		return err
	}

	if err := c.readAndEmit(); err != nil {
		c.AbortStart()
		return err
	}

	if c.watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			c.AbortStart()
			return errors.WrapFatal(err, c.ID(), "Start", "create watcher")
		}
		// Watch the directory: editors commonly replace the file, which
		// drops a watch installed on the file itself.
		if err := watcher.Add(filepath.Dir(c.file)); err != nil {
			_ = watcher.Close()
			c.AbortStart()
			return errors.WrapFatal(err, c.ID(), "Start", "watch directory")
		}
		c.Go(func() {
			defer func() { _ = watcher.Close() }()
			c.watchLoop(runCtx, watcher)
		})
	}

	c.SetState(collector.StateRunning, "")
	return nil
}

// Stop halts watching
func (c *Collector) Stop(timeout time.Duration) error {
	return c.EndStop(timeout, nil)
}

// Refresh re-reads the file on demand
func (c *Collector) Refresh(_ context.Context) error {
	if !c.Running() {
		return errors.WrapInvalid(errors.ErrNotStarted, c.ID(), "Refresh", "check started state")
	}
	return c.readAndEmit()
}

func (c *Collector) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	shutdown := c.Shutdown()
	target := filepath.Clean(c.file)
	for {
		select {
		case <-ctx.Done():
			c.SetState(collector.StateStopped, "")
			return
		case <-shutdown:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := c.readAndEmit(); err != nil {
				c.Logger().Warn("re-read failed", "file", c.file, "error", err)
				c.SetState(collector.StateError, err.Error())
			} else {
				c.SetState(collector.StateRunning, "")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.Logger().Warn("watch error", "file", c.file, "error", err)
		}
	}
}

func (c *Collector) readAndEmit() error {
	data, err := os.ReadFile(c.file)
	if err != nil {
		return errors.WrapTransient(err, c.ID(), "readAndEmit", "read file")
	}

	var value any
	switch c.format {
	case FormatJSON:
		if err := json.Unmarshal(data, &value); err != nil {
			return errors.WrapInvalid(err, c.ID(), "readAndEmit", "decode json")
		}
	case FormatText:
		value = strings.TrimRight(string(data), "\n")
	}

	c.Emit(flow.Update{
		Source:    c.ID(),
		Path:      c.path,
		Value:     value,
		Timestamp: time.Now(),
		Mode:      flow.ModeFull,
	})
	return nil
}
