package engine

import (
	"fmt"

	"github.com/c360/dataflow/binding"
	"github.com/c360/dataflow/collector"
	"github.com/c360/dataflow/collector/broker"
	"github.com/c360/dataflow/collector/file"
	"github.com/c360/dataflow/collector/httppoll"
	"github.com/c360/dataflow/collector/stream"
	"github.com/c360/dataflow/collector/timer"
	"github.com/c360/dataflow/config"
	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/pkg/retry"
	"github.com/c360/dataflow/transform"
)

// Configure materializes a validated configuration: one collector and
// pipeline per source entry, plus every declared binding and trigger.
// Call before Start.
func (e *Engine) Configure(cfg *config.Config) error {
	for i, sc := range cfg.Sources {
		col, err := e.buildCollector(sc)
		if err != nil {
			return errors.WrapInvalid(err, "Engine", "Configure", fmt.Sprintf("source %d", i))
		}
		pipeline, err := transform.PipelineFromSpecs(sc.ID, sc.Transforms)
		if err != nil {
			return errors.WrapInvalid(err, "Engine", "Configure", fmt.Sprintf("source %d", i))
		}
		if e.metrics != nil {
			pipeline.WithMetrics(e.metrics)
		}
		if err := e.AddSource(col, pipeline); err != nil {
			return err
		}
	}

	for i, bc := range cfg.Bindings {
		src, err := datapath.Parse(bc.Source)
		if err != nil {
			return errors.WrapInvalid(err, "Engine", "Configure", fmt.Sprintf("binding %d", i))
		}
		mode := bc.Mode
		if mode == "" {
			mode = binding.OneWay
		}
		var tf transform.Transform
		if bc.Transform != nil {
			if tf, err = transform.FromSpec(*bc.Transform); err != nil {
				return errors.WrapInvalid(err, "Engine", "Configure", fmt.Sprintf("binding %d", i))
			}
		}
		if _, err := e.bindings.Register(src, bc.Target, mode, tf); err != nil {
			return errors.WrapInvalid(err, "Engine", "Configure", fmt.Sprintf("binding %d", i))
		}
	}

	for i, tc := range cfg.Triggers {
		if _, err := e.triggers.Register(tc.ToSpec()); err != nil {
			return errors.WrapInvalid(err, "Engine", "Configure", fmt.Sprintf("trigger %d", i))
		}
	}
	return nil
}

func (e *Engine) buildCollector(sc config.SourceConfig) (collector.Collector, error) {
	switch sc.Type {
	case config.SourceTimer:
		return timer.New(timer.Config{
			ID:       sc.ID,
			Interval: sc.Interval.Std(),
			Path:     sc.Path,
		}, e.logger, e.metrics)

	case config.SourceHTTPPoll:
		return httppoll.New(httppoll.Config{
			ID:       sc.ID,
			URL:      sc.URL,
			Interval: sc.Interval.Std(),
			Timeout:  sc.Timeout.Std(),
			Headers:  sc.Headers,
			Path:     sc.Path,
			Retry:    retryConfig(sc.Retry),
		}, e.logger, e.metrics)

	case config.SourceStream:
		return stream.New(stream.Config{
			ID:      sc.ID,
			URL:     sc.URL,
			Headers: sc.Headers,
			Path:    sc.Path,
			Reconnect: stream.ReconnectConfig{
				MaxRetries:      sc.Reconnect.MaxRetries,
				InitialInterval: sc.Reconnect.InitialInterval.Std(),
				MaxInterval:     sc.Reconnect.MaxInterval.Std(),
				Multiplier:      sc.Reconnect.Multiplier,
			},
		}, e.logger, e.metrics)

	case config.SourceBroker:
		dialer, err := broker.NewNATSDialer(broker.NATSConfig{
			URL:           sc.Broker.URL,
			Name:          sc.Broker.Name,
			MaxReconnects: sc.Broker.MaxReconnects,
			ReconnectWait: sc.Broker.ReconnectWait.Std(),
			Timeout:       sc.Broker.Timeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		return broker.New(broker.Config{
			ID:      sc.ID,
			Subject: sc.Subject,
			Path:    sc.Path,
		}, dialer, e.logger, e.metrics)

	case config.SourceFile:
		return file.New(file.Config{
			ID:     sc.ID,
			File:   sc.File,
			Path:   sc.Path,
			Watch:  sc.Watch,
			Format: file.Format(sc.Format),
		}, e.logger, e.metrics)
	}

	return nil, errors.WrapInvalid(
		fmt.Errorf("unknown source type %q: %w", sc.Type, errors.ErrInvalidConfig),
		"Engine", "buildCollector", sc.ID)
}

func retryConfig(rc config.RetryConfig) retry.Config {
	policy := retry.Exponential
	if rc.Policy == "constant" {
		policy = retry.Constant
	}
	return retry.Config{
		Policy:       policy,
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: rc.InitialDelay.Std(),
		MaxDelay:     rc.MaxDelay.Std(),
		Multiplier:   rc.Multiplier,
	}
}
