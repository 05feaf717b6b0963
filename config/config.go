// Package config loads and validates the engine's declarative
// configuration: sources with their transform pipelines, bindings, and
// triggers. Documents are schema-checked before semantic validation so
// structural mistakes surface with field paths.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/dataflow/binding"
	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/transform"
	"github.com/c360/dataflow/trigger"
)

// Duration wraps time.Duration so YAML documents can carry values like
// "5s" or "250ms"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value on line %d", node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SourceType names a collector variant
type SourceType string

// Known source types
const (
	SourceTimer    SourceType = "timer"
	SourceHTTPPoll SourceType = "httppoll"
	SourceStream   SourceType = "stream"
	SourceBroker   SourceType = "broker"
	SourceFile     SourceType = "file"
)

// RetryConfig declares a retry policy for polling sources
type RetryConfig struct {
	Policy       string   `json:"policy,omitempty"        yaml:"policy,omitempty"` // constant|exponential
	MaxAttempts  int      `json:"max_attempts,omitempty"  yaml:"max_attempts,omitempty"`
	InitialDelay Duration `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	MaxDelay     Duration `json:"max_delay,omitempty"     yaml:"max_delay,omitempty"`
	Multiplier   float64  `json:"multiplier,omitempty"    yaml:"multiplier,omitempty"`
}

// ReconnectConfig declares a reconnect policy for streaming sources
type ReconnectConfig struct {
	MaxRetries      int      `json:"max_retries,omitempty"      yaml:"max_retries,omitempty"`
	InitialInterval Duration `json:"initial_interval,omitempty" yaml:"initial_interval,omitempty"`
	MaxInterval     Duration `json:"max_interval,omitempty"     yaml:"max_interval,omitempty"`
	Multiplier      float64  `json:"multiplier,omitempty"       yaml:"multiplier,omitempty"`
}

// BrokerConfig declares the broker connection for broker sources
type BrokerConfig struct {
	URL           string   `json:"url"                      yaml:"url"`
	Name          string   `json:"name,omitempty"           yaml:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"        yaml:"timeout,omitempty"`
}

// SourceConfig declares one collector and its transform pipeline.
// Fields beyond ID/Type apply per type and are validated accordingly.
type SourceConfig struct {
	ID   string     `json:"id"   yaml:"id"`
	Type SourceType `json:"type" yaml:"type"`
	// Path receives this source's updates; defaults to data.<id>
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	Interval Duration          `json:"interval,omitempty" yaml:"interval,omitempty"` // timer, httppoll
	URL      string            `json:"url,omitempty"      yaml:"url,omitempty"`      // httppoll, stream
	Timeout  Duration          `json:"timeout,omitempty"  yaml:"timeout,omitempty"`  // httppoll
	Headers  map[string]string `json:"headers,omitempty"  yaml:"headers,omitempty"`  // httppoll, stream
	Subject  string            `json:"subject,omitempty"  yaml:"subject,omitempty"`  // broker
	File     string            `json:"file,omitempty"     yaml:"file,omitempty"`     // file
	Watch    bool              `json:"watch,omitempty"    yaml:"watch,omitempty"`    // file
	Format   string            `json:"format,omitempty"   yaml:"format,omitempty"`   // file

	Retry     RetryConfig     `json:"retry,omitempty"     yaml:"retry,omitempty"`
	Reconnect ReconnectConfig `json:"reconnect,omitempty" yaml:"reconnect,omitempty"`
	Broker    BrokerConfig    `json:"broker,omitempty"    yaml:"broker,omitempty"`

	Transforms []transform.Spec `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}

// BindingConfig declares one binding
type BindingConfig struct {
	Source    string          `json:"source"              yaml:"source"`
	Target    binding.Target  `json:"target"              yaml:"target"`
	Mode      binding.Mode    `json:"mode,omitempty"      yaml:"mode,omitempty"` // defaults to one-way
	Transform *transform.Spec `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// ConditionConfig declares a trigger condition
type ConditionConfig struct {
	Kind      trigger.ConditionKind `json:"kind"                yaml:"kind"`
	Field     string                `json:"field,omitempty"     yaml:"field,omitempty"`
	Operator  string                `json:"operator,omitempty"  yaml:"operator,omitempty"`
	Value     any                   `json:"value,omitempty"     yaml:"value,omitempty"`
	Direction trigger.Direction     `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// TriggerConfig declares one trigger
type TriggerConfig struct {
	Path      string          `json:"path"               yaml:"path"`
	Condition ConditionConfig `json:"condition"          yaml:"condition"`
	Action    string          `json:"action"             yaml:"action"`
	Params    map[string]any  `json:"params,omitempty"   yaml:"params,omitempty"`
	Debounce  Duration        `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	Throttle  Duration        `json:"throttle,omitempty" yaml:"throttle,omitempty"`
}

// ToSpec converts to the trigger package's spec
func (tc TriggerConfig) ToSpec() trigger.Spec {
	return trigger.Spec{
		Path: tc.Path,
		Condition: trigger.Condition{
			Kind:      tc.Condition.Kind,
			Field:     tc.Condition.Field,
			Operator:  tc.Condition.Operator,
			Value:     tc.Condition.Value,
			Direction: tc.Condition.Direction,
		},
		Action:   tc.Action,
		Params:   tc.Params,
		Debounce: tc.Debounce.Std(),
		Throttle: tc.Throttle.Std(),
	}
}

// EngineConfig holds engine-level settings
type EngineConfig struct {
	MetricsAddr     string   `json:"metrics_addr,omitempty"     yaml:"metrics_addr,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// Config is the full engine configuration document
type Config struct {
	Engine   EngineConfig    `json:"engine,omitempty"   yaml:"engine,omitempty"`
	Sources  []SourceConfig  `json:"sources,omitempty"  yaml:"sources,omitempty"`
	Bindings []BindingConfig `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	Triggers []TriggerConfig `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// Load reads, schema-checks, and validates a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "read file")
	}
	return Parse(data)
}

// Parse schema-checks and validates a YAML configuration document
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decode yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the semantic checks the schema cannot express
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if err := src.validate(); err != nil {
			return errors.WrapInvalid(err, "config", "Validate", fmt.Sprintf("source %d", i))
		}
		if seen[src.ID] {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate source id %q: %w", src.ID, errors.ErrInvalidConfig),
				"config", "Validate", fmt.Sprintf("source %d", i))
		}
		seen[src.ID] = true
	}

	for i, b := range c.Bindings {
		if err := b.validate(); err != nil {
			return errors.WrapInvalid(err, "config", "Validate", fmt.Sprintf("binding %d", i))
		}
	}

	for i, t := range c.Triggers {
		if _, err := datapath.Parse(t.Path); err != nil {
			return errors.WrapInvalid(err, "config", "Validate", fmt.Sprintf("trigger %d", i))
		}
		spec := t.ToSpec()
		if err := spec.Condition.Validate(); err != nil {
			return errors.WrapInvalid(err, "config", "Validate", fmt.Sprintf("trigger %d", i))
		}
		if t.Action == "" {
			return errors.WrapInvalid(
				fmt.Errorf("action required: %w", errors.ErrMissingConfig),
				"config", "Validate", fmt.Sprintf("trigger %d", i))
		}
	}
	return nil
}

func (s *SourceConfig) validate() error {
	if s.ID == "" {
		return fmt.Errorf("id required: %w", errors.ErrMissingConfig)
	}

	switch s.Type {
	case SourceTimer:
		if s.Interval.Std() <= 0 {
			return fmt.Errorf("timer interval required: %w", errors.ErrMissingConfig)
		}
	case SourceHTTPPoll:
		if s.URL == "" {
			return fmt.Errorf("httppoll url required: %w", errors.ErrMissingConfig)
		}
		if s.Interval.Std() <= 0 {
			return fmt.Errorf("httppoll interval required: %w", errors.ErrMissingConfig)
		}
	case SourceStream:
		if s.URL == "" {
			return fmt.Errorf("stream url required: %w", errors.ErrMissingConfig)
		}
	case SourceBroker:
		if s.Subject == "" {
			return fmt.Errorf("broker subject required: %w", errors.ErrMissingConfig)
		}
		if s.Broker.URL == "" {
			return fmt.Errorf("broker url required: %w", errors.ErrMissingConfig)
		}
	case SourceFile:
		if s.File == "" {
			return fmt.Errorf("file path required: %w", errors.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("unknown source type %q: %w", s.Type, errors.ErrInvalidConfig)
	}

	if s.Path != "" {
		if _, err := datapath.Parse(s.Path); err != nil {
			return err
		}
	}

	// Every transform spec must construct
	if _, err := transform.PipelineFromSpecs(s.ID, s.Transforms); err != nil {
		return err
	}
	return nil
}

func (b *BindingConfig) validate() error {
	if _, err := datapath.Parse(b.Source); err != nil {
		return err
	}
	if b.Target.Component == "" || b.Target.Property == "" {
		return fmt.Errorf("target component and property required: %w", errors.ErrMissingConfig)
	}
	mode := b.Mode
	if mode == "" {
		mode = binding.OneWay
	}
	if !mode.Valid() {
		return fmt.Errorf("unknown binding mode %q: %w", b.Mode, errors.ErrInvalidConfig)
	}
	if b.Transform != nil {
		if _, err := transform.FromSpec(*b.Transform); err != nil {
			return err
		}
	}
	return nil
}
