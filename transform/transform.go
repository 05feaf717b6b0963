// Package transform provides the pure data transformations applied to
// collector updates before storage, and the ordered pipelines that chain
// them. Transforms must not retain mutable cross-invocation state.
package transform

import (
	"fmt"
	"time"

	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/metric"
)

// Transform is a pure function from one value to another, parameterized
// by static configuration.
type Transform interface {
	// Name identifies the transform kind for stage error reporting
	Name() string
	// Apply transforms the input. It must not mutate its input.
	Apply(v any) (any, error)
}

// StageError reports which pipeline stage failed
type StageError struct {
	Stage int    // zero-based index of the failing stage
	Name  string // transform name at that stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %d (%s): %v", e.Stage, e.Name, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline is an ordered list of transforms applied strictly in sequence
type Pipeline struct {
	source  string
	stages  []Transform
	metrics *metric.CoreMetrics
}

// NewPipeline builds a pipeline for the named source
func NewPipeline(source string, stages ...Transform) *Pipeline {
	return &Pipeline{source: source, stages: stages}
}

// WithMetrics wires core metrics into the pipeline
func (p *Pipeline) WithMetrics(m *metric.CoreMetrics) *Pipeline {
	p.metrics = m
	return p
}

// Len returns the number of stages
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Execute applies every stage in order, short-circuiting on the first
// failure. The error is a *StageError tagged with the failing stage; on
// failure the caller must drop the update, never store a partial result.
func (p *Pipeline) Execute(v any) (any, error) {
	start := time.Now()

	current := v
	for i, stage := range p.stages {
		next, err := stage.Apply(current)
		if err != nil {
			if p.metrics != nil {
				p.metrics.PipelineFailures.WithLabelValues(p.source, stage.Name()).Inc()
			}
			return nil, &StageError{Stage: i, Name: stage.Name(), Err: err}
		}
		current = next
	}

	if p.metrics != nil {
		p.metrics.PipelineDuration.WithLabelValues(p.source).Observe(time.Since(start).Seconds())
	}
	return current, nil
}

// Spec is the declarative form of one transform, as produced by the
// configuration subsystem.
type Spec struct {
	Op       string            `json:"op"                 yaml:"op"`
	Field    string            `json:"field,omitempty"    yaml:"field,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"   yaml:"fields,omitempty"`   // map: from -> to
	Keep     []string          `json:"keep,omitempty"     yaml:"keep,omitempty"`     // select: field list
	Operator string            `json:"operator,omitempty" yaml:"operator,omitempty"` // filter comparison
	Value    any               `json:"value,omitempty"    yaml:"value,omitempty"`
	Order    string            `json:"order,omitempty"    yaml:"order,omitempty"` // sort: asc|desc
	Count    int               `json:"count,omitempty"    yaml:"count,omitempty"` // take/skip
}

// FromSpec constructs a transform from its declarative form
func FromSpec(spec Spec) (Transform, error) {
	switch spec.Op {
	case "map":
		return NewMap(spec.Fields)
	case "filter":
		return NewFilter(spec.Field, spec.Operator, spec.Value)
	case "select":
		return NewSelect(spec.Keep)
	case "sort":
		return NewSort(spec.Field, spec.Order == "desc")
	case "take":
		return NewTake(spec.Count)
	case "skip":
		return NewSkip(spec.Count)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown transform op %q: %w", spec.Op, errors.ErrInvalidConfig),
			"transform", "FromSpec", "resolve op")
	}
}

// PipelineFromSpecs builds a full pipeline from declarative specs
func PipelineFromSpecs(source string, specs []Spec) (*Pipeline, error) {
	stages := make([]Transform, 0, len(specs))
	for i, spec := range specs {
		t, err := FromSpec(spec)
		if err != nil {
			return nil, errors.WrapInvalid(err, "transform", "PipelineFromSpecs",
				fmt.Sprintf("build stage %d", i))
		}
		stages = append(stages, t)
	}
	return NewPipeline(source, stages...), nil
}
