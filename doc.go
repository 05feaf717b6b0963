// Package dataflow provides a configuration-driven data flow engine:
// external data is collected, transformed, stored in an observable
// repository, and propagated to consumers through bindings and triggers.
//
// # Architecture
//
// Data moves through four stages, each owned by one package:
//
//	┌──────────────────────────────────────┐
//	│           Collectors                 │  timer, httppoll, stream,
//	│  (fetch, watch, subscribe, emit)     │  broker, file
//	└──────────────────┬───────────────────┘
//	                   ↓ updates
//	┌──────────────────────────────────────┐
//	│        Transform Pipelines           │  map, filter, select,
//	│    (per-source, ordered, pure)       │  sort, take, skip
//	└──────────────────┬───────────────────┘
//	                   ↓ writes
//	┌──────────────────────────────────────┐
//	│           Repository                 │  path-addressed store,
//	│   (atomic writes, change fan-out)    │  one change per write
//	└──────────────────┬───────────────────┘
//	                   ↓ changes
//	┌──────────────────────────────────────┐
//	│       Bindings and Triggers          │  value propagation,
//	│  (suppression, conditions, actions)  │  debounce, throttle
//	└──────────────────────────────────────┘
//
// The engine package composes the stages: it manages collector
// lifecycles, pumps updates through pipelines into the repository, and
// dispatches change notifications to the binding system and trigger
// evaluator.
//
// # Packages
//
// Core data model:
//   - datapath: dot-separated path addressing (data.weather.temp)
//   - value: dynamic value comparison, cloning, merging
//   - flow: update and change event types
//
// Stages:
//   - collector: collector contract and shared lifecycle base
//   - collector/timer, collector/httppoll, collector/stream,
//     collector/broker, collector/file: the collector variants
//   - transform: pure transforms and ordered pipelines
//   - repository: the observable path-addressed store
//   - binding: source-path to target-property propagation
//   - trigger: conditions, suppression windows, async actions
//
// Composition and infrastructure:
//   - engine: lifecycle orchestration and change dispatch
//   - config: YAML configuration with schema validation
//   - health: collector status aggregation
//   - metric: Prometheus metrics registry
//   - errors: structured error taxonomy
//   - pkg/retry, pkg/worker: retry policies and worker pools
//
// # Usage
//
// Declarative setup from a configuration file:
//
//	cfg, _ := config.Load("dataflow.yaml")
//	eng := engine.New(logger, engine.Options{Applier: applier})
//	eng.Configure(cfg)
//	eng.Start(ctx)
//	defer eng.Stop(30 * time.Second)
//
// Programmatic setup:
//
//	eng := engine.New(logger, engine.Options{Applier: applier})
//	col, _ := timer.New(timer.Config{ID: "clock", Interval: time.Second}, logger, nil)
//	eng.AddSource(col, nil)
//	eng.Bindings().Register(path, target, binding.OneWay, nil)
//	eng.Start(ctx)
//
// # Design Principles
//
// Exactly one change per successful write: the repository publishes a
// single notification per mutation, under the write lock, so observers
// see same-path changes in write order.
//
// Failures stay local: a failing transform drops its update, a failing
// binding or action logs and moves on. One misbehaving source never
// stalls the others.
//
// Collectors are restartable: stop then start is always valid, and the
// engine serializes the transitions so overlapping connections cannot
// occur.
package dataflow
