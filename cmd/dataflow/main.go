// Package main implements the entry point for the dataflow engine: a
// configuration-driven pipeline that collects external data, transforms
// it, stores it in an observable repository, and reacts to changes
// through bindings and triggers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/dataflow/config"
	"github.com/c360/dataflow/engine"
	"github.com/c360/dataflow/metric"
	"github.com/c360/dataflow/trigger"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dataflow"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting dataflow engine",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	if cfg.Engine.ShutdownTimeout.Std() > 0 {
		cliCfg.ShutdownTimeout = cfg.Engine.ShutdownTimeout.Std()
	}
	metricsAddr := cliCfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Engine.MetricsAddr
	}

	registry := metric.NewRegistry()
	eng := engine.New(logger, engine.Options{
		NotifySink: logNotifySink(logger),
		Metrics:    registry.Core,
	})
	if err := eng.Configure(cfg); err != nil {
		return fmt.Errorf("configure engine: %w", err)
	}

	var metricsServer *http.Server
	if metricsAddr != "" {
		metricsServer = serveMetrics(metricsAddr, registry, eng, logger)
	}

	return runWithSignalHandling(eng, metricsServer, cliCfg.ShutdownTimeout)
}

// logNotifySink surfaces trigger notifications through the logger. A
// deployment embedding the engine replaces this with its own sink.
func logNotifySink(logger *slog.Logger) trigger.NotifySink {
	return func(n trigger.Notification) {
		logger.Info("notification",
			"trigger", n.Trigger,
			"message", n.Message,
			"path", n.Path,
			"value", n.Value)
	}
}

// serveMetrics starts the Prometheus and health endpoints
func serveMetrics(addr string, registry *metric.Registry, eng *engine.Engine, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := eng.Health()
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintln(w, status.Status)
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return server
}

// runWithSignalHandling starts the engine and blocks until a shutdown
// signal arrives
func runWithSignalHandling(eng *engine.Engine, metricsServer *http.Server, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := eng.Start(signalCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	slog.Info("Dataflow engine started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	if err := eng.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Dataflow engine shutdown complete")
	return nil
}
