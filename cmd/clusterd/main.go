// Package main implements the entry point for clusterd, the vehicle
// signal ingestion daemon. It decodes bus telemetry into a versioned
// vehicle state store and serves it to instrument cluster renderers over
// WebSocket, alongside Prometheus metrics and a health endpoint.
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

	"github.com/c360/signalcore/config"
	"github.com/c360/signalcore/core"
	"github.com/c360/signalcore/gateway/ws"
	"github.com/c360/signalcore/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "clusterd"
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

	slog.Info("Starting clusterd (vehicle signal ingestion)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	registry := metric.NewRegistry()

	pipeline, err := core.New(core.Deps{
		Config:  cfg,
		Logger:  logger,
		Metrics: registry,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if err := pipeline.Initialize(); err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	gateway, err := ws.New(ws.Deps{
		Source:     pipeline,
		SendBuffer: cfg.Notifier.SubscriberBuffer,
		Logger:     logger,
		Metrics:    registry,
	})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := pipeline.Start(signalCtx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := gateway.Start(signalCtx); err != nil {
		_ = pipeline.Stop(cliCfg.ShutdownTimeout)
		return fmt.Errorf("start gateway: %w", err)
	}

	httpServer := setupHTTPServer(cfg.HTTP.Addr, pipeline, gateway, registry)
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	slog.Info("clusterd started")

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-httpErr:
		slog.Error("HTTP server failed", "error", err)
	}

	return shutdown(httpServer, gateway, pipeline, cliCfg.ShutdownTimeout)
}

// setupHTTPServer mounts the WebSocket feed, metrics and health
// endpoints on one mux.
func setupHTTPServer(addr string, pipeline *core.Core, gateway *ws.Server, registry *metric.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if pipeline.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "transport session down", http.StatusServiceUnavailable)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// shutdown stops the surfaces in reverse start order within the timeout.
func shutdown(httpServer *http.Server, gateway *ws.Server, pipeline *core.Core, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	remaining := func() time.Duration {
		if r := time.Until(deadline); r > 0 {
			return r
		}
		return time.Millisecond
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), remaining())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	if err := gateway.Stop(remaining()); err != nil {
		slog.Warn("gateway shutdown error", "error", err)
	}

	if err := pipeline.Stop(remaining()); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("clusterd shutdown complete")
	return nil
}
