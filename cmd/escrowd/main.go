package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"poolescrow/config"
	"poolescrow/observability/logging"
	"poolescrow/observability/metrics"
	"poolescrow/observability/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "escrowd.toml", "path to escrowd configuration")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, logCloser, err := logging.Setup(logging.Options{
		Service:    cfg.Service.Name,
		Env:        cfg.Service.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Service.Name,
		Environment: cfg.Service.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		SampleRatio: cfg.Telemetry.SampleRatio,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	n, err := newNode(ctx, cfg, logger, metrics.Escrow())
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Error("close node", slog.Any("error", err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.RPC.ListenAddress,
		Handler:           n.rpc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("escrow rpc listening", slog.String("address", cfg.RPC.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	if err := n.runtime.Drain(shutdownCtx); err != nil {
		logger.Warn("pending promises not drained", slog.Any("error", err))
	}
	return nil
}
