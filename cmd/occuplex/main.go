// Package main — cmd/occuplex/main.go
//
// occuplex daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/occuplex/config.yaml.
//  2. Initialise structured logger (zap, JSON format, optional lumberjack
//     rotation).
//  3. Open BoltDB storage.
//  4. Start the OpenTelemetry tracer (no-op unless enabled).
//  5. Start the Prometheus metrics server (127.0.0.1:9091).
//  6. Construct the facade (admission controller, event log rebuild,
//     forecaster cold start replay, notification hub, breaker, invariant
//     kernel, sweeper, status scheduler).
//  7. Start the admin Unix domain socket server.
//  8. Start the facade's background workers (sweeper, scheduler, forecast
//     sampler) via errgroup.
//  9. Register SIGHUP handler for config hot-reload (logged only; the
//     facade is not rebuilt on hot-reload, only non-destructive settings
//     would apply in a fuller implementation).
// 10. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (propagates to every worker goroutine).
//  2. Wait (bounded) for workers to stop.
//  3. Flush the tracer.
//  4. Close BoltDB.
//  5. Flush the logger.
//  6. Exit 0.
//
// On config validation failure or storage open failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/occuplex/occuplex/internal/clock"
	"github.com/occuplex/occuplex/internal/config"
	"github.com/occuplex/occuplex/internal/facade"
	"github.com/occuplex/occuplex/internal/observability"
	"github.com/occuplex/occuplex/internal/storage"
	"github.com/occuplex/occuplex/internal/tracing"
)

func main() {
	configPath := flag.String("config", "/etc/occuplex/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("occuplex %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("occuplex starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	tracer, err := tracing.New(ctx, &tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  "occuplex",
		ExporterType: tracing.ExporterType(cfg.Tracing.ExporterType),
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatal("tracer init failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	fct, err := facade.New(cfg, db, clock.New(), log, metrics, tracer)
	if err != nil {
		log.Fatal("facade construction failed", zap.Error(err))
	}
	log.Info("facade ready")

	if cfg.Admin.Enabled {
		adminSrv := fct.AdminSocketServer()
		go func() {
			if err := adminSrv.ListenAndServe(ctx); err != nil {
				log.Error("admin socket server error", zap.Error(err))
			}
		}()
		log.Info("admin socket server started", zap.String("path", cfg.Admin.SocketPath))
	} else {
		log.Info("admin socket disabled")
	}

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- fct.Run(ctx)
	}()
	log.Info("background workers started (sweeper, scheduler, forecast sampler)")

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful (non-destructive settings only)",
				zap.Float64("new_weight_time", newCfg.Ranker.WeightTime))
			_ = newCfg
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("worker shutdown timeout — forcing exit")
	case err := <-workersDone:
		if err != nil {
			log.Warn("background workers exited with error", zap.Error(err))
		} else {
			log.Info("background workers stopped cleanly")
		}
	}

	log.Info("occuplex shutdown complete")
}

// buildLogger constructs a zap.Logger from observability config, with
// optional lumberjack-backed log rotation when LogRotation.FilePath is set.
func buildLogger(obsCfg config.ObservabilityConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(obsCfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", obsCfg.LogLevel, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if obsCfg.LogFormat == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var writer zapcore.WriteSyncer
	if obsCfg.LogRotation.FilePath != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   obsCfg.LogRotation.FilePath,
			MaxSize:    obsCfg.LogRotation.MaxSizeMB,
			MaxBackups: obsCfg.LogRotation.MaxBackups,
			MaxAge:     obsCfg.LogRotation.MaxAgeDays,
			Compress:   obsCfg.LogRotation.Compress,
		})
	} else {
		writer = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, writer, zap.NewAtomicLevelAt(zapLevel))
	return zap.New(core, zap.AddCaller()), nil
}
