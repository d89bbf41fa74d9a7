package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/overbench/overbench/internal/bench"
	"github.com/overbench/overbench/internal/client"
	"github.com/overbench/overbench/internal/config"
	"github.com/overbench/overbench/internal/harness"
	"github.com/overbench/overbench/internal/metrics"
	"github.com/overbench/overbench/internal/output"
	"github.com/overbench/overbench/internal/target"
	"github.com/overbench/overbench/internal/threshold"
	"github.com/overbench/overbench/internal/topology"
	"github.com/overbench/overbench/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := provider.Shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	collector := metrics.NewCollector()

	provisioner := topology.NewProvisioner(cfg.ProvisionerCmd, cfg.NetDir, cfg.ProvisionTimeout, logger)
	supervisor := client.NewSupervisor(client.Options{
		Bin:          cfg.ClientCmd,
		Proxy:        target.ProxyEndpoint,
		LogPath:      filepath.Join(cfg.OutputDir, "latticed-"+runID+".log"),
		StartTimeout: cfg.StartTimeout,
		StopTimeout:  cfg.StopTimeout,
		Logger:       logger,
	})
	runner := bench.NewRunner(bench.Options{
		Bin:      cfg.BenchCmd,
		LogLevel: cfg.BenchLogLevel,
		Logger:   logger,
	})

	pipeline := harness.New(harness.Options{
		RunID:           runID,
		Target:          cfg.Target,
		NetDir:          cfg.NetDir,
		OutputDir:       cfg.OutputDir,
		Samples:         cfg.Samples,
		BenchTimeout:    cfg.BenchTimeout,
		StopTimeout:     cfg.StopTimeout,
		TeardownTimeout: cfg.TeardownTimeout,
		Provisioner:     provisioner,
		Client:          supervisor,
		Bench:           runner,
		Collector:       collector,
		Logger:          logger,
		Tracer:          provider.Tracer(),
	})

	var progress *output.ProgressReporter
	if !cfg.JSONOutput {
		progress = output.NewProgressReporter(collector, progressInterval, os.Stdout)
		progress.Start()
	}

	summary, runErr := pipeline.Run(ctx)

	if progress != nil {
		progress.Stop()
		fmt.Fprintln(os.Stdout)
	}

	if path, merr := output.WriteManifest(cfg.OutputDir, summary); merr != nil {
		logger.Warn("manifest write failed", "error", merr)
	} else {
		logger.Info("manifest written", "path", path)
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(summary.Stats)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(os.Stdout, summary); err != nil {
			return err
		}
	} else {
		output.PrintReport(os.Stdout, summary)
	}
	thresholdsPass := output.PrintThresholds(os.Stdout, results)

	if runErr != nil {
		return runErr
	}
	if !thresholdsPass {
		return fmt.Errorf("thresholds not met")
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
