// Package main provides the simprof CLI entry point.
//
// simprof runs the circuit simulator benchmark under the HPROF CPU sampling
// agent and turns the resulting profile into a flame graph.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/simprof/internal/config"
	"github.com/randomizedcoder/simprof/internal/logging"
	"github.com/randomizedcoder/simprof/internal/metrics"
	"github.com/randomizedcoder/simprof/internal/orchestrator"
	"github.com/randomizedcoder/simprof/internal/stats"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/simprof
var version = "dev"

// Exit codes for failures of simprof itself. A completed session exits
// with the target's own code.
const (
	exitFatal     = 1
	exitConfig    = 2
	exitInterrupt = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// Handle version flag early (before flag parsing)
	if len(args) > 0 && (args[0] == "-version" || args[0] == "--version") {
		fmt.Fprintf(stdout, "simprof %s\n", version)
		return 0
	}

	cfg, err := config.ParseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error parsing flags: %v\n", err)
		return exitConfig
	}
	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "simprof %s\n", version)
		return 0
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}

	runID := uuid.NewString()
	logger := logging.WithRun(logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose), runID)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(metrics.CollectorConfig{
		Version:        version,
		MainClass:      cfg.MainClass,
		RequiredJava:   cfg.RequiredVersion,
		RuntimeMetrics: cfg.MetricsAddr != "",
	})

	orch := orchestrator.New(cfg, logger, collector)
	orch.RunID = runID
	orch.Stdout = stdout
	orch.Stderr = stderr
	orch.Console = stderr

	// Handle --print-cmd mode
	if cfg.PrintCmd {
		inv, err := orch.Invocation(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFatal
		}
		fmt.Fprintln(stdout, "# java command for the first run:")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, inv.CommandString())
		return 0
	}

	logger.Info("starting",
		"version", version,
		"jar", cfg.Jar,
		"main_class", cfg.MainClass,
		"profile", cfg.Profile,
		"runs", cfg.Runs,
	)

	fmt.Fprint(stderr, stats.FormatBanner(stats.Banner{
		Version:     version,
		Jar:         cfg.Jar,
		MainClass:   cfg.MainClass,
		Args:        cfg.Args,
		Profile:     cfg.Profile,
		Runs:        cfg.Runs,
		MetricsAddr: cfg.MetricsAddr,
	}))

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, collector.Gatherer(), logger)
		if err := srv.Start(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFatal
		}
		defer shutdownServer(srv, logger)
	}

	result, runErr := orch.Run(ctx)

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile, collector.Gatherer()); err != nil {
			logger.Warn("metrics_file_failed", "path", cfg.MetricsFile, "error", err)
		}
	}

	if result != nil {
		fmt.Fprint(stderr, stats.FormatExitSummary(summarize(cfg, result)))
	}

	switch {
	case runErr == nil:
		return result.ExitCode
	case ctx.Err() != nil:
		logger.Warn("interrupted", "error", runErr)
		return exitInterrupt
	default:
		logger.Error("session_failed", "error", runErr)
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return exitFatal
	}
}

func summarize(cfg *config.Config, r *orchestrator.Result) stats.Summary {
	return stats.Summary{
		RunID:       r.RunID,
		Duration:    r.Duration,
		Java:        r.Runtime.Path,
		JavaVersion: r.Version,
		Fallback:    r.Runtime.Fallback,
		Profiled:    r.Profiled,
		Degraded:    r.Degraded,
		ExitCode:    r.ExitCode,
		ExitCodes:   r.ExitCodes,
		Runs:        r.Timing,
		Graph:       r.Graph,
		GraphBytes:  r.GraphBytes,
		MetricsAddr: cfg.MetricsAddr,
		MetricsFile: cfg.MetricsFile,
	}
}

func shutdownServer(srv *metrics.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}
