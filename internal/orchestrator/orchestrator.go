// Package orchestrator runs the simulator under the sampling agent and turns
// the resulting profile into a flame graph.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/simprof/internal/config"
	"github.com/randomizedcoder/simprof/internal/convert"
	"github.com/randomizedcoder/simprof/internal/metrics"
	"github.com/randomizedcoder/simprof/internal/preflight"
	"github.com/randomizedcoder/simprof/internal/process"
	"github.com/randomizedcoder/simprof/internal/stats"
	"github.com/randomizedcoder/simprof/internal/supervisor"
	"github.com/randomizedcoder/simprof/internal/tools"
)

// RunRecord describes one target run.
type RunRecord struct {
	Index        int
	ExitCode     int
	Duration     time.Duration
	Instrumented bool

	// Stopped is set when the run was cut short by cancellation or -timeout.
	Stopped bool
}

// Result is what a profiling session produced. It is returned, possibly
// partially filled, whenever the target was run.
type Result struct {
	RunID    string
	Duration time.Duration

	Runtime process.Resolution
	Version int

	// Profiled is set when the agent was attached to the first run.
	Profiled bool

	// Degraded is set when profiling was requested but the runtime
	// version cannot host the agent.
	Degraded bool

	// ExitCode is the first nonzero target exit code, or 0.
	ExitCode  int
	ExitCodes map[int]int
	Runs      []RunRecord
	Timing    stats.RunSummary

	Graph      string
	GraphBytes int64
}

// Orchestrator coordinates runtime discovery, target runs and conversion.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector

	// RunID tags the Result. New assigns a random one.
	RunID string

	// Prober and Cloner default to running java and git.
	Prober process.VersionProber
	Cloner tools.Cloner

	// Stdin, Stdout and Stderr are handed to the target. Stdin is nil
	// unless set.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Console receives preflight results and warnings.
	Console io.Writer
}

// New creates an Orchestrator for cfg. collector may be nil.
func New(cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewCollector(metrics.CollectorConfig{
			MainClass:    cfg.MainClass,
			RequiredJava: cfg.RequiredVersion,
		})
	}

	return &Orchestrator{
		config:  cfg,
		logger:  logger,
		metrics: collector,
		RunID:   uuid.NewString(),
		Prober:  process.ExecProber{Timeout: cfg.ProbeTimeout},
		Cloner:  tools.GitCloner{Logger: logger, Verbose: cfg.Verbose},
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Console: os.Stderr,
	}
}

// Run executes one profiling session.
//
// Fatal conditions (missing artifact, unparseable runtime version, tool
// retrieval or conversion failure) return an error. A nonzero target exit is
// reported in Result.ExitCode. Cancelling ctx stops the current run and skips
// conversion; the partial Result is returned with the context error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	cfg := o.config
	start := time.Now()
	result := &Result{RunID: o.RunID, ExitCodes: make(map[int]int)}
	defer func() { result.Duration = time.Since(start) }()

	collapse, render := tools.DefaultTools(cfg.ToolsDir)

	if !cfg.SkipPreflight {
		checks := preflight.RunAll(preflight.Options{
			ArtifactPath: cfg.Jar,
			Profile:      cfg.Profile,
			NeedClone:    !tools.Cached(collapse) || !tools.Cached(render),
		})
		preflight.PrintResults(o.Console, checks)
		if checks.Err != nil {
			return nil, checks.Err
		}
	} else if err := preflight.RequireFile("target artifact", cfg.Jar, "did you run sbt assembly?"); err != nil {
		return nil, err
	}

	p, err := o.plan(ctx)
	if err != nil {
		return nil, err
	}
	result.Runtime = p.runtime
	result.Version = p.runtime.Version
	result.Profiled = p.agent != nil
	result.Degraded = p.degraded
	if p.degraded {
		fmt.Fprintln(o.Console, stats.Warning(fmt.Sprintf(
			"profiling requires Java %d, %s is Java %d; running without the agent",
			cfg.RequiredVersion, p.runtime.Path, p.runtime.Version)))
	}
	o.metrics.SetRuntime(p.runtime.Version, result.Profiled, result.Degraded)

	digest := stats.NewRunDigest()
	for i := 0; i < cfg.Runs; i++ {
		// Only the first run is sampled.
		agent := p.agent
		if i > 0 {
			agent = nil
		}
		inv := process.NewInvocation(p.runtime.Path, agent, cfg.Jar, cfg.MainClass, cfg.Args)

		record, err := o.runTarget(ctx, i, inv)
		if record != nil {
			result.Runs = append(result.Runs, *record)
			result.ExitCodes[record.ExitCode]++
			if result.ExitCode == 0 {
				result.ExitCode = record.ExitCode
			}
			digest.Add(record.Duration)
			result.Timing = digest.Summary()
		}
		if err != nil {
			if ctx.Err() != nil {
				o.logger.Warn("session_cancelled",
					"completed_runs", len(result.Runs),
					"profile", cfg.HprofOut,
				)
			}
			return result, err
		}

		// The profile is converted before the next run so later runs
		// cannot overwrite it.
		if i == 0 && result.Profiled {
			artifacts, err := o.convert(ctx, collapse, render)
			if err != nil {
				return result, err
			}
			result.Graph = artifacts.Graph
			result.GraphBytes = artifacts.GraphBytes
		}
	}

	o.logger.Info("session_completed",
		"runs", len(result.Runs),
		"exit_code", result.ExitCode,
		"profiled", result.Profiled,
		"graph", result.Graph,
	)
	return result, nil
}

// plan is the runtime decision shared by every run of a session.
type plan struct {
	runtime  process.Resolution
	agent    *process.HprofAgent
	degraded bool
}

// plan resolves the runtime and decides whether the agent can be attached.
func (o *Orchestrator) plan(ctx context.Context) (plan, error) {
	cfg := o.config

	runtime, err := o.resolveRuntime(ctx)
	if err != nil {
		return plan{}, err
	}
	p := plan{runtime: runtime}

	switch {
	case !cfg.Profile:
		o.logger.Info("profiling_disabled")
	case runtime.Version == cfg.RequiredVersion:
		p.agent = o.agent()
	default:
		p.degraded = true
		o.logger.Warn("profiling_unsupported",
			"java", runtime.Path,
			"version", runtime.Version,
			"required", cfg.RequiredVersion,
		)
	}
	return p, nil
}

// Invocation returns the command the first run would execute. It resolves
// and probes the runtime but starts nothing else.
func (o *Orchestrator) Invocation(ctx context.Context) (process.InvocationSpec, error) {
	p, err := o.plan(ctx)
	if err != nil {
		return process.InvocationSpec{}, err
	}
	return process.NewInvocation(p.runtime.Path, p.agent, o.config.Jar, o.config.MainClass, o.config.Args), nil
}

// resolveRuntime picks the java to run and its major version. Without
// profiling the candidates are not consulted.
func (o *Orchestrator) resolveRuntime(ctx context.Context) (process.Resolution, error) {
	cfg := o.config

	resolution := process.Resolution{Path: cfg.Java}
	if cfg.Profile {
		locator := &process.Locator{
			Candidates: cfg.JavaCandidates,
			Required:   cfg.RequiredVersion,
			Fallback:   cfg.Java,
			Prober:     o.Prober,
			Logger:     o.logger,
		}
		resolution = locator.Locate(ctx)
	}

	if resolution.Version == 0 {
		start := time.Now()
		v, err := o.Prober.Probe(ctx, resolution.Path)
		o.metrics.RecordStage("probe", time.Since(start), err)
		if err != nil {
			return resolution, fmt.Errorf("probe runtime %s: %w", resolution.Path, err)
		}
		resolution.Version = v
	}

	o.logger.Info("runtime_resolved",
		"java", resolution.Path,
		"version", resolution.Version,
		"fallback", resolution.Fallback,
	)
	return resolution, nil
}

func (o *Orchestrator) agent() *process.HprofAgent {
	agent := process.DefaultHprofAgent()
	agent.Depth = o.config.Depth
	agent.IntervalMs = o.config.IntervalMs
	agent.File = o.config.HprofOut
	return &agent
}

// runTarget runs the simulator once. A per-run timeout stops the run but is
// not an error; cancellation of ctx is.
func (o *Orchestrator) runTarget(ctx context.Context, index int, inv process.InvocationSpec) (*RunRecord, error) {
	cfg := o.config
	logger := o.logger.With("run", index+1, "instrumented", inv.Instrumented())
	logger.Info("target_starting", "command", inv.CommandString())

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	sup := supervisor.New(supervisor.Config{
		Runner:      inv,
		Logger:      logger,
		Stdin:       o.Stdin,
		Stdout:      o.Stdout,
		Stderr:      o.Stderr,
		StopTimeout: cfg.StopTimeout,
		Callbacks: supervisor.Callbacks{
			OnStateChange: func(from, to supervisor.State) {
				logger.Debug("target_state", "from", from.String(), "to", to.String())
			},
			OnExit: func(r supervisor.Result) {
				o.metrics.RecordRun(r.ExitCode, r.Duration, r.Stopped)
			},
		},
	})

	res, err := sup.Run(runCtx)
	if res == nil {
		return nil, err
	}

	record := &RunRecord{
		Index:        index,
		ExitCode:     res.ExitCode,
		Duration:     res.Duration,
		Instrumented: inv.Instrumented(),
		Stopped:      res.Stopped,
	}

	if err != nil {
		if ctx.Err() != nil {
			return record, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("target_timed_out", "timeout", cfg.Timeout.String())
			return record, nil
		}
		return record, err
	}

	if res.ExitCode != 0 {
		logger.Warn("target_exited_nonzero", "exit_code", res.ExitCode)
	}
	return record, nil
}

// convert renders the agent's profile. Tools are fetched on first use.
func (o *Orchestrator) convert(ctx context.Context, collapse, render tools.Tool) (convert.Artifacts, error) {
	cfg := o.config

	fetcher := &tools.Fetcher{
		Cloner:  o.Cloner,
		Logger:  o.logger,
		Timeout: cfg.ToolTimeout,
		OnFetch: o.metrics.RecordToolFetch,
	}

	var renderArgs []string
	if cfg.Title != "" {
		renderArgs = []string{"--title=" + cfg.Title}
	}

	pipeline := &convert.Pipeline{
		Collapse: &convert.ScriptStage{
			Tool:    collapse,
			Fetcher: fetcher,
			Logger:  o.logger,
			Verbose: cfg.Verbose,
			Timeout: cfg.ToolTimeout,
		},
		Render: &convert.ScriptStage{
			Tool:      render,
			Fetcher:   fetcher,
			ExtraArgs: renderArgs,
			Logger:    o.logger,
			Verbose:   cfg.Verbose,
			Timeout:   cfg.ToolTimeout,
		},
		CollapsedPath: cfg.CollapsedOut,
		GraphPath:     cfg.SVGOut,
		Logger:        o.logger,
		OnStage:       o.metrics.RecordStage,
	}

	artifacts, err := pipeline.Convert(ctx, cfg.HprofOut)
	if err != nil {
		return artifacts, fmt.Errorf("flame graph conversion: %w", err)
	}
	o.metrics.SetGraphBytes(artifacts.GraphBytes)
	return artifacts, nil
}
