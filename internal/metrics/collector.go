// Package metrics provides Prometheus metrics for simprof.
//
// Every Collector owns a private registry, so metrics can be served live
// over HTTP while runs execute and written as a textfile snapshot at exit.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every simprof metric.
const Namespace = "simprof"

// Run result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSignal  = "signal"
	ResultStopped = "stopped"
)

// Stage durations are seconds to minutes; profile conversion of a long run
// can take a while.
var stageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Collector manages all Prometheus metrics for a simprof invocation.
type Collector struct {
	registry *prometheus.Registry

	info             *prometheus.GaugeVec
	javaVersion      prometheus.Gauge
	profilingEnabled prometheus.Gauge
	profilingDegrade prometheus.Gauge
	runsTotal        *prometheus.CounterVec
	runSeconds       prometheus.Histogram
	stageSeconds     *prometheus.HistogramVec
	stageFailures    *prometheus.CounterVec
	toolFetches      *prometheus.CounterVec
	graphBytes       prometheus.Gauge
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	// Version is the simprof build version.
	Version string

	// MainClass is the simulator entry point.
	MainClass string

	// RequiredJava is the runtime major version the sampling agent needs.
	RequiredJava int

	// RuntimeMetrics adds Go runtime and process collectors.
	RuntimeMetrics bool
}

// NewCollector creates a collector with its own registry.
func NewCollector(cfg CollectorConfig) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "info",
				Help:      "Information about the profiling run (value always 1)",
			},
			[]string{"version", "main_class", "required_java"},
		),
		javaVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "java_major_version",
			Help:      "Major version of the resolved Java runtime (0 = unknown)",
		}),
		profilingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "profiling_enabled",
			Help:      "1 when the sampling agent was attached to the target",
		}),
		profilingDegrade: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "profiling_degraded",
			Help:      "1 when profiling was requested but the runtime cannot support it",
		}),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "target_runs_total",
				Help:      "Target program runs by result",
			},
			[]string{"result"},
		),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "target_run_seconds",
			Help:      "Wall time of target program runs",
			Buckets:   stageBuckets,
		}),
		stageSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of orchestration stages",
				Buckets:   stageBuckets,
			},
			[]string{"stage"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "stage_failures_total",
				Help:      "Failed orchestration stages",
			},
			[]string{"stage"},
		),
		toolFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tool_fetches_total",
				Help:      "Conversion tool lookups by outcome (cached, cloned, failed)",
			},
			[]string{"tool", "outcome"},
		),
		graphBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "flamegraph_bytes",
			Help:      "Size of the rendered flame graph",
		}),
	}

	c.registry.MustRegister(
		c.info,
		c.javaVersion,
		c.profilingEnabled,
		c.profilingDegrade,
		c.runsTotal,
		c.runSeconds,
		c.stageSeconds,
		c.stageFailures,
		c.toolFetches,
		c.graphBytes,
	)

	if cfg.RuntimeMetrics {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c.info.WithLabelValues(cfg.Version, cfg.MainClass, strconv.Itoa(cfg.RequiredJava)).Set(1)

	return c
}

// Gatherer exposes the collector's registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// SetRuntime records the resolved runtime and whether the agent is attached.
func (c *Collector) SetRuntime(version int, profiled, degraded bool) {
	c.javaVersion.Set(float64(version))
	c.profilingEnabled.Set(boolToFloat(profiled))
	c.profilingDegrade.Set(boolToFloat(degraded))
}

// RecordRun records a finished target run.
func (c *Collector) RecordRun(exitCode int, d time.Duration, stopped bool) {
	c.runsTotal.WithLabelValues(RunResult(exitCode, stopped)).Inc()
	c.runSeconds.Observe(d.Seconds())
}

// RecordStage records one orchestration stage. A non-nil err counts as a failure.
func (c *Collector) RecordStage(stage string, d time.Duration, err error) {
	c.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		c.stageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordToolFetch records a tool lookup outcome.
func (c *Collector) RecordToolFetch(tool, outcome string) {
	c.toolFetches.WithLabelValues(tool, outcome).Inc()
}

// SetGraphBytes records the rendered flame graph size.
func (c *Collector) SetGraphBytes(n int64) {
	c.graphBytes.Set(float64(n))
}

// RunResult categorizes a target exit.
func RunResult(exitCode int, stopped bool) string {
	switch {
	case stopped:
		return ResultStopped
	case exitCode == 0:
		return ResultSuccess
	case exitCode > 128:
		return ResultSignal
	default:
		return ResultError
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
