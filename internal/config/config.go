// Package config provides configuration management for simprof.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration options for a profiling run.
type Config struct {
	// Target
	Jar       string   `yaml:"jar"`
	MainClass string   `yaml:"main_class"`
	Args      []string `yaml:"args"` // passed verbatim to the simulator

	// Profiling
	Profile      bool   `yaml:"profile"`
	Depth        int    `yaml:"depth"`
	IntervalMs   int    `yaml:"interval_ms"`
	Title        string `yaml:"title"`
	HprofOut     string `yaml:"hprof_out"`
	CollapsedOut string `yaml:"collapsed_out"`
	SVGOut       string `yaml:"svg_out"`

	// Runtime discovery
	Java            string   `yaml:"java"` // fallback when no candidate matches
	JavaCandidates  []string `yaml:"java_candidates"`
	RequiredVersion int      `yaml:"required_version"`

	// Conversion tools
	ToolsDir string `yaml:"tools_dir"`

	// Execution
	Runs         int           `yaml:"runs"`
	Timeout      time.Duration `yaml:"timeout"` // 0 = none
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"` // 0 = none
	StopTimeout  time.Duration `yaml:"stop_timeout"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"`
	MetricsFile string `yaml:"metrics_file"`
	Verbose     bool   `yaml:"verbose"`
	LogFormat   string `yaml:"log_format"` // json, text

	// Diagnostic modes
	PrintCmd      bool `yaml:"print_cmd"`
	SkipPreflight bool `yaml:"skip_preflight"`

	// Command line only
	ConfigFile  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// DefaultRequiredVersion is Java 8, the last runtime that ships the HPROF agent.
const DefaultRequiredVersion = 8

// DefaultJavaCandidates are probed in order when looking for a Java 8 runtime.
var DefaultJavaCandidates = []string{
	"/usr/lib/jvm/java-1.8.0/bin/java",
}

// DefaultConfig returns a Config with sensible defaults.
// The artifact and tool cache live next to the simprof executable.
func DefaultConfig() *Config {
	dir := InstallDir()

	return &Config{
		// Target
		Jar:       filepath.Join(dir, "benchmark.jar"),
		MainClass: "fsim.Benchmark",

		// Profiling
		Profile:      true,
		Depth:        100,
		IntervalMs:   20,
		HprofOut:     "out.hprof",
		CollapsedOut: "out-folded.txt",
		SVGOut:       "out.svg",

		// Runtime
		Java:            "java",
		JavaCandidates:  append([]string(nil), DefaultJavaCandidates...),
		RequiredVersion: DefaultRequiredVersion,

		// Tools
		ToolsDir: dir,

		// Execution
		Runs:         1,
		ProbeTimeout: 30 * time.Second,
		StopTimeout:  10 * time.Second,

		// Observability
		LogFormat: "json",
	}
}

// InstallDir returns the directory holding the running executable, with
// symlinks resolved. It falls back to the working directory.
func InstallDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
