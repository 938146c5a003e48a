package config

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// listFlag is a comma-separated, repeatable string list. The first Set
// replaces the default list.
type listFlag struct {
	values *[]string
	set    bool
}

func (l *listFlag) String() string {
	if l.values == nil {
		return ""
	}
	return strings.Join(*l.values, ",")
}

func (l *listFlag) Set(value string) error {
	if !l.set {
		*l.values = nil
		l.set = true
	}
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l.values = append(*l.values, v)
		}
	}
	return nil
}

// ParseArgs parses command-line arguments and returns a Config.
//
// Flags stop at the first positional argument or "--"; everything from
// there on is passed to the simulator. With -config, the YAML file is laid
// over the defaults first and explicit flags override the file.
// Usage and parse errors are written to output.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := newFlagSet(cfg, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != "" {
		base := DefaultConfig()
		if err := LoadFile(cfg.ConfigFile, base); err != nil {
			return nil, err
		}
		fileArgs := base.Args

		// Second pass over the same arguments so explicit flags win.
		fs = newFlagSet(base, io.Discard)
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		cfg = base
		cfg.Args = fileArgs
	}

	if rest := fs.Args(); len(rest) > 0 {
		cfg.Args = append([]string(nil), rest...)
	}

	return cfg, nil
}

// newFlagSet binds every flag to cfg.
func newFlagSet(cfg *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("simprof", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprintf(w, `simprof - run the circuit simulator benchmark under a CPU sampling profiler

Usage:
  simprof [flags] [--] [simulator args...]

Target:
`)
		// Print flags by category
		printFlagCategory(fs, w, []string{"jar", "main-class", "runs", "timeout"})

		fmt.Fprintf(w, "\nProfiling:\n")
		printFlagCategory(fs, w, []string{"profile", "depth", "interval", "title", "hprof-out", "collapsed-out", "svg-out"})

		fmt.Fprintf(w, "\nRuntime Discovery:\n")
		printFlagCategory(fs, w, []string{"java", "java-candidates", "required-version", "probe-timeout"})

		fmt.Fprintf(w, "\nConversion Tools:\n")
		printFlagCategory(fs, w, []string{"tools-dir", "tool-timeout"})

		fmt.Fprintf(w, "\nObservability:\n")
		printFlagCategory(fs, w, []string{"metrics", "metrics-file", "v", "log-format"})

		fmt.Fprintf(w, "\nDiagnostics:\n")
		printFlagCategory(fs, w, []string{"config", "print-cmd", "skip-preflight", "stop-timeout", "version"})

		fmt.Fprintf(w, `
Examples:
  # Profile one simulation run, writing out.svg
  simprof -- -c gcd.fir -n 100000

  # Five plain runs with timing percentiles
  simprof -profile=false -runs 5 -- -c gcd.fir

  # Show the java command without running it
  simprof -print-cmd -- -c gcd.fir

`)
	}

	// Target
	fs.StringVar(&cfg.Jar, "jar", cfg.Jar, "Packaged simulator (benchmark.jar)")
	fs.StringVar(&cfg.MainClass, "main-class", cfg.MainClass, "Simulator entry point")
	fs.IntVar(&cfg.Runs, "runs", cfg.Runs, "Number of sequential target runs (only the first is profiled)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-run time limit (0 = none)")

	// Profiling
	fs.BoolVar(&cfg.Profile, "profile", cfg.Profile, "Attach the HPROF sampling agent and render a flame graph")
	fs.IntVar(&cfg.Depth, "depth", cfg.Depth, "Maximum sampled stack depth")
	fs.IntVar(&cfg.IntervalMs, "interval", cfg.IntervalMs, "Sampling interval in milliseconds")
	fs.StringVar(&cfg.Title, "title", cfg.Title, "Flame graph title")
	fs.StringVar(&cfg.HprofOut, "hprof-out", cfg.HprofOut, "Profile written by the agent")
	fs.StringVar(&cfg.CollapsedOut, "collapsed-out", cfg.CollapsedOut, "Intermediate collapsed stacks")
	fs.StringVar(&cfg.SVGOut, "svg-out", cfg.SVGOut, "Rendered flame graph")

	// Runtime
	fs.StringVar(&cfg.Java, "java", cfg.Java, "Fallback Java runtime when no candidate matches")
	fs.Var(&listFlag{values: &cfg.JavaCandidates}, "java-candidates", "Comma-separated runtimes to probe, in order (can repeat)")
	fs.IntVar(&cfg.RequiredVersion, "required-version", cfg.RequiredVersion, "Java major version that supports the agent")
	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Time limit for the java -version probe")

	// Tools
	fs.StringVar(&cfg.ToolsDir, "tools-dir", cfg.ToolsDir, "Cache directory for the conversion tool checkouts")
	fs.DurationVar(&cfg.ToolTimeout, "tool-timeout", cfg.ToolTimeout, "Time limit per git clone and conversion step (0 = none)")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address while running")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write a node_exporter textfile snapshot at exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)

	// Diagnostics
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file (flags override it)")
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the java command and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Grace period between SIGTERM and SIGKILL")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	return fs
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	type boolFlag interface{ IsBoolFlag() bool }
	if bf, ok := f.Value.(boolFlag); ok && bf.IsBoolFlag() {
		return ""
	}

	switch f.Value.(type) {
	case *listFlag:
		return "list"
	}

	// Infer type from default value format
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
			return "duration"
		}
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
