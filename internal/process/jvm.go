package process

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// HprofAgent describes the JVM's built-in HPROF CPU sampling agent.
// HPROF ships with Java 8 and was removed in Java 9.
type HprofAgent struct {
	// Depth is the maximum stack depth recorded per sample.
	Depth int

	// IntervalMs is the sampling interval in milliseconds.
	IntervalMs int

	// LineNumbers includes source line numbers in traces.
	LineNumbers bool

	// Threads includes thread information in traces.
	Threads bool

	// File is the output file, relative to the working directory.
	File string
}

// DefaultHprofAgent returns the sampling setup used for simulator benchmarks.
func DefaultHprofAgent() HprofAgent {
	return HprofAgent{
		Depth:       100,
		IntervalMs:  20,
		LineNumbers: true,
		Threads:     true,
		File:        "out.hprof",
	}
}

// Flag renders the agent as a single -agentlib JVM option.
func (a HprofAgent) Flag() string {
	opts := []string{
		"cpu=samples",
		"depth=" + strconv.Itoa(a.Depth),
		"interval=" + strconv.Itoa(a.IntervalMs),
		"lineno=" + yesNo(a.LineNumbers),
		"thread=" + yesNo(a.Threads),
		"file=" + a.File,
	}
	return "-agentlib:hprof=" + strings.Join(opts, ",")
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// InvocationSpec is the complete command line for one simulator run.
// Build it once per run and treat it as immutable.
type InvocationSpec struct {
	// Java is the runtime executable.
	Java string

	// Agent is the instrumentation flag, empty when not profiling.
	Agent string

	// ClassPath is the packaged simulator jar.
	ClassPath string

	// MainClass is the entry point inside ClassPath.
	MainClass string

	// Args are passed through to the simulator verbatim.
	Args []string
}

// NewInvocation builds an InvocationSpec. A nil agent runs uninstrumented.
func NewInvocation(java string, agent *HprofAgent, classPath, mainClass string, args []string) InvocationSpec {
	spec := InvocationSpec{
		Java:      java,
		ClassPath: classPath,
		MainClass: mainClass,
		Args:      append([]string(nil), args...),
	}
	if agent != nil {
		spec.Agent = agent.Flag()
	}
	return spec
}

// Instrumented reports whether the agent flag is attached.
func (s InvocationSpec) Instrumented() bool {
	return s.Agent != ""
}

// Argv returns the JVM arguments, excluding the runtime itself.
func (s InvocationSpec) Argv() []string {
	argv := make([]string, 0, len(s.Args)+4)
	if s.Agent != "" {
		argv = append(argv, s.Agent)
	}
	argv = append(argv, "-cp", s.ClassPath, s.MainClass)
	return append(argv, s.Args...)
}

// Name returns "java".
func (s InvocationSpec) Name() string {
	return "java"
}

// BuildCommand creates an exec.Cmd for the simulator run.
func (s InvocationSpec) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	if s.Java == "" {
		return nil, fmt.Errorf("no java runtime set")
	}
	return exec.CommandContext(ctx, s.Java, s.Argv()...), nil
}

// CommandString returns the command as a copy-pasteable shell string.
func (s InvocationSpec) CommandString() string {
	parts := make([]string, 0, len(s.Args)+5)
	parts = append(parts, shellQuote(s.Java))
	for _, arg := range s.Argv() {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// shellQuote quotes an argument if it contains shell metacharacters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}();<>|&~#") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}
