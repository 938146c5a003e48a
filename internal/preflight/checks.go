// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/charmbracelet/lipgloss"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// MinAvailableMemory is the free memory below which the memory check warns.
// The simulator JVM plus HPROF bookkeeping comfortably fit in 1 GiB.
const MinAvailableMemory = 1 << 30

var (
	markPass = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Render("✓")
	markFail = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true).Render("✗")
	markWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Render("⚠")
)

// PreconditionError reports a required file that is missing before an
// operation that depends on it.
type PreconditionError struct {
	What string // e.g. "target artifact", "profile"
	Path string
	Hint string // optional remediation
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("%s not found: %s", e.What, e.Path)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// RequireFile returns a PreconditionError unless path is an existing regular file.
func RequireFile(what, path, hint string) error {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return &PreconditionError{What: what, Path: path, Hint: hint}
	}
	return nil
}

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool

	// Err is the first fatal precondition, nil when Passed.
	Err error
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := markPass
	if !c.Passed {
		status = markFail
	} else if c.Warning {
		status = markWarn
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options selects which checks apply to this run.
type Options struct {
	// ArtifactPath is the packaged simulator jar. Always required.
	ArtifactPath string

	// Profile enables the conversion tool interpreter checks.
	Profile bool

	// NeedClone is set when a tool cache directory is missing, so git
	// will be needed.
	NeedClone bool
}

// RunAll executes all preflight checks. Only the artifact check is fatal;
// the rest are advisory because profiling degrades gracefully.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}

	artifact := checkArtifact(opts.ArtifactPath)
	result.Checks = append(result.Checks, artifact)
	if !artifact.Passed {
		result.Passed = false
		result.Err = &PreconditionError{
			What: "target artifact",
			Path: opts.ArtifactPath,
			Hint: "did you run sbt assembly?",
		}
	}

	if opts.Profile {
		if opts.NeedClone {
			result.Checks = append(result.Checks, checkBinary("git", "needed to fetch conversion tools"))
		}
		result.Checks = append(result.Checks,
			checkBinary("python", "runs stackcollapse_hprof.py"),
			checkBinary("perl", "runs flamegraph.pl"),
		)
	}

	result.Checks = append(result.Checks, checkMemory(), checkCPUs())

	return result
}

// checkArtifact verifies the packaged simulator exists.
func checkArtifact(path string) Check {
	if err := RequireFile("target artifact", path, ""); err != nil {
		return Check{
			Name:    "target_artifact",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s", path),
		}
	}
	return Check{
		Name:    "target_artifact",
		Passed:  true,
		Message: path,
	}
}

// checkBinary looks a helper binary up in PATH. Missing helpers only warn.
func checkBinary(name, purpose string) Check {
	path, err := exec.LookPath(name)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("not found in PATH (%s)", purpose),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: "found at " + path,
	}
}

// checkMemory warns when little memory is available for the JVM.
func checkMemory() Check {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Check{
			Name:    "memory",
			Passed:  true,
			Warning: true,
			Message: "unable to read memory stats",
		}
	}

	const mib = 1 << 20
	return Check{
		Name:     "memory_mib",
		Required: MinAvailableMemory / mib,
		Actual:   int(vm.Available / mib),
		Passed:   true,
		Warning:  vm.Available < MinAvailableMemory,
	}
}

// checkCPUs reports logical CPUs; sampling results on a single core are noisy.
func checkCPUs() Check {
	n, err := cpu.Counts(true)
	if err != nil || n == 0 {
		return Check{
			Name:    "cpus",
			Passed:  true,
			Warning: true,
			Message: "unable to determine CPU count",
		}
	}
	return Check{
		Name:    "cpus",
		Passed:  true,
		Warning: n < 2,
		Message: fmt.Sprintf("%d logical", n),
	}
}

// PrintResults writes the preflight check results.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			if fix := suggestFix(check.Name); fix != "" {
				fmt.Fprintf(w, "    Fix: %s\n", fix)
			}
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "target_artifact":
		return "build the benchmark jar first (sbt assembly)"
	case "git":
		return "install git (apt install git / brew install git)"
	case "python":
		return "install python (apt install python-is-python3)"
	case "perl":
		return "install perl (apt install perl)"
	default:
		return ""
	}
}
