package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const ruleWidth = 63

// Summary holds everything reported at program exit.
type Summary struct {
	RunID    string
	Duration time.Duration

	// Java is the runtime that ran the target; JavaVersion its major version.
	Java        string
	JavaVersion int
	Fallback    bool

	// Profiled is true when the sampling agent was attached; Degraded when
	// profiling was requested but the runtime could not support it.
	Profiled bool
	Degraded bool

	// ExitCode is the last target exit code; ExitCodes counts all of them.
	ExitCode  int
	ExitCodes map[int]int

	// Runs summarizes target wall times.
	Runs RunSummary

	// Graph is the flame graph path, empty when none was produced.
	Graph      string
	GraphBytes int64

	MetricsAddr string
	MetricsFile string
}

// FormatExitSummary formats the run summary for display at program exit.
func FormatExitSummary(s Summary) string {
	var b strings.Builder

	rule := ruleStyle.Render(strings.Repeat("═", ruleWidth))

	b.WriteString("\n")
	b.WriteString(rule + "\n")
	b.WriteString(titleStyle.Render("simprof exit summary") + "\n")
	b.WriteString(rule + "\n\n")

	field(&b, "Run ID", s.RunID)
	field(&b, "Total Duration", FormatDuration(s.Duration))

	java := s.Java
	if s.JavaVersion > 0 {
		java = fmt.Sprintf("%s (Java %d)", s.Java, s.JavaVersion)
	}
	if s.Fallback {
		java += " [fallback]"
	}
	field(&b, "Runtime", java)

	switch {
	case s.Profiled:
		field(&b, "Profiling", statusOK.Render("enabled"))
	case s.Degraded:
		field(&b, "Profiling", statusWarning.Render("degraded")+" (runtime lacks the sampling agent)")
	default:
		field(&b, "Profiling", "off")
	}
	field(&b, "Exit Code", exitStyle(s.ExitCode).Render(fmt.Sprintf("%d %s", s.ExitCode, exitCodeLabel(s.ExitCode))))
	b.WriteString("\n")

	if s.Runs.Count > 0 {
		section(&b, "Run Times")
		field(&b, "Runs", fmt.Sprintf("%d", s.Runs.Count))
		if s.Runs.Count == 1 {
			field(&b, "Wall Time", FormatMs(s.Runs.Max))
		} else {
			field(&b, "Min", FormatMs(s.Runs.Min))
			field(&b, "Mean", FormatMs(s.Runs.Mean))
			field(&b, "P50 (median)", FormatMs(s.Runs.P50))
			field(&b, "P95", FormatMs(s.Runs.P95))
			field(&b, "Max", FormatMs(s.Runs.Max))
		}
		b.WriteString("\n")
	}

	if len(s.ExitCodes) > 1 {
		section(&b, "Exit Codes")

		// Sort exit codes for consistent output
		codes := make([]int, 0, len(s.ExitCodes))
		for code := range s.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), s.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if s.Graph != "" {
		section(&b, "Output")
		field(&b, "Flame Graph", s.Graph)
		field(&b, "Size", FormatBytes(s.GraphBytes))
		b.WriteString("\n")
	}

	if s.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", s.MetricsAddr)
	}
	if s.MetricsFile != "" {
		fmt.Fprintf(&b, "Metrics written to: %s\n", s.MetricsFile)
	}

	b.WriteString(rule + "\n")

	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(sectionStyle.Render(title) + "\n")
	b.WriteString(ruleStyle.Render(strings.Repeat("─", ruleWidth)) + "\n")
}

func field(b *strings.Builder, label, value string) {
	b.WriteString("  " + labelStyle.Render(label+":") + value + "\n")
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
