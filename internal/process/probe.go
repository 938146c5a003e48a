package process

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// versionMarker precedes the quoted version in `java -version` output,
// e.g. `openjdk version "1.8.0_392"` or `java version "17.0.9" 2023-10-17`.
const versionMarker = `version "`

// DefaultProbeTimeout bounds a single `java -version` call.
const DefaultProbeTimeout = 30 * time.Second

// ParseError reports version output that carries no recognizable version.
type ParseError struct {
	// Output is the full captured stdout+stderr of the probe.
	Output string
}

func (e *ParseError) Error() string {
	return "unexpected java version output:\n" + e.Output
}

// VersionProber resolves the major version of a Java runtime.
type VersionProber interface {
	Probe(ctx context.Context, java string) (int, error)
}

// ExecProber probes by running `<java> -version`.
type ExecProber struct {
	// Timeout bounds each probe. Zero means DefaultProbeTimeout.
	Timeout time.Duration
}

// Probe runs the runtime with -version and parses the major version.
func (p ExecProber) Probe(ctx context.Context, java string) (int, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The JVM prints its version banner on stderr.
	output, err := exec.CommandContext(ctx, java, "-version").CombinedOutput()
	if err != nil && len(output) == 0 {
		return 0, fmt.Errorf("java -version failed for %s: %w", java, err)
	}

	return ParseMajorVersion(string(output))
}

// ParseMajorVersion extracts the major Java version from -version output.
// Legacy "1.x" versions report x, so "1.8.0_392" is 8 and "11.0.2" is 11.
func ParseMajorVersion(output string) (int, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, versionMarker)
		if idx < 0 {
			continue
		}

		quoted := line[idx+len(versionMarker):]
		if end := strings.IndexByte(quoted, '"'); end >= 0 {
			quoted = quoted[:end]
		}

		numbers := versionNumbers(quoted, 2)
		if len(numbers) == 0 {
			break
		}

		major := numbers[0]
		if major == 1 && len(numbers) > 1 {
			major = numbers[1]
		}
		if major <= 0 {
			break
		}
		return major, nil
	}

	return 0, &ParseError{Output: output}
}

// versionNumbers parses up to n leading dot-separated components, taking the
// leading digits of each ("0_392" is 0, "17-ea" is 17). It stops at the
// first component without digits.
func versionNumbers(version string, n int) []int {
	numbers := make([]int, 0, n)
	for _, part := range strings.SplitN(version, ".", n+1) {
		if len(numbers) == n {
			break
		}
		end := 0
		for end < len(part) && part[end] >= '0' && part[end] <= '9' {
			end++
		}
		v, err := strconv.Atoi(part[:end])
		if err != nil {
			break
		}
		numbers = append(numbers, v)
	}
	return numbers
}
