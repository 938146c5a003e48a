package process

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultJava is the runtime name used when no candidate matches.
// exec resolves it through PATH.
const DefaultJava = "java"

// Resolution is the outcome of a runtime search.
type Resolution struct {
	// Path is the runtime to execute: an absolute candidate path on a match,
	// or the fallback name otherwise.
	Path string

	// Version is the probed major version of a matched candidate.
	// Zero when Fallback is set; the caller probes the fallback itself.
	Version int

	// Fallback is true when no candidate matched the required version.
	Fallback bool
}

// Locator finds a Java runtime with a specific major version.
type Locator struct {
	// Candidates are checked in order; the first match wins.
	Candidates []string

	// Required is the major version to look for.
	Required int

	// Fallback is returned when nothing matches. Empty means DefaultJava.
	Fallback string

	Prober VersionProber
	Logger *slog.Logger
}

// Locate walks the candidates and returns the first whose version equals
// Required. It never fails: with no match it returns the fallback runtime
// marked as such.
func (l *Locator) Locate(ctx context.Context) Resolution {
	for _, candidate := range l.Candidates {
		path, ok := l.check(candidate)
		if !ok {
			continue
		}

		version, err := l.Prober.Probe(ctx, path)
		if err != nil {
			l.Logger.Warn("runtime_candidate_probe_failed", "path", path, "error", err)
			continue
		}

		if version == l.Required {
			l.Logger.Info("runtime_candidate_matched", "path", path, "version", version)
			return Resolution{Path: path, Version: version}
		}

		l.Logger.Info("runtime_candidate_mismatch",
			"path", path,
			"version", version,
			"required", l.Required,
		)
	}

	fallback := l.Fallback
	if fallback == "" {
		fallback = DefaultJava
	}
	l.Logger.Info("runtime_fallback", "runtime", fallback, "required", l.Required)
	return Resolution{Path: fallback, Fallback: true}
}

// check resolves a candidate to a clean absolute path and verifies it is a
// regular file. Missing candidates are expected on most machines.
func (l *Locator) check(candidate string) (string, bool) {
	path, err := filepath.Abs(candidate)
	if err != nil {
		l.Logger.Info("runtime_candidate_missing", "path", candidate, "error", err)
		return "", false
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		l.Logger.Info("runtime_candidate_missing", "path", path, "reason", "does not exist")
		return "", false
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		l.Logger.Info("runtime_candidate_missing", "path", resolved, "reason", "not a regular file")
		return "", false
	}

	return resolved, true
}
