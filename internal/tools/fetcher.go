// Package tools fetches the external profile conversion scripts into a
// local cache directory.
package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/simprof/internal/logging"
)

// Upstream repositories for the conversion scripts.
const (
	CollapseRepo = "https://github.com/cykl/hprof2flamegraph.git"
	RenderRepo   = "https://github.com/brendangregg/FlameGraph.git"
)

// Fetch outcomes reported to OnFetch.
const (
	OutcomeCached = "cached"
	OutcomeCloned = "cloned"
	OutcomeFailed = "failed"
)

// Tool is an external script shipped in a git repository.
type Tool struct {
	// Name identifies the tool in logs and metrics.
	Name string

	// Repo is the clone URL.
	Repo string

	// Dir is the local checkout. Its presence means the tool is cached.
	Dir string

	// Script is the entry point, relative to Dir.
	Script string
}

// ScriptPath returns the absolute script location inside the checkout.
func (t Tool) ScriptPath() string {
	return filepath.Join(t.Dir, t.Script)
}

// DefaultTools returns the collapse and render tools checked out under
// cacheDir, using the repositories' default clone directory names.
func DefaultTools(cacheDir string) (collapse, render Tool) {
	collapse = Tool{
		Name:   "stackcollapse",
		Repo:   CollapseRepo,
		Dir:    filepath.Join(cacheDir, "hprof2flamegraph"),
		Script: "stackcollapse_hprof.py",
	}
	render = Tool{
		Name:   "flamegraph",
		Repo:   RenderRepo,
		Dir:    filepath.Join(cacheDir, "FlameGraph"),
		Script: "flamegraph.pl",
	}
	return collapse, render
}

// RetrievalError reports a tool that could not be made available locally.
type RetrievalError struct {
	Tool string
	Repo string
	Err  error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("fetch %s from %s: %v", e.Tool, e.Repo, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Cloner populates dir with a checkout of repo. dir exists and is empty.
type Cloner interface {
	Clone(ctx context.Context, repo, dir string) error
}

// Fetcher makes tools available, cloning on first use.
// There is no staleness check: an existing checkout is used as is.
type Fetcher struct {
	Cloner Cloner
	Logger *slog.Logger

	// Timeout bounds a single clone. Zero means no limit.
	Timeout time.Duration

	// OnFetch, if set, is called once per Ensure with one of the Outcome values.
	OnFetch func(tool, outcome string)

	mu sync.Mutex
}

// Cached reports whether the tool's checkout already exists.
func Cached(tool Tool) bool {
	info, err := os.Stat(tool.Dir)
	return err == nil && info.IsDir()
}

// Ensure returns the tool's checkout directory, cloning it if absent.
// Failures are returned as *RetrievalError and are not retried.
func (f *Fetcher) Ensure(ctx context.Context, tool Tool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	logger := f.logger().With("tool", tool.Name)

	info, err := os.Stat(tool.Dir)
	switch {
	case err == nil && info.IsDir():
		logger.Debug("tool_cached", "dir", tool.Dir)
		f.report(tool, OutcomeCached)
		return tool.Dir, nil
	case err == nil:
		return "", f.fail(tool, fmt.Errorf("%s exists and is not a directory", tool.Dir))
	case !errors.Is(err, os.ErrNotExist):
		return "", f.fail(tool, err)
	}

	logger.Info("tool_cloning", "repo", tool.Repo, "dir", tool.Dir)
	start := time.Now()

	if err := f.clone(ctx, tool); err != nil {
		return "", f.fail(tool, err)
	}

	if !Cached(tool) {
		return "", f.fail(tool, fmt.Errorf("%s missing after clone", tool.Dir))
	}

	logger.Info("tool_cloned",
		"dir", tool.Dir,
		"duration", time.Since(start).String(),
	)
	f.report(tool, OutcomeCloned)
	return tool.Dir, nil
}

// clone checks the repository out into a sibling temp directory and renames
// it into place, so an interrupted clone never looks like a cached tool.
func (f *Fetcher) clone(ctx context.Context, tool Tool) error {
	if f.Cloner == nil {
		return errors.New("no cloner configured")
	}

	parent := filepath.Dir(tool.Dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(tool.Dir)+"-")
	if err != nil {
		return fmt.Errorf("create temp checkout: %w", err)
	}
	defer os.RemoveAll(tmp)

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	if err := f.Cloner.Clone(ctx, tool.Repo, tmp); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return os.Rename(tmp, tool.Dir)
}

// Script ensures the tool is present and returns its entry point path.
func (f *Fetcher) Script(ctx context.Context, tool Tool) (string, error) {
	if _, err := f.Ensure(ctx, tool); err != nil {
		return "", err
	}

	path := tool.ScriptPath()
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", &RetrievalError{
			Tool: tool.Name,
			Repo: tool.Repo,
			Err:  fmt.Errorf("script %s not found in checkout", tool.Script),
		}
	}
	return path, nil
}

func (f *Fetcher) fail(tool Tool, err error) error {
	f.logger().Error("tool_fetch_failed",
		"tool", tool.Name,
		"repo", tool.Repo,
		"error", err,
	)
	f.report(tool, OutcomeFailed)
	return &RetrievalError{Tool: tool.Name, Repo: tool.Repo, Err: err}
}

func (f *Fetcher) report(tool Tool, outcome string) {
	if f.OnFetch != nil {
		f.OnFetch(tool.Name, outcome)
	}
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// GitCloner clones with the git command line client.
type GitCloner struct {
	// Git is the git executable. Empty means "git" from PATH.
	Git string

	Logger  *slog.Logger
	Verbose bool
}

// Clone runs `git clone <repo> <dir>`. git's stderr is logged line by line
// and the tail is attached to the error on failure.
func (g GitCloner) Clone(ctx context.Context, repo, dir string) error {
	git := g.Git
	if git == "" {
		git = "git"
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := logging.NewLineHandler("git", logger, g.Verbose)

	cmd := exec.CommandContext(ctx, git, "clone", repo, dir)
	cmd.Stdout = io.Discard
	cmd.Stderr = handler
	// Never block on a credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	err := cmd.Run()
	handler.Flush()
	if err != nil {
		logger.Warn("git_clone_failed",
			"repo", repo,
			"error", err,
			"stderr_lines", handler.Lines(),
			"error_patterns", handler.CountErrors(),
		)
		if tail := handler.RecentLines(5); len(tail) > 0 {
			return fmt.Errorf("git clone: %w: %s", err, strings.Join(tail, "; "))
		}
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}
