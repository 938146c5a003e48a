// Package convert turns a raw HPROF CPU profile into a flame graph by
// running the collapse and render scripts in sequence.
package convert

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
	"time"

	"github.com/randomizedcoder/simprof/internal/logging"
	"github.com/randomizedcoder/simprof/internal/preflight"
	"github.com/randomizedcoder/simprof/internal/tools"
)

// Default artifact names, relative to the working directory.
const (
	DefaultCollapsedPath = "out-folded.txt"
	DefaultGraphPath     = "out.svg"
)

// Stage is one conversion step. It reads the file at input and writes its
// result to out.
type Stage interface {
	Name() string
	Run(ctx context.Context, input string, out io.Writer) error
}

// Preparer is implemented by stages that need something in place before
// their output file is created.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// ScriptStage runs a fetched tool script as `<script> [ExtraArgs...] <input>`.
type ScriptStage struct {
	Tool      tools.Tool
	Fetcher   *tools.Fetcher
	ExtraArgs []string
	Logger    *slog.Logger
	Verbose   bool

	// Timeout bounds the script run, not the fetch. Zero means none.
	Timeout time.Duration

	script string
}

// Name returns the tool name.
func (s *ScriptStage) Name() string {
	return s.Tool.Name
}

// Prepare resolves the script, fetching it if needed.
func (s *ScriptStage) Prepare(ctx context.Context) error {
	if s.script != "" {
		return nil
	}
	script, err := s.Fetcher.Script(ctx, s.Tool)
	if err != nil {
		return err
	}
	s.script = script
	return nil
}

// Run executes the script with the absolute input path. Script stderr is
// logged line by line.
func (s *ScriptStage) Run(ctx context.Context, input string, out io.Writer) error {
	if err := s.Prepare(ctx); err != nil {
		return err
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", input, err)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := logging.NewLineHandler(s.Tool.Name, logger, s.Verbose)

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), s.ExtraArgs...), abs)
	cmd := exec.CommandContext(ctx, s.script, args...)
	cmd.Stdout = out
	cmd.Stderr = handler

	err = cmd.Run()
	handler.Flush()
	if err != nil {
		logger.Warn("script_failed",
			"tool", s.Tool.Name,
			"error", err,
			"stderr_lines", handler.Lines(),
			"error_patterns", handler.CountErrors(),
		)
		if tail := handler.RecentLines(3); len(tail) > 0 {
			return fmt.Errorf("%s: %w: %s", s.Tool.Name, err, strings.Join(tail, "; "))
		}
		return fmt.Errorf("%s: %w", s.Tool.Name, err)
	}
	return nil
}

// Artifacts lists the files a successful conversion leaves behind.
type Artifacts struct {
	// Graph is the rendered flame graph.
	Graph string

	// GraphBytes is the size of Graph.
	GraphBytes int64
}

// Pipeline converts a profile into a flame graph: profile to collapsed
// stacks, collapsed stacks to SVG.
type Pipeline struct {
	Collapse Stage
	Render   Stage

	// CollapsedPath and GraphPath default to DefaultCollapsedPath and
	// DefaultGraphPath.
	CollapsedPath string
	GraphPath     string

	Logger *slog.Logger

	// OnStage, if set, is called after every stage with its outcome.
	OnStage func(stage string, duration time.Duration, err error)
}

// Convert runs both stages. On success the collapsed intermediate and the
// profile itself are removed and only the graph remains. On failure every
// file produced so far is left in place for inspection.
func (p *Pipeline) Convert(ctx context.Context, profile string) (Artifacts, error) {
	if err := preflight.RequireFile("profile", profile, "was the sampling agent loaded?"); err != nil {
		return Artifacts{}, err
	}

	collapsed := p.CollapsedPath
	if collapsed == "" {
		collapsed = DefaultCollapsedPath
	}
	graph := p.GraphPath
	if graph == "" {
		graph = DefaultGraphPath
	}

	if err := p.runStage(ctx, p.Collapse, profile, collapsed); err != nil {
		return Artifacts{}, err
	}
	if err := p.runStage(ctx, p.Render, collapsed, graph); err != nil {
		return Artifacts{}, err
	}

	info, err := os.Stat(graph)
	if err != nil {
		return Artifacts{}, fmt.Errorf("stat %s: %w", graph, err)
	}

	var cleanupErrs []error
	for _, path := range []string{collapsed, profile} {
		if err := os.Remove(path); err != nil {
			cleanupErrs = append(cleanupErrs, err)
		}
	}
	if err := errors.Join(cleanupErrs...); err != nil {
		return Artifacts{}, fmt.Errorf("cleanup: %w", err)
	}

	p.logger().Info("conversion_completed",
		"graph", graph,
		"bytes", info.Size(),
	)
	return Artifacts{Graph: graph, GraphBytes: info.Size()}, nil
}

// runStage runs stage with stdout redirected into output, then checks that
// output exists.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, input, output string) error {
	logger := p.logger().With("stage", stage.Name())
	logger.Debug("stage_starting", "input", input, "output", output)
	start := time.Now()

	err := p.writeStage(ctx, stage, input, output)
	if err == nil {
		if _, statErr := os.Stat(output); statErr != nil {
			err = fmt.Errorf("%s produced no output: %w", stage.Name(), statErr)
		}
	}

	duration := time.Since(start)
	if p.OnStage != nil {
		p.OnStage(stage.Name(), duration, err)
	}
	if err != nil {
		logger.Error("stage_failed", "error", err, "duration", duration.String())
		return fmt.Errorf("convert stage %s: %w", stage.Name(), err)
	}

	logger.Info("stage_completed", "output", output, "duration", duration.String())
	return nil
}

// writeStage prepares stage before creating output, so a stage that cannot
// start leaves no empty file behind.
func (p *Pipeline) writeStage(ctx context.Context, stage Stage, input, output string) error {
	if prep, ok := stage.(Preparer); ok {
		if err := prep.Prepare(ctx); err != nil {
			return err
		}
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	runErr := stage.Run(ctx, input, f)
	closeErr := f.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
