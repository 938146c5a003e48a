package tools

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/simprof/internal/logging"
)

// mockCloner writes the tool's script into the target directory.
type mockCloner struct {
	script string
	err    error
	calls  []string
}

func (m *mockCloner) Clone(ctx context.Context, repo, dir string) error {
	m.calls = append(m.calls, repo)
	if m.err != nil {
		return m.err
	}
	if m.script == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(dir, m.script), []byte("#!/bin/sh\n"), 0o755)
}

func testTool(t *testing.T) Tool {
	t.Helper()
	return Tool{
		Name:   "flamegraph",
		Repo:   RenderRepo,
		Dir:    filepath.Join(t.TempDir(), "cache", "FlameGraph"),
		Script: "flamegraph.pl",
	}
}

func newTestFetcher(c Cloner) (*Fetcher, *[]string) {
	var outcomes []string
	f := &Fetcher{
		Cloner: c,
		Logger: logging.NewLoggerWithWriter(io.Discard, "text", "debug"),
		OnFetch: func(tool, outcome string) {
			outcomes = append(outcomes, outcome)
		},
	}
	return f, &outcomes
}

func TestDefaultTools(t *testing.T) {
	collapse, render := DefaultTools("/opt/simprof")

	if collapse.Repo != CollapseRepo || render.Repo != RenderRepo {
		t.Errorf("repos = %q, %q", collapse.Repo, render.Repo)
	}
	if got := collapse.ScriptPath(); got != "/opt/simprof/hprof2flamegraph/stackcollapse_hprof.py" {
		t.Errorf("collapse script = %q", got)
	}
	if got := render.ScriptPath(); got != "/opt/simprof/FlameGraph/flamegraph.pl" {
		t.Errorf("render script = %q", got)
	}
}

func TestFetcher_Ensure_ClonesOnce(t *testing.T) {
	tool := testTool(t)
	cloner := &mockCloner{script: tool.Script}
	f, outcomes := newTestFetcher(cloner)

	dir, err := f.Ensure(context.Background(), tool)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if dir != tool.Dir {
		t.Errorf("dir = %q, want %q", dir, tool.Dir)
	}
	if !Cached(tool) {
		t.Error("tool should be cached after clone")
	}

	// Second call must use the cache.
	if _, err := f.Ensure(context.Background(), tool); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if len(cloner.calls) != 1 {
		t.Errorf("clone calls = %d, want 1", len(cloner.calls))
	}
	if strings.Join(*outcomes, ",") != "cloned,cached" {
		t.Errorf("outcomes = %v, want [cloned cached]", *outcomes)
	}
}

func TestFetcher_Ensure_ExistingDirNeverClones(t *testing.T) {
	tool := testTool(t)
	if err := os.MkdirAll(tool.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	cloner := &mockCloner{err: errors.New("network down")}
	f, _ := newTestFetcher(cloner)

	if _, err := f.Ensure(context.Background(), tool); err != nil {
		t.Fatalf("Ensure with cached dir: %v", err)
	}
	if len(cloner.calls) != 0 {
		t.Errorf("cloner was called for a cached tool: %v", cloner.calls)
	}
}

func TestFetcher_Ensure_Failures(t *testing.T) {
	testCases := []struct {
		name   string
		setup  func(t *testing.T, tool Tool)
		cloner Cloner
	}{
		{
			name:   "clone_error",
			cloner: &mockCloner{err: errors.New("could not resolve host")},
		},
		{
			name:   "no_cloner",
			cloner: nil,
		},
		{
			name: "path_is_file",
			setup: func(t *testing.T, tool Tool) {
				if err := os.MkdirAll(filepath.Dir(tool.Dir), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(tool.Dir, nil, 0o644); err != nil {
					t.Fatal(err)
				}
			},
			cloner: &mockCloner{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tool := testTool(t)
			if tc.setup != nil {
				tc.setup(t, tool)
			}
			f, outcomes := newTestFetcher(tc.cloner)

			_, err := f.Ensure(context.Background(), tool)

			var re *RetrievalError
			if !errors.As(err, &re) {
				t.Fatalf("expected *RetrievalError, got %v", err)
			}
			if re.Tool != tool.Name || re.Repo != tool.Repo {
				t.Errorf("RetrievalError = %+v", re)
			}
			if len(*outcomes) != 1 || (*outcomes)[0] != OutcomeFailed {
				t.Errorf("outcomes = %v, want [failed]", *outcomes)
			}
		})
	}
}

func TestFetcher_Ensure_FailedCloneLeavesNoCache(t *testing.T) {
	tool := testTool(t)
	cloner := &mockCloner{script: tool.Script, err: errors.New("interrupted")}
	f, _ := newTestFetcher(cloner)

	if _, err := f.Ensure(context.Background(), tool); err == nil {
		t.Fatal("expected error")
	}
	if Cached(tool) {
		t.Error("failed clone must not leave a cached directory")
	}
	entries, err := os.ReadDir(filepath.Dir(tool.Dir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp checkout left behind: %v", entries)
	}
}

func TestFetcher_Script(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		tool := testTool(t)
		f, _ := newTestFetcher(&mockCloner{script: tool.Script})

		path, err := f.Script(context.Background(), tool)
		if err != nil {
			t.Fatalf("Script: %v", err)
		}
		if path != tool.ScriptPath() {
			t.Errorf("path = %q, want %q", path, tool.ScriptPath())
		}
	})

	t.Run("missing_in_checkout", func(t *testing.T) {
		tool := testTool(t)
		f, _ := newTestFetcher(&mockCloner{})

		_, err := f.Script(context.Background(), tool)
		var re *RetrievalError
		if !errors.As(err, &re) {
			t.Fatalf("expected *RetrievalError, got %v", err)
		}
		if !strings.Contains(err.Error(), tool.Script) {
			t.Errorf("error should name the script: %v", err)
		}
	})
}

// writeFakeGit writes a git stand-in that honours `git clone <repo> <dir>`.
func writeFakeGit(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "git")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGitCloner_Clone(t *testing.T) {
	logger := logging.NewLoggerWithWriter(io.Discard, "text", "debug")

	t.Run("success", func(t *testing.T) {
		git := writeFakeGit(t, `[ "$1" = clone ] || exit 9
echo "Cloning into '$3'..." >&2
touch "$3/flamegraph.pl"`)
		dir := t.TempDir()

		err := GitCloner{Git: git, Logger: logger}.Clone(context.Background(), RenderRepo, dir)
		if err != nil {
			t.Fatalf("Clone: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "flamegraph.pl")); err != nil {
			t.Errorf("clone did not populate dir: %v", err)
		}
	})

	t.Run("failure_carries_stderr", func(t *testing.T) {
		git := writeFakeGit(t, `echo "fatal: unable to access '$2': Could not resolve host" >&2
exit 128`)

		var logs strings.Builder
		cloner := GitCloner{Git: git, Logger: logging.NewLoggerWithWriter(&logs, "text", "debug")}
		err := cloner.Clone(context.Background(), RenderRepo, t.TempDir())
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "Could not resolve host") {
			t.Errorf("error should carry git stderr: %v", err)
		}
		for _, want := range []string{"msg=git_clone_failed", "stderr_lines=1", "fatal::1", "Could not resolve host:1"} {
			if !strings.Contains(logs.String(), want) {
				t.Errorf("logs missing %q:\n%s", want, logs.String())
			}
		}
	})

	t.Run("no_prompt", func(t *testing.T) {
		git := writeFakeGit(t, `[ "$GIT_TERMINAL_PROMPT" = 0 ] || exit 1`)
		if err := (GitCloner{Git: git, Logger: logger}).Clone(context.Background(), RenderRepo, t.TempDir()); err != nil {
			t.Errorf("GIT_TERMINAL_PROMPT not disabled: %v", err)
		}
	})
}

func TestFetcher_WithGitCloner_Timeout(t *testing.T) {
	tool := testTool(t)
	git := writeFakeGit(t, "exec sleep 5")
	f := &Fetcher{
		Cloner:  GitCloner{Git: git, Logger: logging.NewLoggerWithWriter(io.Discard, "text", "error")},
		Logger:  logging.NewLoggerWithWriter(io.Discard, "text", "error"),
		Timeout: 100 * time.Millisecond,
	}

	start := time.Now()
	_, err := f.Ensure(context.Background(), tool)
	var re *RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RetrievalError, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("clone timeout not honoured, took %v", time.Since(start))
	}
	if Cached(tool) {
		t.Error("timed out clone must not be cached")
	}
}
