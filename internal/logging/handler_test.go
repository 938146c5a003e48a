package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestHandler(verbose bool) (*LineHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", "debug")
	return NewLineHandler("git", logger, verbose), &buf
}

func TestLineHandler_HandleLine(t *testing.T) {
	h, _ := newTestHandler(true)

	h.HandleLine("Cloning into 'FlameGraph'...")

	lines := h.RecentLines(1)
	if len(lines) != 1 || lines[0] != "Cloning into 'FlameGraph'..." {
		t.Errorf("RecentLines(1) = %v", lines)
	}
	if h.Lines() != 1 {
		t.Errorf("Lines() = %d, want 1", h.Lines())
	}
}

func TestLineHandler_Truncation(t *testing.T) {
	h, _ := newTestHandler(true)

	h.HandleLine(strings.Repeat("x", MaxLineLength+100))

	lines := h.RecentLines(1)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "...(truncated)") {
		t.Error("Truncated line should end with '...(truncated)'")
	}
}

func TestLineHandler_RecentLines(t *testing.T) {
	h, _ := newTestHandler(false)

	for i := 0; i < 5; i++ {
		h.HandleLine("line" + string(rune('0'+i)))
	}

	lines := h.RecentLines(3)
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "line2" || lines[1] != "line3" || lines[2] != "line4" {
		t.Errorf("Unexpected lines: %v", lines)
	}

	if got := len(h.RecentLines(MaxBufferedLines + 10)); got != 5 {
		t.Errorf("RecentLines(oversized) = %d lines, want 5", got)
	}
}

func TestLineHandler_CircularBuffer(t *testing.T) {
	h, _ := newTestHandler(false)

	for i := 0; i < MaxBufferedLines+50; i++ {
		h.HandleLine("x" + strings.Repeat("y", i))
	}

	if got := len(h.RecentLines(MaxBufferedLines + 10)); got != MaxBufferedLines {
		t.Errorf("Got %d lines, want %d", got, MaxBufferedLines)
	}
	if h.Lines() != MaxBufferedLines+50 {
		t.Errorf("Lines() = %d, want %d", h.Lines(), MaxBufferedLines+50)
	}
}

func TestLineHandler_ClassifyLine(t *testing.T) {
	h, _ := newTestHandler(true)

	testCases := []struct {
		line     string
		expected slog.Level
	}{
		{"fatal: unable to access 'https://github.com/x.git/'", slog.LevelWarn},
		{"Traceback (most recent call last):", slog.LevelWarn},
		{"Exception in thread \"main\" java.lang.Error", slog.LevelWarn},
		{"Can't open out-folded.txt", slog.LevelWarn},
		{"warning: redirecting to https://github.com/x.git/", slog.LevelWarn},
		{"Cloning into 'hprof2flamegraph'...", slog.LevelDebug},
		{"Receiving objects: 100% (12/12)", slog.LevelDebug},
	}

	for _, tc := range testCases {
		t.Run(tc.line[:min(20, len(tc.line))], func(t *testing.T) {
			if level := h.classifyLine(tc.line); level != tc.expected {
				t.Errorf("classifyLine(%q) = %v, want %v", tc.line, level, tc.expected)
			}
		})
	}
}

func TestLineHandler_Verbosity(t *testing.T) {
	t.Run("verbose_logs_progress", func(t *testing.T) {
		h, buf := newTestHandler(true)
		h.HandleLine("Receiving objects: 50%")
		if !strings.Contains(buf.String(), "Receiving objects") {
			t.Error("Verbose mode should log debug lines")
		}
	})

	t.Run("quiet_skips_progress", func(t *testing.T) {
		h, buf := newTestHandler(false)
		h.HandleLine("Receiving objects: 50%")
		if buf.Len() != 0 {
			t.Errorf("Non-verbose mode logged progress: %s", buf.String())
		}
	})

	t.Run("quiet_logs_failures", func(t *testing.T) {
		h, buf := newTestHandler(false)
		h.HandleLine("fatal: repository not found")
		if !strings.Contains(buf.String(), "repository not found") {
			t.Error("Non-verbose mode should still log failures")
		}
		if !strings.Contains(buf.String(), "source=git") {
			t.Errorf("Expected source attr, got: %s", buf.String())
		}
	})
}

func TestLineHandler_Write(t *testing.T) {
	h, _ := newTestHandler(false)

	// A line split across writes must come out whole.
	h.Write([]byte("first line\nsec"))
	h.Write([]byte("ond line\r\nthi"))
	if got := h.RecentLines(10); len(got) != 2 || got[1] != "second line" {
		t.Fatalf("after writes RecentLines = %v", got)
	}

	h.Flush()
	got := h.RecentLines(10)
	if len(got) != 3 || got[2] != "thi" {
		t.Errorf("after Flush RecentLines = %v", got)
	}
}

func TestLineHandler_WriteCapsUnterminatedLine(t *testing.T) {
	h, _ := newTestHandler(false)

	chunk := []byte(strings.Repeat("z", MaxLineLength))
	for i := 0; i < 10; i++ {
		h.Write(chunk)
	}

	h.mu.Lock()
	held := len(h.partial)
	h.mu.Unlock()
	if held > MaxLineLength+1 {
		t.Errorf("partial line holds %d bytes, want at most %d", held, MaxLineLength+1)
	}

	h.Write([]byte("\n"))
	lines := h.RecentLines(1)
	if len(lines) != 1 {
		t.Fatalf("RecentLines = %d lines, want 1", len(lines))
	}
	if want := MaxLineLength + len("...(truncated)"); len(lines[0]) != want || !strings.HasSuffix(lines[0], "...(truncated)") {
		t.Errorf("line length = %d, want %d with truncation marker", len(lines[0]), want)
	}
}

func TestLineHandler_CountErrors(t *testing.T) {
	h, _ := newTestHandler(false)

	h.HandleLine("fatal: could not read Username")
	h.HandleLine("fatal: Could not resolve host: github.com")
	h.HandleLine("Traceback (most recent call last):")
	h.HandleLine("normal line")

	counts := h.CountErrors()
	if counts["fatal:"] != 2 {
		t.Errorf("fatal: count = %d, want 2", counts["fatal:"])
	}
	if counts["Could not resolve host"] != 1 {
		t.Errorf("resolve count = %d, want 1", counts["Could not resolve host"])
	}
	if counts["Traceback"] != 1 {
		t.Errorf("Traceback count = %d, want 1", counts["Traceback"])
	}
}

func TestLineHandler_Concurrent(t *testing.T) {
	h, _ := newTestHandler(false)
	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			h.HandleLine("concurrent line")
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = h.RecentLines(10)
			_ = h.CountErrors()
		}
		done <- true
	}()

	<-done
	<-done
}
