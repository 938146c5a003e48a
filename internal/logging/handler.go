package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per child process.
	MaxBufferedLines = 100
)

// LineHandler consumes the stderr of a child process (git, the conversion
// scripts). It keeps the most recent lines so failures can quote them, and
// forwards each line to the logger at a level derived from its content.
type LineHandler struct {
	source  string
	logger  *slog.Logger
	verbose bool

	buffer  []string
	bufIdx  int
	total   int
	partial string
	mu      sync.Mutex
}

// NewLineHandler creates a handler for the named child process.
func NewLineHandler(source string, logger *slog.Logger, verbose bool) *LineHandler {
	return &LineHandler{
		source:  source,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// Write implements io.Writer so the handler can be used as cmd.Stderr.
// A trailing partial line is held until the next newline or Flush. Past
// MaxLineLength the rest of the line is dropped and HandleLine marks it
// truncated.
func (h *LineHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	data := h.partial + string(p)
	h.partial = ""
	idx := strings.LastIndexByte(data, '\n')
	if idx < len(data)-1 {
		h.partial = data[idx+1:]
		if len(h.partial) > MaxLineLength {
			h.partial = h.partial[:MaxLineLength+1]
		}
	}
	h.mu.Unlock()

	if idx < 0 {
		return len(p), nil
	}
	for _, line := range strings.Split(data[:idx], "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			h.HandleLine(line)
		}
	}
	return len(p), nil
}

// Flush handles any buffered partial line. Call it after the child exits.
func (h *LineHandler) Flush() {
	h.mu.Lock()
	line := h.partial
	h.partial = ""
	h.mu.Unlock()

	if line != "" {
		h.HandleLine(line)
	}
}

// HandleLine processes a single line of stderr output.
func (h *LineHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.mu.Unlock()

	h.logLine(line)
}

// logLine logs the line at a level based on its content.
func (h *LineHandler) logLine(line string) {
	level := h.classifyLine(line)

	// Non-verbose runs only surface warnings and errors.
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "child_stderr",
		"source", h.source,
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
func (h *LineHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.HasPrefix(lower, "fatal:") ||
		strings.HasPrefix(lower, "error:") ||
		strings.Contains(lower, "traceback") ||
		strings.Contains(lower, "exception") ||
		strings.Contains(lower, "can't open") ||
		strings.Contains(lower, "no such file") {
		return slog.LevelWarn
	}

	if strings.HasPrefix(lower, "warning:") ||
		strings.Contains(lower, "[warn") {
		return slog.LevelWarn
	}

	// git progress ("Cloning into ...", "Receiving objects") and the rest.
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *LineHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// Lines returns the total number of lines handled.
func (h *LineHandler) Lines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// ErrorPatterns are failure signatures worth counting in a child's output.
var ErrorPatterns = []string{
	"fatal:",
	"Traceback",
	"Exception",
	"Could not resolve host",
	"Permission denied",
	"No such file",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *LineHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)

	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
