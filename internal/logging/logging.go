// Package logging provides the run-scoped log sinks the engines write to.
//
// Every run gets its own directory — run, run2, run3, … under the configured
// base, first non-existent name wins — holding system.log, mismatch.log and
// one <profile>.log per engine. Each sink is append-only: it keeps a bounded
// in-memory ring for the dashboard log panel and streams through a lumberjack
// writer so long paper sessions never fill the disk.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level classifies a sink entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger is the minimal interface the engines depend on.
type Logger interface {
	Log(message string, level Level)
}

// SelectRunDir creates and returns the first non-existent run directory under
// base: run, then run2, run3, and so on.
func SelectRunDir(base string) (string, error) {
	for i := 1; ; i++ {
		name := "run"
		if i > 1 {
			name = fmt.Sprintf("run%d", i)
		}
		dir := filepath.Join(base, name)
		if _, err := os.Stat(dir); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create run dir: %w", err)
		}
		return dir, nil
	}
}

// Sink is one append-only log stream: bounded ring + optional file writer.
// Safe for concurrent use; engines write from the runner goroutine while the
// dashboard reads the ring from the render path.
type Sink struct {
	mu      sync.Mutex
	name    string
	lines   []string
	maxLine int
	file    *lumberjack.Logger
}

// NewSink creates a sink writing <name>.log inside dir. A zero maxLines
// falls back to 500 ring entries. Pass an empty dir for a memory-only sink.
func NewSink(dir, name string, maxLines int) *Sink {
	if maxLines <= 0 {
		maxLines = 500
	}
	s := &Sink{name: name, maxLine: maxLines}
	if dir != "" {
		s.file = &lumberjack.Logger{
			Filename:   filepath.Join(dir, name+".log"),
			MaxSize:    50, // MB
			MaxBackups: 3,
		}
	}
	return s
}

// Log appends a line to the ring and the file.
func (s *Sink) Log(message string, level Level) {
	if level == "" {
		level = LevelInfo
	}
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format("15:04:05.000"), level, message)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = append(s.lines, line)
	if len(s.lines) > s.maxLine {
		s.lines = s.lines[len(s.lines)-s.maxLine:]
	}
	if s.file != nil {
		fmt.Fprintln(s.file, line)
	}
}

// Tail returns up to n most recent lines, oldest first.
func (s *Sink) Tail(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.lines) {
		n = len(s.lines)
	}
	out := make([]string, n)
	copy(out, s.lines[len(s.lines)-n:])
	return out
}

// Name returns the sink's file stem.
func (s *Sink) Name() string { return s.name }

// Close flushes the underlying file writer.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// ParseLevel maps a config string to a slog level for the stdout handler.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewStdoutLogger builds the process-wide slog logger.
func NewStdoutLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
