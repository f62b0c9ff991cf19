// Package runlog collects per-run errors into data/<batch>/errors.log so a
// run's failures survive the process.
package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Kind classifies a recorded error.
type Kind string

// Error kinds.
const (
	KindConfig     Kind = "config"
	KindNetwork    Kind = "network"
	KindRateLimit  Kind = "rate_limit"
	KindAuth       Kind = "auth"
	KindParse      Kind = "parse"
	KindLLM        Kind = "llm"
	KindRender     Kind = "render"
	KindTranscribe Kind = "transcribe"
	KindWrite      Kind = "write"
)

// Logger appends one JSON line per error. Safe for concurrent use by every
// stage worker.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
	count  int
}

// Open creates the error log at path, creating parent directories.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create error log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelError})
	return &Logger{file: file, logger: slog.New(handler)}, nil
}

// Record appends one error line and mirrors it to the process log.
func (l *Logger) Record(stage, source string, kind Kind, message string) {
	l.mu.Lock()
	l.count++
	l.logger.LogAttrs(context.Background(), slog.LevelError, message,
		slog.String("stage", stage),
		slog.String("source", source),
		slog.String("kind", string(kind)))
	l.mu.Unlock()

	slog.Error("Stage error recorded",
		"stage", stage, "source", source, "kind", string(kind), "error", message)
}

// Count returns the number of recorded errors.
func (l *Logger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
