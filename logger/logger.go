// Package logger provides the process-wide leveled logger used across
// lsp-client-core. It mirrors the Info/Debug/Warn/Error call shape the
// original mcp-lsp-bridge codebase used throughout lsp/*.go, backed by
// log/slog instead of a hand-rolled writer.
package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})
	level   slog.LevelVar
	logger  = slog.New(handler)
)

func init() {
	level.Set(slog.LevelInfo)
}

// SetLevel changes the minimum level emitted. Accepts "debug", "info",
// "warn", "error"; unrecognized values are ignored.
func SetLevel(name string) {
	switch name {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w interface {
	Write(p []byte) (n int, err error)
}) {
	mu.Lock()
	defer mu.Unlock()
	handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level})
	logger = slog.New(handler)
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Debug logs a low-level diagnostic message with optional key/value pairs.
func Debug(msg string, kv ...any) { current().Debug(msg, kv...) }

// Info logs a routine operational message.
func Info(msg string, kv ...any) { current().Info(msg, kv...) }

// Warn logs a recoverable but noteworthy condition.
func Warn(msg string, kv ...any) { current().Warn(msg, kv...) }

// Error logs a failure.
func Error(msg string, kv ...any) { current().Error(msg, kv...) }
