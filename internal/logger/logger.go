// Package logger is the process-wide slog text logger shared by the cardgraph
// command, the stores and the update jobs. CARDGRAPH_DEBUG=true or the
// --debug flag lowers the level to debug.
package logger

import (
	"io"
	"log/slog"
	"os"
)

var log *slog.Logger

func init() {
	level := slog.LevelInfo
	if os.Getenv("CARDGRAPH_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	setup(os.Stderr, level)
}

func setup(w io.Writer, level slog.Level) {
	opts := &slog.HandlerOptions{Level: level}
	handler := slog.NewTextHandler(w, opts)
	log = slog.New(handler)
}

// SetOutput redirects log output, mainly for tests and the serve command.
func SetOutput(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	setup(w, level)
}

// Logger exposes the underlying slog.Logger for libraries that take one.
func Logger() *slog.Logger {
	return log
}

func Debug(msg string, args ...any) {
	log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	log.Error(msg, args...)
}

func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
