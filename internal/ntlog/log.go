// Package ntlog configures the process-wide slog default logger.
package ntlog

import (
	"log/slog"
	"os"
)

var level = new(slog.LevelVar)

// Configure sets up the default logger with a TextHandler, honoring
// NTT_LOG_LEVEL (DEBUG|INFO|WARN|ERROR; defaults to INFO).
func Configure() {
	level.Set(slog.LevelInfo)
	switch os.Getenv("NTT_LOG_LEVEL") {
	case "DEBUG":
		level.Set(slog.LevelDebug)
	case "WARN":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// SetLevel overrides the level set by Configure.
func SetLevel(l slog.Level) {
	level.Set(l)
}
