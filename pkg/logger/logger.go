// Package logger builds a structured slog.Logger from a small Config,
// optionally rotating to disk via lumberjack instead of writing to stdout.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration for NewLogger.
type Config struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// NewLogger creates a structured logger based on cfg. Format "json" selects
// slog.NewJSONHandler; anything else uses the text handler. AddSource is
// enabled only at debug level to keep production logs compact.
func NewLogger(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	writer := SetupWriter(cfg)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

// ParseLevel parses a string log level into slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupWriter resolves cfg.Output into a destination writer. "file" rotates
// through lumberjack using cfg.Filename/MaxSize/MaxBackups/MaxAge/Compress;
// anything else goes to stdout or stderr.
func SetupWriter(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	case "stdout", "":
		return os.Stdout
	default:
		return os.Stdout
	}
}
