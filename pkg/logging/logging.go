// Package logging provides structured logging configuration using log/slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logging configuration options.
type Config struct {
	// Level is the minimum log level to output.
	Level slog.Level
	// JSON enables JSON output format (for production).
	JSON bool
	// Output is the writer to write logs to. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns a default logging configuration suitable for development.
// It reads LOG_LEVEL (DEBUG, INFO, WARN, ERROR; defaults to INFO) and
// LOG_FORMAT (text or json; defaults to text).
func DefaultConfig() Config {
	return New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// New builds a configuration from textual level and format values.
func New(level, format string) Config {
	return Config{
		Level:  ParseLevel(level),
		JSON:   strings.EqualFold(format, "json"),
		Output: os.Stderr,
	}
}

// ParseLevel converts a string log level to slog.Level. Unknown values map to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProductionConfig returns a logging configuration suitable for production.
func ProductionConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		JSON:   true,
		Output: os.Stderr,
	}
}

// Setup initializes the default slog logger with the given configuration.
func Setup(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
