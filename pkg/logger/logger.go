// Package logger builds the slog loggers used across goblind.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config contains logger configuration.
type Config struct {
	Level    slog.Level // Minimum level to output
	Format   string     // text or json; empty = text on a terminal, json otherwise
	Console  io.Writer  // Console output, nil = stderr. Never stdout: it carries RPC frames.
	FilePath string     // Optional log file, appended to
}

// ParseLogLevel parses a level name. Unknown names map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger from cfg. The returned closer releases the log file
// and is never nil.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	var out io.Writer = console
	var closer io.Closer = nopCloser{}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(console, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	switch resolveFormat(cfg.Format, console) {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closer, nil
}

func resolveFormat(format string, console io.Writer) string {
	switch strings.ToLower(format) {
	case FormatJSON:
		return FormatJSON
	case FormatText:
		return FormatText
	}
	if f, ok := console.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return FormatText
	}
	return FormatJSON
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
