package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and output format of the process logger.
type Config struct {
	Level  string    `koanf:"level"`
	Format string    `koanf:"format"`
	Output io.Writer `koanf:"-"`
}

// New returns a production-friendly JSON logger writing to stdout unless
// Format is "console" (or LOG_FORMAT=console is set) to prefer a
// human-readable output. Records are written through zerolog.
func New(cfg Config) *slog.Logger {
	return slog.New(NewHandler(cfg))
}

// NewHandler builds the zerolog-backed slog handler used by New.
func NewHandler(cfg Config) *Handler {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	format := cfg.Format
	if env := os.Getenv("LOG_FORMAT"); env != "" && format == "" {
		format = env
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	zl := zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(cfg.Level))
	return &Handler{logger: zl}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
