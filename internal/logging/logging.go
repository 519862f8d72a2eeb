// Package logging configures the process-wide slog logger.
//
// The pipeline emits structured events ("extract_complete", "matching_job_failed",
// ...) rather than free-form lines, so every stage logs through slog with
// key/value attributes. Console output uses tint for readable local runs;
// production runs typically select the JSON handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config selects handler, level and destination for the process logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console, json
	Output string // stdout, stderr
}

// New builds a *slog.Logger from cfg. Unknown values fall back to
// info-level console logging on stdout; New never fails.
func New(cfg Config) *slog.Logger {
	var w io.Writer
	switch cfg.Output {
	case "stderr":
		w = os.Stderr
	default:
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = tint.NewHandler(w, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.RFC3339,
		})
	}

	return slog.New(h)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
