// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Level maps a LOG_LEVEL value to a slog level.  "trace" is debug with call
// sites; unknown values mean info.
func Level(name string) (lvl slog.Level, withCaller bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return slog.LevelDebug, true
	case "debug":
		return slog.LevelDebug, false
	case "warn", "warning":
		return slog.LevelWarn, false
	case "error":
		return slog.LevelError, false
	}
	return slog.LevelInfo, false
}

// TextHandler returns a human-oriented handler on w (stderr when nil).
func TextHandler(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}
	lvl, caller := Level(level)
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    caller,
		Level:           log.Level(lvl),
	})
}

// JSONHandler returns a JSON handler on w (stdout when nil).
func JSONHandler(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stdout
	}
	lvl, caller := Level(level)
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: caller})
}

// New returns a logger for format "json" or "text" (the default) and
// installs it as the slog default.
func New(format, level string, w io.Writer) *slog.Logger {
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = JSONHandler(level, w)
	} else {
		h = TextHandler(level, w)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
