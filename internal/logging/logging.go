// Package logging builds the slog loggers used by the streamloop binaries.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

// TimeFormat is the timestamp layout of every log line.
const TimeFormat = "2006-01-02 15:04:05.000Z07:00"

// Options configures New.
type Options struct {
	Level   string
	NoColor bool
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown values
// select info.
func ParseLevel(level string) slog.Level {
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

// New returns a tint-backed logger writing to output. Error attributes are
// colored red.
func New(output io.Writer, opts Options) *slog.Logger {
	handler := tint.NewHandler(output, &tint.Options{
		Level:      ParseLevel(opts.Level),
		TimeFormat: TimeFormat,
		NoColor:    opts.NoColor,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}
