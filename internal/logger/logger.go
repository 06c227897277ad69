// Package logger builds the *slog.Logger used across the application.
// The default handler is slog's text handler; WithPretty switches to the
// charmbracelet/log handler for colorized CLI output and WithJSON to
// slog's JSON handler for structured service logs.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// New creates a logger from the given options.
func New(opts ...Option) *slog.Logger {
	c := config{
		level:   slog.LevelInfo,
		writers: []io.Writer{os.Stdout},
	}
	for _, o := range opts {
		o(&c)
	}

	var w io.Writer
	if len(c.writers) == 1 {
		w = c.writers[0]
	} else {
		w = io.MultiWriter(c.writers...)
	}

	switch {
	case c.pretty:
		h := charmlog.NewWithOptions(w, charmlog.Options{
			ReportCaller:    c.source,
			ReportTimestamp: true,
		})
		if c.level == slog.LevelDebug {
			h.SetLevel(charmlog.DebugLevel)
		}
		return slog.New(h)
	case c.json:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     c.level,
			AddSource: c.source,
		}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     c.level,
			AddSource: c.source,
		}))
	}
}

// Nop returns a logger that discards everything. Intended for tests.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
