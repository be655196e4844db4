// Package logging builds the process logger. Production writes JSON lines;
// development writes colored, human-readable lines through clog. Both pass
// attributes through masq so values tagged `masq:"secret"` (API keys, DSNs)
// never reach the output.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/masq"
)

// Options selects the handler.
type Options struct {
	// Format is "json" or "text". Empty picks json in production.
	Format string
	Level  string
	// Production forces JSON when Format is empty.
	Production bool
}

// ParseLevel maps debug/info/warn/error to a slog.Level. Unknown values are
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// redactor hides secret-tagged struct fields and well-known secret names.
func redactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithTag("secret"),
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("DatabaseURL"),
		masq.WithFieldName("SentryDSN"),
	)
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)

	format := opts.Format
	if format == "" {
		format = "text"
		if opts.Production {
			format = "json"
		}
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: redactor(),
		})
	} else {
		h = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithColor(!opts.Production),
			clog.WithReplaceAttr(redactor()),
		)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
