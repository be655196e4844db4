// Package errutil logs unexpected errors with their goerr context and, when
// Sentry is configured, reports them.
package errutil

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
)

var sentryEnabled bool

// InitSentry configures error reporting. An empty dsn disables it. The
// returned func flushes pending events and should be deferred by main.
func InitSentry(dsn, env string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	}); err != nil {
		return nil, goerr.Wrap(err, "init sentry")
	}
	sentryEnabled = true
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Handle logs err at error level with its goerr values and forwards it to
// Sentry, using the hub bound to ctx if there is one. Goerr values travel as
// the "goerr" event context. A nil err is ignored.
func Handle(ctx context.Context, logger *slog.Logger, err error, msg string) {
	if err == nil {
		return
	}

	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.ErrorContext(ctx, msg,
			"error", err.Error(),
			"values", ge.Values(),
		)
	} else {
		logger.ErrorContext(ctx, msg, "error", err.Error())
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		if !sentryEnabled {
			return
		}
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("message", msg)
		if ge != nil {
			if values := ge.Values(); len(values) > 0 {
				scope.SetContext("goerr", sentry.Context(values))
			}
		}
		hub.CaptureException(err)
	})
}
