package errutil_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/nyashahama/event-risk-assessor/internal/errutil"
)

func TestHandle_LogsGoerrValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := goerr.New("archive failed", goerr.V("report_id", "r-42"))
	errutil.Handle(context.Background(), logger, err, "export sink failed")

	gt.String(t, buf.String()).Contains("export sink failed")
	gt.String(t, buf.String()).Contains("r-42")
}

func TestHandle_PlainErrorAndNil(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.Handle(context.Background(), logger, nil, "ignored")
	gt.Value(t, buf.Len()).Equal(0)

	errutil.Handle(context.Background(), logger, errors.New("boom"), "plain")
	gt.String(t, buf.String()).Contains("boom")
}

func TestInitSentry_EmptyDSNDisabled(t *testing.T) {
	flush, err := errutil.InitSentry("", "test")
	gt.NoError(t, err).Required()
	flush()
}

func TestHandle_ReportsGoerrValuesAsContext(t *testing.T) {
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			events = append(events, e)
			return nil
		},
	})
	gt.NoError(t, err).Required()
	hub := sentry.NewHub(client, sentry.NewScope())
	ctx := sentry.SetHubOnContext(context.Background(), hub)

	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	errutil.Handle(ctx, logger, goerr.New("archive failed", goerr.V("report_id", "r-42")), "export sink failed")

	gt.Array(t, events).Length(1).Required()
	gt.Value(t, events[0].Tags["message"]).Equal("export sink failed")
	gt.Value(t, events[0].Contexts["goerr"]["report_id"]).Equal(any("r-42"))
}
