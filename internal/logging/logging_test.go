package logging_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/nyashahama/event-risk-assessor/internal/logging"
)

type credentials struct {
	User   string
	APIKey string `masq:"secret"`
}

func TestNew_JSONRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, logging.Options{Production: true})

	logger.Info("configured", "creds", credentials{User: "ops", APIKey: "re_live_123456"})

	out := buf.String()
	gt.String(t, out).Contains("ops")
	gt.Bool(t, bytes.Contains(buf.Bytes(), []byte("re_live_123456"))).False()
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, logging.Options{Format: "json", Level: "warn"})

	logger.Info("hidden")
	gt.Value(t, buf.Len()).Equal(0)
	logger.Warn("shown")
	gt.String(t, buf.String()).Contains("shown")
}

func TestParseLevel(t *testing.T) {
	gt.Value(t, logging.ParseLevel("DEBUG")).Equal(slog.LevelDebug)
	gt.Value(t, logging.ParseLevel("warning")).Equal(slog.LevelWarn)
	gt.Value(t, logging.ParseLevel("")).Equal(slog.LevelInfo)
}
