package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/ai"
	"github.com/nyashahama/event-risk-assessor/internal/config"
	"github.com/nyashahama/event-risk-assessor/internal/email"
	"github.com/nyashahama/event-risk-assessor/internal/errutil"
	"github.com/nyashahama/event-risk-assessor/internal/export"
	"github.com/nyashahama/event-risk-assessor/internal/logging"
	"github.com/nyashahama/event-risk-assessor/internal/orchestrator"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
	"github.com/nyashahama/event-risk-assessor/internal/session"
	"github.com/nyashahama/event-risk-assessor/internal/store"
)

// newLogger builds the process logger and error reporting. The returned func
// flushes Sentry.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, func(), error) {
	logger := logging.New(w, logging.Options{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Production: cfg.Production(),
	})
	slog.SetDefault(logger)

	flush, err := errutil.InitSentry(cfg.SentryDSN, cfg.Env)
	if err != nil {
		return nil, nil, err
	}
	return logger, flush, nil
}

// newCollaborator returns the backend client, wrapped in a failover when a
// second backend is configured.
func newCollaborator(cfg *config.Config, logger *slog.Logger) ai.Collaborator {
	policy := ai.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.AIMaxAttempts

	client := func(url string) *ai.Client {
		return ai.NewClient(url, logger,
			ai.WithCallTimeout(cfg.AICallTimeout),
			ai.WithRetryPolicy(policy),
			ai.WithAPIKey(cfg.AIAPIKey),
		)
	}

	primary := client(cfg.BackendURL)
	if cfg.FallbackBackendURL == "" {
		logger.Info("ai: single backend", "url", cfg.BackendURL)
		return primary
	}
	logger.Info("ai: backend with failover", "primary", cfg.BackendURL, "secondary", cfg.FallbackBackendURL)
	return ai.NewFailover(primary, client(cfg.FallbackBackendURL), logger)
}

func newEngine(cfg *config.Config) (*scoring.Engine, error) {
	if cfg.ScoringTablesPath == "" {
		return scoring.Default(), nil
	}
	t, err := scoring.LoadTables(cfg.ScoringTablesPath)
	if err != nil {
		return nil, goerr.Wrap(err, "load scoring tables", goerr.V("path", cfg.ScoringTablesPath))
	}
	return scoring.NewEngine(t), nil
}

func newSessions(cfg *config.Config, collab ai.Collaborator, engine *scoring.Engine, logger *slog.Logger) *session.Manager {
	return session.NewManager(session.Deps{
		Collaborator: collab,
		Engine:       engine,
		Orchestration: orchestrator.Config{
			RiskBatch:       cfg.RiskBatchSize,
			AdditionalCount: cfg.AdditionalRiskCount,
			Pacing:          cfg.PacingDelay,
		},
		CacheFailures: cfg.CacheFailures,
		Logger:        logger,
	}, cfg.SessionTTL)
}

// delivery is the exporter with the resources behind its sinks.
type delivery struct {
	exporter *export.Exporter
	// archive is nil without DATABASE_URL.
	archive *store.Store
	closers []func() error
}

func (d *delivery) Close() {
	for _, c := range d.closers {
		_ = c()
	}
}

// newDelivery wires the configured sinks in order: upload, archive, email.
// The archive runs after the upload so it records the object location.
func newDelivery(ctx context.Context, cfg *config.Config, engine *scoring.Engine, logger *slog.Logger) (*delivery, error) {
	d := &delivery{}
	var sinks []export.Sink

	if cfg.GCSBucket != "" {
		gcs, err := export.NewGCSSink(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, gcs.Close)
		sinks = append(sinks, gcs)
		logger.Info("export: uploading reports", "bucket", cfg.GCSBucket)
	}

	if cfg.DatabaseURL != "" {
		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.archive = st
		d.closers = append(d.closers, st.Close)
		sinks = append(sinks, export.ArchiveSink{Archiver: st})
		logger.Info("export: archiving reports")
	}

	if cfg.ResendAPIKey != "" {
		mailer := email.NewResendClient(cfg.ResendAPIKey, cfg.EmailFromAddr, cfg.EmailFromName, cfg.EmailNotifyTo)
		sinks = append(sinks, export.EmailSink{Notifier: mailer})
		logger.Info("export: emailing reports", "recipients", len(cfg.EmailNotifyTo))
	}

	d.exporter = export.NewExporter(engine, logger, sinks...)
	return d, nil
}
