package export

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/errutil"
	"github.com/nyashahama/event-risk-assessor/internal/metrics"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
)

// Artifact is a rendered report.
type Artifact struct {
	Report   Report
	PDF      []byte
	FileName string
	// Object is the storage location set by an upload sink, if any.
	Object string
	// Delivered lists the sinks that accepted the artifact.
	Delivered []string
}

// Sink receives every exported artifact. Deliver may set a.Object.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a *Artifact) error
}

// Exporter renders reports and fans them out to sinks. Sink failures are
// logged and reported but never fail the export.
type Exporter struct {
	engine *scoring.Engine
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewExporter returns an Exporter scoring with engine and delivering to sinks
// in order.
func NewExporter(engine *scoring.Engine, logger *slog.Logger, sinks ...Sink) *Exporter {
	return &Exporter{engine: engine, sinks: sinks, logger: logger, now: time.Now}
}

// Export builds, renders and delivers the report of a session.
func (e *Exporter) Export(ctx context.Context, sessionID uuid.UUID, snap model.ApplicationState, views metrics.Views) (*Artifact, error) {
	report, err := Build(sessionID, snap, views, e.engine, e.now())
	if err != nil {
		return nil, err
	}
	pdf, err := RenderPDFBytes(report)
	if err != nil {
		return nil, err
	}

	a := &Artifact{Report: report, PDF: pdf, FileName: FileName(report.Event.Title)}
	for _, s := range e.sinks {
		if err := s.Deliver(ctx, a); err != nil {
			errutil.Handle(ctx, e.logger, err, "export: sink failed")
			continue
		}
		a.Delivered = append(a.Delivered, s.Name())
	}
	e.logger.Info("export: report rendered",
		"report_id", report.ID, "ra_number", report.RANumber, "bytes", len(pdf), "sinks", a.Delivered)
	return a, nil
}

// ─── GCS ──────────────────────────────────────────────────────────────────────

// GCSSink uploads the PDF to a Cloud Storage bucket under
// reports/<session>/<report>/<file name>.
type GCSSink struct {
	client *storage.Client
	bucket string
}

// NewGCSSink creates a storage client with application default credentials.
func NewGCSSink(ctx context.Context, bucket string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "create storage client", goerr.V("bucket", bucket))
	}
	return &GCSSink{client: client, bucket: bucket}, nil
}

func (s *GCSSink) Name() string { return "gcs" }

func (s *GCSSink) Deliver(ctx context.Context, a *Artifact) error {
	name := "reports/" + a.Report.SessionID.String() + "/" + a.Report.ID.String() + "/" + a.FileName

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/pdf"
	w.Metadata = map[string]string{
		"ra_number": a.Report.RANumber,
		"title":     a.Report.Event.Title,
	}
	if _, err := w.Write(a.PDF); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "upload report", goerr.V("bucket", s.bucket), goerr.V("object", name))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "finalize upload", goerr.V("bucket", s.bucket), goerr.V("object", name))
	}
	a.Object = "gs://" + s.bucket + "/" + name
	return nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error { return s.client.Close() }

// ─── ARCHIVE ──────────────────────────────────────────────────────────────────

// Archiver persists report records. *store.Store implements it.
type Archiver interface {
	ArchiveReport(ctx context.Context, r Report, object string) error
}

// ArchiveSink records the report in the archive. Register it after any upload
// sink so the stored object location is known.
type ArchiveSink struct{ Archiver Archiver }

func (s ArchiveSink) Name() string { return "archive" }

func (s ArchiveSink) Deliver(ctx context.Context, a *Artifact) error {
	return s.Archiver.ArchiveReport(ctx, a.Report, a.Object)
}

// ─── EMAIL ────────────────────────────────────────────────────────────────────

// Notifier sends the finished report. *email.ResendClient implements it.
type Notifier interface {
	SendAssessmentReady(ctx context.Context, p Notification) error
}

// Notification is what the email sink hands to a Notifier.
type Notification struct {
	Title      string
	RANumber   string
	RiskIndex  int
	RiskLevel  string
	Compliance string
	FileName   string
	PDF        []byte
}

// EmailSink mails the PDF to a fixed recipient list.
type EmailSink struct{ Notifier Notifier }

func (s EmailSink) Name() string { return "email" }

func (s EmailSink) Deliver(ctx context.Context, a *Artifact) error {
	return s.Notifier.SendAssessmentReady(ctx, Notification{
		Title:      a.Report.Event.Title,
		RANumber:   a.Report.RANumber,
		RiskIndex:  a.Report.Risk.Score,
		RiskLevel:  a.Report.Risk.Level,
		Compliance: string(a.Report.Compliance.Status),
		FileName:   a.FileName,
		PDF:        a.PDF,
	})
}
