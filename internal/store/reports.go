package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/nyashahama/event-risk-assessor/internal/export"
)

var (
	// ErrReportAlreadyExists is returned by ArchiveReport when the report id
	// is already archived.
	ErrReportAlreadyExists = errors.New("store: report already archived")

	// ErrReportNotFound is returned by GetReport for an unknown id.
	ErrReportNotFound = errors.New("store: report not found")
)

// ArchivedReport is a stored report with its archive metadata.
type ArchivedReport struct {
	Report export.Report
	// Object is where the PDF was uploaded, empty if it was not.
	Object string
}

// ArchiveReport stores r. object is the uploaded PDF location, may be empty.
// Archiving the same report twice returns ErrReportAlreadyExists.
func (s *Store) ArchiveReport(ctx context.Context, r export.Report, object string) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal report: %w", err)
	}

	return s.withTx(ctx, func(ctx context.Context, q *Queries) error {
		exists, err := q.ReportExists(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("store: check report: %w", err)
		}
		if exists {
			return ErrReportAlreadyExists
		}

		_, err = q.InsertReport(ctx, InsertReportParams{
			ID:           r.ID,
			SessionID:    r.SessionID,
			RaNumber:     r.RANumber,
			Title:        r.Event.Title,
			RiskIndex:    int16(r.Risk.Score),
			ContextIndex: int16(r.Context.Score),
			Compliance:   string(r.Compliance.Status),
			TablesVer:    r.Tables,
			Report:       pqtype.NullRawMessage{RawMessage: body, Valid: true},
			PdfObject:    sql.NullString{String: object, Valid: object != ""},
		})
		if err != nil {
			return fmt.Errorf("store: insert report: %w", err)
		}
		return nil
	})
}

// GetReport loads one archived report.
func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (ArchivedReport, error) {
	row, err := s.q.GetReport(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ArchivedReport{}, ErrReportNotFound
	}
	if err != nil {
		return ArchivedReport{}, fmt.Errorf("store: get report: %w", err)
	}
	return decodeRow(row)
}

// ListReports returns the most recent reports, newest first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]ArchivedReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.q.ListReports(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	out := make([]ArchivedReport, 0, len(rows))
	for _, row := range rows {
		a, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func decodeRow(row ReportRow) (ArchivedReport, error) {
	a := ArchivedReport{Object: row.PdfObject.String}
	if row.Report.Valid {
		if err := json.Unmarshal(row.Report.RawMessage, &a.Report); err != nil {
			return ArchivedReport{}, fmt.Errorf("store: decode report %s: %w", row.ID, err)
		}
	}
	// Columns win over the document for the indexed fields.
	a.Report.ID = row.ID
	a.Report.SessionID = row.SessionID
	a.Report.RANumber = row.RaNumber
	return a, nil
}
