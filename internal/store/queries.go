package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the archive's SQL. Each method runs a single statement.
type Queries struct {
	db DBTX
}

func newQueries(db DBTX) *Queries { return &Queries{db: db} }

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries { return &Queries{db: tx} }

// ReportRow mirrors one assessment_reports row.
type ReportRow struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	RaNumber     string
	Title        string
	RiskIndex    int16
	ContextIndex int16
	Compliance   string
	TablesVer    string
	Report       pqtype.NullRawMessage
	PdfObject    sql.NullString
	CreatedAt    time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS assessment_reports (
    id             UUID PRIMARY KEY,
    session_id     UUID        NOT NULL,
    ra_number      TEXT        NOT NULL,
    title          TEXT        NOT NULL,
    risk_index     SMALLINT    NOT NULL CHECK (risk_index BETWEEN 1 AND 7),
    context_index  SMALLINT    NOT NULL CHECK (context_index BETWEEN 1 AND 7),
    compliance     TEXT        NOT NULL,
    tables_version TEXT        NOT NULL,
    report         JSONB,
    pdf_object     TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS assessment_reports_created_at_idx ON assessment_reports (created_at DESC);
CREATE INDEX IF NOT EXISTS assessment_reports_session_idx ON assessment_reports (session_id);
`

const reportColumns = `id, session_id, ra_number, title, risk_index, context_index, compliance, tables_version, report, pdf_object, created_at`

func scanReport(row interface{ Scan(...interface{}) error }) (ReportRow, error) {
	var r ReportRow
	err := row.Scan(
		&r.ID,
		&r.SessionID,
		&r.RaNumber,
		&r.Title,
		&r.RiskIndex,
		&r.ContextIndex,
		&r.Compliance,
		&r.TablesVer,
		&r.Report,
		&r.PdfObject,
		&r.CreatedAt,
	)
	return r, err
}

const reportExists = `SELECT EXISTS (SELECT 1 FROM assessment_reports WHERE id = $1)`

func (q *Queries) ReportExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, reportExists, id).Scan(&exists)
	return exists, err
}

const insertReport = `INSERT INTO assessment_reports (
    id, session_id, ra_number, title, risk_index, context_index, compliance, tables_version, report, pdf_object
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + reportColumns

type InsertReportParams struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	RaNumber     string
	Title        string
	RiskIndex    int16
	ContextIndex int16
	Compliance   string
	TablesVer    string
	Report       pqtype.NullRawMessage
	PdfObject    sql.NullString
}

func (q *Queries) InsertReport(ctx context.Context, arg InsertReportParams) (ReportRow, error) {
	row := q.db.QueryRowContext(ctx, insertReport,
		arg.ID,
		arg.SessionID,
		arg.RaNumber,
		arg.Title,
		arg.RiskIndex,
		arg.ContextIndex,
		arg.Compliance,
		arg.TablesVer,
		arg.Report,
		arg.PdfObject,
	)
	return scanReport(row)
}

const getReport = `SELECT ` + reportColumns + ` FROM assessment_reports WHERE id = $1`

func (q *Queries) GetReport(ctx context.Context, id uuid.UUID) (ReportRow, error) {
	return scanReport(q.db.QueryRowContext(ctx, getReport, id))
}

const listReports = `SELECT ` + reportColumns + ` FROM assessment_reports ORDER BY created_at DESC LIMIT $1`

func (q *Queries) ListReports(ctx context.Context, limit int32) ([]ReportRow, error) {
	rows, err := q.db.QueryContext(ctx, listReports, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ReportRow
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
