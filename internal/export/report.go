// Package export assembles the final assessment report, renders it as a PDF
// and delivers it to the configured sinks.
package export

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/metrics"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
)

// Row is one line of the risk table, taken verbatim from the accepted state.
type Row struct {
	Number      int                `json:"number"`
	Description string             `json:"risk"`
	Category    model.RiskCategory `json:"category"`
	Impact      int                `json:"impact"`
	Likelihood  int                `json:"likelihood"`
	Score       int                `json:"score"`
	Mitigation  string             `json:"mitigation"`
}

// Report is everything printed in the exported document.
type Report struct {
	ID          uuid.UUID       `json:"id"`
	SessionID   uuid.UUID       `json:"session_id"`
	RANumber    string          `json:"ra_number"`
	GeneratedAt time.Time       `json:"generated_at"`
	Event       model.EventData `json:"event"`
	Summary     []string        `json:"summary"`

	Context    metrics.IndexView      `json:"context"`
	Risk       metrics.IndexView      `json:"risk"`
	Compliance metrics.ComplianceView `json:"compliance"`
	Tables     string                 `json:"tables_version"`

	Rows  []Row      `json:"rows"`
	Stats Statistics `json:"statistics"`
}

// Score bands of the statistics block.
const (
	highScore   = 15
	mediumScore = 8
)

// Statistics summarise the overall scores of the risk table.
type Statistics struct {
	Total   int     `json:"total"`
	Average float64 `json:"average"`
	High    int     `json:"high"`
	Medium  int     `json:"medium"`
	Low     int     `json:"low"`
}

// Stats counts rows by score band. The average is rounded to one decimal.
func Stats(rows []Row) Statistics {
	s := Statistics{Total: len(rows)}
	if len(rows) == 0 {
		return s
	}
	sum := 0
	for _, r := range rows {
		sum += r.Score
		switch {
		case r.Score >= highScore:
			s.High++
		case r.Score >= mediumScore:
			s.Medium++
		default:
			s.Low++
		}
	}
	s.Average = math.Round(float64(sum)/float64(len(rows))*10) / 10
	return s
}

// Build assembles a Report from a complete, fully accepted session and the
// metrics it displayed. Indices and compliance are rescored from snap with
// engine; displayed bullets are kept only where the displayed result still
// matches.
func Build(sessionID uuid.UUID, snap model.ApplicationState, views metrics.Views, engine *scoring.Engine, now time.Time) (Report, error) {
	switch {
	case snap.Phase != model.PhaseComplete:
		return Report{}, goerr.Wrap(model.ErrPrecondition, "assessment is not complete",
			goerr.V("phase", snap.Phase))
	case !snap.AllAccepted():
		return Report{}, goerr.Wrap(model.ErrPrecondition, "every risk must be accepted before export")
	case snap.EventData == nil:
		return Report{}, goerr.Wrap(model.ErrPrecondition, "no event data")
	case views.Context == nil || views.Risk == nil || views.Compliance == nil:
		return Report{}, goerr.Wrap(model.ErrPrecondition, "metrics have not been displayed")
	}

	rows := make([]Row, len(snap.Risks))
	for i, r := range snap.Risks {
		rows[i] = Row{
			Number:      i + 1,
			Description: r.Description,
			Category:    r.Category,
			Impact:      r.Impact,
			Likelihood:  r.Likelihood,
			Score:       r.OverallScore(),
			Mitigation:  r.Mitigation,
		}
	}

	v := views.Clone()
	ctxView := rescore(*v.Context, engine.ContextIndex(*snap.EventData), scoring.ContextLevelFor)
	riskView := rescore(*v.Risk, engine.RiskIndex(snap.Risks), scoring.RiskLevelFor)

	compliance := *v.Compliance
	if c := engine.Compliance(snap.Risks); c.Status != compliance.Status {
		compliance = metrics.ComplianceView{Status: c.Status, Details: c.Details}
	}

	return Report{
		ID:          uuid.New(),
		SessionID:   sessionID,
		RANumber:    RANumber(snap.EventData.Title, now),
		GeneratedAt: now,
		Event:       *snap.EventData,
		Summary:     append([]string(nil), snap.Summary...),
		Context:     ctxView,
		Risk:        riskView,
		Compliance:  compliance,
		Tables:      engine.Version(),
		Rows:        rows,
		Stats:       Stats(rows),
	}, nil
}

func rescore(shown metrics.IndexView, score int, levelFor func(int) scoring.Level) metrics.IndexView {
	if shown.Score == score {
		return shown
	}
	lvl := levelFor(score)
	return metrics.IndexView{Score: score, Level: lvl.Name, Details: slices.Clone(lvl.Details)}
}

var (
	nonAlnum     = regexp.MustCompile(`[^a-zA-Z0-9]`)
	nonAlnumRuns = regexp.MustCompile(`[^a-z0-9]`)
)

// RANumber is the reference printed on the report: up to five letters of the
// title, the date as YYMMDD and the seconds, e.g. "HARBO-250712-09".
func RANumber(title string, t time.Time) string {
	prefix := strings.ToUpper(nonAlnum.ReplaceAllString(title, ""))
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return prefix + "-" + t.Format("060102") + "-" + t.Format("05")
}

// FileName is the download name for a report titled title.
func FileName(title string) string {
	return nonAlnumRuns.ReplaceAllString(strings.ToLower(title), "_") + "_risk_assessment.pdf"
}
