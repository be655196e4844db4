package export_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"

	"github.com/nyashahama/event-risk-assessor/internal/export"
	"github.com/nyashahama/event-risk-assessor/internal/logging"
	"github.com/nyashahama/event-risk-assessor/internal/metrics"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
)

func completeState() model.ApplicationState {
	return model.ApplicationState{
		Phase: model.PhaseComplete,
		EventData: &model.EventData{
			Title:        "Harbour Festival 2025",
			Date:         "2025-07-12",
			Location:     "Cape Town",
			Attendance:   12000,
			Category:     model.CategoryMusic,
			VenueSubtype: "Outdoor Festival",
		},
		Summary: []string{"Overview paragraph.", "Operational paragraph."},
		Risks: []model.RiskItem{
			{ID: 1, Description: "Crowd surge at the main stage", Category: model.RiskCrowdSafety, Impact: 4, Likelihood: 3, Mitigation: "Barriers and stewards", Accepted: true},
			{ID: 4, Description: "Heat exhaustion", Category: model.RiskMedical, Impact: 3, Likelihood: 4, Mitigation: "Water points – shade", Accepted: true},
		},
	}
}

func shownViews() metrics.Views {
	ctxLvl, riskLvl := scoring.ContextLevelFor(5), scoring.RiskLevelFor(4)
	return metrics.Views{
		Context:    &metrics.IndexView{Score: 5, Level: ctxLvl.Name, Details: ctxLvl.Details},
		Risk:       &metrics.IndexView{Score: 4, Level: riskLvl.Name, Details: riskLvl.Details},
		Compliance: &metrics.ComplianceView{Status: scoring.NonCompliant, Details: []string{"a", "b", "c"}},
		Tables:     "2024.1",
	}
}

var at = time.Date(2025, 7, 1, 9, 30, 7, 0, time.UTC)

func TestBuild_RowsMatchAcceptedState(t *testing.T) {
	snap := completeState()
	r, err := export.Build(uuid.New(), snap, shownViews(), scoring.Default(), at)
	gt.NoError(t, err).Required()

	gt.Array(t, r.Rows).Length(len(snap.Risks))
	for i, row := range r.Rows {
		risk := snap.Risks[i]
		gt.Value(t, row.Number).Equal(i + 1)
		gt.Value(t, row.Description).Equal(risk.Description)
		gt.Value(t, row.Category).Equal(risk.Category)
		gt.Value(t, row.Impact).Equal(risk.Impact)
		gt.Value(t, row.Likelihood).Equal(risk.Likelihood)
		gt.Value(t, row.Score).Equal(risk.Impact * risk.Likelihood)
		gt.Value(t, row.Mitigation).Equal(risk.Mitigation)
	}
	gt.Value(t, r.RANumber).Equal("HARBO-250701-07")
}

func TestBuild_Preconditions(t *testing.T) {
	review := completeState()
	review.Phase = model.PhaseReview

	unaccepted := completeState()
	unaccepted.Risks[1].Accepted = false

	hidden := shownViews()
	hidden.Risk = nil

	tests := map[string]struct {
		snap  model.ApplicationState
		views metrics.Views
	}{
		"not complete":   {review, shownViews()},
		"unaccepted":     {unaccepted, shownViews()},
		"metrics hidden": {completeState(), hidden},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := export.Build(uuid.New(), tt.snap, tt.views, scoring.Default(), at)
			gt.Error(t, err).Is(model.ErrPrecondition)
		})
	}
}

func TestBuild_KeepsDisplayedDetailsWhenScoresMatch(t *testing.T) {
	views := shownViews()
	views.Risk.Details = []string{"narrated"}
	views.Risk.Narrated = true

	r, err := export.Build(uuid.New(), completeState(), views, scoring.Default(), at)
	gt.NoError(t, err).Required()
	gt.Value(t, r.Risk.Score).Equal(4)
	gt.Value(t, r.Risk.Details).Equal([]string{"narrated"})
	gt.Bool(t, r.Risk.Narrated).True()
	gt.Value(t, r.Compliance.Details).Equal([]string{"a", "b", "c"})
	gt.Value(t, r.Tables).Equal("2024.1")
}

func TestBuild_RescoresStaleViews(t *testing.T) {
	// Views shown for a 5x5 security risk that has since been edited to 1x1.
	snap := completeState()
	snap.Risks = []model.RiskItem{
		{ID: 1, Description: "Perimeter breach", Category: model.RiskSecurity, Impact: 1, Likelihood: 1, Mitigation: "Fencing", Accepted: true},
	}
	views := shownViews()
	views.Risk = &metrics.IndexView{Score: 7, Level: scoring.RiskLevelFor(7).Name, Details: []string{"stale"}, Narrated: true}
	views.Compliance = &metrics.ComplianceView{Status: scoring.ExceedsCompliance, Details: []string{"stale"}}

	r, err := export.Build(uuid.New(), snap, views, scoring.Default(), at)
	gt.NoError(t, err).Required()

	want := scoring.RiskLevelFor(1)
	gt.Value(t, r.Rows[0].Score).Equal(1)
	gt.Value(t, r.Risk.Score).Equal(1)
	gt.Value(t, r.Risk.Level).Equal(want.Name)
	gt.Value(t, r.Risk.Details).Equal(want.Details)
	gt.Bool(t, r.Risk.Narrated).False()
	gt.Value(t, r.Compliance.Status).Equal(scoring.Compliant)
	gt.Array(t, r.Compliance.Details).Length(3)
}

func TestStats(t *testing.T) {
	rows := []export.Row{{Score: 25}, {Score: 15}, {Score: 14}, {Score: 8}, {Score: 7}, {Score: 1}}
	gt.Value(t, export.Stats(rows)).Equal(export.Statistics{
		Total: 6, Average: 11.7, High: 2, Medium: 2, Low: 2,
	})
	gt.Value(t, export.Stats(nil)).Equal(export.Statistics{})

	r, err := export.Build(uuid.New(), completeState(), shownViews(), scoring.Default(), at)
	gt.NoError(t, err).Required()
	gt.Value(t, r.Stats).Equal(export.Statistics{Total: 2, Average: 12, Medium: 2})
}

func TestFileName(t *testing.T) {
	gt.Value(t, export.FileName("Harbour Festival 2025!")).Equal("harbour_festival_2025__risk_assessment.pdf")
}

func TestRANumber_ShortTitle(t *testing.T) {
	gt.Value(t, export.RANumber("A-1", at)).Equal("A1-250701-07")
}

func TestRenderPDF(t *testing.T) {
	r, err := export.Build(uuid.New(), completeState(), shownViews(), scoring.Default(), at)
	gt.NoError(t, err).Required()

	var buf bytes.Buffer
	gt.NoError(t, export.RenderPDF(&buf, r)).Required()
	gt.Bool(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-"))).True()
}

type recordingSink struct {
	name string
	err  error
	got  *export.Artifact
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, a *export.Artifact) error {
	s.got = a
	if s.err == nil && s.name == "upload" {
		a.Object = "mem://" + a.FileName
	}
	return s.err
}

func TestExporter_SinkFailureDoesNotFailExport(t *testing.T) {
	upload := &recordingSink{name: "upload"}
	broken := &recordingSink{name: "broken", err: errors.New("smtp down")}
	archive := &recordingSink{name: "archive"}
	e := export.NewExporter(scoring.Default(), logging.Discard(), upload, broken, archive)

	a, err := e.Export(context.Background(), uuid.New(), completeState(), shownViews())
	gt.NoError(t, err).Required()
	gt.Value(t, a.Delivered).Equal([]string{"upload", "archive"})
	gt.Value(t, archive.got.Object).Equal("mem://harbour_festival_2025_risk_assessment.pdf")
	gt.Value(t, a.FileName).Equal("harbour_festival_2025_risk_assessment.pdf")
}

func TestExporter_NotReady(t *testing.T) {
	snap := completeState()
	snap.Phase = model.PhaseReview
	_, err := export.NewExporter(scoring.Default(), logging.Discard()).Export(context.Background(), uuid.New(), snap, shownViews())
	gt.Error(t, err).Is(model.ErrPrecondition)
}
