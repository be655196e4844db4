package model_test

import (
	"encoding/json"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

func validEvent() model.EventData {
	return model.EventData{
		Title:        "Harbour Lights",
		Date:         "2030-07-14",
		Location:     "Cardiff Bay",
		Attendance:   12000,
		Category:     model.CategoryMusic,
		VenueSubtype: "Outdoor Festival",
	}
}

func TestEventData_Validate(t *testing.T) {
	gt.NoError(t, validEvent().Validate()).Required()

	noVenue := validEvent()
	noVenue.VenueSubtype = ""
	gt.NoError(t, noVenue.Validate())

	tests := map[string]func(e *model.EventData){
		"missing title":       func(e *model.EventData) { e.Title = "  " },
		"missing date":        func(e *model.EventData) { e.Date = "" },
		"bad date":            func(e *model.EventData) { e.Date = "14/07/2030" },
		"missing location":    func(e *model.EventData) { e.Location = "" },
		"zero attendance":     func(e *model.EventData) { e.Attendance = 0 },
		"unknown category":    func(e *model.EventData) { e.Category = "Circus" },
		"venue from category": func(e *model.EventData) { e.VenueSubtype = "State Funeral" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			ev := validEvent()
			mutate(&ev)
			gt.Error(t, ev.Validate()).Is(model.ErrValidation)
		})
	}
}

func TestRiskShape_Normalize(t *testing.T) {
	var shape model.RiskShape
	raw := `{"id": 4, "risk": " Crowd crush at gates ", "category": "Crowd Safety",
		"impact": "5", "likelihood": 9, "mitigation": "Staggered entry"}`
	gt.NoError(t, json.Unmarshal([]byte(raw), &shape)).Required()

	item := shape.Normalize()
	gt.Value(t, item.ID).Equal(4)
	gt.Value(t, item.Description).Equal("Crowd crush at gates")
	gt.Value(t, item.Category).Equal(model.RiskCrowdSafety)
	gt.Value(t, item.Impact).Equal(5)
	gt.Value(t, item.Likelihood).Equal(model.DefaultScore)
	gt.Bool(t, item.Accepted).False()
	gt.Value(t, len(item.Justifications)).Equal(len(model.Fields()))
}

func TestRiskShape_Normalize_Defaults(t *testing.T) {
	var shape model.RiskShape
	raw := `{"category": "Weather", "impact": "high", "likelihood": null}`
	gt.NoError(t, json.Unmarshal([]byte(raw), &shape)).Required()

	item := shape.Normalize()
	gt.Value(t, item.ID).Equal(0)
	gt.Value(t, item.Category).Equal(model.RiskOperational)
	gt.Value(t, item.Impact).Equal(3)
	gt.Value(t, item.Likelihood).Equal(3)
	gt.String(t, item.Description).NotEqual("")
	gt.String(t, item.Mitigation).NotEqual("")
}

func TestRiskPatch_ApplyReportsChangedFields(t *testing.T) {
	item := model.RiskItem{Description: "a", Category: model.RiskMedical, Impact: 2, Likelihood: 3, Mitigation: "m"}
	impact := 2
	mitigation := "new"
	changed := model.RiskPatch{Impact: &impact, Mitigation: &mitigation}.Apply(&item)

	gt.Value(t, changed).Equal([]model.Field{model.FieldMitigation})
	gt.Value(t, item.Mitigation).Equal("new")
}

func TestCustomRisk_Validate(t *testing.T) {
	ok := model.CustomRisk{Description: "Fire", Category: model.RiskSecurity, Impact: 4, Likelihood: 2, Mitigation: "Extinguishers"}
	gt.NoError(t, ok.Validate())

	bad := ok
	bad.Impact = 6
	gt.Error(t, bad.Validate()).Is(model.ErrValidation)

	empty := ok
	empty.Mitigation = " "
	gt.Error(t, empty.Validate()).Is(model.ErrValidation)

	unknown := ok
	unknown.Category = "Weather"
	gt.Error(t, unknown.Validate()).Is(model.ErrValidation)
}

func TestParseField(t *testing.T) {
	f, ok := model.ParseField("Overall Score")
	gt.Bool(t, ok).True()
	gt.Value(t, f).Equal(model.FieldOverall)

	f, ok = model.ParseField("mitigation")
	gt.Bool(t, ok).True()
	gt.Value(t, f).Equal(model.FieldMitigation)

	_, ok = model.ParseField("budget")
	gt.Bool(t, ok).False()
}

func TestApplicationState_AllAccepted(t *testing.T) {
	var s model.ApplicationState
	gt.Bool(t, s.AllAccepted()).False()

	s.Risks = []model.RiskItem{{ID: 1, Accepted: true}, {ID: 2}}
	gt.Bool(t, s.AllAccepted()).False()

	s.Risks[1].Accepted = true
	gt.Bool(t, s.AllAccepted()).True()
}
