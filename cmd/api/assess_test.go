package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/gt"

	"github.com/nyashahama/event-risk-assessor/internal/config"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	gt.NoError(t, os.WriteFile(p, []byte(content), 0o600)).Required()
	return p
}

func TestReadEvent_YAML(t *testing.T) {
	p := writeFile(t, "event.yaml", `
title: Harbour Festival
date: "2025-07-12"
location: Cape Town
attendance: 12000
category: Music
venue: Outdoor Festival
`)
	ev, err := readEvent(p)
	gt.NoError(t, err).Required()
	gt.Value(t, ev.Title).Equal("Harbour Festival")
	gt.Value(t, ev.Category).Equal(model.CategoryMusic)
	gt.Value(t, ev.Attendance).Equal(12000)
}

func TestReadEvent_JSON(t *testing.T) {
	p := writeFile(t, "event.json", `{"eventTitle":"Derby","eventDate":"2025-05-03","location":"Johannesburg","attendance":40000,"eventType":"Sport"}`)
	ev, err := readEvent(p)
	gt.NoError(t, err).Required()
	gt.Value(t, ev.Location).Equal("Johannesburg")
}

func TestReadEvent_Invalid(t *testing.T) {
	p := writeFile(t, "event.yaml", "title: \"\"\n")
	_, err := readEvent(p)
	gt.Error(t, err).Is(model.ErrValidation)

	_, err = readEvent(filepath.Join(t.TempDir(), "missing.yaml"))
	gt.Error(t, err)
}

func TestAssess_UnreachableBackend(t *testing.T) {
	cfg := &config.Config{
		Env:                  "development",
		LogLevel:             "error",
		BackendURL:           "http://127.0.0.1:1",
		AICallTimeout:        time.Second,
		AIMaxAttempts:        1,
		RiskBatchSize:        1,
		AdditionalRiskCount:  1,
		JustificationWorkers: 1,
		JustificationQueue:   1,
	}
	ev := model.EventData{Title: "Derby", Date: "2025-05-03", Location: "Johannesburg", Attendance: 100, Category: model.CategorySport}

	var out bytes.Buffer
	err := assess(context.Background(), cfg, ev, 0, filepath.Join(t.TempDir(), "out.pdf"), &out)
	gt.Error(t, err).Is(model.ErrCollaborator)
	gt.Bool(t, strings.Contains(out.String(), "Assessing")).True()
}

func TestComplianceLabel(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prev })

	const greenCode, redCode = "\x1b[32m", "\x1b[31m"
	gt.String(t, complianceLabel(scoring.Compliant)).Contains(greenCode)
	gt.String(t, complianceLabel(scoring.ExceedsCompliance)).Contains(greenCode)
	gt.String(t, complianceLabel(scoring.NonCompliant)).Contains(redCode)
}
