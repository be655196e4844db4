package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/nyashahama/event-risk-assessor/internal/config"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/orchestrator"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
	"github.com/nyashahama/event-risk-assessor/internal/session"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func cmdAssess() *cli.Command {
	var (
		eventPath string
		outPath   string
		backend   string
		more      int
	)

	return &cli.Command{
		Name:      "assess",
		Usage:     "Run a whole assessment for an event file and write the PDF",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "event",
				Aliases:     []string{"e"},
				Usage:       "event description, YAML or JSON",
				Required:    true,
				Destination: &eventPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "PDF output path (default: derived from the event title)",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "backend",
				Usage:       "AI backend URL",
				Sources:     cli.EnvVars("BACKEND_URL"),
				Destination: &backend,
			},
			&cli.IntFlag{
				Name:        "more",
				Usage:       "additional risks to request after the first batch",
				Destination: &more,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if backend != "" {
				cfg.BackendURL = backend
			}
			// Progress goes to the terminal; logs only when something is wrong.
			if os.Getenv("LOG_LEVEL") == "" {
				cfg.LogLevel = "warn"
			}
			ev, err := readEvent(eventPath)
			if err != nil {
				return err
			}
			return assess(ctx, cfg, ev, more, outPath, color.Output)
		},
	}
}

// readEvent decodes an event file. .json files use the API's JSON keys, other
// files are read as YAML.
func readEvent(path string) (model.EventData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.EventData{}, goerr.Wrap(err, "read event file", goerr.V("path", path))
	}

	var ev model.EventData
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &ev)
	} else {
		err = yaml.Unmarshal(data, &ev)
	}
	if err != nil {
		return model.EventData{}, goerr.Wrap(err, "decode event file", goerr.V("path", path))
	}
	if err := ev.Validate(); err != nil {
		return model.EventData{}, err
	}
	return ev, nil
}

func assess(ctx context.Context, cfg *config.Config, ev model.EventData, more int, outPath string, w io.Writer) error {
	logger, flush, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer flush()

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	sessions := newSessions(cfg, newCollaborator(cfg, logger), engine, logger)
	d, err := newDelivery(ctx, cfg, engine, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	sess := sessions.Create()
	o := sess.Orchestrator

	fmt.Fprintf(w, "%s %s\n", bold("Assessing"), ev.Title)

	if err := runStep(ctx, sess, func() (orchestrator.Step, error) { return o.Start(ev) }); err != nil {
		return err
	}
	snap := sess.Store.Snapshot()
	fmt.Fprintf(w, "\n%s\n", bold("Contextual summary"))
	for _, p := range snap.Summary {
		fmt.Fprintf(w, "  %s\n\n", p)
	}

	if err := runStep(ctx, sess, o.AcceptSummary); err != nil {
		return err
	}
	if more > 0 {
		if err := runStep(ctx, sess, func() (orchestrator.Step, error) { return o.GenerateMore(more) }); err != nil {
			fmt.Fprintf(w, "%s %v\n", yellow("warning:"), err)
		}
	}

	snap = sess.Store.Snapshot()
	if len(snap.Risks) == 0 {
		return goerr.Wrap(model.ErrCollaborator, "no risks were generated")
	}
	printRisks(w, snap.Risks)

	if _, err := sess.Lifecycle.AcceptAll(ctx); err != nil {
		return err
	}
	views := sess.Display.Views()
	if views.Risk != nil && views.Compliance != nil {
		fmt.Fprintf(w, "%s %d/7 (%s)\n", bold("Risk index:"), views.Risk.Score, views.Risk.Level)
		fmt.Fprintf(w, "%s %s\n", bold("Compliance:"), complianceLabel(views.Compliance.Status))
	}

	a, err := d.exporter.Export(ctx, sess.ID, sess.Store.Snapshot(), views)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = a.FileName
	}
	if err := os.WriteFile(outPath, a.PDF, 0o644); err != nil {
		return goerr.Wrap(err, "write pdf", goerr.V("path", outPath))
	}
	fmt.Fprintf(w, "\n%s %s (%s)\n", green("Report written:"), outPath, a.Report.RANumber)
	if len(a.Delivered) > 0 {
		fmt.Fprintf(w, "Delivered to: %s\n", strings.Join(a.Delivered, ", "))
	}
	return nil
}

// runStep starts an operation and runs its step inline. A failure the
// orchestrator recorded for the user is returned as the error.
func runStep(ctx context.Context, sess *session.Session, start func() (orchestrator.Step, error)) error {
	step, err := start()
	if err != nil {
		return err
	}
	if err := step(ctx); err != nil {
		if f := sess.Store.Snapshot().Failure; f != "" {
			return goerr.Wrap(err, f)
		}
		return err
	}
	return nil
}

func printRisks(w io.Writer, risks []model.RiskItem) {
	fmt.Fprintf(w, "%s\n", bold(fmt.Sprintf("Risks (%d)", len(risks))))
	for i, r := range risks {
		score := fmt.Sprintf("%2d", r.OverallScore())
		switch {
		case r.OverallScore() >= 15:
			score = red(score)
		case r.OverallScore() >= 8:
			score = yellow(score)
		default:
			score = green(score)
		}
		fmt.Fprintf(w, "  %2d. [%s] %s  (%s, I%d x L%d)\n", i+1, score, r.Description, r.Category, r.Impact, r.Likelihood)
	}
	fmt.Fprintln(w)
}

// complianceLabel colours status green when it meets or exceeds compliance.
func complianceLabel(status scoring.ComplianceStatus) string {
	switch status {
	case scoring.Compliant, scoring.ExceedsCompliance:
		return green(string(status))
	default:
		return red(string(status))
	}
}
