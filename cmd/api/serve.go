package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nyashahama/event-risk-assessor/internal/api"
	"github.com/nyashahama/event-risk-assessor/internal/config"
	"github.com/nyashahama/event-risk-assessor/internal/server"
	"github.com/nyashahama/event-risk-assessor/internal/worker"
)

func cmdServe() *cli.Command {
	var port string

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and gRPC health service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "port",
				Usage:       "listen port, overrides PORT",
				Destination: &port,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// ── Logger ────────────────────────────────────────────────────────────────
	logger, flush, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer flush()
	logger.Info("config loaded", "config", cfg)

	// ── Scoring + AI ──────────────────────────────────────────────────────────
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	collab := newCollaborator(cfg, logger)

	// ── Sessions + background justifications ─────────────────────────────────
	sessions := newSessions(cfg, collab, engine, logger)
	job := worker.NewJob(sessions, logger)
	runner := worker.NewRunner(job, worker.RunnerConfig{
		Workers:     cfg.JustificationWorkers,
		QueueSize:   cfg.JustificationQueue,
		TaskTimeout: cfg.TaskTimeout,
	}, logger)
	sessions.UseRunner(runner)

	// ── Export sinks ──────────────────────────────────────────────────────────
	d, err := newDelivery(ctx, cfg, engine, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	var reports api.Reports
	if d.archive != nil {
		reports = d.archive
	}

	// ── HTTP + gRPC ───────────────────────────────────────────────────────────
	handler := api.NewServer(sessions, d.exporter, reports, api.Config{Env: cfg.Env}, logger)
	srv := server.New(handler, logger)

	// Root context cancelled by OS signal. Every goroutine below respects it.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Start(gctx)
		return nil
	})
	g.Go(func() error {
		sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, ":"+cfg.Port)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
