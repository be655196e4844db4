// Package worker precomputes justifications in the background so they are
// usually cached by the time a reviewer opens them. Work is best effort: a
// full queue drops the task and the justification is generated on first view
// instead. Failures are logged and reported, never surfaced to the session.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/event-risk-assessor/internal/errutil"
)

// ─── TASK ─────────────────────────────────────────────────────────────────────

// Task asks for the justifications of one risk, or of the summary when RiskID
// is 0, in a given session generation.
type Task struct {
	SessionID  uuid.UUID
	Generation uint64
	RiskID     int
}

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. Zero fields take the
// values of DefaultRunnerConfig.
type RunnerConfig struct {
	// Workers is the number of concurrent task goroutines. Default: 3.
	Workers int

	// QueueSize bounds pending tasks. Default: 64.
	QueueSize int

	// TaskTimeout is the per-task context deadline. Default: 2 minutes, which
	// covers the AI client's retries for the four precomputed fields.
	TaskTimeout time.Duration
}

// DefaultRunnerConfig returns safe production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:     3,
		QueueSize:   64,
		TaskTimeout: 2 * time.Minute,
	}
}

// Runner manages a pool of worker goroutines fed by an in-process channel.
type Runner struct {
	job    *Job
	cfg    RunnerConfig
	logger *slog.Logger

	queue chan Task
	wg    sync.WaitGroup
}

// NewRunner constructs a Runner. Call Start to begin processing.
func NewRunner(job *Job, cfg RunnerConfig, logger *slog.Logger) *Runner {
	def := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}

	return &Runner{
		job:    job,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Task, cfg.QueueSize),
	}
}

// Enqueue pushes t onto the queue without blocking. It reports false when the
// queue is full and the task was dropped.
func (r *Runner) Enqueue(t Task) bool {
	select {
	case r.queue <- t:
		return true
	default:
		r.logger.Debug("worker: queue full, task dropped",
			"session_id", t.SessionID, "risk_id", t.RiskID)
		return false
	}
}

// For returns the enqueuer of one session, for the orchestrator.
func (r *Runner) For(sessionID uuid.UUID) SessionQueue {
	return SessionQueue{runner: r, sessionID: sessionID}
}

// Start launches the worker pool. It blocks until ctx is cancelled. Call it in
// a goroutine from main:
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting", "workers", r.cfg.Workers, "queue", r.cfg.QueueSize)

	for i := range r.cfg.Workers {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

// work is the inner loop for each worker goroutine.
func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With("worker_id", id)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			r.runOne(ctx, t, log)
		}
	}
}

// runOne executes a single task under TaskTimeout. A panic in the task is
// recovered and reported like an error.
func (r *Runner) runOne(ctx context.Context, t Task, log *slog.Logger) {
	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("worker: panic: %v", p)
			}
		}()
		return r.job.Run(taskCtx, t)
	}()
	if err != nil {
		errutil.Handle(taskCtx, log, err, "worker: justification task failed")
		return
	}
	log.Debug("worker: task completed", "session_id", t.SessionID, "risk_id", t.RiskID)
}

// ─── SESSION QUEUE ────────────────────────────────────────────────────────────

// SessionQueue binds a Runner to one session id.
type SessionQueue struct {
	runner    *Runner
	sessionID uuid.UUID
}

// EnqueueRisk schedules the justifications of risk id.
func (q SessionQueue) EnqueueRisk(gen uint64, id int) {
	q.runner.Enqueue(Task{SessionID: q.sessionID, Generation: gen, RiskID: id})
}

// EnqueueSummary schedules the summary justification.
func (q SessionQueue) EnqueueSummary(gen uint64) {
	q.runner.Enqueue(Task{SessionID: q.sessionID, Generation: gen})
}
