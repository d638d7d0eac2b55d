package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const claimBatchSize = 20

// HandlerFunc processes one claimed job. Returning a SuspendError parks
// the job until the carried resume time; any other error counts against
// the job's retry budget.
type HandlerFunc func(ctx context.Context, job *Job) error

// Options tunes the worker pool.
type Options struct {
	Workers      int
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// Engine polls the queue and dispatches jobs to registered handlers.
type Engine struct {
	queue    *Queue
	logger   *slog.Logger
	opts     Options
	handlers map[string]HandlerFunc
	now      func() time.Time
}

// New creates an engine. Handlers are registered before Run is called.
func New(queue *Queue, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		queue:    queue,
		logger:   logger,
		opts:     opts.withDefaults(),
		handlers: make(map[string]HandlerFunc),
		now:      time.Now,
	}
}

// Register binds the handler for a job name.
func (e *Engine) Register(name string, fn HandlerFunc) {
	e.handlers[name] = fn
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.opts.Workers; i++ {
		g.Go(func() error {
			return e.worker(ctx)
		})
	}
	return g.Wait()
}

func (e *Engine) worker(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := e.Tick(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("worker tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick claims and processes one batch of due jobs. Exposed so one-shot
// commands and tests can drain the queue without a running pool.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	jobs, err := e.queue.ClaimDue(ctx, e.now(), claimBatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}

	for _, job := range jobs {
		e.process(ctx, job)
	}
	return len(jobs), nil
}

func (e *Engine) process(ctx context.Context, job *Job) {
	handler, ok := e.handlers[job.Name]
	if !ok {
		e.logger.Error("no handler for job", "job", job.ID, "name", job.Name)
		if err := e.queue.Fail(ctx, job, "no handler registered for "+job.Name); err != nil {
			e.logger.Error("park unhandled job", "job", job.ID, "error", err)
		}
		return
	}

	err := handler(ctx, job)
	switch {
	case err == nil:
		if err := e.queue.Complete(ctx, job.ID); err != nil {
			e.logger.Error("complete job", "job", job.ID, "error", err)
		}
	default:
		if suspend, ok := AsSuspend(err); ok {
			e.logger.Debug("job suspended",
				"job", job.ID,
				"resume_at", suspend.ResumeAt)
			if err := e.queue.Suspend(ctx, job.ID, suspend.ResumeAt); err != nil {
				e.logger.Error("suspend job", "job", job.ID, "error", err)
			}
			return
		}

		e.logger.Warn("job failed",
			"job", job.ID,
			"name", job.Name,
			"attempts", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"error", err)
		if err := e.queue.Fail(ctx, job, err.Error()); err != nil {
			e.logger.Error("record job failure", "job", job.ID, "error", err)
		}
	}
}
