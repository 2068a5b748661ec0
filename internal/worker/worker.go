// Package worker runs the Postgres-backed job queue that carries the side
// effects of billing events: notification emails and raw payload archiving.
//
// Jobs are enqueued inside the transaction that records the webhook, so they
// exist only if the state change committed. Each job is then delivered at
// least once; handlers must tolerate a repeat run.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/kerf/internal/metrics"
	"github.com/DukeRupert/kerf/internal/repository"
)

// Worker polls the jobs table and dispatches each job to its handler.
type Worker struct {
	db       *sql.DB
	queries  *repository.Queries
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a worker. Register handlers, then call Start.
func New(db *sql.DB, queries *repository.Queries, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	return &Worker{
		db:       db,
		queries:  queries,
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger.With("component", "worker"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Register adds the handler for one job type. Unknown and duplicate types
// are rejected so a wiring mistake fails at startup.
func (w *Worker) Register(handler JobHandler) error {
	jobType := handler.Type()
	if !isKnownJobType(jobType) {
		return fmt.Errorf("register handler: unknown job type %q", jobType)
	}
	if _, exists := w.handlers[jobType]; exists {
		return fmt.Errorf("register handler: %q already registered", jobType)
	}
	w.handlers[jobType] = handler
	return nil
}

// Start re-queues stale jobs and launches the polling goroutines. It returns
// an error, and starts nothing, when a required job type has no handler.
func (w *Worker) Start(ctx context.Context) error {
	for _, jobType := range w.config.RequiredJobTypes {
		if _, ok := w.handlers[jobType]; !ok {
			return fmt.Errorf("start worker: no handler for required job type %q", jobType)
		}
	}

	if err := w.recoverStaleJobs(ctx); err != nil {
		// Not fatal: the next restart tries again.
		w.logger.Error("Failed to recover stale jobs", "error", err)
	}

	for i := range w.config.Concurrency {
		w.wg.Add(1)
		go w.loop(ctx, i+1)
	}

	w.logger.Info("Worker started", "concurrency", w.config.Concurrency, "job_types", len(w.handlers))
	return nil
}

// Stop signals the polling goroutines and waits up to ShutdownTimeout for
// in-flight jobs. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			w.logger.Info("Worker stopped")
		case <-time.After(w.config.ShutdownTimeout):
			w.logger.Warn("Worker shutdown timed out with jobs still running")
		}
	})
}

func (w *Worker) recoverStaleJobs(ctx context.Context) error {
	count, err := w.queries.RecoverStaleJobs(ctx, w.config.StaleJobThreshold.Seconds())
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if count > 0 {
		w.logger.Warn("Re-queued stale jobs", "count", count, "threshold", w.config.StaleJobThreshold)
	}
	return nil
}

// loop drains the queue, then sleeps PollInterval whenever it comes up empty
// or a dequeue fails.
func (w *Worker) loop(ctx context.Context, id int) {
	defer w.wg.Done()
	logger := w.logger.With("worker_id", id)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := time.Duration(0)
		if err := w.processNext(ctx, logger); err != nil {
			wait = w.config.PollInterval
			if !errors.Is(err, sql.ErrNoRows) && ctx.Err() == nil {
				logger.Error("Job processing failed", "error", err)
			}
		}
		timer.Reset(wait)
	}
}

// processNext claims one job and runs it. It returns sql.ErrNoRows when the
// queue is empty. A job error is returned after the job has been marked.
func (w *Worker) processNext(ctx context.Context, logger *slog.Logger) error {
	job, err := w.claim(ctx)
	if err != nil {
		return err
	}

	logger = logger.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts+1)
	if job.Attempts > 0 {
		metrics.JobRetried(job.JobType)
	}
	metrics.JobStarted(job.JobType)
	start := time.Now()

	if err := w.run(ctx, job); err != nil {
		metrics.JobFailed(job.JobType)
		w.markFailed(ctx, job.ID, err, logger)
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	metrics.JobCompleted(job.JobType, time.Since(start))
	if err := w.queries.UpdateJobCompleted(ctx, job.ID); err != nil {
		// The job ran; a repeat run after stale recovery is tolerated.
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	logger.Debug("Job completed", "duration", time.Since(start))
	return nil
}

// claim dequeues the next due job and marks it running in one transaction.
func (w *Worker) claim(ctx context.Context) (repository.Job, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := w.queries.WithTx(tx)
	job, err := qtx.DequeueJob(ctx)
	if err != nil {
		return repository.Job{}, err
	}
	if err := qtx.UpdateJobStarted(ctx, job.ID); err != nil {
		return repository.Job{}, fmt.Errorf("mark job started: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return repository.Job{}, fmt.Errorf("commit dequeue: %w", err)
	}
	return job, nil
}

func (w *Worker) run(ctx context.Context, job repository.Job) error {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return NewPermanentError(fmt.Errorf("no handler for job type %q", job.JobType))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()
	return handler.Handle(jobCtx, job.Payload)
}

// markFailed records the failure. The query moves the job to failed when it
// is permanent or out of attempts and otherwise reschedules it with
// exponential backoff.
func (w *Worker) markFailed(ctx context.Context, jobID uuid.UUID, jobErr error, logger *slog.Logger) {
	permanent := IsPermanent(jobErr)
	logger.Warn("Job failed", "error", jobErr, "permanent", permanent)

	err := w.queries.UpdateJobFailed(ctx, repository.UpdateJobFailedParams{
		ID:           jobID,
		Permanent:    permanent,
		ErrorMessage: sql.NullString{String: jobErr.Error(), Valid: true},
	})
	if err != nil {
		logger.Error("Failed to record job failure", "error", err)
	}
}
