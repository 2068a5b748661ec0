// Package scheduler runs periodic database maintenance: rolling old usage
// rows into monthly archive totals, pruning finished jobs and dropping the
// inline payload of old webhook events.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/DukeRupert/kerf/internal/ledger"
	"github.com/DukeRupert/kerf/internal/repository"
)

// Config holds the schedules and retention windows.
type Config struct {
	UsageArchiveSchedule    string        // cron expression, default "15 3 * * *"
	JobCleanupSchedule      string        // cron expression, default "30 3 * * *"
	UsageRetentionDays      int           // day rows older than this are archived
	JobRetention            time.Duration // finished jobs older than this are deleted
	WebhookPayloadRetention time.Duration // inline payloads of processed events older than this are cleared
	Location                *time.Location
	RunTimeout              time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		UsageArchiveSchedule:    "15 3 * * *",
		JobCleanupSchedule:      "30 3 * * *",
		UsageRetentionDays:      90,
		JobRetention:            14 * 24 * time.Hour,
		WebhookPayloadRetention: 30 * 24 * time.Hour,
		Location:                time.UTC,
		RunTimeout:              5 * time.Minute,
	}
}

// Scheduler wraps a cron runner with the maintenance tasks.
type Scheduler struct {
	db      *sql.DB
	queries *repository.Queries
	config  Config
	cron    *cron.Cron
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a scheduler and registers its tasks.
func New(db *sql.DB, queries *repository.Queries, config Config, logger *slog.Logger) (*Scheduler, error) {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.UsageRetentionDays < 1 {
		return nil, fmt.Errorf("usage retention must be at least 1 day, got %d", config.UsageRetentionDays)
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 5 * time.Minute
	}

	s := &Scheduler{
		db:      db,
		queries: queries,
		config:  config,
		cron:    cron.New(cron.WithLocation(config.Location)),
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
	}

	if _, err := s.cron.AddFunc(config.UsageArchiveSchedule, s.task("usage_archive", s.ArchiveUsage)); err != nil {
		return nil, fmt.Errorf("schedule usage archive: %w", err)
	}
	if _, err := s.cron.AddFunc(config.JobCleanupSchedule, s.task("cleanup", s.Cleanup)); err != nil {
		return nil, fmt.Errorf("schedule cleanup: %w", err)
	}

	return s, nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running tasks to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started",
		"usage_archive_schedule", s.config.UsageArchiveSchedule,
		"cleanup_schedule", s.config.JobCleanupSchedule,
	)

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) task(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Error("scheduled task failed", "task", name, "error", err)
			return
		}
		s.logger.Info("scheduled task completed", "task", name, "duration", time.Since(start))
	}
}

// archiveCutoff is the first day kept in usage_records. Rows of the current
// month are never archived because monthly enforcement reads them.
func (s *Scheduler) archiveCutoff() time.Time {
	today := ledger.Day(s.now(), s.config.Location)
	cutoff := today.AddDate(0, 0, -s.config.UsageRetentionDays)
	if monthStart := ledger.MonthStart(today); monthStart.Before(cutoff) {
		cutoff = monthStart
	}
	// DATE columns compare against UTC midnight.
	return time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
}

// ArchiveUsage rolls day rows before the cutoff into usage_archive and
// deletes them in one transaction.
func (s *Scheduler) ArchiveUsage(ctx context.Context) error {
	cutoff := s.archiveCutoff()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	archived, err := qtx.ArchiveUsageBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive usage: %w", err)
	}
	deleted, err := qtx.DeleteUsageBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete archived usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage archive: %w", err)
	}

	s.logger.Info("usage archived",
		"cutoff", cutoff.Format(time.DateOnly),
		"archive_rows", archived,
		"deleted_rows", deleted,
	)
	return nil
}

// Cleanup prunes finished jobs and clears old webhook payloads. Webhook event
// rows themselves are never deleted: they are the idempotency record, and a
// resend of a processed event id must keep finding processed=true.
func (s *Scheduler) Cleanup(ctx context.Context) error {
	now := s.now()

	jobs, err := s.queries.DeleteFinishedJobsBefore(ctx, now.Add(-s.config.JobRetention))
	if err != nil {
		return fmt.Errorf("delete finished jobs: %w", err)
	}
	payloads, err := s.queries.ClearProcessedWebhookPayloadsBefore(ctx, now.Add(-s.config.WebhookPayloadRetention))
	if err != nil {
		return fmt.Errorf("clear webhook payloads: %w", err)
	}

	s.logger.Info("cleanup completed", "jobs_deleted", jobs, "webhook_payloads_cleared", payloads)
	return nil
}
