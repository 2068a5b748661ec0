// Package service contains the business logic layer.
//
// This file implements quota enforcement: resolving a user's tier, looking up
// the tier limit and checking or consuming usage in the ledger.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DukeRupert/kerf/internal/catalog"
	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/ledger"
	"github.com/DukeRupert/kerf/internal/metrics"
)

var tracer = otel.Tracer("github.com/DukeRupert/kerf/internal/service")

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService decides whether a user may use a metered feature.
//
// Every failure to read the tier or the ledger is returned as an error and
// the operation is denied. Nothing is ever allowed by default.
type QuotaService interface {
	// CheckQuota returns a read-only decision. A denied decision is not an
	// error; Allowed is false and Window/ResetAt describe the limit hit.
	CheckQuota(ctx context.Context, userID string, feature domain.Feature) (*domain.QuotaDecision, error)

	// RecordUsage unconditionally counts one use of feature.
	RecordUsage(ctx context.Context, userID string, feature domain.Feature) (*domain.UsageRecord, error)

	// Consume atomically checks the limit and counts one use. When the limit
	// is reached it returns a *domain.QuotaError and counts nothing.
	Consume(ctx context.Context, userID string, feature domain.Feature) (*domain.QuotaDecision, error)

	// GetUsage returns a decision for every metered feature.
	GetUsage(ctx context.Context, userID string) (*domain.UsageSummary, error)
}

// TierResolver returns the tier whose limits currently apply to a user.
type TierResolver interface {
	ResolveTier(ctx context.Context, userID string) (domain.Tier, error)
}

// QuotaConfig controls which calendar day usage is counted against.
type QuotaConfig struct {
	Location *time.Location   // billing timezone, UTC when nil
	Now      func() time.Time // clock, time.Now when nil
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	ledger  ledger.Ledger
	catalog *catalog.Catalog
	tiers   TierResolver
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(l ledger.Ledger, c *catalog.Catalog, tiers TierResolver, cfg QuotaConfig, logger *slog.Logger) QuotaService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &quotaService{
		ledger:  l,
		catalog: c,
		tiers:   tiers,
		loc:     cfg.Location,
		now:     cfg.Now,
		logger:  logger,
	}
}

func (s *quotaService) today() time.Time {
	return ledger.Day(s.now(), s.loc)
}

// CheckQuota returns whether userID may use feature right now.
func (s *quotaService) CheckQuota(ctx context.Context, userID string, feature domain.Feature) (*domain.QuotaDecision, error) {
	const op = "quota.check"

	tier, err := s.tiers.ResolveTier(ctx, userID)
	if err != nil {
		metrics.QuotaDecision(string(feature), "error")
		return nil, err
	}

	limit := s.catalog.LimitFor(tier, feature)
	day := s.today()

	var usage domain.UsageRecord
	if limit.IsUnlimited() {
		usage = domain.UsageRecord{UserID: userID, Feature: feature, Day: day, LastResetAt: day}
	} else {
		usage, err = s.ledger.GetUsage(ctx, userID, feature, day)
		if err != nil {
			metrics.QuotaDecision(string(feature), "error")
			s.logger.Error("quota check failed, denying", "op", op, "user_id", userID, "feature", feature, "error", err)
			return nil, err
		}
	}

	decision := decide(userID, feature, tier, limit, usage, day)
	s.recordDecision(decision)
	return decision, nil
}

// RecordUsage counts one use without checking the limit.
func (s *quotaService) RecordUsage(ctx context.Context, userID string, feature domain.Feature) (*domain.UsageRecord, error) {
	const op = "quota.record_usage"

	if !feature.Valid() {
		return nil, domain.Invalid(op, "unknown feature")
	}

	rec, err := s.ledger.IncrementUsage(ctx, userID, feature, s.today())
	if err != nil {
		s.logger.Error("failed to record usage", "op", op, "user_id", userID, "feature", feature, "error", err)
		return nil, err
	}

	metrics.UsageRecorded(string(feature))
	return &rec, nil
}

// Consume is the enforcement path: tier lookup, limit lookup and a single
// atomic check-and-increment.
func (s *quotaService) Consume(ctx context.Context, userID string, feature domain.Feature) (*domain.QuotaDecision, error) {
	const op = "quota.consume"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("feature", string(feature)))

	tier, err := s.tiers.ResolveTier(ctx, userID)
	if err != nil {
		metrics.QuotaDecision(string(feature), "error")
		span.SetStatus(codes.Error, "tier lookup failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("tier", string(tier)))

	limit := s.catalog.LimitFor(tier, feature)
	day := s.today()

	var rec domain.UsageRecord
	if limit.IsUnlimited() {
		rec, err = s.ledger.IncrementUsage(ctx, userID, feature, day)
	} else {
		rec, err = s.ledger.IncrementWithin(ctx, userID, feature, day, limit)
	}

	if errors.Is(err, ledger.ErrLimitReached) {
		decision := decide(userID, feature, tier, limit, rec, day)
		s.recordDecision(decision)
		span.SetAttributes(attribute.String("window", string(decision.Window)))

		used, ceiling := rec.DailyCount, limit.Daily
		if decision.Window == domain.WindowMonthly {
			used, ceiling = rec.MonthlyCount, limit.Monthly
		}
		return decision, domain.QuotaExceeded(op, feature, decision.Window, used, ceiling, decision.ResetAt)
	}
	if err != nil {
		metrics.QuotaDecision(string(feature), "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger unavailable")
		s.logger.Error("quota consume failed, denying", "op", op, "user_id", userID, "feature", feature, "error", err)
		return nil, err
	}

	metrics.UsageRecorded(string(feature))
	metrics.QuotaDecision(string(feature), "allowed")

	// The record now includes this use, so report remaining from it.
	decision := decide(userID, feature, tier, limit, rec, day)
	decision.Allowed = true
	decision.Window = ""
	return decision, nil
}

// GetUsage returns a dashboard snapshot of every metered feature.
func (s *quotaService) GetUsage(ctx context.Context, userID string) (*domain.UsageSummary, error) {
	tier, err := s.tiers.ResolveTier(ctx, userID)
	if err != nil {
		return nil, err
	}

	day := s.today()
	records, err := s.ledger.ListUsage(ctx, userID, day, domain.Features)
	if err != nil {
		return nil, err
	}

	summary := &domain.UsageSummary{
		UserID:   userID,
		Tier:     tier,
		Day:      day,
		Features: make([]domain.QuotaDecision, 0, len(records)),
	}
	for _, rec := range records {
		limit := s.catalog.LimitFor(tier, rec.Feature)
		summary.Features = append(summary.Features, *decide(userID, rec.Feature, tier, limit, rec, day))
	}
	return summary, nil
}

func (s *quotaService) recordDecision(d *domain.QuotaDecision) {
	if d.Allowed {
		metrics.QuotaDecision(string(d.Feature), "allowed")
		return
	}
	metrics.QuotaDecision(string(d.Feature), "denied")
	s.logger.Info("quota exceeded",
		"user_id", d.UserID,
		"feature", d.Feature,
		"tier", d.Tier,
		"window", d.Window,
		"daily_used", d.Usage.DailyCount,
		"monthly_used", d.Usage.MonthlyCount,
	)
}

// decide compares usage against limit. It never allows when a finite window
// is used up and always allows when both windows are unlimited.
func decide(userID string, feature domain.Feature, tier domain.Tier, limit domain.Limit, usage domain.UsageRecord, day time.Time) *domain.QuotaDecision {
	d := &domain.QuotaDecision{
		UserID:    userID,
		Feature:   feature,
		Tier:      tier,
		Limit:     limit,
		Usage:     usage,
		Remaining: remaining(limit, usage),
		ResetAt:   ledger.NextDay(day),
	}

	d.Window = usage.Exceeds(limit)
	d.Allowed = d.Window == ""
	if d.Window == domain.WindowMonthly || (d.Allowed && limit.Daily == domain.Unlimited) {
		d.ResetAt = ledger.NextMonth(day)
	}
	return d
}

func remaining(limit domain.Limit, usage domain.UsageRecord) int {
	if limit.IsUnlimited() {
		return domain.Unlimited
	}
	left := -1
	if limit.Daily != domain.Unlimited {
		left = max(limit.Daily-usage.DailyCount, 0)
	}
	if limit.Monthly != domain.Unlimited {
		m := max(limit.Monthly-usage.MonthlyCount, 0)
		if left < 0 || m < left {
			left = m
		}
	}
	return left
}
