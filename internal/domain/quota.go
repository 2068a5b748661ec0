// Package domain contains core business types and interfaces.
//
// This file defines the metering vocabulary: tiers, gated features, limits,
// per-day usage records and the quota decision returned to callers.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Tier is a named subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierMaker   Tier = "maker"
	TierPro     Tier = "pro"
)

// Tiers lists every known tier from least to most capable.
var Tiers = []Tier{TierFree, TierStarter, TierMaker, TierPro}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierMaker, TierPro:
		return true
	default:
		return false
	}
}

// Feature identifies a metered capability.
type Feature string

const (
	FeatureAIGeneration     Feature = "ai_generation"
	FeatureGCodeGeneration  Feature = "gcode_generation"
	FeatureTemplateDownload Feature = "template_download"
)

// Features lists every metered feature.
var Features = []Feature{FeatureAIGeneration, FeatureGCodeGeneration, FeatureTemplateDownload}

// Valid reports whether f is one of the metered features.
func (f Feature) Valid() bool {
	switch f {
	case FeatureAIGeneration, FeatureGCodeGeneration, FeatureTemplateDownload:
		return true
	default:
		return false
	}
}

// Entitlement is a boolean capability granted by a tier.
type Entitlement string

const (
	EntitlementPremiumTemplates  Entitlement = "premium_templates"
	EntitlementCommercialLicense Entitlement = "commercial_license"
)

// Valid reports whether e is a known entitlement flag.
func (e Entitlement) Valid() bool {
	return e == EntitlementPremiumTemplates || e == EntitlementCommercialLicense
}

// Unlimited marks a limit with no ceiling.
const Unlimited = -1

// Limit holds the per-feature quota of a tier.
type Limit struct {
	Daily   int `yaml:"daily" json:"daily"`
	Monthly int `yaml:"monthly" json:"monthly"`
}

// IsUnlimited reports whether neither window has a ceiling.
func (l Limit) IsUnlimited() bool {
	return l.Daily == Unlimited && l.Monthly == Unlimited
}

// Window names the counting period a limit applies to.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowMonthly Window = "monthly"
)

// UsageRecord is the usage of one feature by one user on one calendar day.
// MonthlyCount is the month-to-date total including DailyCount.
type UsageRecord struct {
	UserID       string
	Feature      Feature
	Day          time.Time // midnight in the billing timezone
	DailyCount   int
	MonthlyCount int
	LastResetAt  time.Time
}

// Exceeds reports which window of limit, if any, is already used up.
// It returns an empty Window when another use is still allowed.
func (u UsageRecord) Exceeds(limit Limit) Window {
	if limit.Daily != Unlimited && u.DailyCount >= limit.Daily {
		return WindowDaily
	}
	if limit.Monthly != Unlimited && u.MonthlyCount >= limit.Monthly {
		return WindowMonthly
	}
	return ""
}

// QuotaDecision is the answer to "may this user use this feature now?".
type QuotaDecision struct {
	Allowed   bool
	UserID    string
	Feature   Feature
	Tier      Tier
	Limit     Limit
	Usage     UsageRecord
	Window    Window    // window that denied the request, empty when allowed
	ResetAt   time.Time // when the denying window resets
	Remaining int       // remaining uses today, Unlimited when not capped
}

// QuotaError reports that a tier quota is used up. It carries an *Error with
// code EQUOTA so the HTTP layer renders it as an upgrade prompt.
type QuotaError struct {
	Err     *Error
	Feature Feature
	Window  Window
	Used    int
	Limit   int
	ResetAt time.Time
}

func (e *QuotaError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the coded *Error to errors.As.
func (e *QuotaError) Unwrap() error {
	return e.Err
}

// QuotaExceeded creates a quota error for the given feature window.
func QuotaExceeded(op string, feature Feature, window Window, used, limit int, resetAt time.Time) *QuotaError {
	return &QuotaError{
		Err: &Error{
			Code:    EQUOTA,
			Op:      op,
			Message: fmt.Sprintf("You have used all %d of your %s %s uses. Upgrade your plan for more.", limit, window, feature),
		},
		Feature: feature,
		Window:  window,
		Used:    used,
		Limit:   limit,
		ResetAt: resetAt,
	}
}

// AsQuotaError extracts a QuotaError from err.
func AsQuotaError(err error) (*QuotaError, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// UsageSummary is a per-feature snapshot for dashboards. It may be stale by
// the time it is rendered and is never used for enforcement.
type UsageSummary struct {
	UserID   string
	Tier     Tier
	Day      time.Time
	Features []QuotaDecision
}
