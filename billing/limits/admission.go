// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"context"
	"fmt"

	"quillworks/platform/shared/logger"
)

// Checker performs pre-flight admission checks against plan caps.
type Checker struct {
	plans    *Plans
	resolver PlanResolver
	counter  ResourceCounter
	audit    ResourceCounter
	log      *logger.Logger
}

// NewChecker creates an admission checker. counter must be the authoritative
// fan-out counter: CheckLimit recounts through it on every call and never
// tolerates a stale read.
func NewChecker(plans *Plans, resolver PlanResolver, counter ResourceCounter, log *logger.Logger) *Checker {
	if plans == nil {
		plans = DefaultPlans()
	}
	if log == nil {
		log = logger.New("limits")
	}
	return &Checker{plans: plans, resolver: resolver, counter: counter, log: log}
}

// UseReportCache routes the read-only usage report through counter, typically
// a CountCache. Admission checks are unaffected: a cap comparison against a
// cached count could admit past the cap when another node created a resource
// inside the TTL.
func (c *Checker) UseReportCache(counter ResourceCounter) {
	c.audit = counter
}

// CheckLimit fails with *LimitExceededError when creating additionalCount
// more resources of kind would push the subscription past its plan cap.
// The current count is recomputed from the authoritative counter on every
// call. additionalCount = 0 checks current state without adding: it never
// mutates anything and is used by periodic audits. An unknown plan name is a
// fatal ErrInvalidPlan, never a silent pass-through.
func (c *Checker) CheckLimit(ctx context.Context, subscriptionID string, kind ResourceKind, additionalCount int) error {
	planName, err := c.resolver.PlanName(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to resolve plan for subscription %s: %w", subscriptionID, err)
	}

	plan, err := c.plans.Lookup(planName)
	if err != nil {
		return err
	}

	limit, err := plan.Cap(kind)
	if err != nil {
		return err
	}

	current, err := c.counter.Count(ctx, subscriptionID, kind)
	if err != nil {
		return fmt.Errorf("failed to count %s resources for subscription %s: %w", kind, subscriptionID, err)
	}

	if current+additionalCount > limit {
		recordLimitDenied(string(kind))
		c.log.Info("", "", "Admission denied by plan limit", map[string]interface{}{
			"subscription_id": subscriptionID,
			"plan":            planName,
			"resource_kind":   string(kind),
			"cap":             limit,
			"current":         current,
			"additional":      additionalCount,
		})
		return &LimitExceededError{
			Plan:       planName,
			Kind:       kind,
			Cap:        limit,
			Current:    current,
			Additional: additionalCount,
		}
	}
	return nil
}

// KindUsage is one row of a usage report.
type KindUsage struct {
	Kind    ResourceKind `json:"resource_kind"`
	Current int          `json:"current"`
	Cap     int          `json:"cap"`
}

// UsageReport is the full audit view of a subscription's metered resources.
type UsageReport struct {
	SubscriptionID string      `json:"subscription_id"`
	Plan           string      `json:"plan"`
	Usage          []KindUsage `json:"usage"`
}

// Report audits every resource kind. It reads through the report cache when
// one is set; the report is informational and tolerates a few seconds of
// staleness.
func (c *Checker) Report(ctx context.Context, subscriptionID string) (*UsageReport, error) {
	planName, err := c.resolver.PlanName(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan for subscription %s: %w", subscriptionID, err)
	}
	plan, err := c.plans.Lookup(planName)
	if err != nil {
		return nil, err
	}

	counter := c.counter
	if c.audit != nil {
		counter = c.audit
	}

	report := &UsageReport{SubscriptionID: subscriptionID, Plan: planName}
	for _, kind := range AllKinds {
		limit, err := plan.Cap(kind)
		if err != nil {
			return nil, err
		}
		current, err := counter.Count(ctx, subscriptionID, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s resources: %w", kind, err)
		}
		report.Usage = append(report.Usage, KindUsage{Kind: kind, Current: current, Cap: limit})
	}
	return report, nil
}
