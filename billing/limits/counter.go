// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import "context"

// PlanResolver maps a subscription to its plan name. Backed by the
// subscription directory; the billing provider webhook keeps that current.
type PlanResolver interface {
	PlanName(ctx context.Context, subscriptionID string) (string, error)
}

// ResourceCounter recomputes current usage of one resource kind under a
// subscription. Subscription-wide kinds count every matching resource across
// all workspaces. Per-agent kinds (agentSchedule, evalJudge) return the
// highest count held by any single agent, so comparing against the per-agent
// cap is valid for both admission and audit calls.
type ResourceCounter interface {
	Count(ctx context.Context, subscriptionID string, kind ResourceKind) (int, error)
}

// AllKinds lists every resource kind under admission control, in report
// order.
var AllKinds = []ResourceKind{
	ResourceAgentKey,
	ResourceChannel,
	ResourceMCPServer,
	ResourceAgentSchedule,
	ResourceEvalJudge,
}
