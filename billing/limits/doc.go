// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

/*
Package limits enforces subscription plan caps on metered resources: agent
keys, channels, MCP servers, per-agent schedules, and per-agent eval judges.

There is no persisted running total. Every check recomputes current usage by
fanning out over the subscription's workspaces and counting child resources,
then compares count+additional against the plan's cap:

	if err := checker.CheckLimit(ctx, subID, limits.ResourceAgentKey, 1); err != nil {
	    var exceeded *limits.LimitExceededError
	    if errors.As(err, &exceeded) {
	        // surface exceeded.Cap and exceeded.Plan to the client
	    }
	}

additionalCount = 0 is a pure audit read: it never mutates state and is safe
to call on any schedule.

An optional Redis cache fronts the fan-out counting for the usage report
only. Admission checks always recount from the authoritative store: a cached
count is blind to resources created through other nodes inside the TTL.
*/
package limits
