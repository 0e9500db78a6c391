// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package archive

import (
	"context"
	"fmt"
	"time"
)

// APICallEvent is one metered HTTP request against the billing API,
// recorded for per-workspace usage reporting.
type APICallEvent struct {
	WorkspaceID    string
	RequestID      string
	HTTPMethod     string
	HTTPPath       string
	HTTPStatusCode int
	LatencyMs      int64
	OccurredAt     time.Time
}

// RecordAPICall inserts one usage event. Callers fire it from a goroutine
// after the response is written; a failed insert loses one usage row and
// nothing else.
func (r *Repository) RecordAPICall(ctx context.Context, event APICallEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	query := r.bind(`
		INSERT INTO usage_events (
			workspace_id, request_id, http_method, http_path,
			http_status_code, latency_ms, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)

	_, err := r.db.ExecContext(ctx, query,
		event.WorkspaceID, nullString(event.RequestID), event.HTTPMethod,
		event.HTTPPath, event.HTTPStatusCode, event.LatencyMs, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage event: %w", err)
	}
	return nil
}

// APICallsSince counts a workspace's API requests from a point in time.
func (r *Repository) APICallsSince(ctx context.Context, workspaceID string, since time.Time) (int64, error) {
	query := r.bind(`
		SELECT COUNT(*)
		FROM usage_events
		WHERE workspace_id = $1 AND occurred_at >= $2
	`)

	var n int64
	err := r.db.QueryRowContext(ctx, query, workspaceID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage events for %s: %w", workspaceID, err)
	}
	return n, nil
}

// UsageSchema is the usage-event DDL, applied by deployment migrations.
const UsageSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id               BIGSERIAL PRIMARY KEY,
	workspace_id     VARCHAR(64) NOT NULL,
	request_id       VARCHAR(64),
	http_method      VARCHAR(8) NOT NULL,
	http_path        VARCHAR(256) NOT NULL,
	http_status_code INT NOT NULL,
	latency_ms       BIGINT NOT NULL,
	occurred_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_workspace
	ON usage_events (workspace_id, occurred_at);
`
