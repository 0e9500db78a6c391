// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

// Package archive persists committed ledger entries to SQL for audit and
// reporting. The archive is downstream of the balance store: entries land
// here after the balance mutation, best-effort, and billing reports read
// them. Nothing in the ledger's correctness depends on this package.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Registered SQL drivers; selected by name in Open.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"quillworks/platform/billing/credits"
)

// Repository is the SQL-backed transaction archive. It implements
// credits.Archiver and credits.TransactionLister.
type Repository struct {
	db     *sql.DB
	driver string
}

// Open connects to the archive database. driver is "postgres" or "mysql";
// both drivers ship registered so deployments choose per-region.
func Open(driver, dsn string) (*Repository, error) {
	switch driver {
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Repository{db: db, driver: driver}, nil
}

// NewRepository wraps an existing database handle. Used by tests.
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, driver: driver}
}

// Ping verifies the connection for health checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveTransactions inserts a batch of committed ledger entries. One failed
// row fails the batch; the caller logs and moves on, the logged ledger lines
// being the fallback audit trail.
func (r *Repository) SaveTransactions(ctx context.Context, entries []credits.CreditTransaction) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := r.bind(`
		INSERT INTO credit_transactions (
			id, workspace_id, agent_id, conversation_id, source, supplier,
			tool_call, description, amount_millionth_usd, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, query,
			e.ID, e.WorkspaceID, nullString(e.AgentID), nullString(e.ConversationID),
			string(e.Source), e.Supplier, nullString(e.ToolCall), e.Description,
			e.AmountMillionthUSD, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to archive transaction %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

// ListTransactions pages a workspace's archived entries, newest first.
func (r *Repository) ListTransactions(ctx context.Context, workspaceID string, since, until time.Time, limit int) ([]credits.CreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := r.bind(`
		SELECT id, workspace_id, agent_id, conversation_id, source, supplier,
		       tool_call, description, amount_millionth_usd, created_at
		FROM credit_transactions
		WHERE workspace_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`)

	rows, err := r.db.QueryContext(ctx, query, workspaceID, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s: %w", workspaceID, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []credits.CreditTransaction
	for rows.Next() {
		var e credits.CreditTransaction
		var agentID, conversationID, toolCall sql.NullString
		var source string
		if err := rows.Scan(
			&e.ID, &e.WorkspaceID, &agentID, &conversationID, &source,
			&e.Supplier, &toolCall, &e.Description, &e.AmountMillionthUSD, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		e.AgentID = agentID.String
		e.ConversationID = conversationID.String
		e.ToolCall = toolCall.String
		e.Source = credits.TransactionSource(source)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return entries, nil
}

// SpendSince sums a workspace's archived charges from a point in time.
// Refunds (negative amounts) reduce the sum.
func (r *Repository) SpendSince(ctx context.Context, workspaceID string, since time.Time) (int64, error) {
	query := r.bind(`
		SELECT COALESCE(SUM(amount_millionth_usd), 0)
		FROM credit_transactions
		WHERE workspace_id = $1 AND created_at >= $2
	`)

	var total int64
	err := r.db.QueryRowContext(ctx, query, workspaceID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum spend for %s: %w", workspaceID, err)
	}
	return total, nil
}

// bind rewrites $N placeholders to ? for the mysql driver. Queries are
// written in postgres style, matching the primary deployment.
func (r *Repository) bind(query string) string {
	if r.driver != "mysql" {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(query[i])
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Schema is the archive DDL, applied by deployment migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS credit_transactions (
	id                   VARCHAR(64) PRIMARY KEY,
	workspace_id         VARCHAR(64) NOT NULL,
	agent_id             VARCHAR(64),
	conversation_id      VARCHAR(64),
	source               VARCHAR(32) NOT NULL,
	supplier             VARCHAR(64) NOT NULL,
	tool_call            VARCHAR(128),
	description          TEXT NOT NULL,
	amount_millionth_usd BIGINT NOT NULL,
	created_at           TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_workspace
	ON credit_transactions (workspace_id, created_at);
`
