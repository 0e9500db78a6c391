// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"fmt"
	"sync"
)

// Archiver persists committed ledger entries to the durable transaction
// archive. Archiving is best-effort: failures are logged and never fail the
// commit, the balance mutation being the authoritative effect.
type Archiver interface {
	SaveTransactions(ctx context.Context, entries []CreditTransaction) error
}

// TurnLedger buffers the credit transactions of one unit of work (one HTTP
// request or one queue message, typically one agent turn). Settlement calls
// append to it; nothing touches the balance store until Commit, which applies
// the net delta in ONE conditional update per workspace. This bounds balance
// writes to one per workspace per request no matter how many tool calls ran.
//
// A TurnLedger is request-scoped and must not be shared across requests. The
// internal mutex only guards against the paid calls of one turn settling from
// parallel goroutines.
type TurnLedger struct {
	mu        sync.Mutex
	entries   []CreditTransaction
	committed bool

	balances   BalanceStore
	archive    Archiver
	maxRetries int
	mgr        *Manager
}

// NewLedger creates a ledger for one request. archive may be nil.
func (m *Manager) NewLedger(archive Archiver) *TurnLedger {
	return &TurnLedger{
		balances:   m.store,
		archive:    archive,
		maxRetries: DefaultMaxRetries,
		mgr:        m,
	}
}

// Append buffers a ledger entry. It never touches the balance store.
func (l *TurnLedger) Append(entry CreditTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Len reports the number of buffered entries.
func (l *TurnLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Commit applies all buffered entries as balance mutations, one conditional
// update per distinct workspace, and archives the entries. Call it exactly
// once at the natural end of the unit of work; a second Commit finds an empty
// buffer and is a no-op, so at-least-once triggers cannot double-apply.
//
// Every buffered entry is logged before the write is attempted: if the
// conditional update exhausts its retries the buffered amounts are gone from
// memory, and those log lines are the reconciliation trail.
//
// Returns the post-commit balance per workspace that had a non-zero net
// delta.
func (l *TurnLedger) Commit(ctx context.Context) (map[string]WorkspaceBalance, error) {
	l.mu.Lock()
	entries := l.entries
	l.entries = nil
	alreadyCommitted := l.committed
	l.committed = true
	l.mu.Unlock()

	if len(entries) == 0 {
		if alreadyCommitted {
			l.mgr.log.Debug("", "", "Ledger commit after previous commit, nothing to apply", nil)
		}
		return map[string]WorkspaceBalance{}, nil
	}

	// Reconciliation trail: record what we are about to apply before any
	// write can fail.
	deltas := make(map[string]int64)
	for _, e := range entries {
		deltas[e.WorkspaceID] += e.AmountMillionthUSD
		l.mgr.log.Info(e.WorkspaceID, "", "Committing ledger entry", map[string]interface{}{
			"transaction_id":       e.ID,
			"source":               string(e.Source),
			"supplier":             e.Supplier,
			"tool_call":            e.ToolCall,
			"amount_millionth_usd": e.AmountMillionthUSD,
			"agent_id":             e.AgentID,
			"conversation_id":      e.ConversationID,
		})
	}

	balances := make(map[string]WorkspaceBalance)
	failed := make(map[string]bool)
	var firstErr error
	for workspaceID, delta := range deltas {
		if delta == 0 {
			// Estimates were exact; the reservation-time debit already
			// settled the books for this workspace.
			continue
		}

		updated, err := l.balances.ConditionalUpdateBalance(ctx, workspaceID, func(current WorkspaceBalance) (WorkspaceBalance, error) {
			current.CreditBalance -= delta
			return current, nil
		}, l.maxRetries)
		if err != nil {
			recordCommit("failed")
			l.mgr.log.Error(workspaceID, "", "Ledger commit failed, entries require manual reconciliation", map[string]interface{}{
				"net_delta_micros": delta,
				"error":            err.Error(),
			})
			failed[workspaceID] = true
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to commit ledger for workspace %s: %w", workspaceID, err)
			}
			continue
		}
		recordCommit("applied")
		balances[workspaceID] = updated
	}

	// Archive after the balance writes so the archive never shows entries
	// the balance does not reflect. Entries for a workspace whose write
	// failed are excluded: their trail is the pre-write log lines above.
	// Best-effort.
	if l.archive != nil {
		applied := entries
		if len(failed) > 0 {
			applied = applied[:0:0]
			for _, e := range entries {
				if !failed[e.WorkspaceID] {
					applied = append(applied, e)
				}
			}
		}
		if len(applied) > 0 {
			if err := l.archive.SaveTransactions(ctx, applied); err != nil {
				l.mgr.log.Error("", "", "Failed to archive ledger entries", map[string]interface{}{
					"entry_count": len(applied),
					"error":       err.Error(),
				})
			}
		}
	}

	return balances, firstErr
}
