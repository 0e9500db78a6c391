// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
)

// MeteredRequest describes one paid external call to run under metering.
type MeteredRequest struct {
	WorkspaceID         string
	EstimatedCostMicros int64
	MaxRetries          int
	UsesOwnAPIKey       bool
	Meta                TransactionMeta
}

// MeteredFunc performs the paid call and reports its actual cost in
// micro-units. The cost is honored even when err is non-nil, for providers
// that bill partial work (e.g. a generation that failed mid-stream).
type MeteredFunc func(ctx context.Context) (actualCostMicros int64, err error)

// Metered runs fn inside a reserve/settle pair, guaranteeing settlement on
// every exit path: normal return, error return, panic, and context
// cancellation all end with the reservation adjusted or refunded. This is the
// scoped-cleanup discipline every caller of Reserve owes; call sites should
// prefer Metered over pairing Reserve with Adjust/Refund by hand.
//
// Reservation failures abort before fn runs and are returned as-is
// (ErrInsufficientCredits, ErrConcurrencyExhausted). Settlement failures are
// logged and swallowed: the primary work already happened and accounting
// must not fail it.
func (m *Manager) Metered(ctx context.Context, ledger *TurnLedger, req MeteredRequest, fn MeteredFunc) error {
	res, err := m.Reserve(ctx, req.WorkspaceID, req.EstimatedCostMicros, req.MaxRetries, req.UsesOwnAPIKey)
	if err != nil {
		return err
	}
	if res.BYOK {
		_, err := fn(ctx)
		return err
	}

	settled := false
	defer func() {
		if settled {
			return
		}
		// Reached on panic or early return: the paid call's outcome is
		// unknown, return the full hold. Settlement uses a fresh context so
		// a canceled request still cleans up.
		cleanupCtx := context.WithoutCancel(ctx)
		if rerr := m.Refund(cleanupCtx, res.ID, req.WorkspaceID, req.Meta, ledger); rerr != nil {
			m.log.Error(req.WorkspaceID, "", "Failed to refund reservation during cleanup", map[string]interface{}{
				"reservation_id": res.ID,
				"error":          rerr.Error(),
			})
		}
	}()

	actualCost, fnErr := fn(ctx)

	cleanupCtx := context.WithoutCancel(ctx)
	if fnErr != nil && actualCost == 0 {
		// The call never produced billable work.
		if rerr := m.Refund(cleanupCtx, res.ID, req.WorkspaceID, req.Meta, ledger); rerr != nil {
			m.log.Error(req.WorkspaceID, "", "Failed to refund reservation", map[string]interface{}{
				"reservation_id": res.ID,
				"error":          rerr.Error(),
			})
		}
		settled = true
		return fnErr
	}

	if aerr := m.Adjust(cleanupCtx, res.ID, req.WorkspaceID, actualCost, req.Meta, ledger); aerr != nil {
		m.log.Error(req.WorkspaceID, "", "Failed to adjust reservation", map[string]interface{}{
			"reservation_id":     res.ID,
			"actual_cost_micros": actualCost,
			"error":              aerr.Error(),
		})
	}
	settled = true
	return fnErr
}
