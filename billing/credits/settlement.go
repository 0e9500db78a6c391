// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Adjust settles a reservation against the now-known actual cost of the paid
// call. The delta versus the reserved amount (which was already debited at
// reservation time) is appended to the request's ledger and the reservation
// is deleted. Positive delta: the estimate was low, charge more at commit.
// Negative delta: the estimate was high, return the difference at commit.
//
// A missing reservation is an idempotent no-op: settlement may be retried by
// callers after a partial failure, and an absent record is evidence a
// previous attempt already completed. The balance is never touched here; only
// TurnLedger.Commit mutates it.
func (m *Manager) Adjust(ctx context.Context, reservationID, workspaceID string, actualCostMicros int64, meta TransactionMeta, ledger *TurnLedger) error {
	if reservationID == "" {
		// BYOK call: nothing was reserved, nothing to settle.
		return nil
	}

	res, err := m.store.GetReservation(ctx, reservationID)
	if err == ErrReservationNotFound {
		recordSettlement("adjust_noop")
		m.log.Warn(workspaceID, "", "Adjust on missing reservation, treating as already settled", map[string]interface{}{
			"reservation_id": reservationID,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up reservation %s: %w", reservationID, err)
	}

	difference := actualCostMicros - res.ReservedAmount
	ledger.Append(CreditTransaction{
		ID:                 uuid.NewString(),
		WorkspaceID:        workspaceID,
		AgentID:            meta.AgentID,
		ConversationID:     meta.ConversationID,
		Source:             meta.Source,
		Supplier:           meta.Supplier,
		ToolCall:           meta.ToolCall,
		Description:        meta.Description,
		AmountMillionthUSD: difference,
		CreatedAt:          m.now().UTC(),
	})

	// The reservation's job (holding the debit) is done once the delta is
	// buffered; the delete is unconditional from here.
	if err := m.store.DeleteReservation(ctx, reservationID); err != nil && err != ErrReservationNotFound {
		return fmt.Errorf("failed to delete reservation %s: %w", reservationID, err)
	}

	recordSettlement("adjust")
	m.log.Debug(workspaceID, "", "Adjusted reservation", map[string]interface{}{
		"reservation_id":     reservationID,
		"reserved_micros":    res.ReservedAmount,
		"actual_cost_micros": actualCostMicros,
		"delta_micros":       difference,
	})
	return nil
}

// Refund reverses a reservation in full: the paid operation never ran or
// failed before producing a cost, so the entire reserved amount goes back to
// the workspace at commit. Same idempotency as Adjust: a missing reservation
// is a warn-logged no-op.
func (m *Manager) Refund(ctx context.Context, reservationID, workspaceID string, meta TransactionMeta, ledger *TurnLedger) error {
	if reservationID == "" {
		return nil
	}

	res, err := m.store.GetReservation(ctx, reservationID)
	if err == ErrReservationNotFound {
		recordSettlement("refund_noop")
		m.log.Warn(workspaceID, "", "Refund on missing reservation, treating as already settled", map[string]interface{}{
			"reservation_id": reservationID,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up reservation %s: %w", reservationID, err)
	}

	if meta.Description == "" {
		meta.Description = "refund of unsettled reservation"
	}
	ledger.Append(CreditTransaction{
		ID:                 uuid.NewString(),
		WorkspaceID:        workspaceID,
		AgentID:            meta.AgentID,
		ConversationID:     meta.ConversationID,
		Source:             meta.Source,
		Supplier:           meta.Supplier,
		ToolCall:           meta.ToolCall,
		Description:        meta.Description,
		AmountMillionthUSD: -res.ReservedAmount,
		CreatedAt:          m.now().UTC(),
	})

	if err := m.store.DeleteReservation(ctx, reservationID); err != nil && err != ErrReservationNotFound {
		return fmt.Errorf("failed to delete reservation %s: %w", reservationID, err)
	}

	recordSettlement("refund")
	m.log.Debug(workspaceID, "", "Refunded reservation", map[string]interface{}{
		"reservation_id":  reservationID,
		"reserved_micros": res.ReservedAmount,
	})
	return nil
}
