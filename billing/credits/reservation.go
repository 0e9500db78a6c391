// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quillworks/platform/shared/logger"
)

const (
	// ReservationTTL is how long a reservation may stay outstanding before
	// the Sweeper reclaims it. Generous enough for the slowest tool call.
	ReservationTTL = 15 * time.Minute

	// DefaultMaxRetries bounds conditional-update retries when the caller
	// passes a non-positive value.
	DefaultMaxRetries = 5
)

// Manager reserves and settles credit spend for paid external calls. One
// Manager serves all workspaces; it holds no per-request state.
type Manager struct {
	store  Store
	prices *PriceTable
	log    *logger.Logger

	// now is a test seam; production code never overrides it.
	now func() time.Time
}

// NewManager creates a credit manager over the given store.
func NewManager(store Store, prices *PriceTable, log *logger.Logger) *Manager {
	if prices == nil {
		prices = NewPriceTable()
	}
	if log == nil {
		log = logger.New("credits")
	}
	return &Manager{
		store:  store,
		prices: prices,
		log:    log,
		now:    time.Now,
	}
}

// Prices exposes the manager's price table for estimation at call sites.
func (m *Manager) Prices() *PriceTable {
	return m.prices
}

// Reserve debits a workspace balance by the estimated cost of an upcoming
// paid call and records a reservation holding that debit.
//
// When usesOwnAPIKey is true the workspace pays the provider directly and
// metering is skipped entirely: the returned Reservation has an empty ID and
// BYOK set, and the balance is untouched.
//
// The debit is one atomic conditional update: the admission check (balance
// covers the estimate) runs inside the update function, so it is re-evaluated
// against a fresh balance on every retry. Exhausting maxRetries surfaces
// ErrConcurrencyExhausted; a balance below the estimate surfaces an
// *InsufficientCreditsError before any write happens.
func (m *Manager) Reserve(ctx context.Context, workspaceID string, estimatedCostMicros int64, maxRetries int, usesOwnAPIKey bool) (Reservation, error) {
	if usesOwnAPIKey {
		return Reservation{BYOK: true}, nil
	}
	if estimatedCostMicros < 0 {
		return Reservation{}, fmt.Errorf("negative cost estimate %d for workspace %s", estimatedCostMicros, workspaceID)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	debited, err := m.store.ConditionalUpdateBalance(ctx, workspaceID, func(current WorkspaceBalance) (WorkspaceBalance, error) {
		if current.CreditBalance < estimatedCostMicros {
			recordReservation("insufficient")
			return WorkspaceBalance{}, &InsufficientCreditsError{
				WorkspaceID:    workspaceID,
				BalanceMicros:  current.CreditBalance,
				RequiredMicros: estimatedCostMicros,
			}
		}
		current.CreditBalance -= estimatedCostMicros
		return current, nil
	}, maxRetries)
	if err != nil {
		if err == ErrConcurrencyExhausted {
			recordReservation("contention")
			m.log.Warn(workspaceID, "", "Reservation retries exhausted", map[string]interface{}{
				"estimated_cost_micros": estimatedCostMicros,
				"max_retries":           maxRetries,
			})
		}
		return Reservation{}, err
	}

	res := CreditReservation{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		ReservedAmount: estimatedCostMicros,
		EstimatedCost:  estimatedCostMicros,
		Currency:       debited.Currency,
		Expires:        m.now().UTC().Add(ReservationTTL),
		Version:        1,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.store.CreateReservation(ctx, res); err != nil {
		// The debit happened but the reservation record did not: compensate
		// so no partial state is observable. If the compensation itself
		// fails the amount is recoverable from this log line.
		m.log.Error(workspaceID, "", "Failed to create reservation, reversing debit", map[string]interface{}{
			"reservation_id": res.ID,
			"amount_micros":  estimatedCostMicros,
			"error":          err.Error(),
		})
		if _, cerr := m.store.ConditionalUpdateBalance(ctx, workspaceID, func(current WorkspaceBalance) (WorkspaceBalance, error) {
			current.CreditBalance += estimatedCostMicros
			return current, nil
		}, maxRetries); cerr != nil {
			m.log.Error(workspaceID, "", "Failed to reverse orphaned debit", map[string]interface{}{
				"reservation_id": res.ID,
				"amount_micros":  estimatedCostMicros,
				"error":          cerr.Error(),
			})
		}
		return Reservation{}, fmt.Errorf("failed to create reservation: %w", err)
	}

	recordReservation("reserved")
	m.log.Debug(workspaceID, "", "Reserved credits", map[string]interface{}{
		"reservation_id": res.ID,
		"amount_micros":  estimatedCostMicros,
		"balance_after":  debited.CreditBalance,
	})

	return Reservation{
		ID:             res.ID,
		ReservedAmount: res.ReservedAmount,
		BalanceAfter:   debited.CreditBalance,
	}, nil
}
