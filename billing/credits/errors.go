// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits is returned when a workspace balance is too low
	// to cover a reservation. Terminal: the user must add credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrConcurrencyExhausted is returned when a conditional update still
	// hit a stale version after the permitted retries. Transient: the caller
	// may retry the whole operation.
	ErrConcurrencyExhausted = errors.New("balance update retries exhausted")

	// ErrWorkspaceNotFound is returned when no balance record exists for a
	// workspace.
	ErrWorkspaceNotFound = errors.New("workspace balance not found")

	// ErrReservationNotFound is returned by the stores when a reservation id
	// is unknown. Settlement paths treat it as already-processed and log a
	// warning instead of propagating it.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrStaleVersion signals a single failed conditional-update attempt.
	// Store implementations retry on it internally; it escapes only wrapped
	// in ErrConcurrencyExhausted.
	ErrStaleVersion = errors.New("record version is stale")

	// ErrBalanceExists is returned when provisioning a balance for a
	// workspace that already has one.
	ErrBalanceExists = errors.New("workspace balance already exists")

	// ErrReservationExists is returned on a reservation id collision.
	ErrReservationExists = errors.New("reservation already exists")
)

// InsufficientCreditsError carries the figures a client needs to render an
// "add credits" response. It matches ErrInsufficientCredits under errors.Is.
type InsufficientCreditsError struct {
	WorkspaceID    string `json:"workspace_id"`
	BalanceMicros  int64  `json:"balance_micros"`
	RequiredMicros int64  `json:"required_micros"`
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for workspace %s: balance %d, required %d",
		e.WorkspaceID, e.BalanceMicros, e.RequiredMicros)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}
