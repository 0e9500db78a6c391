// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"time"
)

// BalanceUpdateFunc receives the current balance record and returns the
// desired next state. Returning an error aborts the update without writing;
// the error is surfaced unwrapped to the caller. The store owns the version
// field: implementations write version+1 and ignore any version the func set.
type BalanceUpdateFunc func(current WorkspaceBalance) (WorkspaceBalance, error)

// BalanceStore persists workspace balances. ConditionalUpdateBalance is the
// one concurrency primitive the ledger relies on: a compare-and-swap on the
// record version, retried internally on ErrStaleVersion up to maxRetries
// additional attempts, after which it fails with ErrConcurrencyExhausted.
type BalanceStore interface {
	GetBalance(ctx context.Context, workspaceID string) (WorkspaceBalance, error)
	CreateBalance(ctx context.Context, balance WorkspaceBalance) error
	ConditionalUpdateBalance(ctx context.Context, workspaceID string, fn BalanceUpdateFunc, maxRetries int) (WorkspaceBalance, error)
}

// ReservationStore persists credit reservations. Reservations are immutable:
// there is no update operation, only create and delete.
type ReservationStore interface {
	GetReservation(ctx context.Context, id string) (CreditReservation, error)
	CreateReservation(ctx context.Context, res CreditReservation) error
	DeleteReservation(ctx context.Context, id string) error

	// ListExpired returns up to limit reservations whose Expires is at or
	// before asOf. Consumed by the Sweeper only.
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]CreditReservation, error)
}

// Store combines both stores; the Mongo and in-memory implementations
// satisfy it with one value.
type Store interface {
	BalanceStore
	ReservationStore
}
