// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quillworks/platform/shared/logger"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	mgr := NewManager(store, NewPriceTable(), logger.New("test"))
	return mgr, store
}

func seedWorkspace(t *testing.T, store *MemoryStore, workspaceID string, micros int64) {
	t.Helper()
	require.NoError(t, store.CreateBalance(context.Background(), WorkspaceBalance{
		WorkspaceID:   workspaceID,
		CreditBalance: micros,
		Currency:      "USD",
	}))
}

func TestReserveDebitsBalance(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)

	res, err := mgr.Reserve(context.Background(), "ws-1", 8_000, 0, false)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, int64(8_000), res.ReservedAmount)
	assert.Equal(t, int64(992_000), res.BalanceAfter)
	assert.False(t, res.BYOK)

	balance, err := store.GetBalance(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, int64(992_000), balance.CreditBalance)
	assert.Equal(t, 1, store.ReservationCount())

	stored, err := store.GetReservation(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", stored.WorkspaceID)
	assert.Equal(t, int64(8_000), stored.ReservedAmount)
	assert.True(t, stored.Expires.After(time.Now()))
}

// Scenario E: zero balance, estimate of one micro-unit.
func TestReserveInsufficientCredits(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 0)

	_, err := mgr.Reserve(context.Background(), "ws-1", 1, 0, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientCredits))

	var ice *InsufficientCreditsError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, "ws-1", ice.WorkspaceID)
	assert.Equal(t, int64(0), ice.BalanceMicros)
	assert.Equal(t, int64(1), ice.RequiredMicros)

	// No reservation, no balance mutation.
	assert.Equal(t, 0, store.ReservationCount())
	balance, err := store.GetBalance(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.CreditBalance)
	assert.Equal(t, int64(1), balance.Version)
}

func TestReserveExactBalanceSucceeds(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 8_000)

	res, err := mgr.Reserve(context.Background(), "ws-1", 8_000, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.BalanceAfter)
}

func TestReserveBYOKSkipsEverything(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 100)

	// Estimate far above balance: with the workspace's own key it does not
	// matter.
	res, err := mgr.Reserve(context.Background(), "ws-1", 1_000_000, 0, true)
	require.NoError(t, err)
	assert.True(t, res.BYOK)
	assert.Empty(t, res.ID)
	assert.Equal(t, 0, store.ReservationCount())
}

func TestReserveNegativeEstimateRejected(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)

	_, err := mgr.Reserve(context.Background(), "ws-1", -1, 0, false)
	require.Error(t, err)
	assert.Equal(t, 0, store.ReservationCount())
}

func TestReserveZeroEstimate(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 0)

	// A zero estimate reserves nothing but still creates the reservation so
	// settlement can price the call after the fact.
	res, err := mgr.Reserve(context.Background(), "ws-1", 0, 0, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, int64(0), res.ReservedAmount)
	assert.Equal(t, 1, store.ReservationCount())
}

func TestReserveUnknownWorkspace(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Reserve(context.Background(), "ws-missing", 8_000, 0, false)
	assert.True(t, errors.Is(err, ErrWorkspaceNotFound))
}

func TestReserveRetriesOnContention(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)

	// Three stale writes, then success within the default retry budget.
	store.FailUpdates = 3
	res, err := mgr.Reserve(context.Background(), "ws-1", 8_000, 5, false)
	require.NoError(t, err)
	assert.Equal(t, int64(992_000), res.BalanceAfter)
}

func TestReserveConcurrencyExhausted(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)

	store.FailUpdates = 10
	_, err := mgr.Reserve(context.Background(), "ws-1", 8_000, 3, false)
	assert.True(t, errors.Is(err, ErrConcurrencyExhausted))
	assert.Equal(t, 0, store.ReservationCount())
}

func TestReserveConcurrentWorkspaces(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 100_000)

	// 10 goroutines race over a balance that covers exactly 10 holds.
	const workers = 10
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := mgr.Reserve(context.Background(), "ws-1", 10_000, 25, false)
			errs <- err
		}()
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-errs)
	}

	balance, err := store.GetBalance(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.CreditBalance)
	assert.Equal(t, workers, store.ReservationCount())

	// The next hold must fail: no overdraft under contention.
	_, err = mgr.Reserve(context.Background(), "ws-1", 1, 25, false)
	assert.True(t, errors.Is(err, ErrInsufficientCredits))
}
