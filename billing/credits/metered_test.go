// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meteredReq() MeteredRequest {
	return MeteredRequest{
		WorkspaceID:         "ws-1",
		EstimatedCostMicros: 8_000,
		Meta:                toolMeta(),
	}
}

func TestMeteredHappyPath(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)
	ctx := context.Background()

	ledger := mgr.NewLedger(nil)
	err := mgr.Metered(ctx, ledger, meteredReq(), func(ctx context.Context) (int64, error) {
		return 4_000, nil
	})
	require.NoError(t, err)

	_, err = ledger.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000-4_000), mustBalance(t, store, "ws-1").CreditBalance)
	assert.Equal(t, 0, store.ReservationCount())
}

// A failed call that produced no billable work returns the full hold.
func TestMeteredRefundsOnError(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)
	ctx := context.Background()

	callErr := errors.New("supplier timeout")
	ledger := mgr.NewLedger(nil)
	err := mgr.Metered(ctx, ledger, meteredReq(), func(ctx context.Context) (int64, error) {
		return 0, callErr
	})
	assert.Equal(t, callErr, err)

	_, cerr := ledger.Commit(ctx)
	require.NoError(t, cerr)
	assert.Equal(t, int64(1_000_000), mustBalance(t, store, "ws-1").CreditBalance)
	assert.Equal(t, 0, store.ReservationCount())
}

// A failed call that still billed partial work is charged for that work.
func TestMeteredChargesPartialWorkOnError(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)
	ctx := context.Background()

	callErr := errors.New("stream cut mid-generation")
	ledger := mgr.NewLedger(nil)
	err := mgr.Metered(ctx, ledger, meteredReq(), func(ctx context.Context) (int64, error) {
		return 3_000, callErr
	})
	assert.Equal(t, callErr, err)

	_, cerr := ledger.Commit(ctx)
	require.NoError(t, cerr)
	assert.Equal(t, int64(1_000_000-3_000), mustBalance(t, store, "ws-1").CreditBalance)
}

// A panic in the paid call must not leak the hold.
func TestMeteredRefundsOnPanic(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)
	ctx := context.Background()

	ledger := mgr.NewLedger(nil)
	func() {
		defer func() {
			require.NotNil(t, recover())
		}()
		_ = mgr.Metered(ctx, ledger, meteredReq(), func(ctx context.Context) (int64, error) {
			panic("tool handler bug")
		})
	}()

	assert.Equal(t, 0, store.ReservationCount())
	_, err := ledger.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), mustBalance(t, store, "ws-1").CreditBalance)
}

// A canceled request context must not block cleanup.
func TestMeteredSettlesAfterCancellation(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	ledger := mgr.NewLedger(nil)
	err := mgr.Metered(ctx, ledger, meteredReq(), func(ctx context.Context) (int64, error) {
		cancel()
		return 4_000, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, store.ReservationCount())
	_, err = ledger.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000-4_000), mustBalance(t, store, "ws-1").CreditBalance)
}

func TestMeteredBYOK(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 100)

	req := meteredReq()
	req.UsesOwnAPIKey = true

	ran := false
	ledger := mgr.NewLedger(nil)
	err := mgr.Metered(context.Background(), ledger, req, func(ctx context.Context) (int64, error) {
		ran = true
		return 50_000, nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, ledger.Len())
	assert.Equal(t, int64(100), mustBalance(t, store, "ws-1").CreditBalance)
}

func TestMeteredInsufficientCreditsSkipsCall(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000)

	ran := false
	ledger := mgr.NewLedger(nil)
	err := mgr.Metered(context.Background(), ledger, meteredReq(), func(ctx context.Context) (int64, error) {
		ran = true
		return 0, nil
	})
	assert.True(t, errors.Is(err, ErrInsufficientCredits))
	assert.False(t, ran)
}
