// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnceReclaimsExpired(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)
	ctx := context.Background()

	// Two holds from an executor that then crashed.
	_, err := mgr.Reserve(ctx, "ws-1", 8_000, 0, false)
	require.NoError(t, err)
	_, err = mgr.Reserve(ctx, "ws-1", 2_000, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(990_000), mustBalance(t, store, "ws-1").CreditBalance)

	// Jump past the TTL.
	mgr.now = func() time.Time { return time.Now().Add(ReservationTTL + time.Minute) }

	archive := &mockArchiver{}
	sweeper := NewSweeper(mgr, archive)
	reclaimed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)

	assert.Equal(t, int64(1_000_000), mustBalance(t, store, "ws-1").CreditBalance)
	assert.Equal(t, 0, store.ReservationCount())
	assert.Equal(t, 2, archive.savedCount())
	for _, e := range archive.saved {
		assert.Equal(t, SourceExpirySweep, e.Source)
		assert.Negative(t, e.AmountMillionthUSD)
	}
}

func TestSweepOnceLeavesLiveReservations(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)
	ctx := context.Background()

	_, err := mgr.Reserve(ctx, "ws-1", 8_000, 0, false)
	require.NoError(t, err)

	sweeper := NewSweeper(mgr, nil)
	reclaimed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, 1, store.ReservationCount())
	assert.Equal(t, int64(992_000), mustBalance(t, store, "ws-1").CreditBalance)
}

func TestSweepOnceHonorsBatchLimit(t *testing.T) {
	mgr, store := newTestManager(t)
	seedWorkspace(t, store, "ws-1", 1_000_000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := mgr.Reserve(ctx, "ws-1", 1_000, 0, false)
		require.NoError(t, err)
	}

	mgr.now = func() time.Time { return time.Now().Add(ReservationTTL + time.Minute) }

	sweeper := NewSweeper(mgr, nil)
	sweeper.Batch = 2

	reclaimed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)
	assert.Equal(t, 3, store.ReservationCount())

	// The next passes pick up the rest.
	reclaimed, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)
	reclaimed, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, int64(1_000_000), mustBalance(t, store, "ws-1").CreditBalance)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	mgr, _ := newTestManager(t)
	sweeper := NewSweeper(mgr, nil)
	sweeper.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
