// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"time"
)

const (
	// DefaultSweepInterval is how often the sweeper scans for expired
	// reservations.
	DefaultSweepInterval = time.Minute

	// DefaultSweepBatch caps reservations reclaimed per sweep so one pass
	// never monopolizes the balance store.
	DefaultSweepBatch = 100
)

// Sweeper reclaims reservations that were never settled or refunded, e.g.
// after a process crash mid-call. Each expired reservation is refunded in
// full through a regular ledger: the paid operation's outcome is unknown, so
// the workspace gets the benefit of the doubt.
type Sweeper struct {
	mgr      *Manager
	archive  Archiver
	Interval time.Duration
	Batch    int
}

// NewSweeper creates a sweeper over the manager's store. archive may be nil.
func NewSweeper(mgr *Manager, archive Archiver) *Sweeper {
	return &Sweeper{
		mgr:      mgr,
		archive:  archive,
		Interval: DefaultSweepInterval,
		Batch:    DefaultSweepBatch,
	}
}

// Run sweeps on a fixed interval until ctx is canceled. Intended to run in
// its own goroutine from server startup.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.mgr.log.Info("", "", "Reservation sweeper started", map[string]interface{}{
		"interval": s.Interval.String(),
		"batch":    s.Batch,
	})

	for {
		select {
		case <-ctx.Done():
			s.mgr.log.Info("", "", "Reservation sweeper stopped", nil)
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.mgr.log.Error("", "", "Reservation sweep failed", map[string]interface{}{
					"reclaimed": n,
					"error":     err.Error(),
				})
			}
		}
	}
}

// SweepOnce reclaims one batch of expired reservations and commits their
// refunds as a single ledger. Returns how many reservations were reclaimed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := s.mgr.store.ListExpired(ctx, s.mgr.now().UTC(), s.Batch)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ledger := s.mgr.NewLedger(s.archive)
	reclaimed := 0
	for _, res := range expired {
		meta := TransactionMeta{
			Source:      SourceExpirySweep,
			Supplier:    "internal",
			Description: "expired reservation reclaimed",
		}
		if err := s.mgr.Refund(ctx, res.ID, res.WorkspaceID, meta, ledger); err != nil {
			s.mgr.log.Error(res.WorkspaceID, "", "Failed to refund expired reservation", map[string]interface{}{
				"reservation_id": res.ID,
				"error":          err.Error(),
			})
			continue
		}
		reclaimed++
		promSweptReservations.Inc()
	}

	if _, err := ledger.Commit(ctx); err != nil {
		return reclaimed, err
	}

	s.mgr.log.Info("", "", "Reservation sweep completed", map[string]interface{}{
		"reclaimed": reclaimed,
	})
	return reclaimed, nil
}
