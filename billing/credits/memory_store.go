// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same compare-and-swap semantics
// as the Mongo implementation. Used by tests and by single-node dev mode.
type MemoryStore struct {
	mu           sync.Mutex
	balances     map[string]WorkspaceBalance
	reservations map[string]CreditReservation

	// FailUpdates forces the next n conditional-update attempts to report a
	// stale version, for exercising the retry discipline in tests.
	FailUpdates int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:     make(map[string]WorkspaceBalance),
		reservations: make(map[string]CreditReservation),
	}
}

// GetBalance returns the balance record for a workspace.
func (s *MemoryStore) GetBalance(ctx context.Context, workspaceID string) (WorkspaceBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[workspaceID]
	if !ok {
		return WorkspaceBalance{}, ErrWorkspaceNotFound
	}
	return b, nil
}

// CreateBalance provisions a balance record at version 1.
func (s *MemoryStore) CreateBalance(ctx context.Context, balance WorkspaceBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.balances[balance.WorkspaceID]; exists {
		return ErrBalanceExists
	}
	balance.Version = 1
	if balance.UpdatedAt.IsZero() {
		balance.UpdatedAt = time.Now().UTC()
	}
	s.balances[balance.WorkspaceID] = balance
	return nil
}

// ConditionalUpdateBalance applies fn under compare-and-swap, retrying on a
// stale version up to maxRetries additional attempts.
func (s *MemoryStore) ConditionalUpdateBalance(ctx context.Context, workspaceID string, fn BalanceUpdateFunc, maxRetries int) (WorkspaceBalance, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return WorkspaceBalance{}, err
		}

		current, err := s.GetBalance(ctx, workspaceID)
		if err != nil {
			return WorkspaceBalance{}, err
		}

		next, err := fn(current)
		if err != nil {
			return WorkspaceBalance{}, err
		}

		written, err := s.compareAndSwap(workspaceID, current.Version, next)
		if err == ErrStaleVersion {
			continue
		}
		return written, err
	}
	return WorkspaceBalance{}, ErrConcurrencyExhausted
}

func (s *MemoryStore) compareAndSwap(workspaceID string, basedOnVersion int64, next WorkspaceBalance) (WorkspaceBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpdates > 0 {
		s.FailUpdates--
		return WorkspaceBalance{}, ErrStaleVersion
	}

	current, ok := s.balances[workspaceID]
	if !ok {
		return WorkspaceBalance{}, ErrWorkspaceNotFound
	}
	if current.Version != basedOnVersion {
		return WorkspaceBalance{}, ErrStaleVersion
	}

	next.WorkspaceID = workspaceID
	next.Version = basedOnVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.balances[workspaceID] = next
	return next, nil
}

// GetReservation returns a reservation by id.
func (s *MemoryStore) GetReservation(ctx context.Context, id string) (CreditReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return CreditReservation{}, ErrReservationNotFound
	}
	return r, nil
}

// CreateReservation stores a reservation record.
func (s *MemoryStore) CreateReservation(ctx context.Context, res CreditReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[res.ID]; exists {
		return ErrReservationExists
	}
	s.reservations[res.ID] = res
	return nil
}

// DeleteReservation removes a reservation. Deleting an absent reservation
// returns ErrReservationNotFound.
func (s *MemoryStore) DeleteReservation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[id]; !exists {
		return ErrReservationNotFound
	}
	delete(s.reservations, id)
	return nil
}

// ListExpired returns up to limit reservations expired as of asOf, oldest
// first.
func (s *MemoryStore) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]CreditReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []CreditReservation
	for _, r := range s.reservations {
		if !r.Expires.After(asOf) {
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Expires.Before(expired[j].Expires) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// ReservationCount reports the number of outstanding reservations. Test
// helper.
func (s *MemoryStore) ReservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}
