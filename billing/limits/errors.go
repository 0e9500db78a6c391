// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPlan is returned when a subscription references a plan name
	// the limits configuration does not know. Fatal, never a silent pass.
	ErrInvalidPlan = errors.New("invalid subscription plan")

	// ErrLimitExceeded is the errors.Is target for *LimitExceededError.
	ErrLimitExceeded = errors.New("plan limit exceeded")

	// ErrUnknownResourceKind is returned for a resource kind the plan table
	// has no cap for.
	ErrUnknownResourceKind = errors.New("unknown resource kind")

	// ErrSubscriptionNotFound is returned when the subscription id resolves
	// to nothing.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// LimitExceededError reports a denied admission check with the figures the
// client needs: the plan name, the numeric cap, and the usage that tripped it.
type LimitExceededError struct {
	Plan       string       `json:"plan"`
	Kind       ResourceKind `json:"resource_kind"`
	Cap        int          `json:"cap"`
	Current    int          `json:"current"`
	Additional int          `json:"additional"`
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("plan %q allows at most %d %s resources (current %d, requested %d more)",
		e.Plan, e.Cap, e.Kind, e.Current, e.Additional)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}
