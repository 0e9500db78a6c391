// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import "math"

// MicrosPerUnit is the number of micro-units in 1.00 of a currency. All
// ledger amounts are integers in micro-units to avoid floating-point drift.
const MicrosPerUnit = 1_000_000

// ToMicros converts a display amount to micro-units, rounding half away from
// zero. Pure and total: no failure modes.
func ToMicros(amount float64) int64 {
	return roundHalfUp(amount * MicrosPerUnit)
}

// FromMicros converts micro-units back to a display amount. For display
// purposes only; never feed the result back into ledger arithmetic.
func FromMicros(micros int64) float64 {
	return float64(micros) / MicrosPerUnit
}

// CallCostMicros prices a flat-rate external call: unitsConsumed times the
// per-unit price in micro-units. Fractional unitsConsumed (e.g. 0.5 credits)
// is supported and rounded half-up at this boundary, never truncated.
func CallCostMicros(unitsConsumed float64, pricePerUnitMicros int64) int64 {
	return roundHalfUp(unitsConsumed * float64(pricePerUnitMicros))
}

// roundHalfUp rounds to the nearest integer with ties going away from zero,
// so 0.5 credits at 8_000 micros/credit is always 4_000.
func roundHalfUp(x float64) int64 {
	if x >= 0 {
		return int64(math.Floor(x + 0.5))
	}
	return int64(math.Ceil(x - 0.5))
}
