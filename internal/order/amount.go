package order

import (
	"math"
	"strconv"
)

// DefaultSafetyBuffer shaves the requested notional so fills land at or
// below the target despite fees, price drift, and step rounding.
const DefaultSafetyBuffer = 0.002

// AdjustBuyAmount applies the safety buffer, floors to 2 decimal places, and
// clamps to a 0.01 minimum. Non-positive input passes through unchanged.
func AdjustBuyAmount(amount, buffer float64) float64 {
	if amount <= 0 {
		return amount
	}
	buffered := amount * (1 - buffer)
	floored := math.Floor(buffered*100) / 100
	return math.Max(0.01, floored)
}

// FormatAmount renders a notional the way the amount input expects.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatPrice renders a limit price with 8 decimal places.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}
