// Package money holds integer minor-unit arithmetic. Amounts are int64
// cents and rates are basis points, so nothing here touches floating point.
package money

import "fmt"

// BasisPointsScale is the number of basis points in 100%.
const BasisPointsScale int64 = 10000

// ApplyBps computes amount * bps / 10000 with half-up rounding. Non-positive inputs yield 0.
func ApplyBps(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*bps + BasisPointsScale/2) / BasisPointsScale
}

// PercentOf returns percent% of amount, truncated. percent is clamped to [0, 100].
func PercentOf(amount int64, percent int) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	return amount * int64(percent) / 100
}

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FormatMinor renders minor units as a decimal string with two places.
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
