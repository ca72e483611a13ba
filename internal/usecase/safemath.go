package usecase

import "math"

// SafeDiv returns n/d, or def when the division is undefined (zero or
// non-finite denominator, non-finite numerator, non-finite result). Every
// division on the decision path goes through here so a NaN can never reach
// the order-submission boundary.
func SafeDiv(n, d, def float64) float64 {
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) || math.IsNaN(n) || math.IsInf(n, 0) {
		return def
	}
	r := n / d
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return def
	}
	return r
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
