// Package arith provides overflow-checked int64 arithmetic and floor
// division, the building blocks of exact bucket math.
package arith

import "math"

// AddWithOverflow returns a+b. If ok is false, a+b overflowed.
func AddWithOverflow(a, b int64) (r int64, ok bool) {
	r = a + b
	// Overflow iff both operands share a sign that the result does not.
	return r, (a^r)&(b^r) >= 0
}

// SubWithOverflow returns a-b. If ok is false, a-b overflowed.
func SubWithOverflow(a, b int64) (r int64, ok bool) {
	r = a - b
	return r, (a^b)&(a^r) >= 0
}

// MulWithOverflow returns a*b. If ok is false, a*b overflowed.
func MulWithOverflow(a, b int64) (r int64, ok bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r = a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return r, false
	}
	return r, r/b == a
}

// FloorDiv returns floor(a/b). b must be non-zero.
//
// Go's / truncates toward zero, which is wrong for bucket indexes of
// timestamps that precede the anchor.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod returns a - b*FloorDiv(a, b). For b > 0 the result is in [0, b).
func FloorMod(a, b int64) int64 {
	r := a % b
	if r != 0 && ((r < 0) != (b < 0)) {
		r += b
	}
	return r
}
