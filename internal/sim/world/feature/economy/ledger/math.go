package ledger

import "math"

// Coin arithmetic panics on int64 overflow; a wrapped balance would corrupt
// every reconciliation after it.

func addChecked(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("LEDGER_ADD_OVERFLOW")
	}
	return a + b
}

func subChecked(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("LEDGER_SUB_OVERFLOW")
	}
	return a - b
}

// MulCoins multiplies a unit price by a quantity with the same overflow rule.
func MulCoins(price int64, qty int) int64 {
	q := int64(qty)
	if price == 0 || q == 0 {
		return 0
	}
	r := price * q
	if r/q != price {
		panic("LEDGER_MUL_OVERFLOW")
	}
	return r
}
