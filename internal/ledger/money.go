package ledger

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// FormatMoney renders an amount the way the board shows it:
// millions with one decimal ("2.5M"), thousands rounded ("250K"),
// anything smaller as-is. Rounding is half away from zero.
func FormatMoney(amount int64) string {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	switch {
	case amount == 0:
		return "0"
	case abs >= 1_000_000:
		return decimal.New(amount, -6).StringFixed(1) + "M"
	case abs >= 1_000:
		return decimal.New(amount, -3).StringFixed(0) + "K"
	default:
		return strconv.FormatInt(amount, 10)
	}
}
