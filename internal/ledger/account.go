package ledger

import (
	"errors"
	"math"
	"time"
)

// DefaultInitialBudget is the league-wide season-start budget.
const DefaultInitialBudget int64 = 11_836_080

// ErrOverflow marks an amount that would push a budget accumulator out of int64 range.
var ErrOverflow = errors.New("amount overflows budget accumulator")

// RosterEntry describes a known league member at seeding time.
// Balance is the authoritative balance reported by the platform, if any.
type RosterEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position,omitempty"`
	Points   int    `json:"points,omitempty"`
	Balance  *int64 `json:"balance,omitempty"`
}

// Participant is a league member tracked by the ledger.
//
// Budget invariant: CurrentBudget == OpeningBudget + Received - Spent + Adjustments.
// OpeningBudget is the seeded balance; Adjustments accumulates reconciliation
// deltas so the invariant keeps holding after a forced alignment.
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Points   int    `json:"points"`

	InitialBudget        int64  `json:"initial_budget"`
	OpeningBudget        int64  `json:"opening_budget"`
	CurrentBudget        int64  `json:"current_budget"`
	AuthoritativeBalance *int64 `json:"authoritative_balance,omitempty"`

	Spent       int64 `json:"spent"`
	Received    int64 `json:"received"`
	Adjustments int64 `json:"adjustments"`

	Transactions []Transaction `json:"transactions"`
	LastUpdate   time.Time     `json:"last_update"`
}

// NetFlow returns received minus spent.
func (p *Participant) NetFlow() int64 {
	return p.Received - p.Spent
}

// Clone returns a deep copy that shares no memory with the ledger.
func (p *Participant) Clone() Participant {
	c := *p
	if p.AuthoritativeBalance != nil {
		b := *p.AuthoritativeBalance
		c.AuthoritativeBalance = &b
	}
	c.Transactions = make([]Transaction, len(p.Transactions))
	copy(c.Transactions, p.Transactions)
	return c
}

// CheckedAdd returns a+b and false when the sum overflows int64.
func CheckedAdd(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// CheckedSub returns a-b and false when the difference overflows int64.
func CheckedSub(a, b int64) (int64, bool) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, false
	}
	return a - b, true
}
