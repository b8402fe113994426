package query

import (
	"math"
	"sort"
	"time"

	"BoardLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// BudgetPercentage returns current / initial * 100 rounded to one decimal.
// A zero initial budget yields zero.
func BudgetPercentage(current, initial int64) decimal.Decimal {
	if initial == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(current).
		Mul(hundred).
		Div(decimal.NewFromInt(initial)).
		Round(1)
}

// NewParticipantSummary copies a participant into its read view.
func NewParticipantSummary(p *ledger.Participant) ParticipantSummary {
	c := p.Clone()
	return ParticipantSummary{
		ID:                   c.ID,
		Name:                 c.Name,
		Position:             c.Position,
		Points:               c.Points,
		InitialBudget:        c.InitialBudget,
		OpeningBudget:        c.OpeningBudget,
		CurrentBudget:        c.CurrentBudget,
		AuthoritativeBalance: c.AuthoritativeBalance,
		Spent:                c.Spent,
		Received:             c.Received,
		Adjustments:          c.Adjustments,
		Transactions:         c.Transactions,
		LastUpdate:           c.LastUpdate,
		BudgetPercentage:     BudgetPercentage(c.CurrentBudget, c.InitialBudget),
		NetFlow:              c.NetFlow(),
	}
}

// BuildSummary assembles the summary view. participants must be in
// insertion order: statistics ties go to the first one encountered.
// Inputs are copied; the result shares no memory with the ledger.
func BuildSummary(initialBudget int64, participants []*ledger.Participant, movements []ledger.Movement, computedAt time.Time) Summary {
	views := make([]ParticipantSummary, 0, len(participants))
	for _, p := range participants {
		views = append(views, NewParticipantSummary(p))
	}

	stats := computeStatistics(views, movements, computedAt)

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CurrentBudget > views[j].CurrentBudget
	})

	mv := make([]ledger.Movement, len(movements))
	copy(mv, movements)
	sort.SliceStable(mv, func(i, j int) bool {
		return mv[i].Date.After(mv[j].Date)
	})

	return Summary{
		InitialBudget: initialBudget,
		Participants:  views,
		Movements:     mv,
		Statistics:    stats,
	}
}

// computeStatistics walks participants in insertion order. A leader must
// strictly exceed both zero and the current leader, so ties keep the first
// participant and an all-zero league has no leader. TotalVolume saturates
// at math.MaxInt64.
func computeStatistics(views []ParticipantSummary, movements []ledger.Movement, computedAt time.Time) Statistics {
	stats := Statistics{
		TotalTransactions: len(movements),
		ComputedAt:        computedAt,
	}
	for _, m := range movements {
		v, ok := ledger.CheckedAdd(stats.TotalVolume, m.Amount)
		if !ok {
			v = math.MaxInt64
		}
		stats.TotalVolume = v
	}

	if len(views) == 0 {
		return stats
	}

	total := decimal.Zero
	for i := range views {
		v := &views[i]
		total = total.Add(decimal.NewFromInt(v.CurrentBudget))

		if v.Spent > leaderAmount(stats.BiggestSpender) {
			stats.BiggestSpender = &Leader{ParticipantID: v.ID, Name: v.Name, Amount: v.Spent}
		}
		if v.Received > leaderAmount(stats.BiggestEarner) {
			stats.BiggestEarner = &Leader{ParticipantID: v.ID, Name: v.Name, Amount: v.Received}
		}
		if n := len(v.Transactions); n > activityCount(stats.MostActive) {
			stats.MostActive = &ActivityLeader{ParticipantID: v.ID, Name: v.Name, Transactions: n}
		}
	}
	stats.AverageBudget = total.Div(decimal.NewFromInt(int64(len(views)))).InexactFloat64()

	return stats
}

func leaderAmount(l *Leader) int64 {
	if l == nil {
		return 0
	}
	return l.Amount
}

func activityCount(l *ActivityLeader) int {
	if l == nil {
		return 0
	}
	return l.Transactions
}
