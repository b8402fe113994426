package query

import (
	"time"

	"BoardLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

// ParticipantSummary is a participant's full ledger state plus derived values.
type ParticipantSummary struct {
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

	Transactions []ledger.Transaction `json:"transactions"`
	LastUpdate   time.Time            `json:"last_update"`

	BudgetPercentage decimal.Decimal `json:"budget_percentage"` // current / initial * 100, one decimal
	NetFlow          int64           `json:"net_flow"`          // received - spent
}

// Leader names the participant with the highest value of a money statistic.
type Leader struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Amount        int64  `json:"amount"`
}

// ActivityLeader names the participant with the longest transaction history.
type ActivityLeader struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Transactions  int    `json:"transactions"`
}

// Statistics aggregates the whole ledger.
// Leaders are nil when no participant has a positive value.
type Statistics struct {
	TotalTransactions int             `json:"total_transactions"` // number of movements
	TotalVolume       int64           `json:"total_volume"`
	AverageBudget     float64         `json:"average_budget"`
	BiggestSpender    *Leader         `json:"biggest_spender"`
	BiggestEarner     *Leader         `json:"biggest_earner"`
	MostActive        *ActivityLeader `json:"most_active"`
	ComputedAt        time.Time       `json:"computed_at"`
}

// Summary is the read view of a ledger session: participants by current
// budget descending, movements newest first.
type Summary struct {
	InitialBudget int64                `json:"initial_budget"`
	Participants  []ParticipantSummary `json:"participants"`
	Movements     []ledger.Movement    `json:"movements"`
	Statistics    Statistics           `json:"statistics"`
}
