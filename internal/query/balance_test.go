package query_test

import (
	"math"
	"testing"
	"time"

	"BoardLedger/internal/ledger"
	"BoardLedger/internal/query"
)

var computedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func participant(id string, current, spent, received int64, txs int) *ledger.Participant {
	p := &ledger.Participant{
		ID:            id,
		Name:          "team " + id,
		InitialBudget: 1_000_000,
		OpeningBudget: 1_000_000,
		CurrentBudget: current,
		Spent:         spent,
		Received:      received,
	}
	for i := 0; i < txs; i++ {
		p.Transactions = append(p.Transactions, ledger.Transaction{Kind: ledger.TransactionIncome, Amount: 1})
	}
	return p
}

func TestBudgetPercentage(t *testing.T) {
	tests := []struct {
		current, initial int64
		want             string
	}{
		{1_000_000, 1_000_000, "100"},
		{1_234_567, 1_000_000, "123.5"},
		{333_333, 1_000_000, "33.3"},
		{-50_000, 1_000_000, "-5"},
		{500, 0, "0"},
	}

	for _, tt := range tests {
		if got := query.BudgetPercentage(tt.current, tt.initial).String(); got != tt.want {
			t.Errorf("BudgetPercentage(%d, %d): got %s, want %s", tt.current, tt.initial, got, tt.want)
		}
	}
}

func TestBuildSummary_LeaderTiesKeepFirst(t *testing.T) {
	participants := []*ledger.Participant{
		participant("a", 900_000, 300_000, 200_000, 3),
		participant("b", 900_000, 300_000, 200_000, 3),
	}

	st := query.BuildSummary(1_000_000, participants, nil, computedAt).Statistics

	if st.BiggestSpender.ParticipantID != "a" {
		t.Errorf("spender tie: got %s, want a", st.BiggestSpender.ParticipantID)
	}
	if st.BiggestEarner.ParticipantID != "a" {
		t.Errorf("earner tie: got %s, want a", st.BiggestEarner.ParticipantID)
	}
	if st.MostActive.ParticipantID != "a" || st.MostActive.Transactions != 3 {
		t.Errorf("most active: %+v", st.MostActive)
	}
}

func TestBuildSummary_ZeroValuesHaveNoLeader(t *testing.T) {
	participants := []*ledger.Participant{participant("a", 1_000_000, 0, 0, 0)}

	st := query.BuildSummary(1_000_000, participants, nil, computedAt).Statistics

	if st.BiggestSpender != nil || st.BiggestEarner != nil || st.MostActive != nil {
		t.Errorf("no positive values, no leaders: %+v", st)
	}
	if st.AverageBudget != 1_000_000 {
		t.Errorf("average: got %f", st.AverageBudget)
	}
}

func TestBuildSummary_Ordering(t *testing.T) {
	participants := []*ledger.Participant{
		participant("low", 100, 0, 0, 0),
		participant("high", 5_000, 0, 0, 0),
		participant("mid", 1_000, 0, 0, 0),
	}
	movements := []ledger.Movement{
		{Type: ledger.MovementPurchase, Date: time.Unix(10, 0), Amount: 5},
		{Type: ledger.MovementSale, Date: time.Unix(30, 0), Amount: 7},
		{Type: ledger.MovementSale, Date: time.Unix(20, 0), Amount: 11},
	}

	s := query.BuildSummary(1_000_000, participants, movements, computedAt)

	for i, want := range []string{"high", "mid", "low"} {
		if s.Participants[i].ID != want {
			t.Errorf("participant %d: got %s, want %s", i, s.Participants[i].ID, want)
		}
	}
	for i, want := range []int64{7, 11, 5} {
		if s.Movements[i].Amount != want {
			t.Errorf("movement %d: got %d, want %d", i, s.Movements[i].Amount, want)
		}
	}
	if s.Statistics.TotalVolume != 23 || s.Statistics.TotalTransactions != 3 {
		t.Errorf("totals: %+v", s.Statistics)
	}
	// Input slice untouched.
	if movements[0].Amount != 5 {
		t.Error("BuildSummary reordered the caller's movements")
	}
}

func TestBuildSummary_CopiesParticipants(t *testing.T) {
	p := participant("a", 1_000_000, 0, 10, 1)
	s := query.BuildSummary(1_000_000, []*ledger.Participant{p}, nil, computedAt)

	s.Participants[0].Transactions[0].Amount = 99
	if p.Transactions[0].Amount != 1 {
		t.Error("summary shares transaction memory with the ledger")
	}
	if s.Participants[0].NetFlow != 10 {
		t.Errorf("net flow: got %d", s.Participants[0].NetFlow)
	}
}

func TestBuildSummary_TotalVolumeSaturates(t *testing.T) {
	movements := []ledger.Movement{
		{Amount: math.MaxInt64 - 10},
		{Amount: 100},
	}
	s := query.BuildSummary(1_000_000, nil, movements, computedAt)

	if s.Statistics.TotalVolume != math.MaxInt64 {
		t.Errorf("total volume: got %d, want %d", s.Statistics.TotalVolume, int64(math.MaxInt64))
	}
	if s.Statistics.TotalTransactions != 2 {
		t.Errorf("total transactions: got %d, want 2", s.Statistics.TotalTransactions)
	}
}
