package ledger

import (
	"fmt"
	"time"

	"BoardLedger/internal/event"
)

// Book is the owned participant table of one ledger session.
// Participants are kept in insertion order: roster order first, then
// lazily created participants in the order the feed first referenced them.
// Not thread-safe; only the engine mutates it.
type Book struct {
	initialBudget int64
	participants  map[string]*Participant
	order         []string
}

func NewBook(initialBudget int64) *Book {
	return &Book{
		initialBudget: initialBudget,
		participants:  make(map[string]*Participant),
	}
}

// InitialBudget returns the league-wide baseline.
func (b *Book) InitialBudget() int64 {
	return b.initialBudget
}

// Seed replaces the table with one participant per roster entry.
// CurrentBudget starts at the authoritative balance when supplied,
// otherwise at the initial budget.
func (b *Book) Seed(roster []RosterEntry, at time.Time) {
	b.participants = make(map[string]*Participant, len(roster))
	b.order = nil

	for _, r := range roster {
		opening := b.initialBudget
		var authoritative *int64
		if r.Balance != nil {
			v := *r.Balance
			authoritative = &v
			opening = v
		}

		p := &Participant{
			ID:                   r.ID,
			Name:                 r.Name,
			Position:             r.Position,
			Points:               r.Points,
			InitialBudget:        b.initialBudget,
			OpeningBudget:        opening,
			CurrentBudget:        opening,
			AuthoritativeBalance: authoritative,
			Transactions:         []Transaction{},
			LastUpdate:           at,
		}
		if _, exists := b.participants[r.ID]; !exists {
			b.order = append(b.order, r.ID)
		}
		b.participants[r.ID] = p
	}
}

// Lookup finds a participant by ID, then by exact name.
func (b *Book) Lookup(ref event.Party) (*Participant, bool) {
	if ref.ID != "" {
		if p, ok := b.participants[ref.ID]; ok {
			return p, true
		}
	}
	if ref.Name != "" {
		for _, id := range b.order {
			if p := b.participants[id]; p.Name == ref.Name {
				return p, true
			}
		}
	}
	return nil, false
}

// Resolve returns the referenced participant, creating it with a
// placeholder name and the initial budget when the reference is unseen.
// created reports whether a new participant was added.
func (b *Book) Resolve(ref event.Party, at time.Time) (p *Participant, created bool) {
	if p, ok := b.Lookup(ref); ok {
		return p, false
	}

	id := ref.ID
	if id == "" {
		id = "name:" + ref.Name
	}
	name := ref.Name
	if name == "" {
		name = fmt.Sprintf("Participant %s", ref.ID)
	}

	p = &Participant{
		ID:            id,
		Name:          name,
		InitialBudget: b.initialBudget,
		OpeningBudget: b.initialBudget,
		CurrentBudget: b.initialBudget,
		Transactions:  []Transaction{},
		LastUpdate:    at,
	}
	b.participants[id] = p
	b.order = append(b.order, id)
	return p, true
}

// Apply appends a transaction to the participant and moves the budget.
// Income credits, expense debits, adjustments shift by their signed amount.
// A transaction that would overflow an accumulator leaves p untouched and
// returns ErrOverflow.
func (b *Book) Apply(p *Participant, tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	if tx.Kind == TransactionReset {
		return fmt.Errorf("reset transaction %s must go through Reset", tx.ID)
	}

	next, err := nextTotals(p, tx.Kind, tx.Amount)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	p.CurrentBudget = next.current
	p.Spent = next.spent
	p.Received = next.received
	p.Adjustments = next.adjustments

	p.Transactions = append(p.Transactions, tx)
	p.LastUpdate = tx.Date
	return nil
}

// CanApply reports whether a transaction of kind and amount fits the
// accumulators of the referenced participant. An unseen reference is
// checked against a fresh participant at the initial budget.
func (b *Book) CanApply(ref event.Party, kind TransactionKind, amount int64) error {
	p, ok := b.Lookup(ref)
	if !ok {
		p = &Participant{OpeningBudget: b.initialBudget, CurrentBudget: b.initialBudget}
	}
	_, err := nextTotals(p, kind, amount)
	return err
}

type totals struct {
	current, spent, received, adjustments int64
}

func nextTotals(p *Participant, kind TransactionKind, amount int64) (totals, error) {
	t := totals{current: p.CurrentBudget, spent: p.Spent, received: p.Received, adjustments: p.Adjustments}
	okBudget, okAcc := true, true
	switch kind {
	case TransactionIncome:
		t.current, okBudget = CheckedAdd(t.current, amount)
		t.received, okAcc = CheckedAdd(t.received, amount)
	case TransactionExpense:
		t.current, okBudget = CheckedSub(t.current, amount)
		t.spent, okAcc = CheckedAdd(t.spent, amount)
	case TransactionAdjustment:
		t.current, okBudget = CheckedAdd(t.current, amount)
		t.adjustments, okAcc = CheckedAdd(t.adjustments, amount)
	}
	if !okBudget || !okAcc {
		return totals{}, ErrOverflow
	}
	return t, nil
}

// Reset restores every participant to the initial budget and replaces its
// history with the single transaction produced by entry.
func (b *Book) Reset(at time.Time, entry func(p *Participant) Transaction) {
	for _, id := range b.order {
		p := b.participants[id]
		p.OpeningBudget = b.initialBudget
		p.CurrentBudget = b.initialBudget
		p.Spent = 0
		p.Received = 0
		p.Adjustments = 0
		p.Transactions = []Transaction{entry(p)}
		p.LastUpdate = at
	}
}

// Participants returns the live participants in insertion order.
func (b *Book) Participants() []*Participant {
	out := make([]*Participant, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.participants[id])
	}
	return out
}

// Len returns the number of tracked participants.
func (b *Book) Len() int {
	return len(b.order)
}
