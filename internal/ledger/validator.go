package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	book *Book
}

func NewInvariantValidator(book *Book) *InvariantValidator {
	return &InvariantValidator{
		book: book,
	}
}

// ValidateParticipant verifies the budget identity and accumulator signs.
func (v *InvariantValidator) ValidateParticipant(p *Participant) error {
	if p.Spent < 0 {
		return fmt.Errorf("participant %s has negative spent: %d", p.ID, p.Spent)
	}
	if p.Received < 0 {
		return fmt.Errorf("participant %s has negative received: %d", p.ID, p.Received)
	}

	expected := p.OpeningBudget + p.Received - p.Spent + p.Adjustments
	if p.CurrentBudget != expected {
		return fmt.Errorf("participant %s budget drift: current=%d expected=%d",
			p.ID, p.CurrentBudget, expected)
	}
	return nil
}

// ValidateAll checks every participant in the book.
func (v *InvariantValidator) ValidateAll() error {
	for _, p := range v.book.Participants() {
		if err := v.ValidateParticipant(p); err != nil {
			return err
		}
	}
	return nil
}
