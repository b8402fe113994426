package event

import "fmt"

// Party references a league participant as it appears on the board.
// Either field may be empty; the ledger resolves by ID first, then by name.
type Party struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

func (p Party) IsZero() bool {
	return p.ID == "" && p.Name == ""
}

// PlayerRef identifies the footballer that changed hands.
type PlayerRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Bid is a losing offer attached to a purchase. Informational only.
type Bid struct {
	User   Party `json:"user"`
	Amount int64 `json:"amount"`
}

// Sale credits the seller with the transfer amount.
type Sale struct {
	Header
	Seller Party
	Player PlayerRef
	Amount int64
}

func (s *Sale) Kind() Kind {
	return KindSale
}

func (s *Sale) Validate() error {
	if s.Seller.IsZero() {
		return ErrMissingParticipant
	}
	if s.Amount <= 0 {
		return fmt.Errorf("%w: %d", ErrNonPositiveAmount, s.Amount)
	}
	return nil
}

// Purchase debits the buyer with the transfer amount.
type Purchase struct {
	Header
	Buyer  Party
	Player PlayerRef
	Amount int64
	Bids   []Bid
}

func (p *Purchase) Kind() Kind {
	return KindPurchase
}

func (p *Purchase) Validate() error {
	if p.Buyer.IsZero() {
		return ErrMissingParticipant
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: %d", ErrNonPositiveAmount, p.Amount)
	}
	return nil
}
