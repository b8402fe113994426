package ledger

import (
	"fmt"
	"time"

	"BoardLedger/internal/event"

	"github.com/google/uuid"
)

// TransactionKind represents the purpose of a ledger entry
type TransactionKind int32

const (
	TransactionIncome TransactionKind = iota
	TransactionExpense
	TransactionAdjustment
	TransactionReset
)

// Transaction is one entry of a participant's append-only budget history
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	Date        time.Time       `json:"date"`
	Kind        TransactionKind `json:"kind"`
	Amount      int64           `json:"amount"` // positive for income/expense, signed for adjustments
	Description string          `json:"description"`
	EventRef    string          `json:"event_ref,omitempty"`
}

// MovementType is the direction of a market movement
type MovementType string

const (
	MovementSale     MovementType = "sale"
	MovementPurchase MovementType = "purchase"
)

// Movement is an immutable, league-wide record of a sale or purchase.
// Participant transactions reference the same event through EventRef.
type Movement struct {
	ID              uuid.UUID       `json:"id"`
	Date            time.Time       `json:"date"`
	Type            MovementType    `json:"type"`
	ParticipantID   string          `json:"participant_id"`
	ParticipantName string          `json:"participant_name"`
	Player          event.PlayerRef `json:"player"`
	Amount          int64           `json:"amount"`
	Bids            []event.Bid     `json:"bids,omitempty"`
	EventRef        string          `json:"event_ref"`
}

// Validate ensures the transaction is well-formed for its kind.
func (t Transaction) Validate() error {
	switch t.Kind {
	case TransactionIncome, TransactionExpense:
		if t.Amount <= 0 {
			return fmt.Errorf("transaction %s has non-positive amount: %d", t.ID, t.Amount)
		}
	case TransactionAdjustment:
		if t.Amount == 0 {
			return fmt.Errorf("adjustment %s has zero amount", t.ID)
		}
	case TransactionReset:
		if t.Amount < 0 {
			return fmt.Errorf("reset %s has negative budget: %d", t.ID, t.Amount)
		}
	default:
		return fmt.Errorf("transaction %s has unknown kind %d", t.ID, t.Kind)
	}
	return nil
}

func (k TransactionKind) String() string {
	switch k {
	case TransactionIncome:
		return "income"
	case TransactionExpense:
		return "expense"
	case TransactionAdjustment:
		return "adjustment"
	case TransactionReset:
		return "reset"
	default:
		return "unknown"
	}
}

func (k TransactionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TransactionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "income":
		*k = TransactionIncome
	case "expense":
		*k = TransactionExpense
	case "adjustment":
		*k = TransactionAdjustment
	case "reset":
		*k = TransactionReset
	default:
		return fmt.Errorf("unknown transaction kind %q", text)
	}
	return nil
}
