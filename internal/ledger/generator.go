package ledger

import (
	"fmt"
	"time"

	"BoardLedger/internal/event"

	"github.com/google/uuid"
)

// idNamespace scopes every deterministic ledger ID.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("boardledger:ledger:v1"))

// EntryGenerator derives transactions and movements from classified events.
// IDs are name-based UUIDs over the event reference, so replaying the same
// feed always yields the same IDs.
type EntryGenerator struct{}

func NewEntryGenerator() *EntryGenerator {
	return &EntryGenerator{}
}

// Sale produces the seller's income transaction and the league movement.
func (g *EntryGenerator) Sale(evt *event.Sale, p *Participant) (Transaction, Movement) {
	tx := Transaction{
		ID:          deterministicID("tx", evt.Ref(), p.ID),
		Date:        evt.Timestamp(),
		Kind:        TransactionIncome,
		Amount:      evt.Amount,
		Description: fmt.Sprintf("Sale%s: +€%s", playerSuffix(evt.Player), FormatMoney(evt.Amount)),
		EventRef:    evt.Ref(),
	}
	mv := Movement{
		ID:              deterministicID("movement", evt.Ref()),
		Date:            evt.Timestamp(),
		Type:            MovementSale,
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		Player:          evt.Player,
		Amount:          evt.Amount,
		EventRef:        evt.Ref(),
	}
	return tx, mv
}

// Purchase produces the buyer's expense transaction and the league movement.
// Losing bids are carried on the movement only.
func (g *EntryGenerator) Purchase(evt *event.Purchase, p *Participant) (Transaction, Movement) {
	tx := Transaction{
		ID:          deterministicID("tx", evt.Ref(), p.ID),
		Date:        evt.Timestamp(),
		Kind:        TransactionExpense,
		Amount:      evt.Amount,
		Description: fmt.Sprintf("Purchase%s: -€%s", playerSuffix(evt.Player), FormatMoney(evt.Amount)),
		EventRef:    evt.Ref(),
	}
	var bids []event.Bid
	if len(evt.Bids) > 0 {
		bids = make([]event.Bid, len(evt.Bids))
		copy(bids, evt.Bids)
	}
	mv := Movement{
		ID:              deterministicID("movement", evt.Ref()),
		Date:            evt.Timestamp(),
		Type:            MovementPurchase,
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		Player:          evt.Player,
		Amount:          evt.Amount,
		Bids:            bids,
		EventRef:        evt.Ref(),
	}
	return tx, mv
}

// Adjustment records a signed reconciliation delta. The ordinal keeps IDs
// unique when a participant is adjusted more than once.
func (g *EntryGenerator) Adjustment(p *Participant, delta int64, at time.Time) Transaction {
	sign, abs := "+", delta
	if delta < 0 {
		sign, abs = "-", -delta
	}
	return Transaction{
		ID:          deterministicID("adjustment", p.ID, fmt.Sprint(len(p.Transactions))),
		Date:        at,
		Kind:        TransactionAdjustment,
		Amount:      delta,
		Description: fmt.Sprintf("Automatic adjustment: %s€%s", sign, FormatMoney(abs)),
	}
}

// Reset produces the single history entry left after a league reset.
func (g *EntryGenerator) Reset(evt *event.LeagueReset, p *Participant, budget int64) Transaction {
	return Transaction{
		ID:          deterministicID("reset", evt.Ref(), p.ID),
		Date:        evt.Timestamp(),
		Kind:        TransactionReset,
		Amount:      budget,
		Description: fmt.Sprintf("League reset: budget restored to €%s", FormatMoney(budget)),
		EventRef:    evt.Ref(),
	}
}

func deterministicID(parts ...string) uuid.UUID {
	name := ""
	for i, part := range parts {
		if i > 0 {
			name += "|"
		}
		name += part
	}
	return uuid.NewSHA1(idNamespace, []byte(name))
}

func playerSuffix(player event.PlayerRef) string {
	switch {
	case player.Name != "":
		return " of " + player.Name
	case player.ID != "":
		return " of player " + player.ID
	default:
		return ""
	}
}
