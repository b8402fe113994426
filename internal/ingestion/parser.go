package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"BoardLedger/internal/event"
	"BoardLedger/internal/ledger"
)

// ParseFeed decodes a raw board payload into feed entries.
// Input that is not a JSON array yields no entries; elements that are not
// entry objects are dropped. It never fails: an unusable feed is simply
// nothing to process.
func ParseFeed(data []byte) []event.FeedEntry {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	entries := make([]event.FeedEntry, 0, len(raw))
	for _, r := range raw {
		var j entryJSON
		if err := json.Unmarshal(r, &j); err != nil {
			continue
		}
		entries = append(entries, event.FeedEntry{
			Type:    j.Type,
			Date:    int64(j.Date),
			Content: j.Content,
		})
	}
	return entries
}

// ParseRoster decodes a roster array of {id, name, position?, points?, balance?}.
// A missing balance leaves the authoritative balance unset.
func ParseRoster(data []byte) ([]ledger.RosterEntry, error) {
	var raw []rosterJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	roster := make([]ledger.RosterEntry, 0, len(raw))
	for i, r := range raw {
		if r.ID == "" {
			return nil, fmt.Errorf("parse roster: entry %d has no id", i)
		}
		entry := ledger.RosterEntry{
			ID:       string(r.ID),
			Name:     r.Name,
			Position: r.Position,
			Points:   r.Points,
		}
		if r.Balance != nil {
			b := int64(*r.Balance)
			entry.Balance = &b
		}
		roster = append(roster, entry)
	}
	return roster, nil
}

// Classify converts a feed entry into typed events.
// Market-style entries may carry several movements, so one entry can yield
// several events. A decode failure of money-moving content is returned as
// an error; the caller treats the entry as malformed.
func Classify(entry event.FeedEntry) ([]event.Event, error) {
	key := EntryKey(entry)
	header := event.Header{At: entry.Time(), Key: key}

	switch entry.Type {
	case "market", "transfer", "playerMovements":
		return classifyMovements(entry, header, "")
	case "sale", "purchase":
		return classifyMovements(entry, header, entry.Type)
	case "realTeamTransfer":
		return []event.Event{parseRealTeamTransfer(entry, header)}, nil
	case "lineup":
		return []event.Event{&event.Lineup{Header: header}}, nil
	case "adminText", "adminMessage", "text":
		return []event.Event{parseAdminMessage(entry, header)}, nil
	case "leagueReset":
		return []event.Event{&event.LeagueReset{Header: header}}, nil
	default:
		return []event.Event{&event.Unknown{Header: header, Type: entry.Type}}, nil
	}
}

// classifyMovements maps every movement item of an entry onto sales and
// purchases. forced, when set, overrides the per-item direction.
func classifyMovements(entry event.FeedEntry, header event.Header, forced string) ([]event.Event, error) {
	items, err := splitItems(entry.Content)
	if err != nil {
		return nil, fmt.Errorf("parse %s content: %w", entry.Type, err)
	}

	var events []event.Event
	for i, item := range items {
		var m movementJSON
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, fmt.Errorf("parse %s item %d: %w", entry.Type, i, err)
		}

		h := header
		h.Index = len(events)
		events = append(events, movementEvents(&m, h, forced)...)
	}
	return events, nil
}

func movementEvents(m *movementJSON, h event.Header, forced string) []event.Event {
	amount := m.amount()
	player := m.Player.ref()

	seller := m.From.party()
	buyer := m.To.party()

	switch forced {
	case "sale":
		if seller.IsZero() {
			seller = m.holder()
		}
		return []event.Event{&event.Sale{Header: h, Seller: seller, Player: player, Amount: amount}}
	case "purchase":
		if buyer.IsZero() {
			buyer = m.holder()
		}
		return []event.Event{&event.Purchase{Header: h, Buyer: buyer, Player: player, Amount: amount, Bids: m.bids()}}
	}

	// A two-sided transfer credits the seller and debits the buyer.
	if !seller.IsZero() || !buyer.IsZero() {
		var out []event.Event
		if !seller.IsZero() {
			out = append(out, &event.Sale{Header: h, Seller: seller, Player: player, Amount: amount})
			h.Index++
		}
		if !buyer.IsZero() {
			out = append(out, &event.Purchase{Header: h, Buyer: buyer, Player: player, Amount: amount, Bids: m.bids()})
		}
		return out
	}

	switch directionOf(m) {
	case "sale":
		return []event.Event{&event.Sale{Header: h, Seller: m.holder(), Player: player, Amount: amount}}
	case "purchase":
		return []event.Event{&event.Purchase{Header: h, Buyer: m.holder(), Player: player, Amount: amount, Bids: m.bids()}}
	default:
		return nil
	}
}

// directionOf reads the action (or item type) of a single-sided movement.
// No action means a purchase.
func directionOf(m *movementJSON) string {
	action := strings.ToLower(strings.TrimSpace(m.Action))
	if action == "" {
		action = strings.ToLower(strings.TrimSpace(m.Type))
	}
	switch action {
	case "", "buy", "purchase", "market":
		return "purchase"
	case "sell", "sale":
		return "sale"
	default:
		return ""
	}
}

func parseRealTeamTransfer(entry event.FeedEntry, header event.Header) event.Event {
	t := &event.RealTeamTransfer{Header: header}
	var j struct {
		Player playerJSON `json:"player"`
	}
	if err := json.Unmarshal(entry.Content, &j); err == nil {
		t.Player = j.Player.ref()
	}
	return t
}

func parseAdminMessage(entry event.FeedEntry, header event.Header) event.Event {
	msg := &event.AdminMessage{Header: header}
	var text string
	if err := json.Unmarshal(entry.Content, &text); err == nil {
		msg.Text = text
		return msg
	}
	var j adminJSON
	if err := json.Unmarshal(entry.Content, &j); err == nil {
		msg.Text = j.Text
		if msg.Text == "" {
			msg.Text = j.Message
		}
	}
	return msg
}
