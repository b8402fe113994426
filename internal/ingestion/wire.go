package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"BoardLedger/internal/event"
)

// --- JSON wire formats ---
// The board is produced by a third party and is loosely typed: identifiers
// arrive as numbers or strings, players as bare ids or objects, amounts as
// integers, floats or numeric strings. These types normalise all of them.

// flexID accepts a JSON number or string identifier.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("parse id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// flexAmount accepts an integer, a float or a numeric string.
type flexAmount int64

func (f *flexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*f = 0
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		return f.parse(strings.TrimSpace(raw))
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	return f.parse(n.String())
}

func (f *flexAmount) parse(s string) error {
	if s == "" {
		*f = 0
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexAmount(i)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", s, err)
	}
	*f = flexAmount(math.Round(v))
	return nil
}

// partyJSON is a participant reference: {"id":..,"name":..} or a bare id.
type partyJSON struct {
	ID   flexID
	Name string
}

func (p *partyJSON) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*p = partyJSON{}
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			ID   flexID `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("parse participant: %w", err)
		}
		p.ID, p.Name = obj.ID, strings.TrimSpace(obj.Name)
		return nil
	}
	return p.ID.UnmarshalJSON(data)
}

func (p *partyJSON) party() event.Party {
	if p == nil {
		return event.Party{}
	}
	return event.Party{ID: string(p.ID), Name: p.Name}
}

// playerJSON is a player reference: a bare id, a name, or {"id":..,"name":..}.
type playerJSON struct {
	ID   flexID
	Name string
}

func (p *playerJSON) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case isNull(data):
		*p = playerJSON{}
		return nil
	case len(data) > 0 && data[0] == '{':
		var obj struct {
			ID   flexID `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("parse player: %w", err)
		}
		p.ID, p.Name = obj.ID, obj.Name
		return nil
	default:
		return p.ID.UnmarshalJSON(data)
	}
}

func (p playerJSON) ref() event.PlayerRef {
	return event.PlayerRef{ID: string(p.ID), Name: p.Name}
}

type bidJSON struct {
	User   partyJSON  `json:"user"`
	Amount flexAmount `json:"amount"`
}

// movementJSON is one money-moving item of a market, transfer or
// playerMovements entry.
type movementJSON struct {
	From   *partyJSON  `json:"from"`
	To     *partyJSON  `json:"to"`
	User   *partyJSON  `json:"user"`
	Team   *partyJSON  `json:"team"`
	Action string      `json:"action"`
	Type   string      `json:"type"`
	Player playerJSON  `json:"player"`
	Amount *flexAmount `json:"amount"`
	Price  *flexAmount `json:"price"`
	Bids   []bidJSON   `json:"bids"`
}

// amount falls back to price when the amount field is absent or zero.
func (m *movementJSON) amount() int64 {
	if m.Amount != nil && *m.Amount != 0 {
		return int64(*m.Amount)
	}
	if m.Price != nil {
		return int64(*m.Price)
	}
	return 0
}

// holder is the participant of a single-sided movement.
func (m *movementJSON) holder() event.Party {
	if p := m.User.party(); !p.IsZero() {
		return p
	}
	return m.Team.party()
}

func (m *movementJSON) bids() []event.Bid {
	if len(m.Bids) == 0 {
		return nil
	}
	bids := make([]event.Bid, 0, len(m.Bids))
	for _, b := range m.Bids {
		bids = append(bids, event.Bid{User: b.User.party(), Amount: int64(b.Amount)})
	}
	return bids
}

type adminJSON struct {
	Text    string `json:"text"`
	Message string `json:"message"`
}

type rosterJSON struct {
	ID       flexID      `json:"id"`
	Name     string      `json:"name"`
	Position int         `json:"position"`
	Points   int         `json:"points"`
	Balance  *flexAmount `json:"balance"`
}

type entryJSON struct {
	Type    string          `json:"type"`
	Date    flexAmount      `json:"date"`
	Content json.RawMessage `json:"content"`
}

func isNull(data []byte) bool {
	return len(data) == 0 || string(data) == "null"
}

// splitItems returns the elements of a JSON array, or the value itself
// when content is a single object.
func splitItems(content json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(content)
	if isNull(trimmed) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	return []json.RawMessage{trimmed}, nil
}
