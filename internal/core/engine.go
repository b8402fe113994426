package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"BoardLedger/internal/event"
	"BoardLedger/internal/ingestion"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/query"
)

const (
	// DefaultTolerance is the largest computed/authoritative gap reconcile leaves alone.
	DefaultTolerance int64 = 1_000

	// DefaultDedupCapacity bounds the remembered entry keys of one session.
	// Feeds longer than this must raise it with WithDedupCapacity.
	DefaultDedupCapacity = 1_000_000
)

// LedgerEngine replays a league board into per-participant budgets.
//
// It owns the participant table, the league-wide movements list and the
// set of processed entry keys. Processing is a single forward pass over a
// date-sorted feed with no I/O. Not safe for concurrent use: build one
// engine per analysis and discard it after reading the summary.
type LedgerEngine struct {
	initialBudget int64
	tolerance     int64
	dedupCapacity int

	book        *ledger.Book
	movements   []ledger.Movement
	generator   *ledger.EntryGenerator
	validator   *ledger.InvariantValidator
	idempotency *IdempotencyChecker
	hasher      *StateHasher

	observer Observer
	clock    func() time.Time
}

// Option configures a LedgerEngine.
type Option func(*LedgerEngine)

// WithInitialBudget overrides the league-wide season-start budget.
func WithInitialBudget(budget int64) Option {
	return func(e *LedgerEngine) {
		e.initialBudget = budget
	}
}

// WithTolerance overrides the reconciliation tolerance.
func WithTolerance(tolerance int64) Option {
	return func(e *LedgerEngine) {
		if tolerance >= 0 {
			e.tolerance = tolerance
		}
	}
}

// WithObserver installs the processing observer.
func WithObserver(o Observer) Option {
	return func(e *LedgerEngine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock sets the time source used for reconciliation entries and the
// summary timestamp. Replayed entries always carry their board date.
func WithClock(clock func() time.Time) Option {
	return func(e *LedgerEngine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithDedupCapacity bounds the number of remembered entry keys. Once more
// distinct entries than capacity have been seen, the least recently seen
// keys are forgotten and a later copy of such an entry is applied again.
// Size it to at least the number of entries one session ingests.
func WithDedupCapacity(capacity int) Option {
	return func(e *LedgerEngine) {
		if capacity > 0 {
			e.dedupCapacity = capacity
		}
	}
}

func NewLedgerEngine(opts ...Option) *LedgerEngine {
	e := &LedgerEngine{
		initialBudget: ledger.DefaultInitialBudget,
		tolerance:     DefaultTolerance,
		dedupCapacity: DefaultDedupCapacity,
		generator:     ledger.NewEntryGenerator(),
		observer:      NopObserver{},
		clock:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resetSession()
	return e
}

func (e *LedgerEngine) resetSession() {
	e.book = ledger.NewBook(e.initialBudget)
	e.validator = ledger.NewInvariantValidator(e.book)
	e.movements = nil
	e.idempotency = NewIdempotencyChecker(e.dedupCapacity)
	e.hasher = NewStateHasher()
}

// SeedRoster replaces all session state with the given roster. Movements
// and remembered entry keys are cleared too, so seeding twice is the same
// as seeding once.
func (e *LedgerEngine) SeedRoster(roster []ledger.RosterEntry) {
	e.resetSession()
	e.book.Seed(roster, e.clock())
}

// IngestStats counts what one Ingest call did with its entries.
type IngestStats struct {
	Entries    int `json:"entries"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`
	Evicted    int `json:"evicted"`
}

// Ingest replays feed entries in ascending date order; entries sharing a
// date keep their feed order. Entries already seen in this session are
// skipped. Evicted counts keys the dedup set forgot during the call.
// Malformed entries, unknown kinds and unusable events are
// reported to the observer and never abort processing.
func (e *LedgerEngine) Ingest(entries []event.FeedEntry) IngestStats {
	stats := IngestStats{Entries: len(entries)}
	if len(entries) == 0 {
		return stats
	}

	evictedBefore := e.idempotency.Evictions()

	sorted := make([]event.FeedEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})

	for _, entry := range sorted {
		e.processEntry(entry, &stats)
	}
	stats.Evicted = int(e.idempotency.Evictions() - evictedBefore)
	return stats
}

// IngestJSON decodes a raw board payload and ingests it. A payload that is
// not a JSON array is nothing to process.
func (e *LedgerEngine) IngestJSON(data []byte) IngestStats {
	return e.Ingest(ingestion.ParseFeed(data))
}

func (e *LedgerEngine) processEntry(entry event.FeedEntry, stats *IngestStats) {
	key := ingestion.EntryKey(entry)

	// Step 1: dedup
	if e.idempotency.IsDuplicate(entry.Type, key) {
		stats.Duplicates++
		e.observer.EntrySkipped(entry, SkipDuplicate)
		return
	}

	// Step 2: classify and dispatch
	events, err := ingestion.Classify(entry)
	if err != nil {
		stats.Malformed++
		e.observer.EntrySkipped(entry, SkipMalformed)
	} else {
		for _, evt := range events {
			if e.dispatch(evt) {
				stats.Applied++
			} else {
				stats.Skipped++
			}
		}
	}

	// Step 3: mark seen
	e.idempotency.MarkProcessed(key)
}

// dispatch routes one event to its handler and reports whether it was applied.
func (e *LedgerEngine) dispatch(evt event.Event) bool {
	switch ev := evt.(type) {
	case *event.Sale:
		return e.applySale(ev)
	case *event.Purchase:
		return e.applyPurchase(ev)
	case *event.LeagueReset:
		e.applyReset(ev)
		return true
	case *event.Lineup, *event.AdminMessage:
		e.observer.EventApplied(evt)
		return true
	case *event.RealTeamTransfer:
		e.observer.EventSkipped(evt, SkipIgnored)
		return false
	default:
		e.observer.EventSkipped(evt, SkipUnknownKind)
		return false
	}
}

func (e *LedgerEngine) applySale(evt *event.Sale) bool {
	if reason, ok := e.validate(evt); !ok {
		e.observer.EventSkipped(evt, reason)
		return false
	}
	if err := e.book.CanApply(evt.Seller, ledger.TransactionIncome, evt.Amount); err != nil {
		e.observer.EventSkipped(evt, SkipOverflow)
		return false
	}

	p, _ := e.book.Resolve(evt.Seller, evt.Timestamp())
	tx, mv := e.generator.Sale(evt, p)
	e.apply(evt, p, tx, mv)
	return true
}

func (e *LedgerEngine) applyPurchase(evt *event.Purchase) bool {
	if reason, ok := e.validate(evt); !ok {
		e.observer.EventSkipped(evt, reason)
		return false
	}
	if err := e.book.CanApply(evt.Buyer, ledger.TransactionExpense, evt.Amount); err != nil {
		e.observer.EventSkipped(evt, SkipOverflow)
		return false
	}

	p, _ := e.book.Resolve(evt.Buyer, evt.Timestamp())
	tx, mv := e.generator.Purchase(evt, p)
	e.apply(evt, p, tx, mv)
	return true
}

func (e *LedgerEngine) apply(evt event.Event, p *ledger.Participant, tx ledger.Transaction, mv ledger.Movement) {
	if err := e.book.Apply(p, tx); err != nil {
		panic(fmt.Sprintf("FATAL: apply %s: %v", evt.Ref(), err))
	}
	e.movements = append(e.movements, mv)
	e.postCheck(evt, p)
	e.observer.EventApplied(evt)
}

// applyReset wipes every participant back to the initial budget and
// clears the league movements. There is no undo.
func (e *LedgerEngine) applyReset(evt *event.LeagueReset) {
	budget := e.initialBudget
	e.book.Reset(evt.Timestamp(), func(p *ledger.Participant) ledger.Transaction {
		return e.generator.Reset(evt, p, budget)
	})
	e.movements = nil

	if err := e.validator.ValidateAll(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after reset: %v", err))
	}
	e.hasher.Append(evt.Ref(), nil)
	e.observer.EventApplied(evt)
}

func (e *LedgerEngine) validate(evt event.Event) (SkipReason, bool) {
	err := evt.Validate()
	switch {
	case err == nil:
		return "", true
	case errors.Is(err, event.ErrMissingParticipant):
		return SkipMissingParticipant, false
	case errors.Is(err, event.ErrNonPositiveAmount):
		return SkipNonPositiveAmount, false
	default:
		return SkipMalformed, false
	}
}

func (e *LedgerEngine) postCheck(evt event.Event, p *ledger.Participant) {
	if err := e.validator.ValidateParticipant(p); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	e.hasher.Append(evt.Ref(), budgetDigest(p))
}

// Reconcile aligns every participant that has an authoritative balance
// differing from the computed budget by more than the tolerance. Each
// correction is appended as a signed adjustment transaction. Running it
// again without new data changes nothing. A participant whose correction
// does not fit in int64 is left as computed.
func (e *LedgerEngine) Reconcile() []Adjustment {
	var adjustments []Adjustment
	at := e.clock()

	for _, p := range e.book.Participants() {
		if p.AuthoritativeBalance == nil {
			continue
		}
		target := *p.AuthoritativeBalance
		delta, ok := ledger.CheckedSub(target, p.CurrentBudget)
		if !ok || abs64(delta) <= e.tolerance {
			continue
		}

		adj := Adjustment{
			ParticipantID: p.ID,
			Name:          p.Name,
			Computed:      p.CurrentBudget,
			Authoritative: target,
			Delta:         delta,
			At:            at,
		}

		tx := e.generator.Adjustment(p, delta, at)
		err := e.book.Apply(p, tx)
		if errors.Is(err, ledger.ErrOverflow) {
			continue
		}
		if err != nil {
			panic(fmt.Sprintf("FATAL: reconcile %s: %v", p.ID, err))
		}
		if err := e.validator.ValidateParticipant(p); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated after reconcile: %v", err))
		}
		e.hasher.Append("adjustment:"+p.ID, budgetDigest(p))

		adjustments = append(adjustments, adj)
		e.observer.AdjustmentRecorded(adj)
	}

	return adjustments
}

// Summary returns the read view of the session. It has no side effects and
// the result shares no memory with the engine.
func (e *LedgerEngine) Summary() query.Summary {
	return query.BuildSummary(e.initialBudget, e.book.Participants(), e.movements, e.clock())
}

// StateHash returns the hex digest chained over every applied event.
func (e *LedgerEngine) StateHash() string {
	return e.hasher.Hex()
}

// InitialBudget returns the league-wide baseline.
func (e *LedgerEngine) InitialBudget() int64 {
	return e.initialBudget
}

// Duplicates returns how many entries of a type were skipped as already seen.
func (e *LedgerEngine) Duplicates(entryType string) int64 {
	return e.idempotency.Duplicates(entryType)
}

// budgetDigest encodes the participant fields that the budget invariant covers.
func budgetDigest(p *ledger.Participant) []byte {
	buf := make([]byte, 0, len(p.ID)+40)
	buf = append(buf, p.ID...)
	for _, v := range []int64{p.OpeningBudget, p.CurrentBudget, p.Spent, p.Received, p.Adjustments} {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	}
	return buf
}

func abs64(v int64) int64 {
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	if v < 0 {
		return -v
	}
	return v
}
