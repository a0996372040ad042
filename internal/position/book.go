package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
)

type Status string

const (
	PendingEntry Status = "pending_entry"
	Open         Status = "open"
	PendingExit  Status = "pending_exit"
	Closed       Status = "closed"
	// Stuck marks an entry order whose status polling budget ran out without
	// reaching a terminal state. Requires manual or decision-loop
	// intervention; the engine will not touch the position again.
	Stuck Status = "stuck"
)

// Position is one directional exposure. EntryPrice stays nil until the entry
// order's fill is confirmed; no PnL is computed before that.
type Position struct {
	ID           string
	Symbol       string
	Side         core.Side
	Qty          decimal.Decimal
	EntryPrice   *decimal.Decimal
	EntryOrderID string
	ExitOrderID  string
	Status       Status
	UnrealPnL    decimal.Decimal
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// Book holds all live positions. The tracker owns every status transition;
// the PnL engine only reads positions and writes UnrealPnL. All access goes
// through the book's lock.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

func (b *Book) add(p *Position) {
	b.mu.Lock()
	b.positions[p.ID] = p
	b.mu.Unlock()
}

// Restore inserts a position as-is, keeping whatever status and fill state it
// carries. Used when reattaching positions that were tracked before a restart.
func (b *Book) Restore(p Position) {
	b.add(&p)
}

// Get returns a copy of the position.
func (b *Book) Get(id string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// All returns copies of every tracked position, including closed ones that
// have not been pruned yet.
func (b *Book) All() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

// OpenForSymbol returns copies of positions on symbol that have a confirmed
// entry price and are not yet closed. This is the PnL engine's read surface.
func (b *Book) OpenForSymbol(symbol string) []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Position
	for _, p := range b.positions {
		if p.Symbol != symbol || p.EntryPrice == nil {
			continue
		}
		if p.Status != Open && p.Status != PendingExit {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// SetUnrealPnL writes the latest mark-to-market value. No-op for positions
// that left the open state since the caller snapshotted them.
func (b *Book) SetUnrealPnL(id string, pnl decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok {
		return
	}
	if p.Status != Open && p.Status != PendingExit {
		return
	}
	p.UnrealPnL = pnl
}

// applyEntryFill records the confirmed fill price exactly once. Returns false
// when the fill was already applied or the position cannot accept one.
func (b *Book) applyEntryFill(id string, price decimal.Decimal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok || p.EntryPrice != nil || p.Status != PendingEntry {
		return false
	}
	entry := price
	p.EntryPrice = &entry
	p.Status = Open
	return true
}

// transition moves id from one status to another, refusing anything else.
func (b *Book) transition(id string, from, to Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[id]
	if !ok || p.Status != from {
		return false
	}
	p.Status = to
	if to == Closed {
		p.ClosedAt = time.Now().UTC()
	}
	return true
}

func (b *Book) setExitOrder(id, orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[id]; ok {
		p.ExitOrderID = orderID
	}
}
