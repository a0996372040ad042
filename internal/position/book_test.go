package position

import (
	"testing"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
)

func pending(id, symbol string) *Position {
	return &Position{
		ID:     id,
		Symbol: symbol,
		Side:   core.Buy,
		Qty:    d("100"),
		Status: PendingEntry,
	}
}

func TestApplyEntryFillOnce(t *testing.T) {
	b := NewBook()
	b.add(pending("p-1", "XBTUSD"))

	if !b.applyEntryFill("p-1", d("20000")) {
		t.Fatalf("first fill must apply")
	}
	if b.applyEntryFill("p-1", d("21000")) {
		t.Fatalf("second fill must be refused")
	}
	got, _ := b.Get("p-1")
	if got.EntryPrice.Cmp(d("20000")) != 0 {
		t.Fatalf("entry price = %s, want first fill 20000", got.EntryPrice)
	}
	if got.Status != Open {
		t.Fatalf("status = %s, want open", got.Status)
	}
}

func TestTransitionRefusesWrongSource(t *testing.T) {
	b := NewBook()
	b.add(pending("p-1", "XBTUSD"))

	if b.transition("p-1", Open, PendingExit) {
		t.Fatalf("transition from wrong source state must fail")
	}
	if !b.transition("p-1", PendingEntry, Stuck) {
		t.Fatalf("transition from matching state must succeed")
	}
	if b.transition("missing", PendingEntry, Closed) {
		t.Fatalf("transition of unknown id must fail")
	}
}

func TestTransitionToClosedStampsTime(t *testing.T) {
	b := NewBook()
	b.add(pending("p-1", "XBTUSD"))
	b.transition("p-1", PendingEntry, Closed)
	got, _ := b.Get("p-1")
	if got.ClosedAt.IsZero() {
		t.Fatalf("ClosedAt must be stamped on close")
	}
}

func TestOpenForSymbolFilters(t *testing.T) {
	b := NewBook()
	b.add(pending("p-pending", "XBTUSD"))

	open := pending("p-open", "XBTUSD")
	b.add(open)
	b.applyEntryFill("p-open", d("20000"))

	other := pending("p-other", "ETHUSD")
	b.add(other)
	b.applyEntryFill("p-other", d("1800"))

	closed := pending("p-closed", "XBTUSD")
	b.add(closed)
	b.applyEntryFill("p-closed", d("20000"))
	b.transition("p-closed", Open, PendingExit)
	b.transition("p-closed", PendingExit, Closed)

	got := b.OpenForSymbol("XBTUSD")
	if len(got) != 1 || got[0].ID != "p-open" {
		t.Fatalf("OpenForSymbol = %+v, want only p-open", got)
	}
}

func TestSetUnrealPnLOnlyWhileOpen(t *testing.T) {
	b := NewBook()
	b.add(pending("p-1", "XBTUSD"))

	b.SetUnrealPnL("p-1", d("0.01"))
	got, _ := b.Get("p-1")
	if got.UnrealPnL.Cmp(decimal.Zero) != 0 {
		t.Fatalf("pending entry must not accept pnl, got %s", got.UnrealPnL)
	}

	b.applyEntryFill("p-1", d("20000"))
	b.SetUnrealPnL("p-1", d("0.01"))
	got, _ = b.Get("p-1")
	if got.UnrealPnL.Cmp(d("0.01")) != 0 {
		t.Fatalf("open position pnl = %s, want 0.01", got.UnrealPnL)
	}
}
