package pnl

import (
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
	"futures-engine/internal/position"
	"futures-engine/internal/quote"
)

// divPrecision bounds the decimal expansion of 1/price for inverse contracts.
// BitMEX settles XBt to 8 places; a few guard digits keep rounding out of the
// comparison range.
const divPrecision = 12

// Unrealized values one position against a mark price.
//
// Inverse contracts pay out in the base currency, so the value of one
// contract is multiplier/price and the PnL of a long is
// (1/entry - 1/mark) * |multiplier| * qty. Linear contracts pay out in the
// quote currency: (mark - entry) * |multiplier| * qty. A short is the
// negation of the long in both cases.
func Unrealized(contract *core.Contract, side core.Side, qty, entry, mark decimal.Decimal) decimal.Decimal {
	if entry.Cmp(decimal.Zero) <= 0 || mark.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero
	}
	mult := contract.Multiplier.Abs()
	var pnl decimal.Decimal
	if contract.Inverse {
		one := decimal.New(1, 0)
		pnl = one.DivRound(entry, divPrecision).
			Sub(one.DivRound(mark, divPrecision)).
			Mul(mult).
			Mul(qty)
	} else {
		pnl = mark.Sub(entry).Mul(mult).Mul(qty)
	}
	if side == core.Sell {
		pnl = pnl.Neg()
	}
	return pnl
}

// MarkFor picks the conservative side of the book: a long is valued at the
// price it could sell at (bid), a short at the price it could buy back at
// (ask). Returns false when that side of the book is empty.
func MarkFor(side core.Side, q core.Quote) (decimal.Decimal, bool) {
	var mark decimal.Decimal
	if side == core.Buy {
		mark = q.Bid
	} else {
		mark = q.Ask
	}
	return mark, mark.Cmp(decimal.Zero) > 0
}

// Engine recomputes unrealized PnL for every open position on a symbol each
// time its quote changes. It only writes position.Book.SetUnrealPnL; the
// tracker owns everything else about a position.
type Engine struct {
	book *position.Book

	mu        sync.RWMutex
	contracts map[string]*core.Contract
}

func NewEngine(book *position.Book) *Engine {
	return &Engine{
		book:      book,
		contracts: make(map[string]*core.Contract),
	}
}

// SetContracts registers the instrument metadata the engine values against.
// Quotes for symbols without metadata are skipped with a warning.
func (e *Engine) SetContracts(contracts []core.Contract) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range contracts {
		c := contracts[i]
		e.contracts[c.Symbol] = &c
	}
}

// Attach registers the engine on a quote cache.
func (e *Engine) Attach(cache *quote.Cache) {
	cache.Subscribe(e.OnQuote)
}

// OnQuote revalues all open positions on the quote's symbol.
func (e *Engine) OnQuote(q core.Quote) {
	positions := e.book.OpenForSymbol(q.Symbol)
	if len(positions) == 0 {
		return
	}
	e.mu.RLock()
	contract, ok := e.contracts[q.Symbol]
	e.mu.RUnlock()
	if !ok {
		log.Printf("level=WARN event=pnl_no_contract symbol=%s", q.Symbol)
		return
	}
	for _, pos := range positions {
		mark, ok := MarkFor(pos.Side, q)
		if !ok {
			continue
		}
		e.book.SetUnrealPnL(pos.ID, Unrealized(contract, pos.Side, pos.Qty, *pos.EntryPrice, mark))
	}
}
