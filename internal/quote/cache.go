package quote

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
)

// SubscribeFunc is invoked after every accepted update, outside the cache
// lock. Subscribers must tolerate being called concurrently for different
// symbols.
type SubscribeFunc func(core.Quote)

// Cache keeps the latest best bid/ask per symbol. Last write wins; no history.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]core.Quote

	subMu sync.RWMutex
	subs  []SubscribeFunc
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]core.Quote)}
}

// Subscribe registers fn for every subsequent update.
func (c *Cache) Subscribe(fn SubscribeFunc) {
	if fn == nil {
		return
	}
	c.subMu.Lock()
	c.subs = append(c.subs, fn)
	c.subMu.Unlock()
}

// Update overwrites the quote for symbol and fans it out to subscribers. A
// non-positive bid or ask leaves the stored side untouched, so a one-sided
// book update does not wipe the other side.
func (c *Cache) Update(symbol string, bid, ask decimal.Decimal, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	c.mu.Lock()
	q := c.quotes[symbol]
	q.Symbol = symbol
	if bid.Cmp(decimal.Zero) > 0 {
		q.Bid = bid
	}
	if ask.Cmp(decimal.Zero) > 0 {
		q.Ask = ask
	}
	q.UpdatedAt = at
	c.quotes[symbol] = q
	c.mu.Unlock()

	c.subMu.RLock()
	subs := c.subs
	c.subMu.RUnlock()
	for _, fn := range subs {
		fn(q)
	}
}

// Best returns the latest quote for symbol.
func (c *Cache) Best(symbol string) (core.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}
