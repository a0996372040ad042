package quote

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestUpdateLastWriteWins(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()
	c.Update("XBTUSD", d("20000"), d("20000.5"), now)
	c.Update("XBTUSD", d("20010"), d("20010.5"), now.Add(time.Second))

	q, ok := c.Best("XBTUSD")
	if !ok {
		t.Fatalf("Best() should find the symbol")
	}
	if q.Bid.Cmp(d("20010")) != 0 || q.Ask.Cmp(d("20010.5")) != 0 {
		t.Fatalf("quote = %s/%s, want 20010/20010.5", q.Bid, q.Ask)
	}
}

func TestUpdateOneSidedKeepsOtherSide(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()
	c.Update("XBTUSD", d("20000"), d("20000.5"), now)
	c.Update("XBTUSD", d("20005"), decimal.Zero, now.Add(time.Second))

	q, _ := c.Best("XBTUSD")
	if q.Bid.Cmp(d("20005")) != 0 {
		t.Fatalf("bid = %s, want 20005", q.Bid)
	}
	if q.Ask.Cmp(d("20000.5")) != 0 {
		t.Fatalf("ask = %s, want previous 20000.5", q.Ask)
	}
}

func TestSubscribersSeeEveryUpdate(t *testing.T) {
	c := NewCache()
	var got []core.Quote
	c.Subscribe(func(q core.Quote) { got = append(got, q) })

	now := time.Now().UTC()
	c.Update("XBTUSD", d("20000"), d("20000.5"), now)
	c.Update("ETHUSD", d("1500"), d("1500.05"), now)

	if len(got) != 2 {
		t.Fatalf("subscriber calls = %d, want 2", len(got))
	}
	if got[0].Symbol != "XBTUSD" || got[1].Symbol != "ETHUSD" {
		t.Fatalf("subscriber order = %s, %s", got[0].Symbol, got[1].Symbol)
	}
}

func TestBestUnknownSymbol(t *testing.T) {
	c := NewCache()
	if _, ok := c.Best("XBTUSD"); ok {
		t.Fatalf("Best() should miss on unknown symbol")
	}
}
