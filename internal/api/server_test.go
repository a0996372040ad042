package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"futures-engine/internal/candle"
	"futures-engine/internal/core"
	"futures-engine/internal/feed"
	"futures-engine/internal/position"
	"futures-engine/internal/quote"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestServer(t *testing.T) (*Server, *candle.Aggregator, *position.Book, *feed.Feed, *quote.Cache) {
	t.Helper()
	aggregator := candle.NewAggregator(5*time.Minute, 10)
	book := position.NewBook()
	fd := feed.New(10)
	quotes := quote.NewCache()
	return NewServer(aggregator, book, fd, quotes), aggregator, book, fd, quotes
}

func doGet(t *testing.T, s *Server, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Router().ServeHTTP(rec, req)
	var body map[string]interface{}
	if len(rec.Body.Bytes()) > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response body: %v", err)
		}
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	code, body := doGet(t, s, "/health")
	if code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func TestCandles(t *testing.T) {
	s, aggregator, _, _, _ := newTestServer(t)
	start := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	aggregator.OnTrade("XBTUSD", d("20000"), d("10"), start)
	aggregator.OnTrade("XBTUSD", d("20100"), d("5"), start.Add(time.Minute))

	code, body := doGet(t, s, "/candles/XBTUSD")
	if code != http.StatusOK {
		t.Fatalf("GET /candles = %d, want 200", code)
	}
	candles, ok := body["candles"].([]interface{})
	if !ok || len(candles) != 1 {
		t.Fatalf("candles = %v, want one bucket", body["candles"])
	}
	first := candles[0].(map[string]interface{})
	if first["high"] != "20100" || first["volume"] != "15" {
		t.Fatalf("candle = %v", first)
	}

	code, _ = doGet(t, s, "/candles/ETHUSD")
	if code != http.StatusNotFound {
		t.Fatalf("GET /candles unknown symbol = %d, want 404", code)
	}
}

func TestQuotes(t *testing.T) {
	s, _, _, _, quotes := newTestServer(t)
	quotes.Update("XBTUSD", d("19999.5"), d("20000"), time.Now())

	code, body := doGet(t, s, "/quotes/XBTUSD")
	if code != http.StatusOK {
		t.Fatalf("GET /quotes = %d, want 200", code)
	}
	if body["bid"] != "19999.5" || body["ask"] != "20000" {
		t.Fatalf("quote body = %v", body)
	}

	code, _ = doGet(t, s, "/quotes/ETHUSD")
	if code != http.StatusNotFound {
		t.Fatalf("GET /quotes unknown symbol = %d, want 404", code)
	}
}

func TestPositionsOrderedAndRendered(t *testing.T) {
	s, _, book, _, _ := newTestServer(t)
	entry := d("20000")
	book.Restore(position.Position{
		ID:       "p-2",
		Symbol:   "XBTUSD",
		Side:     core.Sell,
		Qty:      d("50"),
		Status:   position.PendingEntry,
		OpenedAt: time.Date(2023, 4, 1, 13, 0, 0, 0, time.UTC),
	})
	book.Restore(position.Position{
		ID:         "p-1",
		Symbol:     "XBTUSD",
		Side:       core.Buy,
		Qty:        d("100"),
		EntryPrice: &entry,
		Status:     position.Open,
		UnrealPnL:  d("0.0025"),
		OpenedAt:   time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC),
	})

	code, body := doGet(t, s, "/positions")
	if code != http.StatusOK {
		t.Fatalf("GET /positions = %d, want 200", code)
	}
	positions := body["positions"].([]interface{})
	if len(positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(positions))
	}
	first := positions[0].(map[string]interface{})
	if first["id"] != "p-1" {
		t.Fatalf("positions not ordered by open time: %v", first)
	}
	if first["entry_price"] != "20000" || first["unreal_pnl"] != "0.0025" {
		t.Fatalf("position view = %v", first)
	}
	second := positions[1].(map[string]interface{})
	if _, present := second["entry_price"]; present {
		t.Fatalf("pending entry must omit entry_price: %v", second)
	}
}

func TestFeedEntries(t *testing.T) {
	s, _, _, fd, _ := newTestServer(t)
	fd.Append("order_placed", "entry Buy 100 XBTUSD")
	fd.Append("entry_filled", "position p-1 entry confirmed at 20000")

	code, body := doGet(t, s, "/feed")
	if code != http.StatusOK {
		t.Fatalf("GET /feed = %d, want 200", code)
	}
	entries := body["entries"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	first := entries[0].(map[string]interface{})
	if first["event"] != "order_placed" {
		t.Fatalf("first entry = %v", first)
	}
}
