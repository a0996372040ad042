package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"futures-engine/internal/candle"
	"futures-engine/internal/core"
	"futures-engine/internal/exchange"
	"futures-engine/internal/feed"
	"futures-engine/internal/pnl"
	"futures-engine/internal/position"
	"futures-engine/internal/quote"
	"futures-engine/internal/safety"
	"futures-engine/internal/store"
	"futures-engine/internal/stream"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type pushConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes int
}

func newPushConn() *pushConn {
	return &pushConn{
		frames: make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

func (c *pushConn) push(frame string) { c.frames <- []byte(frame) }

func (c *pushConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.frames:
		return 1, frame, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *pushConn) WriteJSON(interface{}) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return nil
}

func (c *pushConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *pushConn) SetReadDeadline(time.Time) error           { return nil }
func (c *pushConn) SetPongHandler(func(string) error)         {}

func (c *pushConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type connDialer struct {
	conn *pushConn
}

func (d connDialer) Dial(context.Context, string) (stream.Conn, error) {
	return d.conn, nil
}

type stubTrading struct {
	mu      sync.Mutex
	reports []*core.OrderReport
}

func (s *stubTrading) PlaceOrder(_ context.Context, _ exchange.OrderRequest) (*core.OrderReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == 0 {
		return nil, errors.New("no report scripted")
	}
	report := s.reports[0]
	if len(s.reports) > 1 {
		s.reports = s.reports[1:]
	}
	return report, nil
}

func (s *stubTrading) CancelOrder(context.Context, string) (*core.OrderReport, error) {
	return nil, nil
}

func (s *stubTrading) OrderStatus(context.Context, string, string) (*core.OrderReport, error) {
	return nil, nil
}

type stubMeta struct {
	contracts []core.Contract
}

func (s stubMeta) ActiveContracts(context.Context) ([]core.Contract, error) {
	return s.contracts, nil
}

func (s stubMeta) Balances(context.Context) (map[string]core.Balance, error) {
	return map[string]core.Balance{}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func newTestEngine(t *testing.T, conn *pushConn, trading exchange.TradingClient) (*Engine, *position.Book, *candle.Aggregator) {
	t.Helper()
	archive, err := store.NewArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}
	book := position.NewBook()
	fd := feed.New(50)
	aggregator := candle.NewAggregator(5*time.Minute, 10)
	quotes := quote.NewCache()
	tracker := position.NewTracker(trading, stubMeta{}, book, fd, nil, archive, position.Config{
		PollInterval: time.Millisecond,
		MaxPolls:     5,
	})
	eng := New(Deps{
		Symbols:    []string{"XBTUSD"},
		Streams:    stream.NewManager(stream.Config{URL: "wss://example.invalid/realtime", ReconnectWait: time.Millisecond, PingInterval: time.Hour}),
		Aggregator: aggregator,
		Quotes:     quotes,
		Valuer:     pnl.NewEngine(book),
		Tracker:    tracker,
		Meta: stubMeta{contracts: []core.Contract{{
			Symbol:     "XBTUSD",
			TickSize:   d("0.5"),
			LotSize:    d("100"),
			Multiplier: d("-100"),
			Inverse:    true,
			QuoteAsset: "USD",
		}}},
		Feed:    fd,
		Breaker: safety.NewBreaker(true, 5, 10),
		Dialer:  connDialer{conn: conn},
	})
	return eng, book, aggregator
}

func TestEngineRoutesMarketDataAndValuesPositions(t *testing.T) {
	conn := newPushConn()
	trading := &stubTrading{reports: []*core.OrderReport{
		{OrderID: "o-1", State: core.OrderFilled, AvgFillPrice: d("20000")},
		{OrderID: "o-2", State: core.OrderFilled, AvgFillPrice: d("21000")},
	}}
	eng, book, aggregator := newTestEngine(t, conn, trading)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	now := time.Now().UTC()
	conn.push(fmt.Sprintf(
		`{"table":"trade","action":"insert","data":[{"symbol":"XBTUSD","side":"Buy","size":10,"price":20000,"timestamp":%q}]}`,
		now.Format(time.RFC3339Nano),
	))
	waitFor(t, func() bool {
		_, ok := aggregator.Last("XBTUSD")
		return ok
	})
	last, _ := aggregator.Last("XBTUSD")
	if last.Close.Cmp(d("20000")) != 0 || last.Volume.Cmp(d("10")) != 0 {
		t.Fatalf("candle = %+v", last)
	}

	pos, err := eng.OpenPosition(ctx, "XBTUSD", core.Buy, d("100"), core.Market, decimal.Zero, "")
	if err != nil {
		t.Fatalf("OpenPosition() error = %v", err)
	}
	if pos.Status != position.Open {
		t.Fatalf("status = %s, want open", pos.Status)
	}

	conn.push(fmt.Sprintf(
		`{"table":"quote","action":"insert","data":[{"symbol":"XBTUSD","bidPrice":20999.5,"askPrice":21000,"timestamp":%q}]}`,
		now.Format(time.RFC3339Nano),
	))
	waitFor(t, func() bool {
		got, _ := book.Get(pos.ID)
		return got.UnrealPnL.Cmp(decimal.Zero) > 0
	})

	if err := eng.ClosePosition(ctx, pos.ID); err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	got, _ := book.Get(pos.ID)
	if got.Status != position.Closed {
		t.Fatalf("status = %s, want closed", got.Status)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestEngineRejectsUnknownSymbol(t *testing.T) {
	eng, _, _ := newTestEngine(t, newPushConn(), &stubTrading{})
	if err := eng.refreshContracts(context.Background()); err != nil {
		t.Fatalf("refreshContracts() error = %v", err)
	}

	if _, err := eng.OpenPosition(context.Background(), "ETHUSD", core.Buy, d("1"), core.Market, decimal.Zero, ""); !errors.Is(err, core.ErrContractNotFound) {
		t.Fatalf("OpenPosition(unknown) error = %v, want ErrContractNotFound", err)
	}
	// A known symbol resolves its contract and reaches the trading client.
	if _, err := eng.OpenPosition(context.Background(), "XBTUSD", core.Buy, d("100"), core.Market, decimal.Zero, ""); errors.Is(err, core.ErrContractNotFound) {
		t.Fatalf("OpenPosition(known) error = %v", err)
	}
}

func TestEngineFailsWhenSymbolMissingFromVenue(t *testing.T) {
	conn := newPushConn()
	eng, _, _ := newTestEngine(t, conn, &stubTrading{})
	eng.meta = stubMeta{} // no contracts at all

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := eng.Run(ctx); !errors.Is(err, core.ErrContractNotFound) {
		t.Fatalf("Run() error = %v, want ErrContractNotFound", err)
	}
}

func TestTradeFrameIgnoresBadRows(t *testing.T) {
	conn := newPushConn()
	eng, _, aggregator := newTestEngine(t, conn, &stubTrading{})

	data, _ := json.Marshal([]tradeRow{
		{Symbol: "XBTUSD", Size: decimal.Zero, Price: d("20000"), Timestamp: time.Now()},
		{Symbol: "XBTUSD", Size: d("5"), Price: decimal.Zero, Timestamp: time.Now()},
	})
	eng.onTradeFrame("insert", data)
	if _, ok := aggregator.Last("XBTUSD"); ok {
		t.Fatalf("zero-size and zero-price trades must not open a candle")
	}
}
