// Package engine wires the market-data stream, candle aggregation, quote
// cache, PnL valuation and order tracking into one runnable unit.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
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
	"futures-engine/internal/stream"
)

const (
	contractRefreshInterval = 10 * time.Minute
	reconcileInterval       = 30 * time.Second
)

// tradeRow and quoteRow are the venue's table row shapes.
type tradeRow struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

type quoteRow struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bidPrice"`
	AskPrice  decimal.Decimal `json:"askPrice"`
	Timestamp time.Time       `json:"timestamp"`
}

// Engine owns the live wiring. The tracker keeps order/position authority;
// the engine routes market data into the aggregator and quote cache and keeps
// instrument metadata fresh.
type Engine struct {
	symbols    []string
	streams    *stream.Manager
	aggregator *candle.Aggregator
	quotes     *quote.Cache
	valuer     *pnl.Engine
	tracker    *position.Tracker
	meta       exchange.MetadataClient
	feed       *feed.Feed
	breaker    *safety.Breaker
	dialer     stream.Dialer

	mu        sync.RWMutex
	contracts map[string]*core.Contract
}

type Deps struct {
	Symbols    []string
	Streams    *stream.Manager
	Aggregator *candle.Aggregator
	Quotes     *quote.Cache
	Valuer     *pnl.Engine
	Tracker    *position.Tracker
	Meta       exchange.MetadataClient
	Feed       *feed.Feed
	Breaker    *safety.Breaker
	// Dialer overrides the websocket dialer; nil means the default.
	Dialer stream.Dialer
}

func New(deps Deps) *Engine {
	dialer := deps.Dialer
	if dialer == nil {
		dialer = stream.DefaultDialer()
	}
	return &Engine{
		symbols:    deps.Symbols,
		streams:    deps.Streams,
		aggregator: deps.Aggregator,
		quotes:     deps.Quotes,
		valuer:     deps.Valuer,
		tracker:    deps.Tracker,
		meta:       deps.Meta,
		feed:       deps.Feed,
		breaker:    deps.Breaker,
		dialer:     dialer,
	}
}

// Run blocks until ctx is cancelled. It loads instrument metadata, attaches
// the valuation engine to the quote cache, subscribes the stream topics and
// serves market data, refreshing metadata on a timer.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.refreshContracts(ctx); err != nil {
		return fmt.Errorf("load contracts: %w", err)
	}
	e.valuer.Attach(e.quotes)

	for _, symbol := range e.symbols {
		e.streams.Subscribe("trade:"+symbol, "quote:"+symbol)
	}
	e.streams.Handle("trade", e.onTradeFrame)
	e.streams.Handle("quote", e.onQuoteFrame)
	e.streams.SetDialer(guardedDialer{inner: e.dialer, breaker: e.breaker})

	e.feed.Append("engine_started", "streaming %d symbols", len(e.symbols))

	refresh := time.NewTicker(contractRefreshInterval)
	defer refresh.Stop()
	reconcile := time.NewTicker(reconcileInterval)
	defer reconcile.Stop()
	streamErr := make(chan error, 1)
	go func() { streamErr <- e.streams.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			<-streamErr
			e.tracker.Stop()
			e.feed.Append("engine_stopped", "shutdown complete")
			return ctx.Err()
		case err := <-streamErr:
			e.tracker.Stop()
			return err
		case <-refresh.C:
			if err := e.refreshContracts(ctx); err != nil {
				log.Printf("level=WARN event=contract_refresh_failed err=%q", err.Error())
			}
		case <-reconcile.C:
			e.tracker.Reconcile(ctx)
		}
	}
}

// OpenPosition resolves the symbol's contract and hands off to the tracker.
func (e *Engine) OpenPosition(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal, typ core.OrderType, price decimal.Decimal, tif core.TimeInForce) (position.Position, error) {
	contract, err := e.contract(symbol)
	if err != nil {
		return position.Position{}, err
	}
	return e.tracker.Open(ctx, contract, side, qty, typ, price, tif)
}

// ClosePosition exits a tracked position at market.
func (e *Engine) ClosePosition(ctx context.Context, positionID string) error {
	pos, ok := e.tracker.Book().Get(positionID)
	if !ok {
		return position.ErrPositionNotFound
	}
	contract, err := e.contract(pos.Symbol)
	if err != nil {
		return err
	}
	return e.tracker.Close(ctx, positionID, contract)
}

func (e *Engine) contract(symbol string) (*core.Contract, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	contract, ok := e.contracts[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrContractNotFound, symbol)
	}
	return contract, nil
}

// CancelEntry cancels a pending entry order.
func (e *Engine) CancelEntry(ctx context.Context, positionID string) error {
	return e.tracker.Cancel(ctx, positionID)
}

func (e *Engine) refreshContracts(ctx context.Context) error {
	contracts, err := e.meta.ActiveContracts(ctx)
	if err != nil {
		return err
	}
	bysym := make(map[string]*core.Contract, len(contracts))
	for i := range contracts {
		bysym[contracts[i].Symbol] = &contracts[i]
	}
	for _, symbol := range e.symbols {
		if _, ok := bysym[symbol]; !ok {
			return fmt.Errorf("%w: %s", core.ErrContractNotFound, symbol)
		}
	}
	e.mu.Lock()
	e.contracts = bysym
	e.mu.Unlock()
	e.valuer.SetContracts(contracts)
	return nil
}

func (e *Engine) onTradeFrame(action string, data json.RawMessage) {
	if action != "insert" && action != "partial" {
		return
	}
	var rows []tradeRow
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Printf("level=WARN event=trade_frame_malformed err=%q", err.Error())
		return
	}
	for _, row := range rows {
		if row.Price.Cmp(decimal.Zero) <= 0 || row.Size.Cmp(decimal.Zero) <= 0 {
			continue
		}
		e.aggregator.OnTrade(row.Symbol, row.Price, row.Size, row.Timestamp)
	}
}

func (e *Engine) onQuoteFrame(action string, data json.RawMessage) {
	if action != "insert" && action != "partial" && action != "update" {
		return
	}
	var rows []quoteRow
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Printf("level=WARN event=quote_frame_malformed err=%q", err.Error())
		return
	}
	for _, row := range rows {
		e.quotes.Update(row.Symbol, row.BidPrice, row.AskPrice, row.Timestamp)
	}
}

// guardedDialer feeds every dial outcome into the reconnect circuit and
// refuses to dial while the circuit cools down.
type guardedDialer struct {
	inner   stream.Dialer
	breaker *safety.Breaker
}

func (g guardedDialer) Dial(ctx context.Context, url string) (stream.Conn, error) {
	if err := g.breaker.AllowReconnect(); err != nil {
		return nil, err
	}
	conn, err := g.inner.Dial(ctx, url)
	if trip := g.breaker.RecordReconnect(err); trip != nil {
		return nil, trip
	}
	return conn, err
}
