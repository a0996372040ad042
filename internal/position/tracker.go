package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"futures-engine/internal/alert"
	"futures-engine/internal/core"
	"futures-engine/internal/exchange"
	"futures-engine/internal/feed"
	"futures-engine/internal/store"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrBadTransition    = errors.New("position state does not allow this")
	ErrQtyTooLarge      = errors.New("quantity above configured maximum")
)

type Config struct {
	PollInterval time.Duration
	MaxPolls     int
	MaxBackoff   time.Duration
	MaxOrderQty  decimal.Decimal
	ClientPrefix string
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxPolls < 1 {
		c.MaxPolls = 150
	}
	if c.MaxBackoff < c.PollInterval {
		c.MaxBackoff = 30 * time.Second
	}
	if c.ClientPrefix == "" {
		c.ClientPrefix = "fe"
	}
}

// Tracker owns the order lifecycle: it places entry and exit orders, polls
// pending entries to a terminal state, and is the only component that moves a
// position between its pending/open/closed states.
type Tracker struct {
	trading exchange.TradingClient
	meta    exchange.MetadataClient
	book    *Book
	feed    *feed.Feed
	alerts  alert.Alerter
	archive *store.Archive
	cfg     Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func NewTracker(trading exchange.TradingClient, meta exchange.MetadataClient, book *Book, fd *feed.Feed, alerts alert.Alerter, archive *store.Archive, cfg Config) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		trading: trading,
		meta:    meta,
		book:    book,
		feed:    fd,
		alerts:  alerts,
		archive: archive,
		cfg:     cfg,
		cancels: make(map[string]context.CancelFunc),
	}
}

func (t *Tracker) Book() *Book { return t.book }

// Open submits an entry order and starts tracking the resulting position.
// Quantity is snapped to the contract lot size and price to its tick size
// before submission. A transport failure means no position is created; the
// caller may retry.
func (t *Tracker) Open(ctx context.Context, contract *core.Contract, side core.Side, qty decimal.Decimal, typ core.OrderType, price decimal.Decimal, tif core.TimeInForce) (Position, error) {
	qty, err := core.NormalizeQty(qty, contract)
	if err != nil {
		return Position{}, err
	}
	if t.cfg.MaxOrderQty.Cmp(decimal.Zero) > 0 && qty.Cmp(t.cfg.MaxOrderQty) > 0 {
		return Position{}, fmt.Errorf("%w: %s > %s", ErrQtyTooLarge, qty, t.cfg.MaxOrderQty)
	}
	if typ == core.Market {
		price = decimal.Zero
	} else if price, err = core.NormalizePrice(price, contract); err != nil {
		return Position{}, err
	}

	clientID := t.cfg.ClientPrefix + "-" + strings.Split(uuid.NewString(), "-")[0]
	report, err := t.trading.PlaceOrder(ctx, exchange.OrderRequest{
		Contract:    contract,
		Side:        side,
		Type:        typ,
		Qty:         qty,
		Price:       price,
		TimeInForce: tif,
		ClientID:    clientID,
	})
	if err != nil {
		t.appendFeed("order_place_failed", "entry %s %s %s: %v", side, qty, contract.Symbol, err)
		return Position{}, err
	}
	if report == nil {
		t.appendFeed("order_place_unknown", "entry %s %s %s: no response", side, qty, contract.Symbol)
		return Position{}, fmt.Errorf("place order %s: empty exchange response", contract.Symbol)
	}
	if report.State == core.OrderCanceled || report.State == core.OrderRejected {
		t.appendFeed("order_rejected", "entry order %s on %s rejected on placement", report.OrderID, contract.Symbol)
		return Position{}, core.ErrOrderRejected
	}

	pos := &Position{
		ID:           uuid.NewString(),
		Symbol:       contract.Symbol,
		Side:         side,
		Qty:          qty,
		EntryOrderID: report.OrderID,
		Status:       PendingEntry,
		OpenedAt:     time.Now().UTC(),
	}
	t.book.add(pos)
	t.appendFeed("order_placed", "entry %s %s %s order=%s", side, qty, contract.Symbol, report.OrderID)

	if report.State == core.OrderFilled {
		fill := fillPrice(report)
		t.book.applyEntryFill(pos.ID, fill)
		t.appendFeed("entry_filled", "position %s entry confirmed at %s", pos.ID, fill)
	} else {
		t.startEntryPoll(pos.ID, contract.Symbol, report.OrderID)
	}
	out, _ := t.book.Get(pos.ID)
	return out, nil
}

// Cancel asks the exchange to cancel a pending entry order. An empty exchange
// response is a logged no-op, not an error.
func (t *Tracker) Cancel(ctx context.Context, positionID string) error {
	pos, ok := t.book.Get(positionID)
	if !ok {
		return ErrPositionNotFound
	}
	if pos.Status != PendingEntry {
		return fmt.Errorf("%w: status %s", ErrBadTransition, pos.Status)
	}
	report, err := t.trading.CancelOrder(ctx, pos.EntryOrderID)
	if err != nil {
		t.appendFeed("order_cancel_failed", "cancel %s: %v", pos.EntryOrderID, err)
		return err
	}
	if report == nil {
		log.Printf("level=WARN event=order_cancel_noop order_id=%s reason=%q", pos.EntryOrderID, "empty response")
		return nil
	}
	t.stopPoll(positionID)
	t.book.transition(positionID, PendingEntry, Closed)
	t.appendFeed("order_canceled", "entry order %s canceled, position %s closed", pos.EntryOrderID, positionID)
	return nil
}

// Close issues an opposing market order for the stored quantity. On confirmed
// placement the position is closed and a PnL/balance snapshot archived. If
// placement fails the position stays open and the caller must retry; there is
// no automatic retry for exits.
func (t *Tracker) Close(ctx context.Context, positionID string, contract *core.Contract) error {
	pos, ok := t.book.Get(positionID)
	if !ok {
		return ErrPositionNotFound
	}
	if !t.book.transition(positionID, Open, PendingExit) {
		return fmt.Errorf("%w: status %s", ErrBadTransition, pos.Status)
	}

	report, err := t.trading.PlaceOrder(ctx, exchange.OrderRequest{
		Contract:    contract,
		Side:        core.Opposite(pos.Side),
		Type:        core.Market,
		Qty:         pos.Qty,
		ClientID:    t.cfg.ClientPrefix + "-x-" + strings.Split(uuid.NewString(), "-")[0],
		TimeInForce: core.ImmediateOrCancel,
	})
	if err != nil || report == nil {
		t.book.transition(positionID, PendingExit, Open)
		t.appendFeed("close_failed", "close of position %s failed: %v", positionID, err)
		if err == nil {
			err = fmt.Errorf("close position %s: empty exchange response", positionID)
		}
		return err
	}
	if report.State == core.OrderRejected {
		t.book.transition(positionID, PendingExit, Open)
		t.appendFeed("close_rejected", "close order for position %s rejected", positionID)
		return core.ErrOrderRejected
	}

	t.stopPoll(positionID)
	t.book.setExitOrder(positionID, report.OrderID)
	t.book.transition(positionID, PendingExit, Closed)
	closed, _ := t.book.Get(positionID)
	t.appendFeed("position_closed", "position %s closed qty=%s pnl=%s", positionID, closed.Qty, closed.UnrealPnL)
	t.snapshotClosed(ctx, closed)
	return nil
}

// Reconcile re-checks stuck positions against the exchange. A stuck entry
// order whose true state turns out terminal is resolved the same way the poll
// loop would have resolved it; anything still ambiguous stays stuck.
func (t *Tracker) Reconcile(ctx context.Context) {
	for _, pos := range t.book.All() {
		if pos.Status != Stuck {
			continue
		}
		report, err := t.trading.OrderStatus(ctx, pos.Symbol, pos.EntryOrderID)
		if err != nil {
			log.Printf("level=WARN event=reconcile_status_failed order_id=%s err=%q", pos.EntryOrderID, err.Error())
			continue
		}
		if report == nil {
			continue
		}
		switch report.State {
		case core.OrderFilled:
			if t.book.transition(pos.ID, Stuck, PendingEntry) {
				fill := fillPrice(report)
				t.book.applyEntryFill(pos.ID, fill)
				t.appendFeed("entry_filled", "position %s recovered from stuck, entry confirmed at %s", pos.ID, fill)
			}
		case core.OrderCanceled, core.OrderRejected:
			if t.book.transition(pos.ID, Stuck, Closed) {
				t.appendFeed("entry_not_filled", "stuck entry order %s ended %s, position %s closed", pos.EntryOrderID, report.State, pos.ID)
			}
		}
	}
}

// Stop cancels every polling task and waits for them to finish.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	for _, cancel := range t.cancels {
		cancel()
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) startEntryPoll(positionID, symbol, orderID string) {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		cancel()
		return
	}
	t.cancels[positionID] = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	go t.pollEntry(ctx, positionID, symbol, orderID)
}

func (t *Tracker) stopPoll(positionID string) {
	t.mu.Lock()
	if cancel, ok := t.cancels[positionID]; ok {
		cancel()
		delete(t.cancels, positionID)
	}
	t.mu.Unlock()
}

// pollEntry re-checks a pending entry order until it reaches a terminal
// state, the position's polling context is cancelled, or the poll budget is
// exhausted. Status reads are idempotent, so repeating a check is always
// safe.
func (t *Tracker) pollEntry(ctx context.Context, positionID, symbol, orderID string) {
	defer t.wg.Done()
	defer t.stopPoll(positionID)

	delay := t.cfg.PollInterval
	for attempt := 1; attempt <= t.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		report, err := t.trading.OrderStatus(ctx, symbol, orderID)
		if err != nil {
			log.Printf(
				"level=WARN event=order_status_failed order_id=%s attempt=%d err=%q",
				orderID,
				attempt,
				err.Error(),
			)
			delay = growDelay(delay, t.cfg.MaxBackoff)
			continue
		}
		if report == nil {
			delay = growDelay(delay, t.cfg.MaxBackoff)
			continue
		}

		switch report.State {
		case core.OrderFilled:
			fill := fillPrice(report)
			if t.book.applyEntryFill(positionID, fill) {
				t.appendFeed("entry_filled", "position %s entry confirmed at %s", positionID, fill)
			}
			return
		case core.OrderCanceled, core.OrderRejected:
			t.book.transition(positionID, PendingEntry, Closed)
			t.appendFeed("entry_not_filled", "entry order %s ended %s, position %s closed", orderID, report.State, positionID)
			return
		default:
			// New or PartiallyFilled: keep polling at the base interval.
			delay = t.cfg.PollInterval
		}
	}

	if t.book.transition(positionID, PendingEntry, Stuck) {
		t.appendFeed("order_stuck", "entry order %s unresolved after %d polls", orderID, t.cfg.MaxPolls)
		if t.alerts != nil {
			t.alerts.Important("stuck_order", map[string]string{
				"position_id": positionID,
				"order_id":    orderID,
				"symbol":      symbol,
			})
		}
	}
}

// snapshotClosed archives the final state plus account balances. Best-effort:
// the position is already closed and a reporting failure must not undo that.
func (t *Tracker) snapshotClosed(ctx context.Context, pos Position) {
	var balances map[string]decimal.Decimal
	if t.meta != nil {
		if accs, err := t.meta.Balances(ctx); err != nil {
			log.Printf("level=WARN event=balance_snapshot_failed position_id=%s err=%q", pos.ID, err.Error())
		} else {
			balances = make(map[string]decimal.Decimal, len(accs))
			for cur, b := range accs {
				balances[cur] = b.Wallet
			}
		}
	}
	if t.alerts != nil {
		fields := map[string]string{
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
			"side":        string(pos.Side),
			"qty":         pos.Qty.String(),
			"pnl":         pos.UnrealPnL.String(),
		}
		if pos.EntryPrice != nil {
			fields["entry_price"] = pos.EntryPrice.String()
		}
		t.alerts.Important("position_closed", fields)
	}
	if t.archive == nil {
		return
	}
	rec := store.ClosedPosition{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		Qty:        pos.Qty,
		EntryPrice: pos.EntryPrice,
		PnL:        pos.UnrealPnL,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   pos.ClosedAt,
		Balances:   balances,
	}
	if err := t.archive.AppendClosed(rec); err != nil {
		log.Printf("level=WARN event=archive_write_failed position_id=%s err=%q", pos.ID, err.Error())
	}
}

func (t *Tracker) appendFeed(event, format string, args ...interface{}) {
	if t.feed != nil {
		t.feed.Append(event, format, args...)
	}
}

func fillPrice(report *core.OrderReport) decimal.Decimal {
	if report.AvgFillPrice.Cmp(decimal.Zero) > 0 {
		return report.AvgFillPrice
	}
	return report.Price
}

func growDelay(delay, ceiling time.Duration) time.Duration {
	delay *= 2
	if delay > ceiling {
		return ceiling
	}
	return delay
}
