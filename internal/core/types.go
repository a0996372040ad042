package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type TimeInForce string

type OrderState string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

const (
	Limit  OrderType = "Limit"
	Market OrderType = "Market"
)

const (
	GoodTillCancel    TimeInForce = "GoodTillCancel"
	ImmediateOrCancel TimeInForce = "ImmediateOrCancel"
	FillOrKill        TimeInForce = "FillOrKill"
)

const (
	OrderNew             OrderState = "New"
	OrderPartiallyFilled OrderState = "PartiallyFilled"
	OrderFilled          OrderState = "Filled"
	OrderCanceled        OrderState = "Canceled"
	OrderRejected        OrderState = "Rejected"
)

// Contract is immutable after load. Components hold references to the metadata
// owner's contracts, never copies.
type Contract struct {
	Symbol     string
	TickSize   decimal.Decimal
	LotSize    decimal.Decimal
	Multiplier decimal.Decimal
	Inverse    bool
	Quanto     bool
	QuoteAsset string
}

// Candle is a fixed-interval OHLCV bucket. Start is the exchange-adjusted
// bucket start. A candle is mutable only while it is the newest in its series.
type Candle struct {
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Quote is the latest best bid/ask for a symbol. Last write wins, no history.
type Quote struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	UpdatedAt time.Time
}

// OrderReport is the exchange's view of an order at one point in time. It is
// transient: produced by the exchange, consumed to advance a position.
type OrderReport struct {
	OrderID      string
	ClientID     string
	Symbol       string
	Side         Side
	State        OrderState
	Price        decimal.Decimal
	Qty          decimal.Decimal
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	UpdatedAt    time.Time
}

// Terminal reports whether no further state transition can occur.
func (r OrderReport) Terminal() bool {
	switch r.State {
	case OrderFilled, OrderCanceled, OrderRejected:
		return true
	}
	return false
}

type Balance struct {
	Currency  string
	Wallet    decimal.Decimal
	Available decimal.Decimal
	UnrealPnL decimal.Decimal
}
