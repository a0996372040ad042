package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
)

// OrderRequest is a normalized order: quantity already snapped to the
// contract's lot size and price to its tick size.
type OrderRequest struct {
	Contract    *core.Contract
	Side        core.Side
	Type        core.OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal // zero for market orders
	TimeInForce core.TimeInForce
	ClientID    string
}

// TradingClient places and inspects orders. Transport failures come back as
// errors with a nil report; callers must treat that as "unknown, poll or
// retry", never as a terminal outcome.
type TradingClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*core.OrderReport, error)
	CancelOrder(ctx context.Context, orderID string) (*core.OrderReport, error)
	OrderStatus(ctx context.Context, symbol, orderID string) (*core.OrderReport, error)
}

// MetadataClient owns contract and account metadata. Contracts are loaded
// once and referenced, not copied, by the rest of the engine.
type MetadataClient interface {
	ActiveContracts(ctx context.Context) ([]core.Contract, error)
	Balances(ctx context.Context) (map[string]core.Balance, error)
}
