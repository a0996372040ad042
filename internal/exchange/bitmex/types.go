package bitmex

import (
	"time"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
)

type instrumentResponse struct {
	Symbol        string          `json:"symbol"`
	State         string          `json:"state"`
	TickSize      decimal.Decimal `json:"tickSize"`
	LotSize       decimal.Decimal `json:"lotSize"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	IsInverse     bool            `json:"isInverse"`
	IsQuanto      bool            `json:"isQuanto"`
	QuoteCurrency string          `json:"quoteCurrency"`
	SettlCurrency string          `json:"settlCurrency"`
}

func (r instrumentResponse) toContract() core.Contract {
	return core.Contract{
		Symbol:     r.Symbol,
		TickSize:   r.TickSize,
		LotSize:    r.LotSize,
		Multiplier: r.Multiplier,
		Inverse:    r.IsInverse,
		Quanto:     r.IsQuanto,
		QuoteAsset: r.QuoteCurrency,
	}
}

type orderResponse struct {
	OrderID   string           `json:"orderID"`
	ClOrdID   string           `json:"clOrdID"`
	Symbol    string           `json:"symbol"`
	Side      string           `json:"side"`
	OrdStatus string           `json:"ordStatus"`
	OrdType   string           `json:"ordType"`
	Price     *decimal.Decimal `json:"price"`
	OrderQty  decimal.Decimal  `json:"orderQty"`
	CumQty    decimal.Decimal  `json:"cumQty"`
	AvgPx     *decimal.Decimal `json:"avgPx"`
	Timestamp time.Time        `json:"timestamp"`
}

func (r orderResponse) toReport() *core.OrderReport {
	report := &core.OrderReport{
		OrderID:   r.OrderID,
		ClientID:  r.ClOrdID,
		Symbol:    r.Symbol,
		Side:      core.Side(r.Side),
		State:     core.OrderState(r.OrdStatus),
		Qty:       r.OrderQty,
		FilledQty: r.CumQty,
		UpdatedAt: r.Timestamp,
	}
	if r.Price != nil {
		report.Price = *r.Price
	}
	if r.AvgPx != nil {
		report.AvgFillPrice = *r.AvgPx
	}
	return report
}

type marginResponse struct {
	Currency        string          `json:"currency"`
	WalletBalance   decimal.Decimal `json:"walletBalance"`
	AvailableMargin decimal.Decimal `json:"availableMargin"`
	UnrealisedPnl   decimal.Decimal `json:"unrealisedPnl"`
}

func (r marginResponse) toBalance() core.Balance {
	return core.Balance{
		Currency:  r.Currency,
		Wallet:    r.WalletBalance,
		Available: r.AvailableMargin,
		UnrealPnL: r.UnrealisedPnl,
	}
}

type orderRequestBody struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrdType     string `json:"ordType"`
	OrderQty    string `json:"orderQty"`
	Price       string `json:"price,omitempty"`
	ClOrdID     string `json:"clOrdID,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
}
