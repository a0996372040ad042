package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQty   = errors.New("invalid quantity")
	ErrInvalidPrice = errors.New("invalid price")
)

// RoundToStep snaps value to the nearest multiple of step. A quantity of 103
// with lot size 25 becomes 100; a price of 20123.7 with tick 0.5 becomes
// 20123.5.
func RoundToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Round(0).Mul(step)
}

// RoundDown snaps value to the nearest multiple of step not above it.
func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// NormalizeQty rounds qty to the contract lot size and rejects quantities that
// round to zero or below.
func NormalizeQty(qty decimal.Decimal, contract *Contract) (decimal.Decimal, error) {
	if qty.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, ErrInvalidQty
	}
	out := RoundToStep(qty, contract.LotSize)
	if out.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, ErrInvalidQty
	}
	return out, nil
}

// NormalizePrice rounds price to the contract tick size. Market orders carry
// no price; zero passes through untouched so callers can leave it unset.
func NormalizePrice(price decimal.Decimal, contract *Contract) (decimal.Decimal, error) {
	if price.Cmp(decimal.Zero) == 0 {
		return price, nil
	}
	if price.Cmp(decimal.Zero) < 0 {
		return decimal.Zero, ErrInvalidPrice
	}
	out := RoundToStep(price, contract.TickSize)
	if out.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, ErrInvalidPrice
	}
	return out, nil
}

// Opposite returns the closing side for a held side.
func Opposite(side Side) Side {
	if side == Buy {
		return Sell
	}
	return Buy
}
