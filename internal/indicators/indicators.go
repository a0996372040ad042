// Package indicators computes technical values over candle history. All
// functions take candles oldest-first, exactly as the aggregator snapshots
// them, and return decimals so strategy thresholds compare exactly.
package indicators

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
)

var ErrNotEnoughCandles = errors.New("not enough candles")

const calcPrecision = 12

// ATR is the Wilder-smoothed average true range over period candles: the
// first value seeds with a simple average, later values smooth with
// ((period-1)*prev + tr) / period.
func ATR(candles []core.Candle, period int) (decimal.Decimal, error) {
	if period < 1 {
		return decimal.Zero, errors.New("period must be >= 1")
	}
	if len(candles) < period+1 {
		return decimal.Zero, ErrNotEnoughCandles
	}
	p := decimal.NewFromInt(int64(period))
	var atr decimal.Decimal
	for i := 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1])
		if i < period {
			atr = atr.Add(tr)
			continue
		}
		if i == period {
			atr = atr.Add(tr).DivRound(p, calcPrecision)
			continue
		}
		atr = atr.Mul(p.Sub(decimal.New(1, 0))).Add(tr).DivRound(p, calcPrecision)
	}
	return atr, nil
}

func trueRange(cur, prev core.Candle) decimal.Decimal {
	hl := cur.High.Sub(cur.Low)
	hc := cur.High.Sub(prev.Close).Abs()
	lc := cur.Low.Sub(prev.Close).Abs()
	return decimal.Max(hl, hc, lc)
}

// RSI is the Wilder relative strength index over period close-to-close moves.
// A flat window with no losses returns 100.
func RSI(candles []core.Candle, period int) (decimal.Decimal, error) {
	if period < 1 {
		return decimal.Zero, errors.New("period must be >= 1")
	}
	if len(candles) < period+1 {
		return decimal.Zero, ErrNotEnoughCandles
	}
	p := decimal.NewFromInt(int64(period))
	var avgGain, avgLoss decimal.Decimal
	for i := 1; i < len(candles); i++ {
		change := candles[i].Close.Sub(candles[i-1].Close)
		gain, loss := decimal.Zero, decimal.Zero
		if change.Cmp(decimal.Zero) > 0 {
			gain = change
		} else {
			loss = change.Neg()
		}
		if i < period {
			avgGain = avgGain.Add(gain)
			avgLoss = avgLoss.Add(loss)
			continue
		}
		if i == period {
			avgGain = avgGain.Add(gain).DivRound(p, calcPrecision)
			avgLoss = avgLoss.Add(loss).DivRound(p, calcPrecision)
			continue
		}
		avgGain = avgGain.Mul(p.Sub(decimal.New(1, 0))).Add(gain).DivRound(p, calcPrecision)
		avgLoss = avgLoss.Mul(p.Sub(decimal.New(1, 0))).Add(loss).DivRound(p, calcPrecision)
	}
	hundred := decimal.New(100, 0)
	if avgLoss.Cmp(decimal.Zero) == 0 {
		return hundred, nil
	}
	rs := avgGain.DivRound(avgLoss, calcPrecision)
	return hundred.Sub(hundred.DivRound(decimal.New(1, 0).Add(rs), calcPrecision)), nil
}

// VWAPBands holds the volume-weighted average price over a window plus bands
// at mult standard deviations of the typical price.
type VWAPBands struct {
	VWAP  decimal.Decimal
	Upper decimal.Decimal
	Lower decimal.Decimal
}

// VWAP computes volume-weighted average price and deviation bands over the
// whole slice. Zero-volume candles (gap fills) contribute nothing to the
// average. Returns ErrNotEnoughCandles when total volume is zero.
func VWAP(candles []core.Candle, mult decimal.Decimal) (VWAPBands, error) {
	if len(candles) == 0 {
		return VWAPBands{}, ErrNotEnoughCandles
	}
	var pvSum, volSum decimal.Decimal
	for _, c := range candles {
		pvSum = pvSum.Add(typicalPrice(c).Mul(c.Volume))
		volSum = volSum.Add(c.Volume)
	}
	if volSum.Cmp(decimal.Zero) == 0 {
		return VWAPBands{}, ErrNotEnoughCandles
	}
	vwap := pvSum.DivRound(volSum, calcPrecision)

	var sqSum decimal.Decimal
	for _, c := range candles {
		diff := typicalPrice(c).Sub(vwap)
		sqSum = sqSum.Add(diff.Mul(diff).Mul(c.Volume))
	}
	variance := sqSum.DivRound(volSum, calcPrecision)
	f, _ := variance.Float64()
	stdev := decimal.NewFromFloat(math.Sqrt(f))
	band := stdev.Mul(mult)
	return VWAPBands{
		VWAP:  vwap,
		Upper: vwap.Add(band),
		Lower: vwap.Sub(band),
	}, nil
}

func typicalPrice(c core.Candle) decimal.Decimal {
	return c.High.Add(c.Low).Add(c.Close).DivRound(decimal.New(3, 0), calcPrecision)
}
