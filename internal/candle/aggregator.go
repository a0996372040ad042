package candle

import (
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"futures-engine/internal/core"
)

// driftWarnAfter is how far behind wall clock a trade event may run before the
// stream is considered lagging.
const driftWarnAfter = 2 * time.Second

type Kind int

const (
	FirstCandle Kind = iota
	SameCandle
	NewCandle
	GapFilled
)

func (k Kind) String() string {
	switch k {
	case FirstCandle:
		return "first_candle"
	case SameCandle:
		return "same_candle"
	case NewCandle:
		return "new_candle"
	case GapFilled:
		return "gap_filled"
	}
	return "unknown"
}

// Result describes what one trade event did to the series. Synthesized is the
// number of flat gap candles inserted before the real one.
type Result struct {
	Kind        Kind
	Synthesized int
}

// Aggregator folds a trade tick stream into fixed-interval candles, one
// bounded series per symbol. It is safe for concurrent use; trade events for
// one symbol must arrive in order, which the stream guarantees within a
// connect epoch.
type Aggregator struct {
	bucket time.Duration
	window int
	now    func() time.Time

	mu     sync.RWMutex
	series map[string]*Series
}

func NewAggregator(bucket time.Duration, window int) *Aggregator {
	if bucket <= 0 {
		panic("candle: bucket length must be positive")
	}
	if window < 2 {
		panic("candle: window must be >= 2")
	}
	return &Aggregator{
		bucket: bucket,
		window: window,
		now:    time.Now,
		series: make(map[string]*Series),
	}
}

// OnTrade applies one trade event. Late events that belong to an
// already-closed bucket are folded into the current open candle; there is no
// reordering buffer.
func (a *Aggregator) OnTrade(symbol string, price, size decimal.Decimal, eventTime time.Time) Result {
	if drift := a.now().Sub(eventTime); drift >= driftWarnAfter {
		log.Printf(
			"level=WARN event=trade_stream_lagging symbol=%s drift_ms=%d",
			symbol,
			drift.Milliseconds(),
		)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.series[symbol]
	if !ok {
		s = newSeries(a.window)
		a.series[symbol] = s
	}

	last := s.last()
	if last == nil {
		s.append(core.Candle{
			Start:  eventTime,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: size,
		})
		return Result{Kind: FirstCandle}
	}

	delta := eventTime.Sub(last.Start)
	switch {
	case delta < a.bucket:
		last.Close = price
		last.Volume = last.Volume.Add(size)
		if price.Cmp(last.High) > 0 {
			last.High = price
		}
		if price.Cmp(last.Low) < 0 {
			last.Low = price
		}
		return Result{Kind: SameCandle}

	case delta < 2*a.bucket:
		s.append(core.Candle{
			Start:  last.Start.Add(a.bucket),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: size,
		})
		return Result{Kind: NewCandle}

	default:
		missing := int(delta/a.bucket) - 1
		flat := last.Close
		start := last.Start
		for i := 0; i < missing; i++ {
			start = start.Add(a.bucket)
			s.append(core.Candle{
				Start:  start,
				Open:   flat,
				High:   flat,
				Low:    flat,
				Close:  flat,
				Volume: decimal.Zero,
			})
		}
		s.append(core.Candle{
			Start:  start.Add(a.bucket),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: size,
		})
		log.Printf(
			"level=INFO event=candle_gap_filled symbol=%s missing=%d gap_ms=%d",
			symbol,
			missing,
			delta.Milliseconds(),
		)
		return Result{Kind: GapFilled, Synthesized: missing}
	}
}

// Snapshot returns a copy of the series for symbol, oldest first.
func (a *Aggregator) Snapshot(symbol string) []core.Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[symbol]
	if !ok {
		return nil
	}
	return s.snapshot()
}

// Last returns the open (newest) candle for symbol, if any.
func (a *Aggregator) Last(symbol string) (core.Candle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[symbol]
	if !ok {
		return core.Candle{}, false
	}
	last := s.last()
	if last == nil {
		return core.Candle{}, false
	}
	return *last, true
}

// Symbols lists the symbols with at least one candle.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.series))
	for sym := range a.series {
		out = append(out, sym)
	}
	return out
}
