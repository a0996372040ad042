package candle

import (
	"futures-engine/internal/core"
)

// Series is a bounded, gap-free sequence of candles for one symbol. Appends
// evict from the front once the window is exceeded; the same rule applies on
// every branch of the aggregation, so the length never exceeds the window and
// timestamps are always spaced by exactly one bucket.
type Series struct {
	window  int
	candles []core.Candle
}

func newSeries(window int) *Series {
	return &Series{window: window, candles: make([]core.Candle, 0, window)}
}

func (s *Series) append(c core.Candle) {
	s.candles = append(s.candles, c)
	for len(s.candles) > s.window {
		s.candles = s.candles[1:]
	}
}

func (s *Series) last() *core.Candle {
	if len(s.candles) == 0 {
		return nil
	}
	return &s.candles[len(s.candles)-1]
}

func (s *Series) snapshot() []core.Candle {
	out := make([]core.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}
