// Package regime labels bars with a market regime and applies a stability
// filter so the rest of the system only ever sees a debounced label.
package regime

import (
	"math"

	"regime-backtest/services/market"
)

// Regime is the debounced market condition used to select a policy.
type Regime int

const (
	Sideways Regime = iota
	TrendUp
	TrendDown
	Volatile // no-trade regime: routing forces flat
)

func (r Regime) String() string {
	switch r {
	case TrendUp:
		return "TREND_UP"
	case TrendDown:
		return "TREND_DOWN"
	case Sideways:
		return "SIDEWAYS"
	case Volatile:
		return "VOLATILE"
	default:
		return "UNKNOWN"
	}
}

// TrendColumn is the moving-average column the raw labeling reads; the
// indicator pre-pass attaches it.
const TrendColumn = "SMA_30"

// Classifier computes stable regime series per instrument. Series are
// computed once per frame and memoized; per-bar lookups are O(1).
type Classifier struct {
	stabilityPeriod int
	memo            map[string][]Regime
}

// NewClassifier builds a classifier with the given hysteresis depth; a
// candidate regime must appear for stabilityPeriod consecutive raw bars
// before it becomes the stable regime. Values < 1 fall back to 3.
func NewClassifier(stabilityPeriod int) *Classifier {
	if stabilityPeriod < 1 {
		stabilityPeriod = 3
	}
	return &Classifier{
		stabilityPeriod: stabilityPeriod,
		memo:            make(map[string][]Regime),
	}
}

// Label returns the stable regime for bar i of the frame, computing and
// caching the whole series on first access.
func (c *Classifier) Label(f *market.Frame, i int) Regime {
	series, ok := c.memo[f.Symbol]
	if !ok || len(series) != f.Len() {
		series = c.Series(f)
		c.memo[f.Symbol] = series
	}
	if i < 0 || i >= len(series) {
		return Sideways
	}
	return series[i]
}

// Uncached recomputes the series on every lookup. Needed for rolling
// live buffers, where frame contents change while the length stays at
// the lookback cap.
type Uncached struct {
	*Classifier
}

func (u Uncached) Label(f *market.Frame, i int) Regime {
	series := u.Series(f)
	if i < 0 || i >= len(series) {
		return Sideways
	}
	return series[i]
}

// Series computes the stable regime series for a whole frame.
func (c *Classifier) Series(f *market.Frame) []Regime {
	raw := c.rawSeries(f)
	return c.stabilize(raw)
}

// rawSeries labels each bar from the trend column: TrendUp when close is
// above the average and its slope is positive, TrendDown when below with
// negative slope, otherwise Sideways.
func (c *Classifier) rawSeries(f *market.Frame) []Regime {
	out := make([]Regime, f.Len())
	for i := range f.Bars {
		out[i] = Sideways
		sma := f.At(TrendColumn, i)
		if math.IsNaN(sma) || i == 0 {
			continue
		}
		prev := f.At(TrendColumn, i-1)
		if math.IsNaN(prev) {
			continue
		}
		close := f.Bars[i].Close
		slope := sma - prev
		if close > sma && slope > 0 {
			out[i] = TrendUp
		} else if close < sma && slope < 0 {
			out[i] = TrendDown
		}
	}
	return out
}

// stabilize applies the hysteresis: the stable regime only switches after
// the same candidate appears for stabilityPeriod consecutive bars; any
// break resets the streak. Bar 0 starts Sideways.
func (c *Classifier) stabilize(raw []Regime) []Regime {
	out := make([]Regime, len(raw))
	stable := Sideways
	candidate := Regime(-1)
	streak := 0

	for i, r := range raw {
		if r == stable {
			streak = 0
			candidate = Regime(-1)
		} else {
			if r == candidate {
				streak++
			} else {
				candidate = r
				streak = 1
			}
			if streak >= c.stabilityPeriod {
				stable = candidate
				streak = 0
				candidate = Regime(-1)
			}
		}
		out[i] = stable
	}
	return out
}
