// Package indicators is the pure numeric pre-pass: it computes trend,
// volatility, and range series over a frame's bars and attaches them as
// read-only columns before the simulation loop starts.
package indicators

import (
	"math"

	"regime-backtest/services/market"
)

// Standard column names attached by Enrich.
const (
	ColSMA10    = "SMA_10"
	ColSMA30    = "SMA_30"
	ColSMA120   = "SMA_120"
	ColATR14    = "ATR_14"
	ColADX14    = "ADX_14"
	ColBBUpper  = "BB_UPPER"
	ColBBMiddle = "BB_MIDDLE"
	ColBBLower  = "BB_LOWER"
)

// Enrich attaches the standard indicator set consumed by the classifier
// and the stock policies.
func Enrich(f *market.Frame) {
	closes := Closes(f)
	f.SetColumn(ColSMA10, SMA(closes, 10))
	f.SetColumn(ColSMA30, SMA(closes, 30))
	f.SetColumn(ColSMA120, SMA(closes, 120))
	f.SetColumn(ColATR14, ATR(f.Bars, 14))
	f.SetColumn(ColADX14, ADX(f.Bars, 14))
	upper, middle, lower := BBands(closes, 20, 2.0)
	f.SetColumn(ColBBUpper, upper)
	f.SetColumn(ColBBMiddle, middle)
	f.SetColumn(ColBBLower, lower)
}

// Closes extracts the close series.
func Closes(f *market.Frame) []float64 {
	out := make([]float64, f.Len())
	for i, b := range f.Bars {
		out[i] = b.Close
	}
	return out
}

// SMA is the simple moving average with NaN for the first n-1 bars.
func SMA(series []float64, n int) []float64 {
	out := nanSlice(len(series))
	if n <= 0 || len(series) < n {
		return out
	}
	sum := 0.0
	for i, v := range series {
		sum += v
		if i >= n {
			sum -= series[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA is the exponential moving average with span n (alpha = 2/(n+1)),
// seeded from the first value.
func EMA(series []float64, n int) []float64 {
	out := nanSlice(len(series))
	if n <= 0 || len(series) == 0 {
		return out
	}
	alpha := 2.0 / (float64(n) + 1.0)
	ema := series[0]
	out[0] = ema
	for i := 1; i < len(series); i++ {
		ema = alpha*series[i] + (1-alpha)*ema
		out[i] = ema
	}
	return out
}

// ATR is the average true range under Wilder's smoothing (alpha = 1/n).
// The first n-1 values are NaN to mark the warmup window.
func ATR(bars []market.Bar, n int) []float64 {
	out := nanSlice(len(bars))
	if n <= 0 || len(bars) == 0 {
		return out
	}
	alpha := 1.0 / float64(n)
	var atr float64
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prevClose := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
			atr = alpha*tr + (1-alpha)*atr
		} else {
			atr = tr
		}
		if i >= n-1 {
			out[i] = atr
		}
	}
	return out
}

// ADX is the average directional index, Wilder-smoothed throughout, with
// the warmup window masked to NaN.
func ADX(bars []market.Bar, n int) []float64 {
	out := nanSlice(len(bars))
	if n <= 0 || len(bars) < 2 {
		return out
	}
	alpha := 1.0 / float64(n)
	var trS, plusS, minusS, adx float64
	for i := 1; i < len(bars); i++ {
		b, prev := bars[i], bars[i-1]
		tr := math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prev.Close), math.Abs(b.Low-prev.Close)))
		upMove := b.High - prev.High
		downMove := prev.Low - b.Low
		var plusDM, minusDM float64
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}

		if i == 1 {
			trS, plusS, minusS = tr, plusDM, minusDM
		} else {
			trS = alpha*tr + (1-alpha)*trS
			plusS = alpha*plusDM + (1-alpha)*plusS
			minusS = alpha*minusDM + (1-alpha)*minusS
		}

		if trS == 0 {
			continue
		}
		plusDI := 100 * plusS / trS
		minusDI := 100 * minusS / trS
		if plusDI+minusDI == 0 {
			continue
		}
		dx := 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
		if i == 1 {
			adx = dx
		} else {
			adx = alpha*dx + (1-alpha)*adx
		}
		if i >= n-1 {
			out[i] = adx
		}
	}
	return out
}

// BBands returns the Bollinger bands (upper, middle, lower) with middle a
// SMA(n) and band width k sample standard deviations.
func BBands(series []float64, n int, k float64) (upper, middle, lower []float64) {
	middle = SMA(series, n)
	upper = nanSlice(len(series))
	lower = nanSlice(len(series))
	if n <= 1 || len(series) < n {
		return upper, middle, lower
	}
	for i := n - 1; i < len(series); i++ {
		mean := middle[i]
		var ss float64
		for j := i - n + 1; j <= i; j++ {
			d := series[j] - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(n-1))
		upper[i] = mean + k*std
		lower[i] = mean - k*std
	}
	return upper, middle, lower
}

// RollingMax returns the max of the previous n values, shifted one bar so
// the window never includes the current bar (no lookahead).
func RollingMax(series []float64, n int) []float64 {
	return shiftedExtreme(series, n, math.Max, math.Inf(-1))
}

// RollingMin is the shifted rolling minimum, matching RollingMax.
func RollingMin(series []float64, n int) []float64 {
	return shiftedExtreme(series, n, math.Min, math.Inf(1))
}

func shiftedExtreme(series []float64, n int, pick func(a, b float64) float64, seed float64) []float64 {
	out := nanSlice(len(series))
	if n <= 0 {
		return out
	}
	for i := n; i < len(series); i++ {
		best := seed
		for j := i - n; j < i; j++ {
			best = pick(best, series[j])
		}
		out[i] = best
	}
	return out
}

// Highs extracts the high series.
func Highs(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows extracts the low series.
func Lows(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
