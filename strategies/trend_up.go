package strategies

import (
	"math"

	"regime-backtest/services/broker"
	"regime-backtest/services/indicators"
	"regime-backtest/services/market"
	"regime-backtest/services/portfolio"
	"regime-backtest/services/regime"
)

// TrendUp buys pullbacks to a rising SMA(30) with a fast/slow alignment
// filter, stopping out at an ATR multiple with a monotonic trailing stop.
type TrendUp struct {
	ATRMultiplier float64
}

func NewTrendUp() *TrendUp {
	return &TrendUp{ATRMultiplier: 2.0}
}

func (s *TrendUp) Name() string             { return "TrendUp" }
func (s *TrendUp) Regimes() []regime.Regime { return []regime.Regime{regime.TrendUp} }

func (s *TrendUp) ShouldEnter(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *EntrySignal {
	if i < 1 {
		return nil
	}
	sma := f.At(indicators.ColSMA30, i)
	smaPrev := f.At(indicators.ColSMA30, i-1)
	smaFast := f.At(indicators.ColSMA10, i)
	atr := f.At(indicators.ColATR14, i)
	if math.IsNaN(sma) || math.IsNaN(smaPrev) || math.IsNaN(smaFast) || math.IsNaN(atr) {
		return nil
	}

	close := f.Bars[i].Close
	pullback := close <= sma*1.005
	slopeUp := sma-smaPrev > 0
	aligned := smaFast > sma
	if !(pullback && slopeUp && aligned) {
		return nil
	}

	return &EntrySignal{
		Side:     broker.Buy,
		StopLoss: close - s.ATRMultiplier*atr,
		Kind:     broker.Limit,
		Price:    close,
	}
}

func (s *TrendUp) ShouldExit(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *ExitSignal {
	close := f.Bars[i].Close
	sma := f.At(indicators.ColSMA30, i)
	atr := f.At(indicators.ColATR14, i)

	if !math.IsNaN(sma) && close < sma {
		return &ExitSignal{Side: broker.Sell, Reason: "Close below SMA30"}
	}
	if !Supports(s, reg) {
		return &ExitSignal{Side: broker.Sell, Reason: "State changed"}
	}

	effectiveStop := math.Max(ctx.StopLoss, ctx.TrailingStop)
	if close < effectiveStop {
		return &ExitSignal{Side: broker.Sell, Reason: "Stop/Trail hit"}
	}

	// Trailing stop only ever tightens upward.
	if !math.IsNaN(atr) {
		if candidate := close - s.ATRMultiplier*atr; candidate > ctx.TrailingStop {
			ctx.TrailingStop = candidate
		}
	}
	return nil
}
