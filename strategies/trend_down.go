package strategies

import (
	"math"

	"regime-backtest/services/broker"
	"regime-backtest/services/indicators"
	"regime-backtest/services/market"
	"regime-backtest/services/portfolio"
	"regime-backtest/services/regime"
)

// TrendDown shorts rallies into a falling SMA(30), mirroring TrendUp with
// the stop and trail above the price.
type TrendDown struct {
	ATRMultiplier float64
}

func NewTrendDown() *TrendDown {
	return &TrendDown{ATRMultiplier: 2.0}
}

func (s *TrendDown) Name() string             { return "TrendDown" }
func (s *TrendDown) Regimes() []regime.Regime { return []regime.Regime{regime.TrendDown} }

func (s *TrendDown) ShouldEnter(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *EntrySignal {
	if i < 1 {
		return nil
	}
	sma := f.At(indicators.ColSMA30, i)
	smaPrev := f.At(indicators.ColSMA30, i-1)
	atr := f.At(indicators.ColATR14, i)
	if math.IsNaN(sma) || math.IsNaN(smaPrev) || math.IsNaN(atr) {
		return nil
	}

	close := f.Bars[i].Close
	rally := close >= sma*0.99 && close <= sma
	slopeDown := sma-smaPrev < 0
	if !(rally && slopeDown) {
		return nil
	}

	return &EntrySignal{
		Side:     broker.Short,
		StopLoss: close + s.ATRMultiplier*atr,
		Kind:     broker.Limit,
		Price:    close,
	}
}

func (s *TrendDown) ShouldExit(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *ExitSignal {
	close := f.Bars[i].Close
	sma := f.At(indicators.ColSMA30, i)
	atr := f.At(indicators.ColATR14, i)

	if !math.IsNaN(sma) && close > sma*1.005 {
		return &ExitSignal{Side: broker.Cover, Reason: "Close above SMA30"}
	}
	if !Supports(s, reg) {
		return &ExitSignal{Side: broker.Cover, Reason: "State changed"}
	}

	effectiveStop := math.Min(ctx.StopLoss, ctx.TrailingStop)
	if ctx.StopLoss <= 0 {
		effectiveStop = ctx.TrailingStop
	}
	if close > effectiveStop {
		return &ExitSignal{Side: broker.Cover, Reason: "Stop/Trail hit"}
	}

	// Trailing stop only ever tightens downward for a short.
	if !math.IsNaN(atr) {
		if candidate := close + s.ATRMultiplier*atr; candidate < ctx.TrailingStop {
			ctx.TrailingStop = candidate
		}
	}
	return nil
}
