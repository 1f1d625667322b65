package strategies

import (
	"math"

	"regime-backtest/services/broker"
	"regime-backtest/services/indicators"
	"regime-backtest/services/market"
	"regime-backtest/services/portfolio"
	"regime-backtest/services/regime"
)

// RangeMeanReversion fades Bollinger band touches in sideways markets,
// targeting the middle band with a 1xATR stop. Three consecutive losing
// trades on an instrument put that instrument on a 24-bar local cooldown.
type RangeMeanReversion struct {
	ATRThresholdPct float64
	LossLimit       int
	CooldownBars    int

	losses   map[string]int
	coolUnto map[string]int
}

func NewRangeMeanReversion() *RangeMeanReversion {
	return &RangeMeanReversion{
		ATRThresholdPct: 0.03,
		LossLimit:       3,
		CooldownBars:    24,
		losses:          make(map[string]int),
		coolUnto:        make(map[string]int),
	}
}

func (s *RangeMeanReversion) Name() string             { return "RangeMeanReversion" }
func (s *RangeMeanReversion) Regimes() []regime.Regime { return []regime.Regime{regime.Sideways} }

func (s *RangeMeanReversion) ShouldEnter(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *EntrySignal {
	if i < 1 {
		return nil
	}
	if until, ok := s.coolUnto[f.Symbol]; ok && f.Seq(i) <= until {
		return nil
	}

	upper := f.At(indicators.ColBBUpper, i)
	lower := f.At(indicators.ColBBLower, i)
	atr := f.At(indicators.ColATR14, i)
	if math.IsNaN(upper) || math.IsNaN(lower) || math.IsNaN(atr) {
		return nil
	}

	bar := f.Bars[i]
	// Skip regimes too volatile for mean reversion.
	if atr/bar.Close > s.ATRThresholdPct {
		return nil
	}

	if bar.Low <= lower {
		return &EntrySignal{Side: broker.Buy, StopLoss: bar.Close - atr, Kind: broker.Market}
	}
	if bar.High >= upper {
		return &EntrySignal{Side: broker.Short, StopLoss: bar.Close + atr, Kind: broker.Market}
	}
	return nil
}

func (s *RangeMeanReversion) ShouldExit(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *ExitSignal {
	mid := f.At(indicators.ColBBMiddle, i)
	close := f.Bars[i].Close
	qty := ledger.Position(f.Symbol).Quantity

	if qty > 0 {
		if !math.IsNaN(mid) && close >= mid {
			return &ExitSignal{Side: broker.Sell, Reason: "Target hit (Mid Band)"}
		}
		if ctx.StopLoss > 0 && close < ctx.StopLoss {
			return &ExitSignal{Side: broker.Sell, Reason: "Stop Loss"}
		}
	} else if qty < 0 {
		if !math.IsNaN(mid) && close <= mid {
			return &ExitSignal{Side: broker.Cover, Reason: "Target hit (Mid Band)"}
		}
		if ctx.StopLoss > 0 && close > ctx.StopLoss {
			return &ExitSignal{Side: broker.Cover, Reason: "Stop Loss"}
		}
	}
	return nil
}

// OnPositionClosed tracks the loss streak that arms the local cooldown.
func (s *RangeMeanReversion) OnPositionClosed(symbol string, seq int, pnl float64) {
	if pnl < 0 {
		s.losses[symbol]++
		if s.losses[symbol] >= s.LossLimit {
			s.coolUnto[symbol] = seq + s.CooldownBars
			s.losses[symbol] = 0
		}
		return
	}
	s.losses[symbol] = 0
}
