package strategies

import (
	"math"

	"regime-backtest/services/broker"
	"regime-backtest/services/indicators"
	"regime-backtest/services/market"
	"regime-backtest/services/portfolio"
	"regime-backtest/services/regime"
)

// Donchian channel columns attached on demand by the breakout policy.
const (
	colHighMax20 = "HIGH_MAX_20"
	colLowMin10  = "LOW_MIN_10"
)

// TrendBreakout enters long on a close above the prior 20-bar high and
// exits below the prior 10-bar low. It monitors its own health and stops
// trading for the rest of the run once its failure criteria fire.
type TrendBreakout struct {
	EntryWindow int
	ExitWindow  int

	alive       bool
	deathReason string
	lossStreak  int
	pnlHistory  []float64
}

func NewTrendBreakout() *TrendBreakout {
	return &TrendBreakout{EntryWindow: 20, ExitWindow: 10, alive: true}
}

func (s *TrendBreakout) Name() string { return "TrendBreakout" }

// Breakouts earn in strong up trends and volatility expansions.
func (s *TrendBreakout) Regimes() []regime.Regime {
	return []regime.Regime{regime.TrendUp, regime.Volatile}
}

// Alive reports whether the alpha has not yet hit a failure criterion.
func (s *TrendBreakout) Alive() bool { return s.alive }

// DeathReason is non-empty once the health monitor disabled the policy.
func (s *TrendBreakout) DeathReason() string { return s.deathReason }

func (s *TrendBreakout) ensureChannels(f *market.Frame) {
	if f.Column(colHighMax20) == nil {
		f.SetColumn(colHighMax20, indicators.RollingMax(indicators.Highs(f.Bars), s.EntryWindow))
	}
	if f.Column(colLowMin10) == nil {
		f.SetColumn(colLowMin10, indicators.RollingMin(indicators.Lows(f.Bars), s.ExitWindow))
	}
}

func (s *TrendBreakout) ShouldEnter(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *EntrySignal {
	if !s.alive || i < s.EntryWindow {
		return nil
	}
	s.ensureChannels(f)

	close := f.Bars[i].Close
	highMax := f.At(colHighMax20, i)
	if math.IsNaN(highMax) || close <= highMax {
		return nil
	}

	stop := f.At(colLowMin10, i)
	if math.IsNaN(stop) || stop >= close {
		stop = close * 0.95
	}
	// Breakouts need a guaranteed fill: market entry at next open.
	return &EntrySignal{Side: broker.Buy, StopLoss: stop, Kind: broker.Market}
}

func (s *TrendBreakout) ShouldExit(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *ExitSignal {
	s.ensureChannels(f)

	close := f.Bars[i].Close
	lowMin := f.At(colLowMin10, i)
	if !math.IsNaN(lowMin) && close < lowMin {
		return &ExitSignal{Side: broker.Sell, Reason: "Breakout Exit (Below Low10)"}
	}
	if !Supports(s, reg) {
		return &ExitSignal{Side: broker.Sell, Reason: "Regime " + reg.String() + " Not Allowed"}
	}
	return nil
}

// OnPositionClosed feeds the health monitor. Failure criteria: more than
// five consecutive losses, or a negative mean PnL over the last twenty
// trades.
func (s *TrendBreakout) OnPositionClosed(symbol string, seq int, pnl float64) {
	if pnl < 0 {
		s.lossStreak++
	} else {
		s.lossStreak = 0
	}
	s.pnlHistory = append(s.pnlHistory, pnl)

	if !s.alive {
		return
	}
	if s.lossStreak > 5 {
		s.alive = false
		s.deathReason = "Consecutive Losses > 5"
		return
	}
	if len(s.pnlHistory) >= 20 {
		sum := 0.0
		for _, v := range s.pnlHistory[len(s.pnlHistory)-20:] {
			sum += v
		}
		if sum/20 < 0 {
			s.alive = false
			s.deathReason = "Rolling Mean Return < 0 (20 trades)"
		}
	}
}
