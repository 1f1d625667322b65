// Package strategies implements the pluggable trading policies and the
// shared per-bar execution flow the router drives them through.
package strategies

import (
	"math"

	"go.uber.org/zap"

	"regime-backtest/services/broker"
	"regime-backtest/services/market"
	"regime-backtest/services/portfolio"
	"regime-backtest/services/regime"
	"regime-backtest/services/risk"
)

// EntrySignal is a policy's proposal to open a position.
type EntrySignal struct {
	Side     broker.Side // Buy or Short
	StopLoss float64     // 0 when the policy has no stop level
	Kind     broker.Kind
	Price    float64 // reference price for limit/stop entries
}

// ExitSignal is a policy's proposal to close the open position.
type ExitSignal struct {
	Side   broker.Side // Sell or Cover
	Reason string
}

// Context is the per-instrument policy state. It is owned by the router,
// not the policy instance, so a regime switch can clear it without the
// policy's involvement and state never leaks across instruments.
type Context struct {
	EntryPrice   float64
	StopLoss     float64
	TrailingStop float64
	EntryBar     int // timeline sequence number of the entry signal bar
}

// Reset clears the context back to its flat state.
func (c *Context) Reset() {
	*c = Context{EntryBar: -2}
}

// NewContext returns a context representing no position history.
func NewContext() *Context {
	c := &Context{}
	c.Reset()
	return c
}

// Policy decides entries and exits for one regime family. Implementations
// are stateless per call except for run-level health tracking; all
// per-instrument state lives in the Context.
type Policy interface {
	Name() string
	Regimes() []regime.Regime
	ShouldEnter(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *EntrySignal
	ShouldExit(f *market.Frame, i int, reg regime.Regime, ledger *portfolio.Ledger, ctx *Context) *ExitSignal
}

// CloseObserver is implemented by policies that react to their own closed
// trades (loss streak cooldowns, alpha health tracking). seq is the exit
// bar's timeline sequence number; the PnL is the close-price approximation
// available at signal time.
type CloseObserver interface {
	OnPositionClosed(symbol string, seq int, pnl float64)
}

// Env bundles the kernel collaborators a policy acts through on a bar.
type Env struct {
	Ledger *portfolio.Ledger
	Gate   *risk.Gate
	Sim    *broker.Sim
	Marks  map[string]float64
	Log    *zap.Logger
}

func (e *Env) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Supports reports whether the policy declares reg as tradable.
func Supports(p Policy, reg regime.Regime) bool {
	for _, r := range p.Regimes() {
		if r == reg {
			return true
		}
	}
	return false
}

// RunBar is the standard execution flow shared by all policies: evaluate
// exit first (skipping the bar immediately after entry, since entries fill
// on the next bar's open), then evaluate entry when flat, sizing through
// the risk gate and submitting through the simulator.
func RunBar(p Policy, f *market.Frame, i int, reg regime.Regime, env *Env, ctx *Context) {
	symbol := f.Symbol
	pos := env.Ledger.Position(symbol)
	bar := f.Bars[i]
	seq := f.Seq(i)

	justEntered := seq <= ctx.EntryBar+1

	if pos.Quantity != 0 && !justEntered {
		if sig := p.ShouldExit(f, i, reg, env.Ledger, ctx); sig != nil {
			longExit := pos.Quantity > 0 && sig.Side == broker.Sell
			shortExit := pos.Quantity < 0 && sig.Side == broker.Cover
			if longExit || shortExit {
				env.Sim.Submit(broker.Order{
					Symbol:     symbol,
					Side:       sig.Side,
					Kind:       broker.Market,
					Quantity:   math.Abs(pos.Quantity),
					SignalTime: bar.Time,
					PolicyID:   p.Name(),
					ExitReason: sig.Reason,
				})

				if obs, ok := p.(CloseObserver); ok {
					obs.OnPositionClosed(symbol, seq, approxPnL(pos, bar.Close))
				}
				ctx.Reset()

				env.logger().Debug("policy exit",
					zap.String("policy", p.Name()),
					zap.String("symbol", symbol),
					zap.String("reason", sig.Reason))
			}
		}
		return
	}

	if pos.Quantity != 0 || !Supports(p, reg) {
		return
	}

	sig := p.ShouldEnter(f, i, reg, env.Ledger, ctx)
	if sig == nil {
		return
	}

	equity := env.Ledger.Equity(env.Marks)
	var qty float64
	if sig.StopLoss > 0 {
		qty = env.Gate.SizeByRisk(equity, bar.Close, sig.StopLoss)
	} else {
		qty = env.Gate.SizeByFixedFraction(equity, bar.Close, 0.10)
	}
	if qty <= 0 {
		return
	}
	if !env.Gate.Approve(env.Ledger, symbol, qty, bar.Close, bar.Volume, env.Marks) {
		return
	}

	price := sig.Price
	if sig.Kind == broker.Market {
		price = 0
	} else if price <= 0 {
		price = bar.Close
	}
	env.Sim.Submit(broker.Order{
		Symbol:     symbol,
		Side:       sig.Side,
		Kind:       sig.Kind,
		Quantity:   qty,
		Price:      price,
		SignalTime: bar.Time,
		PolicyID:   p.Name(),
		ExitReason: "signal",
	})

	ctx.EntryPrice = bar.Close
	ctx.StopLoss = sig.StopLoss
	ctx.EntryBar = seq
	if sig.Side == broker.Buy {
		ctx.TrailingStop = math.Inf(-1)
	} else {
		ctx.TrailingStop = math.Inf(1)
	}

	env.logger().Debug("policy entry",
		zap.String("policy", p.Name()),
		zap.String("symbol", symbol),
		zap.String("side", sig.Side.String()),
		zap.Float64("qty", qty),
		zap.Float64("stop", sig.StopLoss))
}

func approxPnL(pos portfolio.Position, exitPrice float64) float64 {
	if pos.Quantity > 0 {
		return (exitPrice - pos.AvgPrice) * pos.Quantity
	}
	return (pos.AvgPrice - exitPrice) * -pos.Quantity
}
