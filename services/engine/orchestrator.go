// Package engine runs the bar-by-bar simulation loop over aligned
// multi-instrument data: pending-order execution at the open, mark to
// market, circuit-breaker enforcement, routing, and equity recording.
package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"regime-backtest/services/broker"
	"regime-backtest/services/indicators"
	"regime-backtest/services/market"
	"regime-backtest/services/portfolio"
	"regime-backtest/services/risk"
	"regime-backtest/services/router"
	"regime-backtest/strategies"
)

// Config controls the run loop itself. Execution, risk, and routing knobs
// live with their own packages.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital"`
	WarmupBars     int     `yaml:"warmup_bars"`
}

func DefaultConfig() Config {
	return Config{InitialCapital: 100000, WarmupBars: 50}
}

// EquityPoint is one bar of the equity curve.
type EquityPoint struct {
	Time   time.Time
	Equity float64
	Cash   float64
}

// Result is everything a run produces.
type Result struct {
	Trades    []broker.Trade
	Equity    []EquityPoint
	Benchmark []float64 // equal-weight buy and hold, same axis as Equity
	Routing   []router.Decision
	Frames    map[string]*market.Frame
}

// Orchestrator wires the kernel components into the run loop. Construct
// one per run; the ledger, gate, and simulator carry run state.
type Orchestrator struct {
	cfg    Config
	ledger *portfolio.Ledger
	gate   *risk.Gate
	sim    *broker.Sim
	router *router.Router
	log    *zap.Logger
}

func New(cfg Config, ledger *portfolio.Ledger, gate *risk.Gate, sim *broker.Sim, rt *router.Router, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, ledger: ledger, gate: gate, sim: sim, router: rt, log: log}
}

// Run aligns the input series, enriches them with indicators, and executes
// the bar loop. The only fatal condition is alignment failure; everything
// else is handled in-place by the kernel components.
func (o *Orchestrator) Run(series map[string][]market.Bar) (*Result, error) {
	axis, frames, err := market.Align(series)
	if err != nil {
		return nil, fmt.Errorf("align input series: %w", err)
	}

	symbols := make([]string, 0, len(frames))
	for sym, f := range frames {
		indicators.Enrich(f)
		symbols = append(symbols, sym)
	}
	// Iteration order is fixed for the whole run so seeded runs replay
	// identically.
	sort.Strings(symbols)

	o.log.Info("starting run",
		zap.Int("bars", len(axis)),
		zap.Strings("symbols", symbols),
		zap.Float64("capital", o.cfg.InitialCapital))

	marks := make(map[string]float64, len(symbols))
	env := &strategies.Env{
		Ledger: o.ledger,
		Gate:   o.gate,
		Sim:    o.sim,
		Marks:  marks,
		Log:    o.log,
	}

	equity := make([]EquityPoint, 0, len(axis))
	sessionStart := o.cfg.InitialCapital
	var sessionDay time.Time

	for i, ts := range axis {
		day := ts.Truncate(24 * time.Hour)
		if !day.Equal(sessionDay) {
			if len(equity) > 0 {
				sessionStart = equity[len(equity)-1].Equity
			}
			sessionDay = day
		}

		if i < o.cfg.WarmupBars {
			equity = append(equity, EquityPoint{Time: ts, Equity: o.cfg.InitialCapital, Cash: o.cfg.InitialCapital})
			continue
		}

		barsNow := make(map[string]market.Bar, len(symbols))
		for _, sym := range symbols {
			barsNow[sym] = frames[sym].Bars[i]
		}
		o.sim.ProcessPending(barsNow)

		for _, sym := range symbols {
			marks[sym] = frames[sym].Bars[i].Close
		}
		value := o.ledger.Equity(marks)

		if o.gate.CheckCircuitBreaker(value, sessionStart) {
			o.flatten(barsNow)
		} else {
			for _, sym := range symbols {
				o.router.Route(frames[sym], i, env)
			}
		}

		equity = append(equity, EquityPoint{Time: ts, Equity: value, Cash: o.ledger.Cash()})
	}

	o.log.Info("run complete",
		zap.Int("trades", len(o.sim.Trades())),
		zap.Float64("final_equity", finalEquity(equity, o.cfg.InitialCapital)))

	return &Result{
		Trades:    o.sim.Trades(),
		Equity:    equity,
		Benchmark: o.benchmark(frames, symbols, len(axis)),
		Routing:   o.router.Decisions(),
		Frames:    frames,
	}, nil
}

// flatten queues market exits for every open position. Fills happen at
// the next bar's open like any other order; routing is skipped until the
// book is flat since the breaker never re-arms.
func (o *Orchestrator) flatten(barsNow map[string]market.Bar) {
	for _, sym := range o.ledger.Symbols() {
		pos := o.ledger.Position(sym)
		if pos.Quantity == 0 {
			continue
		}
		if exitQueued(o.sim.Open(sym)) {
			continue
		}
		side := broker.Sell
		if pos.Quantity < 0 {
			side = broker.Cover
		}
		o.sim.Submit(broker.Order{
			Symbol:     sym,
			Side:       side,
			Kind:       broker.Market,
			Quantity:   math.Abs(pos.Quantity),
			SignalTime: barsNow[sym].Time,
			PolicyID:   "CircuitBreaker",
			ExitReason: "MaxLoss",
		})
	}
}

// exitQueued reports whether a position-reducing order is already
// pending. A working entry limit must not suppress the flatten.
func exitQueued(orders []*broker.Order) bool {
	for _, ord := range orders {
		if !ord.Side.IsOpening() {
			return true
		}
	}
	return false
}

// benchmark builds the equal-weight buy-and-hold curve, normalized to the
// initial capital at the end of warmup; warmup bars sit flat at capital.
func (o *Orchestrator) benchmark(frames map[string]*market.Frame, symbols []string, n int) []float64 {
	if n == 0 || len(symbols) == 0 {
		return nil
	}
	idx := make([]float64, n)
	idx[0] = 1
	for i := 1; i < n; i++ {
		sum := 0.0
		for _, sym := range symbols {
			prev := frames[sym].Bars[i-1].Close
			if prev != 0 {
				sum += (frames[sym].Bars[i].Close - prev) / prev
			}
		}
		idx[i] = idx[i-1] * (1 + sum/float64(len(symbols)))
	}

	out := make([]float64, n)
	start := o.cfg.WarmupBars
	if start >= n || idx[start] == 0 {
		for i := range out {
			out[i] = idx[i] * o.cfg.InitialCapital
		}
		return out
	}
	for i := range out {
		if i < start {
			out[i] = o.cfg.InitialCapital
			continue
		}
		out[i] = idx[i] / idx[start] * o.cfg.InitialCapital
	}
	return out
}

func finalEquity(points []EquityPoint, fallback float64) float64 {
	if len(points) == 0 {
		return fallback
	}
	return points[len(points)-1].Equity
}
