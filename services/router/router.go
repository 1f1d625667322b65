// Package router owns the regime-to-policy dispatch: it classifies each
// bar, enforces the one-policy-per-instrument rule, handles regime
// switches, and drives the selected policy through the shared bar flow.
package router

import (
	"math"
	"time"

	"go.uber.org/zap"

	"regime-backtest/services/broker"
	"regime-backtest/services/market"
	"regime-backtest/services/regime"
	"regime-backtest/strategies"
)

// Decision is one routing log record, written for every bar the router
// touches.
type Decision struct {
	Time   time.Time
	Symbol string
	Regime regime.Regime
	Action string // SWITCH, COOLDOWN, CASH, ROUTE
	Policy string
	Qty    float64
}

// Config maps stabilized regimes to policy names and sets the pause
// applied after every regime switch.
type Config struct {
	CooldownBars int               `yaml:"cooldown_bars"`
	Policies     map[string]string `yaml:"policies"`
}

// DefaultConfig mirrors the routing table the kernel ships with. "Cash"
// means no policy trades that regime.
func DefaultConfig() Config {
	return Config{
		CooldownBars: 3,
		Policies: map[string]string{
			regime.TrendUp.String():   "TrendUp",
			regime.TrendDown.String(): "TrendDown",
			regime.Sideways.String():  "RangeMeanReversion",
			regime.Volatile.String():  "Cash",
		},
	}
}

type symbolState struct {
	ctx        *strategies.Context
	lastRegime regime.Regime
	seen       bool
	coolUnto   int
}

// Labeler produces the stabilized regime for a bar. Satisfied by
// regime.Classifier.
type Labeler interface {
	Label(f *market.Frame, i int) regime.Regime
}

// Router dispatches at most one policy per instrument per bar.
type Router struct {
	cfg        Config
	classifier Labeler
	policies   map[string]strategies.Policy
	log        *zap.Logger

	states    map[string]*symbolState
	decisions []Decision
}

func New(cfg Config, classifier Labeler, policies []strategies.Policy, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	byName := make(map[string]strategies.Policy, len(policies))
	for _, p := range policies {
		byName[p.Name()] = p
	}
	return &Router{
		cfg:        cfg,
		classifier: classifier,
		policies:   byName,
		log:        log,
		states:     make(map[string]*symbolState),
	}
}

// Decisions returns the routing log in bar order.
func (r *Router) Decisions() []Decision { return r.decisions }

// Context exposes the per-instrument policy state, mainly for tests.
func (r *Router) Context(symbol string) *strategies.Context {
	return r.state(symbol).ctx
}

func (r *Router) state(symbol string) *symbolState {
	st, ok := r.states[symbol]
	if !ok {
		st = &symbolState{ctx: strategies.NewContext(), coolUnto: -1}
		r.states[symbol] = st
	}
	return st
}

// Route processes one bar for one instrument. During an active cooldown
// the router does nothing, even if the regime moves again inside the
// window. A regime switch cancels the instrument's working orders,
// force-closes its position, clears policy state, and starts the
// cooldown; the switch bar itself is not traded.
func (r *Router) Route(f *market.Frame, i int, env *strategies.Env) {
	symbol := f.Symbol
	bar := f.Bars[i]
	seq := f.Seq(i)
	st := r.state(symbol)
	reg := r.classifier.Label(f, i)

	if seq <= st.coolUnto {
		r.record(Decision{Time: bar.Time, Symbol: symbol, Regime: reg, Action: "COOLDOWN"})
		return
	}

	if st.seen && reg != st.lastRegime {
		r.handleSwitch(symbol, bar, seq, st, env)
		st.lastRegime = reg
		r.record(Decision{Time: bar.Time, Symbol: symbol, Regime: reg, Action: "SWITCH"})
		return
	}
	st.lastRegime = reg
	st.seen = true

	name := r.cfg.Policies[reg.String()]
	p := r.policies[name]
	if p == nil {
		r.record(Decision{Time: bar.Time, Symbol: symbol, Regime: reg, Action: "CASH"})
		return
	}

	strategies.RunBar(p, f, i, reg, env, st.ctx)
	r.record(Decision{
		Time:   bar.Time,
		Symbol: symbol,
		Regime: reg,
		Action: "ROUTE",
		Policy: name,
		Qty:    env.Ledger.Position(symbol).Quantity,
	})
}

func (r *Router) handleSwitch(symbol string, bar market.Bar, seq int, st *symbolState, env *strategies.Env) {
	canceled := env.Sim.CancelAll(symbol)

	pos := env.Ledger.Position(symbol)
	if pos.Quantity != 0 {
		side := broker.Sell
		if pos.Quantity < 0 {
			side = broker.Cover
		}
		env.Sim.Submit(broker.Order{
			Symbol:     symbol,
			Side:       side,
			Kind:       broker.Market,
			Quantity:   math.Abs(pos.Quantity),
			SignalTime: bar.Time,
			PolicyID:   "Router",
			ExitReason: "StateSwitch",
		})
	}

	st.ctx.Reset()
	st.coolUnto = seq + r.cfg.CooldownBars

	r.log.Info("regime switch",
		zap.String("symbol", symbol),
		zap.String("from", st.lastRegime.String()),
		zap.Int("canceled_orders", canceled),
		zap.Float64("closed_qty", pos.Quantity),
		zap.Int("cooldown_until", st.coolUnto))
}

func (r *Router) record(d Decision) {
	r.decisions = append(r.decisions, d)
}
