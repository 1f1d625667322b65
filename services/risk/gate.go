// Package risk sizes candidate trades and enforces pre-trade limits.
package risk

import (
	"go.uber.org/zap"

	"regime-backtest/services/portfolio"
)

// Config holds the risk limits threaded in from the configuration surface.
type Config struct {
	RiskPerTrade     float64 `yaml:"risk_per_trade"`     // fraction of equity risked per trade
	MaxLeverage      float64 `yaml:"max_leverage"`       // gross exposure / equity ceiling
	MaxDrawdownLimit float64 `yaml:"max_drawdown_limit"` // session drawdown that trips the breaker
	LiquidityLimit   float64 `yaml:"liquidity_limit"`    // max fraction of bar volume per order
	MaxPositionPct   float64 `yaml:"max_position_pct"`   // max single-position value / equity
}

func DefaultConfig() Config {
	return Config{
		RiskPerTrade:     0.01,
		MaxLeverage:      3.0,
		MaxDrawdownLimit: 0.20,
		LiquidityLimit:   0.01,
		MaxPositionPct:   0.20,
	}
}

// Gate approves and sizes candidate trades. The circuit breaker is one-way:
// once tripped it stays tripped for the rest of the run.
type Gate struct {
	cfg     Config
	log     *zap.Logger
	tripped bool
}

func NewGate(cfg Config, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{cfg: cfg, log: log}
}

func (g *Gate) Config() Config { return g.cfg }

// BreakerTripped reports whether the circuit breaker has fired this run.
func (g *Gate) BreakerTripped() bool { return g.tripped }

// SizeByRisk returns (equity * riskPerTrade) / |entry - stop|.
// Zero when either price is non-positive, the prices coincide, or the
// breaker is tripped.
func (g *Gate) SizeByRisk(equity, entryPrice, stopPrice float64) float64 {
	if g.tripped {
		return 0
	}
	if entryPrice <= 0 || stopPrice <= 0 {
		return 0
	}
	diff := absf(entryPrice - stopPrice)
	if diff == 0 {
		return 0
	}
	return equity * g.cfg.RiskPerTrade / diff
}

// SizeByFixedFraction allocates a fixed fraction of equity at the entry
// price. Fallback sizing when no stop level is available.
func (g *Gate) SizeByFixedFraction(equity, entryPrice, fraction float64) float64 {
	if g.tripped {
		return 0
	}
	if entryPrice <= 0 || fraction <= 0 {
		return 0
	}
	return equity * fraction / entryPrice
}

// Approve runs the pre-trade checks in order: breaker, input validity,
// liquidity participation, projected leverage, projected concentration.
// The first failing check rejects; no partial re-sizing happens here.
func (g *Gate) Approve(ledger *portfolio.Ledger, symbol string, qty, price, barVolume float64, marks map[string]float64) bool {
	if g.tripped {
		g.reject(symbol, "circuit breaker active")
		return false
	}
	if qty <= 0 || price <= 0 {
		g.reject(symbol, "non-positive qty or price")
		return false
	}
	if barVolume > 0 && qty > barVolume*g.cfg.LiquidityLimit {
		g.log.Warn("risk reject: liquidity limit",
			zap.String("symbol", symbol),
			zap.Float64("qty", qty),
			zap.Float64("bar_volume", barVolume),
			zap.Float64("limit_fraction", g.cfg.LiquidityLimit))
		return false
	}

	equity := ledger.Equity(marks)
	if equity <= 0 {
		g.reject(symbol, "non-positive equity")
		return false
	}

	tradeValue := qty * price
	projectedExposure := ledger.GrossExposure(marks) + tradeValue
	if projectedExposure/equity > g.cfg.MaxLeverage {
		g.log.Warn("risk reject: leverage limit",
			zap.String("symbol", symbol),
			zap.Float64("projected_leverage", projectedExposure/equity),
			zap.Float64("max_leverage", g.cfg.MaxLeverage))
		return false
	}

	pos := ledger.Position(symbol)
	projectedPosValue := absf(pos.Quantity)*price + tradeValue
	if projectedPosValue/equity > g.cfg.MaxPositionPct {
		g.log.Warn("risk reject: concentration limit",
			zap.String("symbol", symbol),
			zap.Float64("projected_fraction", projectedPosValue/equity),
			zap.Float64("max_fraction", g.cfg.MaxPositionPct))
		return false
	}
	return true
}

// CheckCircuitBreaker trips when the session drawdown exceeds the limit.
// Once tripped it always reports true; the orchestrator owns the recovery
// action (flattening open positions).
func (g *Gate) CheckCircuitBreaker(currentEquity, sessionStartEquity float64) bool {
	if g.tripped {
		return true
	}
	if sessionStartEquity <= 0 {
		return false
	}
	drawdown := 1 - currentEquity/sessionStartEquity
	if drawdown > g.cfg.MaxDrawdownLimit {
		g.tripped = true
		g.log.Warn("circuit breaker tripped",
			zap.Float64("drawdown", drawdown),
			zap.Float64("limit", g.cfg.MaxDrawdownLimit))
		return true
	}
	return false
}

func (g *Gate) reject(symbol, reason string) {
	g.log.Warn("risk reject: "+reason, zap.String("symbol", symbol))
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
