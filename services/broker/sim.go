package broker

import (
	"math"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"regime-backtest/services/market"
	"regime-backtest/services/portfolio"
)

// Config holds the execution model knobs.
type Config struct {
	CommissionTaker float64 `yaml:"commission_rate_taker"`
	CommissionMaker float64 `yaml:"commission_rate_maker"`
	SlippageRate    float64 `yaml:"slippage_rate"` // fixed rate, or max when randomized
	RandomSlippage  bool    `yaml:"random_slippage"`
	UseImpactCost   bool    `yaml:"use_impact_cost"`
	ImpactCoeff     float64 `yaml:"impact_coefficient"`
	ImpactThreshold float64 `yaml:"impact_threshold"` // participation rate above which impact applies
}

func DefaultConfig() Config {
	return Config{
		CommissionTaker: 0.001,
		CommissionMaker: 0.0005,
		ImpactCoeff:     0.1,
		ImpactThreshold: 0.01,
	}
}

// Sim converts submitted orders into fills against bar OHLC data. Orders
// are owned by the simulator from submission until a terminal state; an
// order is never evaluated against the bar it was signaled on.
type Sim struct {
	cfg    Config
	ledger *portfolio.Ledger
	rng    *rand.Rand
	log    *zap.Logger

	active []*Order
	trades []Trade
}

// NewSim builds a simulator around the given ledger. rng drives randomized
// slippage draws and must be seeded by the caller for replayable runs; nil
// disables randomization regardless of config.
func NewSim(cfg Config, ledger *portfolio.Ledger, rng *rand.Rand, log *zap.Logger) *Sim {
	if log == nil {
		log = zap.NewNop()
	}
	if rng == nil {
		cfg.RandomSlippage = false
	}
	return &Sim{cfg: cfg, ledger: ledger, rng: rng, log: log}
}

// Submit validates and accepts an order. Invalid input (non-positive
// quantity, missing limit/stop price) is rejected at this boundary and the
// returned order carries the Rejected status; nothing is queued.
func (s *Sim) Submit(o Order) *Order {
	o.ID = uuid.New().String()
	if o.Quantity <= 0 || (o.Kind != Market && o.Price <= 0) {
		o.Status = Rejected
		s.log.Debug("order rejected at submit",
			zap.String("symbol", o.Symbol),
			zap.String("side", o.Side.String()),
			zap.Float64("qty", o.Quantity),
			zap.Float64("price", o.Price))
		return &o
	}
	o.Status = Submitted
	queued := o
	s.active = append(s.active, &queued)
	return &queued
}

// CancelAll cancels every outstanding order for symbol and returns how
// many were canceled.
func (s *Sim) CancelAll(symbol string) int {
	n := 0
	kept := s.active[:0]
	for _, o := range s.active {
		if o.Symbol == symbol {
			o.Status = Canceled
			n++
			continue
		}
		kept = append(kept, o)
	}
	s.active = kept
	return n
}

// Open returns the outstanding orders for symbol, in submission order.
func (s *Sim) Open(symbol string) []*Order {
	var out []*Order
	for _, o := range s.active {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// Trades returns the append-only trade log.
func (s *Sim) Trades() []Trade { return s.trades }

// ProcessPending evaluates all outstanding orders against the current
// bars, in submission order. Orders signaled on or after a bar's timestamp
// are skipped on that bar: fills only happen strictly after the signal
// bar. Orders whose condition does not hold stay submitted.
func (s *Sim) ProcessPending(bars map[string]market.Bar) []Trade {
	var fills []Trade
	kept := s.active[:0]

	for _, o := range s.active {
		bar, ok := bars[o.Symbol]
		if !ok || !bar.Time.After(o.SignalTime) {
			kept = append(kept, o)
			continue
		}

		rawPrice, maker, filled := fillPrice(o.Side, o.Kind, o.Price, bar)
		if !filled {
			kept = append(kept, o)
			continue
		}

		qty := o.Quantity
		if !o.Side.IsOpening() {
			qty = s.clipToHeld(o, qty)
			if qty <= 0 {
				// Nothing to close: drop silently, no trade record.
				o.Status = Canceled
				continue
			}
		}

		trade := s.fill(o, qty, rawPrice, maker, bar)
		fills = append(fills, trade)
		o.Status = Filled
	}
	s.active = kept
	return fills
}

// clipToHeld clips a closing order to the currently held quantity,
// protecting against stale-size bugs upstream.
func (s *Sim) clipToHeld(o *Order, qty float64) float64 {
	pos := s.ledger.Position(o.Symbol)
	var held float64
	if o.Side == Sell {
		held = math.Max(pos.Quantity, 0)
	} else { // Cover
		held = math.Max(-pos.Quantity, 0)
	}
	if qty > held {
		if held > 0 {
			s.log.Debug("closing order clipped",
				zap.String("symbol", o.Symbol),
				zap.Float64("requested", qty),
				zap.Float64("held", held))
		}
		return held
	}
	return qty
}

func (s *Sim) fill(o *Order, qty, rawPrice float64, maker bool, bar market.Bar) Trade {
	rate := s.slippageRate(qty, bar.Volume)

	// Slippage always worsens the price: buys pay up, sells receive less.
	execPrice := rawPrice
	if o.Side == Buy || o.Side == Cover {
		execPrice = rawPrice * (1 + rate)
	} else {
		execPrice = rawPrice * (1 - rate)
	}

	commissionRate := s.cfg.CommissionTaker
	if maker {
		commissionRate = s.cfg.CommissionMaker
	}
	commission := qty * execPrice * commissionRate

	s.ledger.ApplyFill(o.Symbol, o.Side.QtySign()*qty, execPrice, commission)

	trade := Trade{
		SignalTime: o.SignalTime,
		FillTime:   bar.Time,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   qty,
		FillPrice:  execPrice,
		Commission: commission,
		Slippage:   math.Abs(execPrice-rawPrice) * qty,
		Maker:      maker,
		PolicyID:   o.PolicyID,
		ExitReason: o.ExitReason,
	}
	s.trades = append(s.trades, trade)
	return trade
}

func (s *Sim) slippageRate(qty, barVolume float64) float64 {
	rate := s.cfg.SlippageRate
	if s.cfg.RandomSlippage {
		rate = s.rng.Float64() * s.cfg.SlippageRate
	}
	if s.cfg.UseImpactCost && barVolume > 0 {
		participation := qty / barVolume
		if participation > s.cfg.ImpactThreshold {
			rate += participation * s.cfg.ImpactCoeff
		}
	}
	return rate
}

// fillPrice applies the per-kind fill law against one bar. Market orders
// fill at the open. Limit orders fill at the limit when touched intrabar
// (maker) or at the open on a gap through (taker). Stops convert to market
// on trigger: max(open, stop) for buy-side, min(open, stop) for sell-side,
// always taker.
func fillPrice(side Side, kind Kind, price float64, bar market.Bar) (px float64, maker, filled bool) {
	buySide := side == Buy || side == Cover

	switch kind {
	case Market:
		return bar.Open, false, true
	case Limit:
		if buySide {
			if bar.Low > price {
				return 0, false, false
			}
			if bar.Open <= price {
				return bar.Open, false, true // gapped through
			}
			return price, true, true
		}
		if bar.High < price {
			return 0, false, false
		}
		if bar.Open >= price {
			return bar.Open, false, true
		}
		return price, true, true
	case Stop:
		if buySide {
			if bar.High < price {
				return 0, false, false
			}
			return math.Max(bar.Open, price), false, true
		}
		if bar.Low > price {
			return 0, false, false
		}
		return math.Min(bar.Open, price), false, true
	default:
		return 0, false, false
	}
}
