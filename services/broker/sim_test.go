package broker

import (
	"math"
	"testing"
	"time"

	"regime-backtest/services/market"
	"regime-backtest/services/portfolio"
)

var t0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSim() (*Sim, *portfolio.Ledger) {
	l := portfolio.NewLedger(1_000_000)
	cfg := DefaultConfig()
	cfg.CommissionTaker = 0
	cfg.CommissionMaker = 0
	return NewSim(cfg, l, nil, nil), l
}

func bar(ts time.Time, o, h, l, c float64) market.Bar {
	return market.Bar{Time: ts, Open: o, High: h, Low: l, Close: c, Volume: 100}
}

func TestLimitBuyTouchFillsAtLimit(t *testing.T) {
	s, _ := newTestSim()
	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Limit, Quantity: 1, Price: 9500, SignalTime: t0.Add(-time.Hour)})

	// Bar 1: low 9600, no fill.
	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 9800, 9900, 9600, 9700)})
	if len(fills) != 0 {
		t.Fatalf("unexpected fill: %+v", fills)
	}
	if len(s.Open("BTC")) != 1 || s.Open("BTC")[0].Status != Submitted {
		t.Fatal("order should persist submitted")
	}

	// Bar 2: open 9600, low 9400 -> touched, fill at exactly the limit, maker.
	fills = s.ProcessPending(map[string]market.Bar{"BTC": bar(t0.Add(time.Hour), 9600, 9650, 9400, 9500)})
	if len(fills) != 1 {
		t.Fatalf("fills=%d", len(fills))
	}
	if fills[0].FillPrice != 9500.0 {
		t.Fatalf("fill price=%v want 9500", fills[0].FillPrice)
	}
	if !fills[0].Maker {
		t.Fatal("intrabar limit touch must be maker")
	}
	if len(s.Open("BTC")) != 0 {
		t.Fatal("filled order still active")
	}
}

func TestLimitBuyGapThroughFillsAtOpen(t *testing.T) {
	s, _ := newTestSim()
	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Limit, Quantity: 1, Price: 9500, SignalTime: t0.Add(-time.Hour)})

	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 9400, 9600, 9300, 9500)})
	if len(fills) != 1 || fills[0].FillPrice != 9400.0 {
		t.Fatalf("gap-through fill: %+v", fills)
	}
	if fills[0].Maker {
		t.Fatal("gap-through limit is taker")
	}
}

func TestStopBuyTriggerAndGap(t *testing.T) {
	s, _ := newTestSim()
	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Stop, Quantity: 1, Price: 10100, SignalTime: t0.Add(-time.Hour)})

	// High 10000: no trigger.
	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 9900, 10000, 9800, 9950)})
	if len(fills) != 0 {
		t.Fatal("stop must not trigger below level")
	}

	// Open 9950, high 10200: intrabar trigger fills at the stop level.
	fills = s.ProcessPending(map[string]market.Bar{"BTC": bar(t0.Add(time.Hour), 9950, 10200, 9900, 10150)})
	if len(fills) != 1 || fills[0].FillPrice != 10100.0 {
		t.Fatalf("stop trigger fill: %+v", fills)
	}
	if fills[0].Maker {
		t.Fatal("stop fills are taker")
	}

	// Fresh stop, gap open above the level: fill at the open.
	s2, _ := newTestSim()
	s2.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Stop, Quantity: 1, Price: 10100, SignalTime: t0.Add(-time.Hour)})
	fills = s2.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 10200, 10300, 10150, 10250)})
	if len(fills) != 1 || fills[0].FillPrice != 10200.0 {
		t.Fatalf("stop gap fill: %+v", fills)
	}
}

func TestStopSellSymmetry(t *testing.T) {
	s, l := newTestSim()
	l.ApplyFill("BTC", 1, 10000, 0)
	s.Submit(Order{Symbol: "BTC", Side: Sell, Kind: Stop, Quantity: 1, Price: 9900, SignalTime: t0.Add(-time.Hour)})

	// Open 9950, low 9800: fill at min(open, stop) = 9900.
	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 9950, 10000, 9800, 9850)})
	if len(fills) != 1 || fills[0].FillPrice != 9900.0 {
		t.Fatalf("stop sell fill: %+v", fills)
	}
}

func TestNoSameBarFill(t *testing.T) {
	s, _ := newTestSim()
	// Signal stamped at the bar being processed: must not fill, even for market.
	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Market, Quantity: 1, SignalTime: t0})
	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 100, 110, 90, 105)})
	if len(fills) != 0 {
		t.Fatal("order filled on its signal bar")
	}
	fills = s.ProcessPending(map[string]market.Bar{"BTC": bar(t0.Add(time.Hour), 101, 111, 91, 106)})
	if len(fills) != 1 || fills[0].FillPrice != 101.0 {
		t.Fatalf("next-bar market fill: %+v", fills)
	}
	if !fills[0].FillTime.After(fills[0].SignalTime) {
		t.Fatal("fill time must be strictly after signal time")
	}
}

func TestClosingOrderClipsToHeld(t *testing.T) {
	s, l := newTestSim()
	l.ApplyFill("BTC", 2, 100, 0)

	s.Submit(Order{Symbol: "BTC", Side: Sell, Kind: Market, Quantity: 5, SignalTime: t0.Add(-time.Hour)})
	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 100, 110, 90, 105)})
	if len(fills) != 1 || fills[0].Quantity != 2 {
		t.Fatalf("clip: %+v", fills)
	}
	if l.Position("BTC").Quantity != 0 {
		t.Fatal("position should be flat after clipped close")
	}

	// Nothing held: silent no-op, no trade record, order dropped.
	s.Submit(Order{Symbol: "BTC", Side: Sell, Kind: Market, Quantity: 1, SignalTime: t0.Add(-time.Hour)})
	before := len(s.Trades())
	fills = s.ProcessPending(map[string]market.Bar{"BTC": bar(t0.Add(time.Hour), 100, 110, 90, 105)})
	if len(fills) != 0 || len(s.Trades()) != before {
		t.Fatal("zero-held close must produce no record")
	}
	if len(s.Open("BTC")) != 0 {
		t.Fatal("zero-held close must be dropped from the active set")
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	s, _ := newTestSim()
	if o := s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Market, Quantity: 0}); o.Status != Rejected {
		t.Fatal("zero qty must be rejected")
	}
	if o := s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Limit, Quantity: 1, Price: 0}); o.Status != Rejected {
		t.Fatal("limit without price must be rejected")
	}
	if len(s.Open("BTC")) != 0 {
		t.Fatal("rejected orders must not be queued")
	}
}

func TestSlippageAlwaysWorsens(t *testing.T) {
	l := portfolio.NewLedger(1_000_000)
	cfg := DefaultConfig()
	cfg.CommissionTaker = 0
	cfg.SlippageRate = 0.001
	s := NewSim(cfg, l, nil, nil)

	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Market, Quantity: 1, SignalTime: t0.Add(-time.Hour)})
	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 10000, 10100, 9900, 10050)})
	if fills[0].FillPrice <= 10000 {
		t.Fatalf("buy slippage must raise price: %v", fills[0].FillPrice)
	}
	if math.Abs(fills[0].Slippage-10.0) > 1e-9 {
		t.Fatalf("slippage amount: %v", fills[0].Slippage)
	}

	s.Submit(Order{Symbol: "BTC", Side: Sell, Kind: Market, Quantity: 1, SignalTime: t0})
	fills = s.ProcessPending(map[string]market.Bar{"BTC": bar(t0.Add(time.Hour), 10000, 10100, 9900, 10050)})
	if fills[0].FillPrice >= 10000 {
		t.Fatalf("sell slippage must lower price: %v", fills[0].FillPrice)
	}
}

func TestImpactCostAboveParticipationThreshold(t *testing.T) {
	l := portfolio.NewLedger(100_000_000)
	cfg := DefaultConfig()
	cfg.CommissionTaker = 0
	cfg.UseImpactCost = true
	cfg.ImpactCoeff = 0.1
	cfg.ImpactThreshold = 0.01
	s := NewSim(cfg, l, nil, nil)

	// qty 5 vs volume 100 -> participation 5%, impact rate 0.05*0.1 = 0.005.
	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Market, Quantity: 5, SignalTime: t0.Add(-time.Hour)})
	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 10000, 10100, 9900, 10050)})
	want := 10000 * (1 + 0.05*0.1)
	if math.Abs(fills[0].FillPrice-want) > 1e-9 {
		t.Fatalf("impact fill price=%v want=%v", fills[0].FillPrice, want)
	}
}

func TestCommissionMakerTaker(t *testing.T) {
	l := portfolio.NewLedger(1_000_000)
	cfg := DefaultConfig() // taker 0.001, maker 0.0005
	s := NewSim(cfg, l, nil, nil)

	// Maker: limit touch.
	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Limit, Quantity: 1, Price: 9500, SignalTime: t0.Add(-time.Hour)})
	fills := s.ProcessPending(map[string]market.Bar{"BTC": bar(t0, 9600, 9650, 9400, 9500)})
	if math.Abs(fills[0].Commission-9500*0.0005) > 1e-9 {
		t.Fatalf("maker commission: %v", fills[0].Commission)
	}

	// Taker: market.
	s.Submit(Order{Symbol: "BTC", Side: Sell, Kind: Market, Quantity: 1, SignalTime: t0})
	fills = s.ProcessPending(map[string]market.Bar{"BTC": bar(t0.Add(time.Hour), 9600, 9650, 9400, 9500)})
	if math.Abs(fills[0].Commission-9600*0.001) > 1e-9 {
		t.Fatalf("taker commission: %v", fills[0].Commission)
	}
}

func TestCancelAll(t *testing.T) {
	s, _ := newTestSim()
	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Limit, Quantity: 1, Price: 90, SignalTime: t0})
	s.Submit(Order{Symbol: "BTC", Side: Buy, Kind: Stop, Quantity: 1, Price: 120, SignalTime: t0})
	s.Submit(Order{Symbol: "ETH", Side: Buy, Kind: Limit, Quantity: 1, Price: 50, SignalTime: t0})

	if n := s.CancelAll("BTC"); n != 2 {
		t.Fatalf("canceled=%d", n)
	}
	if len(s.Open("BTC")) != 0 || len(s.Open("ETH")) != 1 {
		t.Fatal("cancel scope wrong")
	}
}
