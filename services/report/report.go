// Package report turns a run result into CSV artifacts and a summary.
// Money aggregation is done in decimal so the report figures are exact
// regardless of how long the fill stream is.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"regime-backtest/services/broker"
	"regime-backtest/services/engine"
)

// Summary is the run scorecard. Trade counts are realized (closing) fills.
type Summary struct {
	TotalTrades     int             `json:"total_trades"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRate         decimal.Decimal `json:"win_rate_pct"`
	GrossPnl        decimal.Decimal `json:"gross_pnl"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalSlippage   decimal.Decimal `json:"total_slippage"`
	NetPnl          decimal.Decimal `json:"net_pnl"`
	ProfitFactor    decimal.Decimal `json:"profit_factor"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown_pct"`
	FinalEquity     decimal.Decimal `json:"final_equity"`
}

// Summarize folds the fill stream and equity curve into the scorecard.
// Realized PnL is reconstructed per closing fill against the running
// average entry price, the same rule the ledger applies.
func Summarize(res *engine.Result, initialCapital float64) Summary {
	type book struct {
		qty float64
		avg float64
	}
	books := make(map[string]*book)

	var gross, grossProfit, grossLoss, commission, slippage decimal.Decimal
	wins, losses, realized := 0, 0, 0

	for _, tr := range res.Trades {
		commission = commission.Add(decimal.NewFromFloat(tr.Commission))
		slippage = slippage.Add(decimal.NewFromFloat(tr.Slippage))

		b := books[tr.Symbol]
		if b == nil {
			b = &book{}
			books[tr.Symbol] = b
		}
		signed := tr.Quantity * tr.Side.QtySign()

		opening := b.qty == 0 || (b.qty > 0) == (signed > 0)
		if opening {
			newQty := b.qty + signed
			b.avg = (abs(b.qty)*b.avg + abs(signed)*tr.FillPrice) / abs(newQty)
			b.qty = newQty
			continue
		}

		realized++
		var pnl float64
		if b.qty > 0 {
			pnl = (tr.FillPrice - b.avg) * tr.Quantity
		} else {
			pnl = (b.avg - tr.FillPrice) * tr.Quantity
		}
		d := decimal.NewFromFloat(pnl)
		gross = gross.Add(d)
		if pnl > 0 {
			wins++
			grossProfit = grossProfit.Add(d)
		} else {
			losses++
			grossLoss = grossLoss.Add(d.Abs())
		}
		b.qty += signed
		if b.qty == 0 {
			b.avg = 0
		}
	}

	s := Summary{
		TotalTrades:     realized,
		Wins:            wins,
		Losses:          losses,
		GrossPnl:        gross,
		TotalCommission: commission,
		TotalSlippage:   slippage,
		NetPnl:          gross.Sub(commission),
		MaxDrawdown:     maxDrawdown(res.Equity),
		FinalEquity:     finalEquity(res.Equity, initialCapital),
	}
	if realized > 0 {
		s.WinRate = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(realized))).
			Mul(decimal.NewFromInt(100))
	}
	if grossLoss.GreaterThan(decimal.Zero) {
		s.ProfitFactor = grossProfit.Div(grossLoss)
	}
	return s
}

func maxDrawdown(points []engine.EquityPoint) decimal.Decimal {
	peak, worst := 0.0, 0.0
	for _, p := range points {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return decimal.NewFromFloat(worst * 100)
}

func finalEquity(points []engine.EquityPoint, fallback float64) decimal.Decimal {
	if len(points) == 0 {
		return decimal.NewFromFloat(fallback)
	}
	return decimal.NewFromFloat(points[len(points)-1].Equity)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Writer emits the run artifacts into one output directory.
type Writer struct {
	dir string
	log *zap.Logger
}

func NewWriter(dir string, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{dir: dir, log: log}
}

// WriteAll emits trades.csv, equity.csv, and routing_log.csv and returns
// the summary.
func (w *Writer) WriteAll(res *engine.Result, initialCapital float64) (Summary, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := w.writeTrades(res.Trades); err != nil {
		return Summary{}, err
	}
	if err := w.writeEquity(res); err != nil {
		return Summary{}, err
	}
	if err := w.writeRouting(res); err != nil {
		return Summary{}, err
	}
	s := Summarize(res, initialCapital)
	w.log.Info("report written",
		zap.String("dir", w.dir),
		zap.Int("trades", s.TotalTrades),
		zap.String("net_pnl", s.NetPnl.StringFixed(2)),
		zap.String("win_rate", s.WinRate.StringFixed(1)))
	return s, nil
}

func (w *Writer) writeTrades(trades []broker.Trade) error {
	return w.writeCSV("trades.csv",
		[]string{"signal_time", "fill_time", "symbol", "side", "qty", "fill_price", "commission", "slippage", "maker", "policy", "exit_reason"},
		len(trades), func(i int) []string {
			t := trades[i]
			return []string{
				t.SignalTime.Format(time.RFC3339),
				t.FillTime.Format(time.RFC3339),
				t.Symbol,
				t.Side.String(),
				formatFloat(t.Quantity),
				formatFloat(t.FillPrice),
				formatFloat(t.Commission),
				formatFloat(t.Slippage),
				strconv.FormatBool(t.Maker),
				t.PolicyID,
				t.ExitReason,
			}
		})
}

func (w *Writer) writeEquity(res *engine.Result) error {
	return w.writeCSV("equity.csv",
		[]string{"timestamp", "equity", "cash", "benchmark"},
		len(res.Equity), func(i int) []string {
			p := res.Equity[i]
			bench := ""
			if i < len(res.Benchmark) {
				bench = formatFloat(res.Benchmark[i])
			}
			return []string{p.Time.Format(time.RFC3339), formatFloat(p.Equity), formatFloat(p.Cash), bench}
		})
}

func (w *Writer) writeRouting(res *engine.Result) error {
	return w.writeCSV("routing_log.csv",
		[]string{"timestamp", "symbol", "regime", "action", "policy", "position_qty"},
		len(res.Routing), func(i int) []string {
			d := res.Routing[i]
			return []string{
				d.Time.Format(time.RFC3339),
				d.Symbol,
				d.Regime.String(),
				d.Action,
				d.Policy,
				formatFloat(d.Qty),
			}
		})
}

func (w *Writer) writeCSV(name string, header []string, rows int, row func(int) []string) error {
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	for i := 0; i < rows; i++ {
		if err := cw.Write(row(i)); err != nil {
			return fmt.Errorf("write %s row %d: %w", name, i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", name, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
