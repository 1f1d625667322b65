// Command run_backtest executes one full simulation over CSV, ClickHouse,
// or synthetic data and writes the report artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"regime-backtest/services/broker"
	"regime-backtest/services/config"
	"regime-backtest/services/engine"
	"regime-backtest/services/market"
	"regime-backtest/services/marketdata"
	"regime-backtest/services/portfolio"
	"regime-backtest/services/regime"
	"regime-backtest/services/report"
	"regime-backtest/services/risk"
	"regime-backtest/services/router"
	"regime-backtest/strategies"
)

func main() {
	configPath := flag.String("config", "params.yaml", "params file")
	source := flag.String("source", "", "data source override: csv, clickhouse, synthetic")
	symbols := flag.String("symbols", "", "comma-separated symbol override")
	from := flag.String("from", "2023-01-01", "range start (clickhouse source)")
	to := flag.String("to", "2024-01-01", "range end (clickhouse source)")
	capital := flag.Float64("capital", 0, "initial capital override")
	seed := flag.Int64("seed", 0, "rng seed override")
	bars := flag.Int("bars", 2000, "bar count (synthetic source)")
	out := flag.String("out", "", "output directory override")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	if *source != "" {
		cfg.Data.Source = *source
	}
	if *symbols != "" {
		cfg.Data.Symbols = splitSymbols(*symbols)
	}
	if *capital > 0 {
		cfg.Engine.InitialCapital = *capital
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *out != "" {
		cfg.Data.OutputDir = *out
	}

	series, err := loadSeries(cfg, *from, *to, *bars, log)
	if err != nil {
		log.Fatal("load data", zap.Error(err))
	}

	ledger := portfolio.NewLedger(cfg.Engine.InitialCapital)
	gate := risk.NewGate(cfg.Risk, log)
	sim := broker.NewSim(cfg.Execution, ledger, rand.New(rand.NewSource(cfg.Seed)), log)
	policies := []strategies.Policy{
		strategies.NewTrendUp(),
		strategies.NewTrendDown(),
		strategies.NewRangeMeanReversion(),
		strategies.NewTrendBreakout(),
	}
	rt := router.New(cfg.Routing, regime.NewClassifier(cfg.Stability), policies, log)

	res, err := engine.New(cfg.Engine, ledger, gate, sim, rt, log).Run(series)
	if err != nil {
		log.Fatal("run", zap.Error(err))
	}

	if cfg.Data.ArrowDir != "" {
		if err := marketdata.WriteFramesArrow(cfg.Data.ArrowDir, res.Frames); err != nil {
			log.Warn("arrow export failed", zap.Error(err))
		}
	}

	summary, err := report.NewWriter(cfg.Data.OutputDir, log).WriteAll(res, cfg.Engine.InitialCapital)
	if err != nil {
		log.Fatal("write report", zap.Error(err))
	}

	fmt.Println("=== Backtest Summary ===")
	fmt.Printf("Trades: %d, WinRate: %s%%, ProfitFactor: %s\n",
		summary.TotalTrades, summary.WinRate.StringFixed(1), summary.ProfitFactor.StringFixed(2))
	fmt.Printf("Gross: $%s, Commission: $%s, Slippage: $%s, Net: $%s\n",
		summary.GrossPnl.StringFixed(2), summary.TotalCommission.StringFixed(2),
		summary.TotalSlippage.StringFixed(2), summary.NetPnl.StringFixed(2))
	fmt.Printf("MaxDrawdown: %s%%, FinalEquity: $%s\n",
		summary.MaxDrawdown.StringFixed(2), summary.FinalEquity.StringFixed(2))
}

func loadSeries(cfg config.Config, from, to string, bars int, log *zap.Logger) (map[string][]market.Bar, error) {
	switch cfg.Data.Source {
	case "csv":
		return marketdata.LoadCSVDir(cfg.Data.CSVDir, cfg.Data.Symbols)
	case "clickhouse":
		start, err := time.Parse("2006-01-02", from)
		if err != nil {
			return nil, fmt.Errorf("parse -from: %w", err)
		}
		end, err := time.Parse("2006-01-02", to)
		if err != nil {
			return nil, fmt.Errorf("parse -to: %w", err)
		}
		ctx := context.Background()
		src, err := marketdata.OpenClickHouse(ctx, marketdata.ClickHouseOptions{
			DSN:      cfg.Data.DSN,
			Database: cfg.Data.Database,
			Table:    cfg.Data.Table,
			User:     cfg.Data.User,
			Password: cfg.Data.Password,
		}, log)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return src.LoadAll(ctx, cfg.Data.Symbols, cfg.Data.Interval, start, end)
	case "synthetic":
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		return marketdata.GenerateAll(cfg.Data.Symbols, cfg.Seed, start, bars), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
