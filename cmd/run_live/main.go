// Command run_live runs the kernel against a polled ClickHouse feed with
// paper execution, exporting a status snapshot after every tick.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"regime-backtest/services/broker"
	"regime-backtest/services/config"
	"regime-backtest/services/live"
	"regime-backtest/services/market"
	"regime-backtest/services/marketdata"
	"regime-backtest/services/portfolio"
	"regime-backtest/services/regime"
	"regime-backtest/services/risk"
	"regime-backtest/services/router"
	"regime-backtest/strategies"
)

// clickhouseFetcher adapts the candle table source to the polling engine.
type clickhouseFetcher struct {
	src      *marketdata.ClickHouseSource
	interval string
	step     time.Duration
}

func (f *clickhouseFetcher) Fetch(ctx context.Context, symbol string, limit int) ([]market.Bar, error) {
	now := time.Now().UTC()
	return f.src.Load(ctx, symbol, f.interval, now.Add(-time.Duration(limit)*f.step), now)
}

func main() {
	configPath := flag.String("config", "params.yaml", "params file")
	every := flag.Duration("every", time.Minute, "polling interval")
	statusPath := flag.String("status", "output/live_status.json", "status snapshot file")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := marketdata.OpenClickHouse(ctx, marketdata.ClickHouseOptions{
		DSN:      cfg.Data.DSN,
		Database: cfg.Data.Database,
		Table:    cfg.Data.Table,
		User:     cfg.Data.User,
		Password: cfg.Data.Password,
	}, log)
	if err != nil {
		log.Fatal("clickhouse", zap.Error(err))
	}
	defer src.Close()

	step, err := time.ParseDuration(cfg.Data.Interval)
	if err != nil {
		log.Fatal("parse data interval", zap.Error(err))
	}

	ledger := portfolio.NewLedger(cfg.Engine.InitialCapital)
	env := &strategies.Env{
		Ledger: ledger,
		Gate:   risk.NewGate(cfg.Risk, log),
		Sim:    broker.NewSim(cfg.Execution, ledger, nil, log),
		Marks:  make(map[string]float64),
		Log:    log,
	}
	policies := []strategies.Policy{
		strategies.NewTrendUp(),
		strategies.NewTrendDown(),
		strategies.NewRangeMeanReversion(),
		strategies.NewTrendBreakout(),
	}
	rt := router.New(cfg.Routing,
		regime.Uncached{Classifier: regime.NewClassifier(cfg.Stability)},
		policies, log)

	liveCfg := live.DefaultConfig()
	liveCfg.Interval = *every
	engine := live.New(liveCfg, cfg.Data.Symbols,
		&clickhouseFetcher{src: src, interval: cfg.Data.Interval, step: step},
		rt, env, log)

	log.Info("live engine starting",
		zap.Strings("symbols", cfg.Data.Symbols),
		zap.Duration("interval", *every))

	done := make(chan struct{})
	go func() {
		defer close(done)
		exportLoop(ctx, engine, *statusPath, *every, log)
	}()

	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("live engine", zap.Error(err))
	}
	<-done
	log.Info("live engine stopped")
}

func exportLoop(ctx context.Context, e *live.Engine, path string, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			raw, err := json.MarshalIndent(e.Status(), "", "  ")
			if err != nil {
				continue
			}
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				log.Warn("write status", zap.Error(err))
			}
		}
	}
}
