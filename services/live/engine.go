// Package live runs the kernel against a polled data feed: same router,
// gate, and simulator as a backtest, acting on the last completed bar of
// each instrument.
package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"regime-backtest/services/indicators"
	"regime-backtest/services/market"
	"regime-backtest/services/router"
	"regime-backtest/strategies"
)

// Fetcher returns the most recent bars for one symbol, oldest first.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, limit int) ([]market.Bar, error)
}

// Config controls the polling cadence and the rolling data buffer.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	Lookback int           `yaml:"lookback_bars"`
	Batch    int           `yaml:"fetch_batch"` // bars re-fetched per tick
}

func DefaultConfig() Config {
	return Config{Interval: time.Minute, Lookback: 1000, Batch: 100}
}

// Status is a monitoring snapshot taken after a tick.
type Status struct {
	Time      time.Time          `json:"time"`
	Equity    float64            `json:"equity"`
	Cash      float64            `json:"cash"`
	Positions map[string]float64 `json:"positions"`
}

// Engine polls bars and routes them. Ticks are all-or-nothing: if any
// instrument's refresh fails, the whole tick is skipped so the router
// never acts on a partially updated book.
type Engine struct {
	cfg     Config
	symbols []string
	fetcher Fetcher
	router  *router.Router
	env     *strategies.Env
	log     *zap.Logger

	buffers map[string][]market.Bar
	dropped map[string]int // bars trimmed off the front of each buffer

	mu     sync.RWMutex
	status Status
}

func New(cfg Config, symbols []string, fetcher Fetcher, rt *router.Router, env *strategies.Env, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if env.Marks == nil {
		env.Marks = make(map[string]float64)
	}
	return &Engine{
		cfg:     cfg,
		symbols: append([]string(nil), symbols...),
		fetcher: fetcher,
		router:  rt,
		env:     env,
		log:     log,
		buffers: make(map[string][]market.Bar),
		dropped: make(map[string]int),
	}
}

// Run ticks at the configured interval until the context is canceled.
// Failed ticks are logged and retried on the next interval.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := e.Tick(ctx); err != nil {
			e.log.Warn("tick skipped", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick refreshes every instrument, then routes each one's last completed
// bar. Any refresh failure aborts the tick before the router runs.
func (e *Engine) Tick(ctx context.Context) error {
	fresh := make(map[string][]market.Bar, len(e.symbols))
	for _, sym := range e.symbols {
		bars, err := e.fetcher.Fetch(ctx, sym, e.cfg.Batch)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", sym, err)
		}
		if len(bars) == 0 {
			return fmt.Errorf("refresh %s: no bars", sym)
		}
		fresh[sym] = bars
	}

	lastBars := make(map[string]market.Bar, len(e.symbols))
	for _, sym := range e.symbols {
		merged := market.Normalize(append(e.buffers[sym], fresh[sym]...))
		if len(merged) > e.cfg.Lookback {
			e.dropped[sym] += len(merged) - e.cfg.Lookback
			merged = merged[len(merged)-e.cfg.Lookback:]
		}
		e.buffers[sym] = merged
		last := merged[len(merged)-1]
		lastBars[sym] = last
		e.env.Marks[sym] = last.Close
	}

	// Fill anything signaled on an earlier tick, then act on the newest bar.
	e.env.Sim.ProcessPending(lastBars)

	for _, sym := range e.symbols {
		f := market.NewFrame(sym, e.buffers[sym])
		// Cooldowns and entry-bar state live on the full timeline, not
		// the capped buffer, so route with the trim offset applied.
		f.Offset = e.dropped[sym]
		indicators.Enrich(f)
		e.router.Route(f, len(f.Bars)-1, e.env)
	}

	positions := make(map[string]float64)
	for _, sym := range e.env.Ledger.Symbols() {
		positions[sym] = e.env.Ledger.Position(sym).Quantity
	}
	e.mu.Lock()
	e.status = Status{
		Time:      time.Now().UTC(),
		Equity:    e.env.Ledger.Equity(e.env.Marks),
		Cash:      e.env.Ledger.Cash(),
		Positions: positions,
	}
	e.mu.Unlock()
	e.log.Info("tick complete",
		zap.Float64("equity", e.status.Equity),
		zap.Int("positions", len(positions)))
	return nil
}

// Status returns the snapshot from the last successful tick. Safe to call
// from other goroutines.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}
