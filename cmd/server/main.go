// Command server exposes backtest runs over HTTP: POST a job, get the
// summary back. Each request runs a fresh kernel on synthetic or CSV data.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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

type backtestRequest struct {
	Symbols []string `json:"symbols" binding:"required"`
	Source  string   `json:"source"` // synthetic (default) or csv
	Bars    int      `json:"bars"`
	Seed    int64    `json:"seed"`
	Capital float64  `json:"capital"`
}

type backtestResponse struct {
	JobID      string         `json:"job_id"`
	DurationMs int64          `json:"duration_ms"`
	Summary    report.Summary `json:"summary"`
}

type server struct {
	cfg config.Config
	log *zap.Logger
}

func (s *server) routes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktest)
		api.GET("/health", s.handleHealth)
	}
}

func (s *server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := uuid.New().String()
	started := time.Now()
	s.log.Info("backtest job accepted",
		zap.String("job_id", jobID),
		zap.Strings("symbols", req.Symbols),
		zap.String("source", req.Source))

	summary, err := s.run(req)
	if err != nil {
		s.log.Error("backtest job failed", zap.String("job_id", jobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"job_id": jobID, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, backtestResponse{
		JobID:      jobID,
		DurationMs: time.Since(started).Milliseconds(),
		Summary:    summary,
	})
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
}

func (s *server) run(req backtestRequest) (report.Summary, error) {
	cfg := s.cfg
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	if req.Capital > 0 {
		cfg.Engine.InitialCapital = req.Capital
	}
	bars := req.Bars
	if bars <= 0 {
		bars = 2000
	}

	var series map[string][]market.Bar
	var err error
	switch req.Source {
	case "", "synthetic":
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		series = marketdata.GenerateAll(req.Symbols, cfg.Seed, start, bars)
	case "csv":
		series, err = marketdata.LoadCSVDir(cfg.Data.CSVDir, req.Symbols)
		if err != nil {
			return report.Summary{}, err
		}
	default:
		return report.Summary{}, fmt.Errorf("unsupported source %q", req.Source)
	}

	ledger := portfolio.NewLedger(cfg.Engine.InitialCapital)
	gate := risk.NewGate(cfg.Risk, s.log)
	sim := broker.NewSim(cfg.Execution, ledger, rand.New(rand.NewSource(cfg.Seed)), s.log)
	policies := []strategies.Policy{
		strategies.NewTrendUp(),
		strategies.NewTrendDown(),
		strategies.NewRangeMeanReversion(),
		strategies.NewTrendBreakout(),
	}
	rt := router.New(cfg.Routing, regime.NewClassifier(cfg.Stability), policies, s.log)

	res, err := engine.New(cfg.Engine, ledger, gate, sim, rt, s.log).Run(series)
	if err != nil {
		return report.Summary{}, err
	}
	return report.Summarize(res, cfg.Engine.InitialCapital), nil
}

func main() {
	configPath := flag.String("config", "params.yaml", "params file")
	addr := flag.String("addr", ":8080", "listen address")
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

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &server{cfg: cfg, log: log}
	s.routes(r)

	log.Info("server listening", zap.String("addr", *addr))
	if err := r.Run(*addr); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}
