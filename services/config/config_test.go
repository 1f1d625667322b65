package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "params.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk.RiskPerTrade != 0.01 || cfg.Engine.WarmupBars != 50 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Routing.Policies["VOLATILE"] != "Cash" {
		t.Fatalf("routing defaults not applied: %+v", cfg.Routing)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	body := []byte(`
risk:
  risk_per_trade: 0.02
engine:
  initial_capital: 50000
data:
  symbols: [SOLUSDT]
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk.RiskPerTrade != 0.02 {
		t.Fatalf("override lost: %v", cfg.Risk.RiskPerTrade)
	}
	if cfg.Engine.InitialCapital != 50000 {
		t.Fatalf("override lost: %v", cfg.Engine.InitialCapital)
	}
	// Untouched sections keep their defaults.
	if cfg.Risk.MaxLeverage != 3.0 || cfg.Execution.CommissionTaker != 0.001 {
		t.Fatalf("defaults clobbered: %+v", cfg)
	}
	if len(cfg.Data.Symbols) != 1 || cfg.Data.Symbols[0] != "SOLUSDT" {
		t.Fatalf("symbols override lost: %v", cfg.Data.Symbols)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("risk: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml must fail")
	}
}
