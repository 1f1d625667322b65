// Package config is the yaml configuration surface for the kernel. One
// params file feeds every component constructor; when the file is absent
// the built-in defaults are used so CLIs run out of the box.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"regime-backtest/services/broker"
	"regime-backtest/services/engine"
	"regime-backtest/services/risk"
	"regime-backtest/services/router"
)

// Data locates bar sources. CSVDir holds one <SYMBOL>.csv per instrument;
// the ClickHouse fields mirror the candle table layout.
type Data struct {
	Source    string   `yaml:"source"` // csv, clickhouse, synthetic
	CSVDir    string   `yaml:"csv_dir"`
	DSN       string   `yaml:"dsn"`
	Database  string   `yaml:"database"`
	Table     string   `yaml:"table"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`
	Interval  string   `yaml:"interval"`
	ArrowDir  string   `yaml:"arrow_dir"` // when set, aligned frames are exported as Arrow IPC
	OutputDir string   `yaml:"output_dir"`
	Symbols   []string `yaml:"symbols"`
}

// Config is the whole params file.
type Config struct {
	Engine    engine.Config `yaml:"engine"`
	Execution broker.Config `yaml:"execution"`
	Risk      risk.Config   `yaml:"risk"`
	Routing   router.Config `yaml:"routing"`
	Data      Data          `yaml:"data"`
	Seed      int64         `yaml:"seed"`
	Stability int           `yaml:"stability_period"`
}

// Default returns the configuration used when no params file exists.
func Default() Config {
	return Config{
		Engine:    engine.DefaultConfig(),
		Execution: broker.DefaultConfig(),
		Risk:      risk.DefaultConfig(),
		Routing:   router.DefaultConfig(),
		Data: Data{
			Source:    "csv",
			CSVDir:    "data",
			DSN:       "clickhouse://default:@localhost:9000?secure=false&compress=lz4",
			Database:  "backtest",
			Table:     "data",
			User:      "backtest",
			Password:  "backtest123",
			Interval:  "1h",
			OutputDir: "output",
			Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		},
		Seed:      42,
		Stability: 3,
	}
}

// Load reads path if it exists, layering the file over the defaults. A
// missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
