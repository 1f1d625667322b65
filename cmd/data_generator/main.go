// Command data_generator writes deterministic synthetic OHLCV CSV files,
// one per symbol, in the layout run_backtest's csv source expects.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"regime-backtest/services/marketdata"
)

func main() {
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT", "comma-separated symbols")
	bars := flag.Int("bars", 2000, "bars per symbol")
	seed := flag.Int64("seed", 42, "rng seed")
	out := flag.String("out", "data", "output directory")
	start := flag.String("start", "2024-01-01", "first bar date")
	flag.Parse()

	startTime, err := time.Parse("2006-01-02", *start)
	if err != nil {
		fail(fmt.Errorf("parse -start: %w", err))
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		fail(err)
	}

	syms := strings.Split(*symbols, ",")
	for i := range syms {
		syms[i] = strings.TrimSpace(syms[i])
	}
	series := marketdata.GenerateAll(syms, *seed, startTime.UTC(), *bars)

	for _, sym := range syms {
		path := filepath.Join(*out, sym+".csv")
		f, err := os.Create(path)
		if err != nil {
			fail(err)
		}
		w := csv.NewWriter(f)
		w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"})
		for _, b := range series[sym] {
			w.Write([]string{
				strconv.FormatInt(b.Time.Unix(), 10),
				ff(b.Open), ff(b.High), ff(b.Low), ff(b.Close), ff(b.Volume),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			fail(err)
		}
		if err := f.Close(); err != nil {
			fail(err)
		}
		fmt.Printf("wrote %s (%d bars)\n", path, len(series[sym]))
	}
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
