// Package marketdata acquires OHLCV bars: CSV files (BOM and UTF-16
// tolerant), a ClickHouse candle table, and a seeded synthetic generator.
// It also exports aligned frames as Arrow IPC.
package marketdata

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"regime-backtest/services/market"
)

// LoadCSV reads one instrument's bars from a csv exported by common chart
// tools: header optional, fields timestamp,open,high,low,close,volume.
// UTF-16 files (Excel exports) and UTF-8 BOMs are handled transparently.
func LoadCSV(path string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader, err := decodedReader(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var bars []market.Bar
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "\ufeff")
		line = strings.ReplaceAll(line, "\"", "")

		fields := strings.Split(line, ",")
		if len(fields) < 6 {
			return nil, fmt.Errorf("%s:%d: want 6 fields, got %d", path, lineNo, len(fields))
		}
		ts, err := parseTimestamp(strings.TrimSpace(fields[0]))
		if err != nil {
			if lineNo == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}

		var vals [5]float64
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d field %d: %w", path, lineNo, j+1, err)
			}
			vals[j] = v
		}
		bars = append(bars, market.Bar{
			Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return bars, nil
}

// LoadCSVDir loads <dir>/<SYMBOL>.csv for each requested symbol.
func LoadCSVDir(dir string, symbols []string) (map[string][]market.Bar, error) {
	out := make(map[string][]market.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := LoadCSV(filepath.Join(dir, sym+".csv"))
		if err != nil {
			return nil, err
		}
		out[sym] = bars
	}
	return out, nil
}

// decodedReader sniffs a UTF-16 BOM and wraps the stream in a decoder
// when present.
func decodedReader(f *os.File) (io.Reader, error) {
	br := bufio.NewReader(f)
	head, _ := br.Peek(2)
	if len(head) >= 2 && ((head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF)) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		endian := unicode.LittleEndian
		if head[0] == 0xFE {
			endian = unicode.BigEndian
		}
		return transform.NewReader(f, unicode.UTF16(endian, unicode.ExpectBOM).NewDecoder()), nil
	}
	return br, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts unix seconds, unix milliseconds, and the common
// textual layouts.
func parseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 { // milliseconds
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
