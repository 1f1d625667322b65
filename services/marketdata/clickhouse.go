package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"regime-backtest/services/market"
)

// ClickHouseOptions locates the candle table.
type ClickHouseOptions struct {
	DSN      string
	Database string
	Table    string
	User     string
	Password string
}

// ClickHouseSource reads bars from a candle table keyed by
// (symbol, interval, ts) with open/high/low/close/volume columns.
type ClickHouseSource struct {
	opts ClickHouseOptions
	conn clickhouse.Conn
	log  *zap.Logger
}

func OpenClickHouse(ctx context.Context, opts ClickHouseOptions, log *zap.Logger) (*ClickHouseSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{dsnHost(opts.DSN)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &ClickHouseSource{opts: opts, conn: conn, log: log}, nil
}

func (s *ClickHouseSource) Close() error { return s.conn.Close() }

// Load pulls one symbol's bars for the given interval and range, ordered
// ascending.
func (s *ClickHouseSource) Load(ctx context.Context, symbol, interval string, from, to time.Time) ([]market.Bar, error) {
	q := fmt.Sprintf(`
SELECT ts, open, high, low, close, volume
FROM %s.%s
WHERE symbol = ? AND interval = ? AND ts >= ? AND ts < ?
ORDER BY ts ASC`, s.opts.Database, s.opts.Table)

	rows, err := s.conn.Query(ctx, q, symbol, interval, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles %s %s: %w", symbol, interval, err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var b market.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		b.Time = b.Time.UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	s.log.Info("loaded candles",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("bars", len(bars)))
	return bars, nil
}

// LoadAll fetches every requested symbol over the same range.
func (s *ClickHouseSource) LoadAll(ctx context.Context, symbols []string, interval string, from, to time.Time) (map[string][]market.Bar, error) {
	out := make(map[string][]market.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := s.Load(ctx, sym, interval, from, to)
		if err != nil {
			return nil, err
		}
		out[sym] = bars
	}
	return out, nil
}

// dsnHost extracts host:port from a DSN-like URL for driver bootstrap.
func dsnHost(dsn string) string {
	host := "localhost:9000"
	if i := strings.Index(dsn, "@"); i != -1 {
		rest := dsn[i+1:]
		if j := strings.Index(rest, "?"); j != -1 {
			host = rest[:j]
		} else {
			host = rest
		}
		host = strings.TrimPrefix(host, "/")
		host = strings.TrimPrefix(host, "//")
	}
	return host
}
