package marketdata

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"regime-backtest/services/market"
)

// WriteFrameArrow serializes one aligned frame to Arrow IPC: the OHLCV
// columns plus every attached indicator column, timestamps as unix
// milliseconds.
func WriteFrameArrow(w io.Writer, f *market.Frame) error {
	n := len(f.Bars)

	cols := make([]string, 0, len(f.Columns))
	for name := range f.Columns {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	fields := []arrow.Field{
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	}
	for _, name := range cols {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64})
	}
	schema := arrow.NewSchema(fields, nil)

	pool := memory.NewGoAllocator()

	tsBuilder := array.NewUint64Builder(pool)
	defer tsBuilder.Release()
	for _, b := range f.Bars {
		tsBuilder.Append(uint64(b.Time.UnixMilli()))
	}

	floatCol := func(values []float64) arrow.Array {
		bld := array.NewFloat64Builder(pool)
		defer bld.Release()
		bld.AppendValues(values, nil)
		return bld.NewFloat64Array()
	}
	pick := func(get func(market.Bar) float64) []float64 {
		out := make([]float64, n)
		for i, b := range f.Bars {
			out[i] = get(b)
		}
		return out
	}

	arrays := []arrow.Array{
		tsBuilder.NewUint64Array(),
		floatCol(pick(func(b market.Bar) float64 { return b.Open })),
		floatCol(pick(func(b market.Bar) float64 { return b.High })),
		floatCol(pick(func(b market.Bar) float64 { return b.Low })),
		floatCol(pick(func(b market.Bar) float64 { return b.Close })),
		floatCol(pick(func(b market.Bar) float64 { return b.Volume })),
	}
	for _, name := range cols {
		arrays = append(arrays, floatCol(f.Columns[name]))
	}

	record := array.NewRecord(schema, arrays, int64(n))
	defer record.Release()
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer writer.Close()
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("write arrow record for %s: %w", f.Symbol, err)
	}
	return nil
}

// WriteFramesArrow exports every frame to <dir>/<SYMBOL>.arrow.
func WriteFramesArrow(dir string, frames map[string]*market.Frame) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create arrow dir: %w", err)
	}
	for sym, f := range frames {
		path := filepath.Join(dir, sym+".arrow")
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := WriteFrameArrow(out, f); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
	}
	return nil
}
