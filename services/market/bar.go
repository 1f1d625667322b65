// Package market holds the bar/frame data model shared by the simulation
// kernel: normalized OHLCV series and the aligned columnar frame produced
// by the data pre-pass.
package market

import (
	"math"
	"sort"
	"time"
)

// Bar is one OHLCV sample. Immutable once produced.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Frame is the aligned per-instrument table fed into the kernel: bars on
// the master time axis plus named indicator columns. Columns are attached
// by the indicator pre-pass and read-only afterwards.
//
// Offset is the sequence number of Bars[0] on the instrument's full
// timeline. It stays zero for backtests; a rolling live buffer that has
// dropped its oldest bars sets it so Seq keeps counting monotonically.
type Frame struct {
	Symbol  string
	Bars    []Bar
	Columns map[string][]float64
	Offset  int
}

func NewFrame(symbol string, bars []Bar) *Frame {
	return &Frame{Symbol: symbol, Bars: bars, Columns: make(map[string][]float64)}
}

func (f *Frame) Len() int { return len(f.Bars) }

// Seq maps a buffer index to the bar's timeline sequence number. Cooldown
// windows and entry-bar bookkeeping compare Seq values, never raw buffer
// indices, so they survive the front of a rolling buffer being trimmed.
func (f *Frame) Seq(i int) int { return f.Offset + i }

// Column returns the named indicator series, or nil if absent.
func (f *Frame) Column(name string) []float64 { return f.Columns[name] }

// SetColumn attaches an indicator series. The slice length must match the
// bar count.
func (f *Frame) SetColumn(name string, values []float64) {
	f.Columns[name] = values
}

// At returns the column value at index i, NaN when the column is missing
// or not yet warmed up.
func (f *Frame) At(name string, i int) float64 {
	col := f.Columns[name]
	if col == nil || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// Normalize sorts bars ascending, converts timestamps to UTC, and drops
// duplicate timestamps keeping the last occurrence.
func Normalize(bars []Bar) []Bar {
	if len(bars) == 0 {
		return nil
	}
	out := make([]Bar, len(bars))
	copy(out, bars)
	for i := range out {
		out[i].Time = out[i].Time.UTC()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Time.Equal(b.Time) {
			dedup[n-1] = b // keep last
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

// Resample aggregates bars into a larger interval: open=first, high=max,
// low=min, close=last, volume=sum. The bucket label is the right edge, so
// a bar stamped 04:00 covers data ending at 04:00.
func Resample(bars []Bar, interval time.Duration) []Bar {
	if len(bars) == 0 || interval <= 0 {
		return nil
	}
	var out []Bar
	var cur *Bar
	var curEnd time.Time

	for _, b := range bars {
		end := b.Time.Truncate(interval)
		if end.Before(b.Time) {
			end = end.Add(interval)
		}
		if cur == nil || !end.Equal(curEnd) {
			if cur != nil {
				out = append(out, *cur)
			}
			nb := b
			nb.Time = end
			cur = &nb
			curEnd = end
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}
