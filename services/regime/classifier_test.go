package regime

import (
	"testing"
	"time"

	"regime-backtest/services/market"
)

// frameWithRaw builds a frame whose raw labels follow the given sequence
// by manufacturing close/SMA pairs: 'U' up, 'D' down, 'S' sideways.
func frameWithRaw(pattern string) *market.Frame {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(pattern))
	sma := make([]float64, len(pattern))
	level := 100.0
	for i, ch := range pattern {
		switch ch {
		case 'U':
			level += 1 // rising average, close above
			bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Close: level + 10}
		case 'D':
			level -= 1
			bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Close: level - 10}
		default:
			// flat average: slope 0 -> sideways regardless of close
			bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Close: level}
		}
		sma[i] = level
	}
	f := market.NewFrame("TEST", bars)
	f.SetColumn(TrendColumn, sma)
	return f
}

func TestRawLabels(t *testing.T) {
	c := NewClassifier(1)
	f := frameWithRaw("SUUDD")
	got := c.rawSeries(f)
	want := []Regime{Sideways, TrendUp, TrendUp, TrendDown, TrendDown}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bar %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestHysteresisShortStreakNeverStabilizes(t *testing.T) {
	c := NewClassifier(3)
	// Two-bar up streaks broken by sideways: stable must stay Sideways.
	f := frameWithRaw("SUUSUUSUU")
	series := c.Series(f)
	for i, r := range series {
		if r != Sideways {
			t.Fatalf("bar %d stabilized to %v on a 2-bar streak", i, r)
		}
	}
}

func TestHysteresisSwitchesAtStreakEnd(t *testing.T) {
	c := NewClassifier(3)
	f := frameWithRaw("SUUUUU")
	series := c.Series(f)

	// Streak starts at bar 1; third consecutive up bar is index 3.
	want := []Regime{Sideways, Sideways, Sideways, TrendUp, TrendUp, TrendUp}
	for i := range want {
		if series[i] != want[i] {
			t.Fatalf("bar %d: got %v want %v", i, series[i], want[i])
		}
	}
}

func TestBarZeroIsSideways(t *testing.T) {
	c := NewClassifier(3)
	f := frameWithRaw("UUUUU")
	if c.Label(f, 0) != Sideways {
		t.Fatal("bar 0 stable regime must initialize to Sideways")
	}
}

func TestLabelMemoized(t *testing.T) {
	c := NewClassifier(3)
	f := frameWithRaw("SUUUU")
	_ = c.Label(f, 4)
	if _, ok := c.memo["TEST"]; !ok {
		t.Fatal("series not memoized after Label")
	}
	// Mutating the memo proves subsequent lookups hit the cache.
	c.memo["TEST"][2] = Volatile
	if c.Label(f, 2) != Volatile {
		t.Fatal("Label recomputed instead of using the cache")
	}
}
