package indicators

import (
	"math"
	"testing"
	"time"

	"regime-backtest/services/market"
)

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Fatal("warmup must be NaN")
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if math.Abs(got[i+2]-w) > 1e-9 {
			t.Fatalf("sma[%d]=%v want %v", i+2, got[i+2], w)
		}
	}
}

func TestEMAConverges(t *testing.T) {
	series := make([]float64, 200)
	for i := range series {
		series[i] = 50
	}
	got := EMA(series, 10)
	if math.Abs(got[199]-50) > 1e-9 {
		t.Fatalf("ema of constant series: %v", got[199])
	}
}

func TestATRWarmupAndPositive(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 30)
	for i := range bars {
		px := 100.0 + float64(i)
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: px, High: px + 2, Low: px - 2, Close: px}
	}
	atr := ATR(bars, 14)
	for i := 0; i < 13; i++ {
		if !math.IsNaN(atr[i]) {
			t.Fatalf("atr[%d] should be NaN warmup", i)
		}
	}
	if atr[29] <= 0 {
		t.Fatalf("atr must be positive: %v", atr[29])
	}
}

func TestBBandsSymmetry(t *testing.T) {
	series := []float64{10, 12, 11, 13, 12, 14, 13, 15, 14, 16, 15, 17, 16, 18, 17, 19, 18, 20, 19, 21, 20}
	upper, middle, lower := BBands(series, 20, 2.0)
	i := 20
	if math.IsNaN(upper[i]) || math.IsNaN(lower[i]) {
		t.Fatal("bands missing after warmup")
	}
	if math.Abs((upper[i]-middle[i])-(middle[i]-lower[i])) > 1e-9 {
		t.Fatal("bands must be symmetric around the middle")
	}
}

func TestRollingMaxExcludesCurrentBar(t *testing.T) {
	series := []float64{1, 2, 3, 100, 4}
	got := RollingMax(series, 2)
	// Index 3 looks at {2,3}: the spike at index 3 itself is excluded.
	if got[3] != 3 {
		t.Fatalf("rolling max leaked current bar: %v", got[3])
	}
	if got[4] != 100 {
		t.Fatalf("rolling max missed prior spike: %v", got[4])
	}
}

func TestEnrichAttachesStandardColumns(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 150)
	for i := range bars {
		px := 100.0 + float64(i%7)
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 1000}
	}
	f := market.NewFrame("BTC", bars)
	Enrich(f)
	for _, col := range []string{ColSMA10, ColSMA30, ColSMA120, ColATR14, ColADX14, ColBBUpper, ColBBMiddle, ColBBLower} {
		vals := f.Column(col)
		if vals == nil || len(vals) != f.Len() {
			t.Fatalf("column %s missing or wrong length", col)
		}
		if math.IsNaN(vals[149]) {
			t.Fatalf("column %s still NaN after warmup", col)
		}
	}
}
