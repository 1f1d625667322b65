package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AlignmentError is fatal to a run: no shared time axis could be built.
// The message carries each instrument's observed range for diagnosis.
type AlignmentError struct {
	Ranges map[string]string
}

func (e *AlignmentError) Error() string {
	parts := make([]string, 0, len(e.Ranges))
	syms := make([]string, 0, len(e.Ranges))
	for s := range e.Ranges {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		parts = append(parts, fmt.Sprintf("%s: %s", s, e.Ranges[s]))
	}
	return "no common time axis across instruments (" + strings.Join(parts, "; ") + ")"
}

// Align builds the master time axis as the intersection of native
// timestamps across all series and reindexes each series onto it, forward
// then backward filling gaps. When native timestamps do not intersect and
// every series looks daily-or-slower, it retries at calendar-date
// granularity (last bar of each date). Otherwise the run fails.
func Align(series map[string][]Bar) (axis []time.Time, frames map[string]*Frame, err error) {
	if len(series) == 0 {
		return nil, nil, &AlignmentError{Ranges: map[string]string{}}
	}

	normalized := make(map[string][]Bar, len(series))
	for sym, bars := range series {
		nb := Normalize(bars)
		if len(nb) == 0 {
			continue
		}
		normalized[sym] = nb
	}
	if len(normalized) == 0 {
		return nil, nil, &AlignmentError{Ranges: map[string]string{}}
	}

	axis = intersectTimes(normalized)
	if len(axis) == 0 && looksDailyOrSlower(normalized) {
		remapped := make(map[string][]Bar, len(normalized))
		for sym, bars := range normalized {
			remapped[sym] = lastBarPerDate(bars)
		}
		if dateAxis := intersectTimes(remapped); len(dateAxis) > 0 {
			normalized = remapped
			axis = dateAxis
		}
	}
	if len(axis) == 0 {
		ranges := make(map[string]string, len(normalized))
		for sym, bars := range normalized {
			ranges[sym] = fmt.Sprintf("%s -> %s (%d bars)",
				bars[0].Time.Format(time.RFC3339),
				bars[len(bars)-1].Time.Format(time.RFC3339),
				len(bars))
		}
		return nil, nil, &AlignmentError{Ranges: ranges}
	}

	frames = make(map[string]*Frame, len(normalized))
	for sym, bars := range normalized {
		frames[sym] = NewFrame(sym, reindex(bars, axis))
	}
	return axis, frames, nil
}

func intersectTimes(series map[string][]Bar) []time.Time {
	counts := make(map[time.Time]int)
	for _, bars := range series {
		for _, b := range bars {
			counts[b.Time]++
		}
	}
	var axis []time.Time
	for ts, n := range counts {
		if n == len(series) {
			axis = append(axis, ts)
		}
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i].Before(axis[j]) })
	return axis
}

// looksDailyOrSlower reports whether every series' median bar gap is at
// least 23 hours, the heuristic gating the calendar-date fallback.
func looksDailyOrSlower(series map[string][]Bar) bool {
	for _, bars := range series {
		if len(bars) < 2 {
			continue
		}
		gaps := make([]time.Duration, 0, len(bars)-1)
		for i := 1; i < len(bars); i++ {
			gaps = append(gaps, bars[i].Time.Sub(bars[i-1].Time))
		}
		sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
		if gaps[len(gaps)/2] < 23*time.Hour {
			return false
		}
	}
	return true
}

// lastBarPerDate collapses a series to one bar per UTC calendar date,
// keeping the last bar and stamping it at midnight.
func lastBarPerDate(bars []Bar) []Bar {
	var out []Bar
	for _, b := range bars {
		day := time.Date(b.Time.Year(), b.Time.Month(), b.Time.Day(), 0, 0, 0, 0, time.UTC)
		nb := b
		nb.Time = day
		if n := len(out); n > 0 && out[n-1].Time.Equal(day) {
			out[n-1] = nb
			continue
		}
		out = append(out, nb)
	}
	return out
}

// reindex projects bars onto the axis, forward filling missing timestamps
// and backfilling any leading gap from the first available bar.
func reindex(bars []Bar, axis []time.Time) []Bar {
	out := make([]Bar, len(axis))
	j := 0
	var last *Bar
	for i, ts := range axis {
		for j < len(bars) && !bars[j].Time.After(ts) {
			last = &bars[j]
			j++
		}
		if last != nil {
			out[i] = *last
			out[i].Time = ts
		} else {
			out[i] = bars[0] // leading gap: backfill
			out[i].Time = ts
		}
	}
	return out
}
