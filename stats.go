package cputrace

import (
	"fmt"
	"sort"

	"github.com/zyedidia/cputrace/pkg/hwcounter"
)

// Stats is a copy of one anchor's statistics.
type Stats struct {
	Index int
	Name  string
	Calls uint64
	// Sums holds one running total per metric slot.
	Sums hwcounter.Measurement
	// Metrics is the set of metrics committed at least once since the last
	// reset; other slots of Sums are zero.
	Metrics Flags
	// Errors counts scopes whose counters failed to open or read.
	Errors uint64
	// Dropped counts samples lost to a full fixed-size arena.
	Dropped uint64
	Samples []Sample
}

// Average returns the mean value of metric m per call, or 0 if the anchor
// has no calls.
func (s Stats) Average(m hwcounter.Metric) float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Sums[m]) / float64(s.Calls)
}

// SortStats orders stats by key: "index" or "name" ascending, "calls" or a
// metric name by descending value. reverse flips the order.
func SortStats(stats []Stats, key string, reverse bool) error {
	var less func(a, b Stats) bool
	switch key {
	case "", "index":
		less = func(a, b Stats) bool { return a.Index > b.Index }
	case "name":
		less = func(a, b Stats) bool { return a.Name > b.Name }
	case "calls":
		less = func(a, b Stats) bool { return a.Calls < b.Calls }
	default:
		m, err := hwcounter.ParseMetric(key)
		if err != nil {
			return fmt.Errorf("invalid sort key: %w", err)
		}
		less = func(a, b Stats) bool { return a.Sums[m] < b.Sums[m] }
	}

	sort.SliceStable(stats, func(i, j int) bool {
		if reverse {
			return less(stats[i], stats[j])
		}
		return less(stats[j], stats[i])
	})
	return nil
}
