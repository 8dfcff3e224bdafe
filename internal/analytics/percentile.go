package analytics

import (
	"math"
	"sort"
)

// Percentile returns the rank-based percentile of current within history,
// as a value in [0, 100] rounded to two decimal places.
//
// Non-numeric (NaN) entries are discarded. An empty history yields the
// neutral 50.0 so that indices with insufficient data are not reported as
// extreme. Ties with current count as at-or-below (right-side rank), which
// matters for thinly traded indices where the same close repeats.
func Percentile(current float64, history []float64) float64 {
	values := make([]float64, 0, len(history))
	for _, v := range history {
		if math.IsNaN(v) {
			continue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return 50.0
	}

	sort.Stable(sort.Float64Slice(values))

	// Right-side insertion point: first index whose value exceeds current.
	rank := sort.Search(len(values), func(i int) bool {
		return values[i] > current
	})

	return round2(float64(rank) / float64(len(values)) * 100)
}

// TemperatureStatus bands a percentile into low/medium/high against the
// configured thresholds.
func TemperatureStatus(percentile, low, high float64) string {
	switch {
	case percentile < low:
		return "low"
	case percentile > high:
		return "high"
	default:
		return "medium"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
