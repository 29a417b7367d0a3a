package stats

import (
	"math"
	"sort"
)

// Stats is the aggregate of one latency series, in seconds.
// Valid is false for an empty series and every other field is then zero.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	Valid  bool    `json:"valid"`
}

// Compute aggregates a series. The input is not modified.
//
// Percentiles use nearest rank without interpolation: sorted[floor(q*n)],
// clamped to the last element. StdDev is the sample deviation (n-1) and is 0
// for a single sample.
func Compute(series []float64) Stats {
	n := len(series)
	if n == 0 {
		return Stats{}
	}

	sorted := make([]float64, n)
	copy(sorted, series)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var stddev float64
	if n > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - mean
			sq += d * d
		}
		stddev = math.Sqrt(sq / float64(n-1))
	}

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return Stats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   mean,
		Median: median,
		StdDev: stddev,
		P95:    nearestRank(sorted, 0.95),
		P99:    nearestRank(sorted, 0.99),
		Valid:  true,
	}
}

func nearestRank(sorted []float64, q float64) float64 {
	idx := int(math.Floor(q * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
