package stats

import (
	"sort"

	"github.com/sentinelcam/sentinel/pkg/gen"
)

// Returns (mean, variance) of the given samples.
func MeanVar[T gen.Float | gen.Integer](samples []T) (float64, float64) {
	mean := Mean(samples)
	variance := Variance(samples, mean)
	return mean, variance
}

// Returns the mean of the given samples.
func Mean[T gen.Float | gen.Integer](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}

// Returns the variance of the given samples.
func Variance[T gen.Float | gen.Integer](samples []T, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		diff := float64(v) - mean
		sum += diff * diff
	}
	return sum / float64(len(samples))
}

// Returns the median of the given samples.
func Median[T gen.Float | gen.Integer](samples []T) float64 {
	return Percentile(samples, 50)
}

// Percentile returns the pct'th percentile (0..100) of the given samples,
// using linear interpolation between the two closest ranks.
func Percentile[T gen.Float | gen.Integer](samples []T, pct float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	for i, v := range samples {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	rank := pct / 100 * float64(len(sorted)-1)
	lower := int(rank)
	upper := gen.Min(lower+1, len(sorted)-1)
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Returns the mode and count of the most frequent element in the given samples.
func Mode[T comparable](src []T) (mode T, count int) {
	counts := make(map[T]int)
	for _, v := range src {
		counts[v]++
	}
	for k, v := range counts {
		if v > count {
			mode = k
			count = v
		}
	}
	return
}
