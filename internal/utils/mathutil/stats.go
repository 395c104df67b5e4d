// Package mathutil holds the column statistics shared by the pipeline stages.
package mathutil

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Present returns the non-NaN values of x in order.
func Present(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Sorted returns a sorted copy of the non-NaN values of x.
func Sorted(x []float64) []float64 {
	cp := Present(x)
	sort.Float64s(cp)
	return cp
}

// Mean ignores NaN cells and returns NaN when none are present.
func Mean(x []float64) float64 {
	p := Present(x)
	if len(p) == 0 {
		return math.NaN()
	}
	return stat.Mean(p, nil)
}

// Median ignores NaN cells and averages the middle pair for even counts.
func Median(x []float64) float64 {
	cp := Sorted(x)
	n := len(cp)
	if n == 0 {
		return math.NaN()
	}
	mid := n >> 1
	if n&1 == 0 {
		return (cp[mid-1] + cp[mid]) * 0.5
	}
	return cp[mid]
}

// Percentile returns the p-th percentile (0 <= p <= 100) with linear
// interpolation between closest ranks, ignoring NaN cells.
func Percentile(x []float64, p float64) float64 {
	cp := Sorted(x)
	n := len(cp)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return cp[0]
	}
	if p >= 100 {
		return cp[n-1]
	}
	rank := p / 100 * float64(n-1)
	lower := int(rank)
	upper := lower + 1
	weight := rank - float64(lower)
	if upper >= n {
		return cp[lower]
	}
	return cp[lower]*(1-weight) + cp[upper]*weight
}

// EmpiricalQuantile returns the sample value at quantile q (0 < q <= 1) of the
// non-NaN cells. The result is always one of the inputs.
func EmpiricalQuantile(x []float64, q float64) float64 {
	cp := Sorted(x)
	if len(cp) == 0 {
		return math.NaN()
	}
	return stat.Quantile(q, stat.Empirical, cp, nil)
}

// ModeFloat returns the most frequent non-NaN value, preferring the smallest on
// ties.
func ModeFloat(x []float64) (float64, bool) {
	counts := make(map[float64]int)
	for _, v := range x {
		if !math.IsNaN(v) {
			counts[v]++
		}
	}
	best, bestCount := 0.0, 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best, bestCount > 0
}

// ModeString returns the most frequent non-empty value, preferring the
// lexically smallest on ties.
func ModeString(x []string) (string, bool) {
	counts := make(map[string]int)
	for _, v := range x {
		if v != "" {
			counts[v]++
		}
	}
	best, bestCount := "", 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best, bestCount > 0
}
