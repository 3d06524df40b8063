package grid

import (
	"gonum.org/v1/gonum/floats"

	"github.com/okian/cgmrisk/internal/domain/model"
)

// Interpolate fills interior runs of at most limit missing values by linear
// interpolation between the defined neighbours. Longer runs and runs touching
// either end of the series stay missing. xs is not modified.
func Interpolate(xs []float64, limit int) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)

	prev := -1
	for i, v := range out {
		if model.IsMissing(v) {
			continue
		}
		gap := i - prev - 1
		if prev >= 0 && gap > 0 && gap <= limit {
			lo, hi := out[prev], v
			for j := prev + 1; j < i; j++ {
				frac := float64(j-prev) / float64(i-prev)
				out[j] = lo + (hi-lo)*frac
			}
		}
		prev = i
	}
	return out
}

// Diff returns xs[i] - xs[i-lag]; the first lag entries and any entry with a
// missing endpoint are missing.
func Diff(xs []float64, lag int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if i < lag {
			out[i] = model.Missing()
			continue
		}
		out[i] = xs[i] - xs[i-lag] // NaN propagates
	}
	return out
}

// RollingSum sums the trailing window ending at each index, inclusive. Windows
// shorter than window at the series start are summed over what is available.
// Missing values are skipped; a window with no defined value is missing.
func RollingSum(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		lo := max(0, i-window+1)
		w := xs[lo : i+1]
		if !floats.HasNaN(w) {
			out[i] = floats.Sum(w)
			continue
		}
		sum, seen := 0.0, false
		for _, v := range w {
			if !model.IsMissing(v) {
				sum += v
				seen = true
			}
		}
		if !seen {
			out[i] = model.Missing()
			continue
		}
		out[i] = sum
	}
	return out
}

// ForwardMax returns the maximum of the window strictly after each index.
// An index without a full forward window, or whose window contains a missing
// value, is missing.
func ForwardMax(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if window < 1 || i+window >= len(xs) {
			out[i] = model.Missing()
			continue
		}
		w := xs[i+1 : i+window+1]
		if floats.HasNaN(w) {
			out[i] = model.Missing()
			continue
		}
		out[i] = floats.Max(w)
	}
	return out
}

// Fill returns xs with missing values replaced by v.
func Fill(xs []float64, v float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		if model.IsMissing(x) {
			out[i] = v
			continue
		}
		out[i] = x
	}
	return out
}
