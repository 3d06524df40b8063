// Package grid holds the fixed 5-minute time axis and the window operations
// shared by the aligner and the feature engine.
package grid

import (
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/okian/cgmrisk/internal/domain/model"
)

// Step is the grid spacing.
const Step = 5 * time.Minute

// StepMinutes is Step expressed in minutes.
const StepMinutes = float64(Step / time.Minute)

// Bucket returns the start of the half-open, left-closed slot containing t.
func Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(Step)
}

// Span returns every slot start from Bucket(first) to Bucket(last), inclusive.
// It returns nil when last precedes first.
func Span(first, last time.Time) []time.Time {
	start, end := Bucket(first), Bucket(last)
	if end.Before(start) {
		return nil
	}
	n := int(end.Sub(start)/Step) + 1
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * Step)
	}
	return out
}

// Index returns the slot index of t on a grid of n slots starting at start.
// ok is false when t falls outside the grid.
func Index(start time.Time, n int, t time.Time) (idx int, ok bool) {
	b := Bucket(t)
	if b.Before(start) {
		return 0, false
	}
	idx = int(b.Sub(start) / Step)
	return idx, idx < n
}

// Regular reports whether times form a strictly increasing sequence with
// constant Step spacing.
func Regular(times []time.Time) bool {
	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) != Step {
			return false
		}
	}
	return true
}

// Aggregation selects how several observations in one slot are reduced.
type Aggregation int

const (
	// Mean averages observations; empty slots are missing.
	Mean Aggregation = iota
	// Sum adds observations; empty slots are zero.
	Sum
)

// Resample reduces (ts[i], vals[i]) observations onto n slots starting at
// start. Observations outside the grid are ignored.
func Resample(start time.Time, n int, ts []time.Time, vals []float64, agg Aggregation) []float64 {
	buckets := make([][]float64, n)
	for i, t := range ts {
		idx, ok := Index(start, n, t)
		if !ok {
			continue
		}
		buckets[idx] = append(buckets[idx], vals[i])
	}

	out := make([]float64, n)
	for i, b := range buckets {
		switch {
		case agg == Sum:
			out[i] = floats.Sum(b)
		case len(b) == 0:
			out[i] = model.Missing()
		default:
			out[i] = floats.Sum(b) / float64(len(b))
		}
	}
	return out
}
