// Package align resamples independently timestamped glucose and meal streams
// onto one 5-minute grid.
package align

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/okian/cgmrisk/internal/domain/grid"
	"github.com/okian/cgmrisk/internal/domain/model"
)

// DefaultMaxGap is the longest run of missing glucose slots that is filled by
// interpolation (two slots, ten minutes).
const DefaultMaxGap = 2

// Aligner builds GridRow tables. It holds no per-call state and is safe for
// concurrent use.
type Aligner struct {
	maxGap int
}

// Option applies a configuration option to the Aligner.
type Option func(*Aligner)

// WithMaxGap overrides the interpolation limit in grid slots.
func WithMaxGap(slots int) Option {
	return func(a *Aligner) {
		if slots >= 0 {
			a.maxGap = slots
		}
	}
}

// New creates an Aligner.
func New(opts ...Option) *Aligner {
	a := &Aligner{maxGap: DefaultMaxGap}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxGap returns the interpolation limit in grid slots.
func (a *Aligner) MaxGap() int { return a.maxGap }

// Align resamples glucose (slot mean, short-gap interpolation) and meals (slot
// sum, zero when absent) onto the grid spanning the glucose readings. Meals
// outside that span are dropped. Inputs are not modified.
func (a *Aligner) Align(glucose []model.GlucoseEvent, meals []model.MealEvent) ([]model.GridRow, error) {
	if len(glucose) == 0 {
		return nil, ErrNoGlucose
	}
	if err := validate(glucose, meals); err != nil {
		return nil, err
	}

	readings := slices.Clone(glucose)
	slices.SortStableFunc(readings, func(x, y model.GlucoseEvent) int {
		return x.Timestamp.Compare(y.Timestamp)
	})

	times := grid.Span(readings[0].Timestamp, readings[len(readings)-1].Timestamp)
	start, n := times[0], len(times)

	gts := make([]time.Time, len(readings))
	gvals := make([]float64, len(readings))
	for i, r := range readings {
		gts[i], gvals[i] = r.Timestamp, r.Value
	}
	glucoseCol := grid.Interpolate(grid.Resample(start, n, gts, gvals, grid.Mean), a.maxGap)

	carbsCol := make([]float64, n)
	if len(meals) > 0 {
		mts := make([]time.Time, len(meals))
		mvals := make([]float64, len(meals))
		for i, m := range meals {
			mts[i], mvals[i] = m.Timestamp, m.Carbs
		}
		carbsCol = grid.Resample(start, n, mts, mvals, grid.Sum)
	}

	rows := make([]model.GridRow, n)
	for i, t := range times {
		rows[i] = model.GridRow{Time: t, Glucose: glucoseCol[i], Carbs: carbsCol[i]}
	}
	return rows, nil
}

func validate(glucose []model.GlucoseEvent, meals []model.MealEvent) error {
	for i, g := range glucose {
		if g.Timestamp.IsZero() {
			return fmt.Errorf("%w: glucose event %d has no timestamp", ErrInvalidEvent, i)
		}
		if math.IsNaN(g.Value) || math.IsInf(g.Value, 0) {
			return fmt.Errorf("%w: glucose event %d has non-finite value", ErrInvalidEvent, i)
		}
	}
	for i, m := range meals {
		if m.Timestamp.IsZero() {
			return fmt.Errorf("%w: meal event %d has no timestamp", ErrInvalidEvent, i)
		}
		if math.IsNaN(m.Carbs) || math.IsInf(m.Carbs, 0) || m.Carbs < 0 {
			return fmt.Errorf("%w: meal event %d has invalid carbs %v", ErrInvalidEvent, i, m.Carbs)
		}
	}
	return nil
}
