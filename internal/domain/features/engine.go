// Package features derives momentum, carbohydrate exposure and forward spike
// labels from an aligned 5-minute grid.
//
// Training and serving share one derivation path (derive); the modes differ
// only in labelling, row retention and the final missing-value fill.
package features

import (
	"fmt"
	"time"

	"github.com/okian/cgmrisk/internal/domain/grid"
	"github.com/okian/cgmrisk/internal/domain/model"
)

// Window lengths in grid slots.
const (
	Slope15Lag    = 3  // 15 minutes
	Slope60Lag    = 12 // 60 minutes
	CobWindow     = 24 // 2 hours, inclusive of the current slot
	HorizonWindow = 24 // 2 hours, strictly after the current slot
)

// DefaultSpikeThreshold is the default label threshold in mg/dL.
const DefaultSpikeThreshold = 180.0

// Mode selects training or serving behaviour.
type Mode int

const (
	// Training labels rows and drops those without label, slope_60 or cob_2h.
	Training Mode = iota
	// Serving keeps every row and fills remaining missing values with zero.
	Serving
)

func (m Mode) String() string {
	switch m {
	case Training:
		return "training"
	case Serving:
		return "serving"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Engine is stateless apart from its threshold and safe for concurrent use.
type Engine struct {
	threshold float64
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithSpikeThreshold sets the future-maximum threshold for a positive label.
func WithSpikeThreshold(threshold float64) Option {
	return func(e *Engine) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{threshold: DefaultSpikeThreshold}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the configured spike threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Engineer derives one FeatureRow per grid row. rows must be regular
// (constant 5-minute spacing); ErrIrregularGrid is returned otherwise.
func (e *Engine) Engineer(rows []model.GridRow, mode Mode) ([]model.FeatureRow, error) {
	if err := checkRegular(rows); err != nil {
		return nil, err
	}

	out := derive(rows)

	switch mode {
	case Training:
		return e.label(rows, out), nil
	case Serving:
		return fill(out), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMode, mode)
	}
}

// Latest returns the serving feature vector for the most recent grid row.
func (e *Engine) Latest(rows []model.GridRow) (model.FeatureVector, error) {
	if len(rows) == 0 {
		return model.FeatureVector{}, ErrEmptyInput
	}
	out, err := e.Engineer(rows, Serving)
	if err != nil {
		return model.FeatureVector{}, err
	}
	return out[len(out)-1].Vector(), nil
}

// derive computes slope_15, slope_60 and cob_2h on the raw grid values.
func derive(rows []model.GridRow) []model.FeatureRow {
	glucose := make([]float64, len(rows))
	carbs := make([]float64, len(rows))
	for i, r := range rows {
		glucose[i], carbs[i] = r.Glucose, r.Carbs
	}

	slope15 := grid.Diff(glucose, Slope15Lag)
	slope60 := grid.Diff(glucose, Slope60Lag)
	cob := grid.RollingSum(carbs, CobWindow)

	out := make([]model.FeatureRow, len(rows))
	for i, r := range rows {
		out[i] = model.FeatureRow{
			GridRow:   r,
			Slope15:   slope15[i] / (Slope15Lag * grid.StepMinutes),
			Slope60:   slope60[i] / (Slope60Lag * grid.StepMinutes),
			Cob2h:     cob[i],
			FutureMax: model.Missing(),
		}
	}
	return out
}

// label attaches future_max and target and keeps rows where target, slope_60
// and cob_2h are defined.
func (e *Engine) label(rows []model.GridRow, derived []model.FeatureRow) []model.FeatureRow {
	glucose := make([]float64, len(rows))
	for i, r := range rows {
		glucose[i] = r.Glucose
	}
	future := grid.ForwardMax(glucose, HorizonWindow)

	kept := make([]model.FeatureRow, 0, len(derived))
	for i, r := range derived {
		if model.IsMissing(future[i]) || model.IsMissing(r.Slope60) || model.IsMissing(r.Cob2h) {
			continue
		}
		r.FutureMax = future[i]
		r.Labeled = true
		if future[i] > e.threshold {
			r.Target = 1
		}
		kept = append(kept, r)
	}
	return kept
}

// fill replaces every remaining missing value with zero.
func fill(derived []model.FeatureRow) []model.FeatureRow {
	for i := range derived {
		r := &derived[i]
		v := grid.Fill([]float64{r.Glucose, r.Slope15, r.Slope60, r.Cob2h, r.FutureMax}, 0)
		r.Glucose, r.Slope15, r.Slope60, r.Cob2h, r.FutureMax = v[0], v[1], v[2], v[3], v[4]
	}
	return derived
}

func checkRegular(rows []model.GridRow) error {
	times := make([]time.Time, len(rows))
	for i, r := range rows {
		times[i] = r.Time
	}
	if !grid.Regular(times) {
		return fmt.Errorf("%w: rows are not spaced %s apart", ErrIrregularGrid, grid.Step)
	}
	return nil
}
