// Package explain turns a risk prediction and its driving signals into a short
// coaching message.
package explain

import (
	"context"
	"fmt"
	"strconv"

	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/okian/cgmrisk/pkg/logger"
	"github.com/okian/cgmrisk/pkg/metrics"
)

// Signal carries the values an explanation is based on.
type Signal struct {
	RiskScore    float64
	Glucose      float64 // mg/dL
	Velocity     float64 // slope_15, mg/dL per minute
	CarbsOnBoard float64 // grams
	MealType     string
}

// Explainer produces a human-readable explanation for a Signal.
type Explainer interface {
	Explain(ctx context.Context, s Signal) (string, error)
}

// RuleExplainer is a deterministic explainer that never fails.
type RuleExplainer struct{}

// Explain implements Explainer.
func (RuleExplainer) Explain(_ context.Context, s Signal) (string, error) {
	return Rule(s), nil
}

// Rule returns the deterministic explanation for s.
func Rule(s Signal) string {
	if s.RiskScore > 0.5 {
		return fmt.Sprintf(
			"A glucose spike is likely due to the %sg of carbohydrates consumed and a current rising trend of %.1f mg/dL/min. Light physical activity may help moderate this rise.",
			strconv.FormatFloat(s.CarbsOnBoard, 'f', -1, 64), s.Velocity)
	}
	return "Glucose levels are currently within a stable physiological range."
}

// Fallback asks Primary first and answers with Rule when Primary returns an
// error or an empty text.
type Fallback struct {
	primary Explainer
	logger  logger.Logger
}

// FallbackOption applies a configuration option to Fallback.
type FallbackOption func(*Fallback)

// WithLogger sets the logger used to report primary failures.
func WithLogger(l logger.Logger) FallbackOption {
	return func(f *Fallback) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFallback wraps primary. A nil primary always yields the rule text.
func NewFallback(primary Explainer, opts ...FallbackOption) *Fallback {
	f := &Fallback{primary: primary, logger: logger.Get().Named("explain")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Explain implements Explainer. It never returns an error.
func (f *Fallback) Explain(ctx context.Context, s Signal) (string, error) {
	if f.primary == nil {
		return Rule(s), nil
	}
	text, err := f.primary.Explain(ctx, s)
	if err == nil && text != "" {
		return text, nil
	}
	if err == nil {
		err = ErrEmptyExplanation
	}
	metrics.RecordExplanationFallback()
	f.logger.Warn(ctx, "explanation backend failed; using rule text", logger.Error(err))
	return Rule(s), nil
}

// LatestMeal picks the meal context for an explanation: the most recent
// point's meal type, or when that is NoMeal the most recent logged meal in
// the window. Points must be in time order.
func LatestMeal(points []model.Point) string {
	if len(points) == 0 {
		return model.NoMeal
	}
	if mt := points[len(points)-1].MealType; mt != model.NoMeal && mt != "" {
		return mt
	}
	for i := len(points) - 1; i >= 0; i-- {
		if mt := points[i].MealType; mt != model.NoMeal && mt != "" {
			return mt
		}
	}
	return model.NoMeal
}
