package app

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/okian/cgmrisk/internal/config"
	"github.com/okian/cgmrisk/internal/domain/align"
	"github.com/okian/cgmrisk/internal/domain/explain"
	"github.com/okian/cgmrisk/internal/domain/features"
	"github.com/okian/cgmrisk/internal/domain/grid"
	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/okian/cgmrisk/internal/domain/risk"
	"github.com/okian/cgmrisk/pkg/logger"
	"github.com/okian/cgmrisk/pkg/metrics"
)

const defaultMinHistory = 60 * time.Minute

// Prediction outcomes and rejection reasons reported to metrics.
const (
	outcomeOK       = "ok"
	outcomeDegraded = "degraded"
	outcomeError    = "error"

	reasonInvalid      = "invalid_request"
	reasonShortHistory = "insufficient_history"
)

// Request is one serving call.
type Request struct {
	UserID string
	Points []model.Point
}

// Prediction is the result of a serving call.
type Prediction struct {
	RequestID      string
	UserID         string
	WillSpike      bool
	RiskScore      float64 // rounded to two decimals
	Explanation    string
	Degraded       bool
	HistoryMinutes float64
	MealType       string
	Features       model.FeatureVector
}

// Predictor turns recent points into a spike risk prediction.
type Predictor struct {
	classifier    risk.Classifier
	explainer     explain.Explainer
	aligner       *align.Aligner
	engine        *features.Engine
	historyPolicy string
	minHistory    time.Duration
	newID         func() string
	logger        logger.Logger
}

// PredictorOption applies a configuration option to the Predictor.
type PredictorOption func(*Predictor)

// WithHistoryPolicy selects config.HistoryPolicyReject or config.HistoryPolicyDegrade.
func WithHistoryPolicy(policy string) PredictorOption {
	return func(p *Predictor) {
		if policy == config.HistoryPolicyReject || policy == config.HistoryPolicyDegrade {
			p.historyPolicy = policy
		}
	}
}

// WithMinHistory sets the minimum span a request must cover.
func WithMinHistory(d time.Duration) PredictorOption {
	return func(p *Predictor) {
		if d >= 0 {
			p.minHistory = d
		}
	}
}

// WithExplainer sets the explanation backend. It is wrapped in
// explain.Fallback unless it already is one; without it the rule text is used.
func WithExplainer(e explain.Explainer) PredictorOption {
	return func(p *Predictor) {
		if e != nil {
			p.explainer = e
		}
	}
}

// WithEngine replaces the feature engine.
func WithEngine(e *features.Engine) PredictorOption {
	return func(p *Predictor) {
		if e != nil {
			p.engine = e
		}
	}
}

// WithRequestIDs sets the request id generator.
func WithRequestIDs(fn func() string) PredictorOption {
	return func(p *Predictor) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithPredictorLogger sets the predictor logger.
func WithPredictorLogger(l logger.Logger) PredictorOption {
	return func(p *Predictor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPredictor creates a Predictor around classifier.
func NewPredictor(classifier risk.Classifier, opts ...PredictorOption) *Predictor {
	p := &Predictor{
		classifier:    classifier,
		aligner:       align.New(),
		engine:        features.New(),
		historyPolicy: config.HistoryPolicyReject,
		minHistory:    defaultMinHistory,
		newID:         uuid.NewString,
		logger:        logger.Get().Named("predictor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, ok := p.explainer.(*explain.Fallback); !ok {
		p.explainer = explain.NewFallback(p.explainer, explain.WithLogger(p.logger))
	}
	return p
}

// Predict validates req, gates it on history, engineers the latest feature
// vector, scores it and explains the result.
func (p *Predictor) Predict(ctx context.Context, req Request) (Prediction, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPredictionLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := validateRequest(req); err != nil {
		metrics.RecordPredictionRejection(reasonInvalid)
		return Prediction{}, err
	}

	points := slices.Clone(req.Points)
	slices.SortStableFunc(points, func(a, b model.Point) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	span := points[len(points)-1].Timestamp.Sub(points[0].Timestamp)
	minutes := span.Minutes()
	degraded := false
	if span < p.minHistory {
		if p.historyPolicy == config.HistoryPolicyReject {
			metrics.RecordPredictionRejection(reasonShortHistory)
			return Prediction{}, fmt.Errorf("%w: data covers %g mins, need at least %g mins",
				ErrInsufficientHistory, minutes, p.minHistory.Minutes())
		}
		degraded = true
	}

	glucose := make([]model.GlucoseEvent, 0, len(points))
	var meals []model.MealEvent
	for _, pt := range p.lookback(points) {
		glucose = append(glucose, model.GlucoseEvent{Timestamp: pt.Timestamp, Value: pt.Glucose})
		if pt.Carbs > 0 {
			meals = append(meals, model.MealEvent{Timestamp: pt.Timestamp, Carbs: pt.Carbs, MealType: pt.MealType})
		}
	}

	rows, err := p.aligner.Align(glucose, meals)
	if err != nil {
		metrics.RecordPrediction(outcomeError)
		return Prediction{}, fmt.Errorf("align: %w", err)
	}
	vec, err := p.engine.Latest(rows)
	if err != nil {
		metrics.RecordPrediction(outcomeError)
		return Prediction{}, fmt.Errorf("engineer: %w", err)
	}
	score, err := p.classifier.PredictProba(ctx, vec)
	if err != nil {
		metrics.RecordPrediction(outcomeError)
		return Prediction{}, fmt.Errorf("classify: %w", err)
	}

	meal := explain.LatestMeal(points)
	signal := explain.Signal{
		RiskScore:    score,
		Glucose:      vec.Glucose,
		Velocity:     vec.Slope15,
		CarbsOnBoard: vec.Cob2h,
		MealType:     meal,
	}
	text, err := p.explainer.Explain(ctx, signal)
	if err != nil {
		metrics.RecordPrediction(outcomeError)
		return Prediction{}, fmt.Errorf("explain: %w", err)
	}

	outcome := outcomeOK
	if degraded {
		outcome = outcomeDegraded
	}
	metrics.RecordPrediction(outcome)
	metrics.RecordRiskScore(score)

	pred := Prediction{
		RequestID:      p.newID(),
		UserID:         req.UserID,
		WillSpike:      risk.IsSpike(score),
		RiskScore:      math.Round(score*100) / 100,
		Explanation:    text,
		Degraded:       degraded,
		HistoryMinutes: minutes,
		MealType:       meal,
		Features:       vec,
	}
	p.logger.Debug(ctx, "prediction served",
		logger.String("request_id", pred.RequestID),
		logger.String("user_id", pred.UserID),
		logger.Float64("risk_score", score),
		logger.Bool("degraded", degraded))
	return pred, nil
}

// lookback drops points that cannot influence the latest feature vector:
// anything before the cob_2h window plus one interpolation run. It bounds
// the grid to a fixed size however far apart the request timestamps are.
func (p *Predictor) lookback(points []model.Point) []model.Point {
	slots := features.CobWindow + p.aligner.MaxGap() + 1
	cutoff := grid.Bucket(points[len(points)-1].Timestamp).Add(-time.Duration(slots) * grid.Step)
	i, _ := slices.BinarySearchFunc(points, cutoff, func(pt model.Point, t time.Time) int {
		return pt.Timestamp.Compare(t)
	})
	return points[i:]
}

func validateRequest(req Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if len(req.Points) == 0 {
		return fmt.Errorf("%w: recent_data must not be empty", ErrInvalidRequest)
	}
	for i, pt := range req.Points {
		switch {
		case pt.Timestamp.IsZero():
			return fmt.Errorf("%w: recent_data[%d]: timestamp is required", ErrInvalidRequest, i)
		case math.IsNaN(pt.Glucose) || math.IsInf(pt.Glucose, 0):
			return fmt.Errorf("%w: recent_data[%d]: glucose must be finite", ErrInvalidRequest, i)
		case math.IsNaN(pt.Carbs) || math.IsInf(pt.Carbs, 0) || pt.Carbs < 0:
			return fmt.Errorf("%w: recent_data[%d]: carbs must be a non-negative number", ErrInvalidRequest, i)
		}
	}
	return nil
}
