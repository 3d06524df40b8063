// Package risk defines the classifier contract consumed by the serving path
// and a logistic-regression artifact reader.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/okian/cgmrisk/internal/domain/model"
)

// SpikeCutoff is the probability above which a prediction is reported as a spike.
const SpikeCutoff = 0.5

// Classifier turns a feature vector into a spike probability in [0, 1].
type Classifier interface {
	PredictProba(ctx context.Context, v model.FeatureVector) (float64, error)
}

// Artifact is the persisted form of a LogisticModel.
type Artifact struct {
	Features  []string  `json:"features"`
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

// LogisticModel scores p = 1 / (1 + exp(-(intercept + coef·x))).
type LogisticModel struct {
	intercept float64
	coef      []float64
}

// NewLogisticModel validates an artifact against the feature contract.
func NewLogisticModel(a Artifact) (*LogisticModel, error) {
	if !slices.Equal(a.Features, model.FeatureNames) {
		return nil, fmt.Errorf("%w: artifact has %v, engine produces %v", ErrFeatureContract, a.Features, model.FeatureNames)
	}
	if len(a.Coef) != len(model.FeatureNames) {
		return nil, fmt.Errorf("%w: %d coefficients for %d features", ErrFeatureContract, len(a.Coef), len(model.FeatureNames))
	}
	if math.IsNaN(a.Intercept) || floats.HasNaN(a.Coef) {
		return nil, fmt.Errorf("%w: NaN parameter", ErrInvalidArtifact)
	}
	return &LogisticModel{intercept: a.Intercept, coef: slices.Clone(a.Coef)}, nil
}

// LoadLogisticModel reads a JSON artifact from path.
func LoadLogisticModel(path string) (*LogisticModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	return NewLogisticModel(a)
}

// PredictProba implements Classifier.
func (m *LogisticModel) PredictProba(ctx context.Context, v model.FeatureVector) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	x := v.Values()
	if floats.HasNaN(x) {
		return 0, fmt.Errorf("%w: feature vector has missing values", ErrInvalidInput)
	}
	z := m.intercept + floats.Dot(m.coef, x)
	return 1 / (1 + math.Exp(-z)), nil
}

// IsSpike reports whether a probability crosses SpikeCutoff.
func IsSpike(p float64) bool { return p > SpikeCutoff }
