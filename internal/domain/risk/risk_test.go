package risk_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/okian/cgmrisk/internal/domain/risk"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLogisticModel(t *testing.T) {
	ctx := context.Background()

	Convey("Given an artifact with the binding feature order", t, func() {
		m, err := risk.NewLogisticModel(risk.Artifact{
			Features:  []string{"glucose", "slope_15", "slope_60", "cob_2h"},
			Intercept: -10,
			Coef:      []float64{0.05, 1, 0.5, 0.02},
		})
		So(err, ShouldBeNil)

		Convey("When scoring a vector at the decision boundary", func() {
			p, err := m.PredictProba(ctx, model.FeatureVector{Glucose: 200})

			Convey("Then the probability is one half", func() {
				So(err, ShouldBeNil)
				So(p, ShouldAlmostEqual, 0.5)
				So(risk.IsSpike(p), ShouldBeFalse)
			})
		})

		Convey("When scoring a rising post-meal vector", func() {
			p, err := m.PredictProba(ctx, model.FeatureVector{Glucose: 170, Slope15: 2, Slope60: 1, Cob2h: 60})

			Convey("Then the probability is above the cutoff", func() {
				So(err, ShouldBeNil)
				So(p, ShouldBeGreaterThan, 0.5)
				So(p, ShouldBeLessThan, 1)
				So(risk.IsSpike(p), ShouldBeTrue)
			})
		})

		Convey("When the vector has a missing value", func() {
			_, err := m.PredictProba(ctx, model.FeatureVector{Glucose: model.Missing()})

			Convey("Then scoring fails", func() {
				So(errors.Is(err, risk.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := m.PredictProba(cctx, model.FeatureVector{})

			Convey("Then scoring fails", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})

	Convey("Given artifacts that break the feature contract", t, func() {
		Convey("Then reordered features are rejected", func() {
			_, err := risk.NewLogisticModel(risk.Artifact{
				Features: []string{"slope_15", "glucose", "slope_60", "cob_2h"},
				Coef:     []float64{1, 1, 1, 1},
			})
			So(errors.Is(err, risk.ErrFeatureContract), ShouldBeTrue)
		})

		Convey("Then a coefficient count mismatch is rejected", func() {
			_, err := risk.NewLogisticModel(risk.Artifact{
				Features: []string{"glucose", "slope_15", "slope_60", "cob_2h"},
				Coef:     []float64{1, 1},
			})
			So(errors.Is(err, risk.ErrFeatureContract), ShouldBeTrue)
		})
	})
}

func TestLoadLogisticModel(t *testing.T) {
	Convey("Given artifact files", t, func() {
		dir := t.TempDir()

		Convey("When the file is valid", func() {
			path := filepath.Join(dir, "model.json")
			So(os.WriteFile(path, []byte(`{"features":["glucose","slope_15","slope_60","cob_2h"],"intercept":-3,"coef":[0.01,0.8,0.4,0.01]}`), 0o600), ShouldBeNil)

			m, err := risk.LoadLogisticModel(path)

			Convey("Then the model loads", func() {
				So(err, ShouldBeNil)
				So(m, ShouldNotBeNil)
			})
		})

		Convey("When the file is not JSON", func() {
			path := filepath.Join(dir, "broken.json")
			So(os.WriteFile(path, []byte(`not json`), 0o600), ShouldBeNil)

			_, err := risk.LoadLogisticModel(path)

			Convey("Then loading fails as an invalid artifact", func() {
				So(errors.Is(err, risk.ErrInvalidArtifact), ShouldBeTrue)
			})
		})

		Convey("When the file does not exist", func() {
			_, err := risk.LoadLogisticModel(filepath.Join(dir, "missing.json"))

			Convey("Then loading fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
