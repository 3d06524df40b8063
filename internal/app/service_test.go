package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/cgmrisk/internal/app"
	"github.com/okian/cgmrisk/internal/config"
	"github.com/okian/cgmrisk/internal/domain/explain"
	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/okian/cgmrisk/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fixedClassifier struct {
	score float64
	err   error
	got   model.FeatureVector
}

func (c *fixedClassifier) PredictProba(_ context.Context, v model.FeatureVector) (float64, error) {
	c.got = v
	return c.score, c.err
}

type failingExplainer struct{}

func (failingExplainer) Explain(context.Context, explain.Signal) (string, error) {
	return "", explain.ErrUpstream
}

type countingExplainer struct {
	text  string
	calls int
}

func (e *countingExplainer) Explain(context.Context, explain.Signal) (string, error) {
	e.calls++
	return e.text, nil
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// window returns points every 5 minutes over minutes, rising 2 mg/dL per
// step, with a lunch logged 30 minutes in.
func window(minutes int) []model.Point {
	var pts []model.Point
	for m := 0; m <= minutes; m += 5 {
		p := model.Point{
			UserID:    "u1",
			Timestamp: base.Add(time.Duration(m) * time.Minute),
			Glucose:   100 + float64(m/5)*2,
			MealType:  model.NoMeal,
		}
		if m == 30 {
			p.Carbs = 45
			p.MealType = "Lunch"
		}
		pts = append(pts, p)
	}
	return pts
}

func TestPredictor(t *testing.T) {
	ctx := context.Background()
	nop := logger.NewNop()

	Convey("Given a predictor with the reject policy", t, func() {
		clf := &fixedClassifier{score: 0.876}
		p := app.NewPredictor(clf,
			app.WithPredictorLogger(nop),
			app.WithRequestIDs(func() string { return "req-1" }))

		Convey("When the window covers 60 minutes", func() {
			pred, err := p.Predict(ctx, app.Request{UserID: "u1", Points: window(60)})

			Convey("Then a full prediction is returned", func() {
				So(err, ShouldBeNil)
				So(pred.RequestID, ShouldEqual, "req-1")
				So(pred.UserID, ShouldEqual, "u1")
				So(pred.RiskScore, ShouldEqual, 0.88)
				So(pred.WillSpike, ShouldBeTrue)
				So(pred.Degraded, ShouldBeFalse)
				So(pred.MealType, ShouldEqual, "Lunch")
				So(pred.HistoryMinutes, ShouldEqual, 60.0)
			})

			Convey("Then the classifier sees the latest feature vector", func() {
				So(clf.got.Glucose, ShouldEqual, 124.0)
				So(clf.got.Slope15, ShouldAlmostEqual, 0.4, 1e-9)
				So(clf.got.Slope60, ShouldAlmostEqual, 0.4, 1e-9)
				So(clf.got.Cob2h, ShouldEqual, 45.0)
			})

			Convey("Then the rule explanation mentions carbs and trend", func() {
				So(pred.Explanation, ShouldEqual, explain.Rule(explain.Signal{
					RiskScore: 0.876, Velocity: 0.4, CarbsOnBoard: 45,
				}))
			})
		})

		Convey("When points arrive out of order", func() {
			pts := window(60)
			pts[0], pts[len(pts)-1] = pts[len(pts)-1], pts[0]
			_, err := p.Predict(ctx, app.Request{UserID: "u1", Points: pts})

			Convey("Then they are sorted before engineering", func() {
				So(err, ShouldBeNil)
				So(clf.got.Glucose, ShouldEqual, 124.0)
			})
		})

		Convey("When the window is shorter than 60 minutes", func() {
			_, err := p.Predict(ctx, app.Request{UserID: "u1", Points: window(55)})

			Convey("Then ErrInsufficientHistory is returned", func() {
				So(errors.Is(err, app.ErrInsufficientHistory), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "55 mins")
			})
		})

		Convey("When the request is malformed", func() {
			_, errUser := p.Predict(ctx, app.Request{Points: window(60)})
			_, errEmpty := p.Predict(ctx, app.Request{UserID: "u1"})
			bad := window(60)
			bad[3].Carbs = -1
			_, errCarbs := p.Predict(ctx, app.Request{UserID: "u1", Points: bad})

			Convey("Then ErrInvalidRequest is returned", func() {
				So(errors.Is(errUser, app.ErrInvalidRequest), ShouldBeTrue)
				So(errors.Is(errEmpty, app.ErrInvalidRequest), ShouldBeTrue)
				So(errors.Is(errCarbs, app.ErrInvalidRequest), ShouldBeTrue)
			})
		})

		Convey("When the classifier fails", func() {
			clf.err = errors.New("boom")
			_, err := p.Predict(ctx, app.Request{UserID: "u1", Points: window(60)})

			Convey("Then the error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})

	Convey("Given a predictor with the reject policy and a long request", t, func() {
		clf := &fixedClassifier{score: 0.3}
		p := app.NewPredictor(clf, app.WithPredictorLogger(nop))

		Convey("When two readings are decades apart", func() {
			pts := []model.Point{
				{UserID: "u1", Timestamp: base.AddDate(-40, 0, 0), Glucose: 90, MealType: model.NoMeal},
				{UserID: "u1", Timestamp: base, Glucose: 130, MealType: model.NoMeal},
			}
			pred, err := p.Predict(ctx, app.Request{UserID: "u1", Points: pts})

			Convey("Then only the recent window is engineered", func() {
				So(err, ShouldBeNil)
				So(pred.Degraded, ShouldBeFalse)
				So(pred.HistoryMinutes, ShouldBeGreaterThan, 40*365*24*60.0)
				So(clf.got, ShouldResemble, model.FeatureVector{Glucose: 130})
			})
		})

		Convey("When six hours are sent", func() {
			full := window(360)
			_, err := p.Predict(ctx, app.Request{UserID: "u1", Points: full})
			So(err, ShouldBeNil)
			fromFull := clf.got

			_, err = p.Predict(ctx, app.Request{UserID: "u1", Points: full[len(full)-31:]})
			So(err, ShouldBeNil)

			Convey("Then the vector matches the one from the last 150 minutes", func() {
				So(fromFull, ShouldResemble, clf.got)
				So(fromFull.Glucose, ShouldEqual, 244.0)
				So(fromFull.Cob2h, ShouldEqual, 0.0)
			})
		})
	})

	Convey("Given explanation backends", t, func() {
		clf := &fixedClassifier{score: 0.9}

		Convey("When the backend is already a fallback", func() {
			backend := &countingExplainer{text: "Take a short walk."}
			p := app.NewPredictor(clf,
				app.WithExplainer(explain.NewFallback(backend, explain.WithLogger(nop))),
				app.WithPredictorLogger(nop))
			pred, err := p.Predict(ctx, app.Request{UserID: "u1", Points: window(60)})

			Convey("Then the backend answers once", func() {
				So(err, ShouldBeNil)
				So(pred.Explanation, ShouldEqual, "Take a short walk.")
				So(backend.calls, ShouldEqual, 1)
			})
		})

		Convey("When a bare backend returns no text", func() {
			backend := &countingExplainer{}
			p := app.NewPredictor(clf, app.WithExplainer(backend), app.WithPredictorLogger(nop))
			pred, err := p.Predict(ctx, app.Request{UserID: "u1", Points: window(60)})

			Convey("Then it is wrapped and the rule text is used", func() {
				So(err, ShouldBeNil)
				So(backend.calls, ShouldEqual, 1)
				So(pred.Explanation, ShouldEqual, explain.Rule(explain.Signal{
					RiskScore: 0.9, Velocity: 0.4, CarbsOnBoard: 45,
				}))
			})
		})
	})

	Convey("Given a predictor with the degrade policy", t, func() {
		clf := &fixedClassifier{score: 0.2}
		p := app.NewPredictor(clf,
			app.WithHistoryPolicy(config.HistoryPolicyDegrade),
			app.WithExplainer(failingExplainer{}),
			app.WithPredictorLogger(nop))

		pred, err := p.Predict(ctx, app.Request{UserID: "u1", Points: window(20)})

		Convey("Then a degraded zero-filled prediction is returned", func() {
			So(err, ShouldBeNil)
			So(pred.Degraded, ShouldBeTrue)
			So(pred.WillSpike, ShouldBeFalse)
			So(clf.got.Slope60, ShouldEqual, 0.0)
			So(pred.Explanation, ShouldEqual, "Glucose levels are currently within a stable physiological range.")
		})
	})
}

func TestService(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with an injected classifier", t, func() {
		svc := app.New(config.New(),
			app.WithClassifier(&fixedClassifier{score: 0.7}),
			app.WithLogger(logger.NewNop()))

		Convey("When predicting before Start", func() {
			_, err := svc.Predict(ctx, app.Request{UserID: "u1", Points: window(60)})

			Convey("Then ErrNotStarted is returned", func() {
				So(errors.Is(err, app.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			_, err := svc.Predict(ctx, app.Request{UserID: "u1", Points: window(60)})
			So(err, ShouldBeNil)
			_, err = svc.Predict(ctx, app.Request{UserID: "u1", Points: window(10)})
			So(err, ShouldNotBeNil)

			Convey("Then stats count served and failed predictions", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["predictionsServed"], ShouldEqual, int64(1))
				So(stats["predictionsSpike"], ShouldEqual, int64(1))
				So(stats["predictionsFailed"], ShouldEqual, int64(1))
				So(stats["historyPolicy"], ShouldEqual, config.HistoryPolicyReject)
			})
		})
	})

	Convey("Given a service with a missing model artifact", t, func() {
		cfg := config.New()
		cfg.ModelPath = "/nonexistent/model.json"
		svc := app.New(cfg, app.WithLogger(logger.NewNop()))

		Convey("Then Start fails", func() {
			So(svc.Start(ctx), ShouldNotBeNil)
		})
	})
}
