package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/okian/cgmrisk/internal/adapters/http/api"
	"github.com/okian/cgmrisk/internal/app"
	"github.com/okian/cgmrisk/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDependencies struct {
	pred app.Prediction
	err  error
	got  app.Request
}

func (m *mockDependencies) Predict(_ context.Context, req app.Request) (app.Prediction, error) {
	m.got = req
	if m.err != nil {
		return app.Prediction{}, m.err
	}
	p := m.pred
	p.UserID = req.UserID
	return p, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps api.Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}).Register(mux)
	return mux
}

func predictBody(n int) string {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var pts []string
	for i := 0; i < n; i++ {
		meal := ""
		if i == 2 {
			meal = `,"carbs":30,"meal_type":"Snack"`
		}
		pts = append(pts, fmt.Sprintf(`{"user_id":"u1","timestamp":%q,"glucose":%d%s}`,
			base.Add(time.Duration(i)*5*time.Minute).Format(time.RFC3339), 100+i, meal))
	}
	return `{"user_id":"u1","recent_data":[` + strings.Join(pts, ",") + `]}`
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("Then /healthz reports ok", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Then /metrics serves the registry", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/plain")
		})

		Convey("Then /stats returns the provider stats", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Then GET /predict is not routed", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predict", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestHandlePredict(t *testing.T) {
	Convey("Given a predict endpoint", t, func() {
		deps := &mockDependencies{pred: app.Prediction{
			RequestID:   "req-1",
			WillSpike:   true,
			RiskScore:   0.83,
			Explanation: "rising",
			Features:    model.FeatureVector{Glucose: 112, Slope15: 0.2, Slope60: 0.2, Cob2h: 30},
		}}
		mux := newMux(deps)

		Convey("When a valid request is posted", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(predictBody(13))))

			Convey("Then the prediction is returned as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["request_id"], ShouldEqual, "req-1")
				So(resp["user_id"], ShouldEqual, "u1")
				So(resp["will_spike"], ShouldEqual, true)
				So(resp["risk_score"], ShouldEqual, 0.83)
				So(resp["features"].(map[string]any)["cob_2h"], ShouldEqual, 30.0)
			})

			Convey("Then defaults are applied to points", func() {
				So(deps.got.Points, ShouldHaveLength, 13)
				So(deps.got.Points[0].MealType, ShouldEqual, model.NoMeal)
				So(deps.got.Points[0].Carbs, ShouldEqual, 0.0)
				So(deps.got.Points[2].MealType, ShouldEqual, "Snack")
				So(deps.got.Points[2].Carbs, ShouldEqual, 30.0)
			})
		})

		Convey("When msgpack is requested", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict?format=msgpack", strings.NewReader(predictBody(13))))

			Convey("Then the body decodes as MessagePack", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "application/x-msgpack")
				var resp map[string]any
				So(msgpack.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&resp), ShouldBeNil)
				So(resp["request_id"], ShouldEqual, "req-1")
				So(resp["will_spike"], ShouldEqual, true)
			})
		})

		Convey("When timestamps have no zone", func() {
			body := `{"user_id":"u1","recent_data":[{"user_id":"u1","timestamp":"2024-05-01 12:00:00","glucose":110}]}`
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body)))

			Convey("Then they are read as UTC", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.got.Points[0].Timestamp, ShouldEqual, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
			})
		})

		Convey("When the body is invalid", func() {
			cases := map[string]string{
				"bad json":      `{`,
				"no user":       `{"recent_data":[{"timestamp":"2024-05-01T12:00:00Z","glucose":1}]}`,
				"no data":       `{"user_id":"u1","recent_data":[]}`,
				"no glucose":    `{"user_id":"u1","recent_data":[{"timestamp":"2024-05-01T12:00:00Z"}]}`,
				"bad timestamp": `{"user_id":"u1","recent_data":[{"timestamp":"yesterday","glucose":1}]}`,
			}
			for name, body := range cases {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body)))
				Convey("Then "+name+" is a bad request", func() {
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(w.Body.String(), ShouldContainSubstring, `"code":"bad_request"`)
				})
			}
		})

		Convey("When the history is too short", func() {
			deps.err = fmt.Errorf("%w: data covers 20 mins", app.ErrInsufficientHistory)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(predictBody(5))))

			Convey("Then 400 insufficient_history is returned", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, `"code":"insufficient_history"`)
				So(w.Body.String(), ShouldContainSubstring, "20 mins")
			})
		})

		Convey("When the service is not started", func() {
			deps.err = app.ErrNotStarted
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(predictBody(13))))

			Convey("Then 503 is returned", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When the prediction fails internally", func() {
			deps.err = errors.New("classifier exploded")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(predictBody(13))))

			Convey("Then 500 is returned without internals", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldNotContainSubstring, "exploded")
			})
		})
	})
}

func TestWrapKind(t *testing.T) {
	Convey("Given a wrapped kind", t, func() {
		cause := errors.New("missing user_id")
		err := api.WrapKind("api.predict", api.ErrBadRequest, cause)

		Convey("Then both kind and cause match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.predict: missing user_id")
			So(errors.Is(api.NewKind("op", api.ErrInternal), api.ErrInternal), ShouldBeTrue)
		})
	})
}
