package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/okian/cgmrisk/internal/app"
	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/okian/cgmrisk/pkg/logger"
)

const (
	maxPredictBody  = 1 << 20
	formatMsgpack   = "msgpack"
	contentMsgpack  = "application/x-msgpack"
	codeBadRequest  = "bad_request"
	codeHistory     = "insufficient_history"
	codeUnavailable = "unavailable"
	codeInternal    = "internal"
)

// Accepted timestamp layouts, tried in order. Layouts without a zone are UTC.
var timestampLayouts = []string{ //nolint:gochecknoglobals // fixed parse table
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// pointRequest mirrors one element of recent_data.
type pointRequest struct {
	UserID    string   `json:"user_id"`
	Timestamp string   `json:"timestamp"`
	Glucose   *float64 `json:"glucose"`
	Carbs     float64  `json:"carbs"`
	MealType  string   `json:"meal_type"`
}

// predictRequest mirrors the body of POST /predict.
type predictRequest struct {
	UserID     string         `json:"user_id"`
	RecentData []pointRequest `json:"recent_data"`
}

func (p predictRequest) toRequest() (app.Request, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return app.Request{}, errors.New("missing user_id")
	}
	if len(p.RecentData) == 0 {
		return app.Request{}, errors.New("missing recent_data")
	}
	points := make([]model.Point, len(p.RecentData))
	for i, d := range p.RecentData {
		if d.Glucose == nil {
			return app.Request{}, fmt.Errorf("recent_data[%d]: missing glucose", i)
		}
		ts, err := parseTimestamp(d.Timestamp)
		if err != nil {
			return app.Request{}, fmt.Errorf("recent_data[%d]: %w", i, err)
		}
		mealType := strings.TrimSpace(d.MealType)
		if mealType == "" {
			mealType = model.NoMeal
		}
		points[i] = model.Point{
			UserID:    d.UserID,
			Timestamp: ts,
			Glucose:   *d.Glucose,
			Carbs:     d.Carbs,
			MealType:  mealType,
		}
	}
	return app.Request{UserID: p.UserID, Points: points}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q; use RFC3339", s)
}

// predictResponse is the body returned by POST /predict.
type predictResponse struct {
	RequestID   string              `json:"request_id"`
	UserID      string              `json:"user_id"`
	WillSpike   bool                `json:"will_spike"`
	RiskScore   float64             `json:"risk_score"`
	Explanation string              `json:"explanation"`
	Degraded    bool                `json:"degraded"`
	Features    model.FeatureVector `json:"features"`
}

// PredictHandler handles prediction requests.
type PredictHandler struct {
	deps Dependencies
}

// NewPredictHandler creates a new predict handler.
func NewPredictHandler(deps Dependencies) *PredictHandler {
	return &PredictHandler{deps: deps}
}

// HandlePredict handles POST /predict. ?format=msgpack selects a
// MessagePack response body.
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var body predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody)).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, WrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}

	pred, err := h.deps.Predict(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInsufficientHistory):
			writeError(w, http.StatusBadRequest, codeHistory, WrapKind(op, ErrInsufficientHistory, err))
		case errors.Is(err, app.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, codeBadRequest, WrapKind(op, ErrBadRequest, err))
		case errors.Is(err, app.ErrNotStarted):
			writeError(w, http.StatusServiceUnavailable, codeUnavailable, WrapKind(op, ErrUnavailable, err))
		default:
			logger.Get().Named("api").Error(r.Context(), "prediction failed", logger.Error(err))
			writeError(w, http.StatusInternalServerError, codeInternal, NewKind(op, ErrInternal))
		}
		return
	}

	resp := predictResponse{
		RequestID:   pred.RequestID,
		UserID:      pred.UserID,
		WillSpike:   pred.WillSpike,
		RiskScore:   pred.RiskScore,
		Explanation: pred.Explanation,
		Degraded:    pred.Degraded,
		Features:    pred.Features,
	}
	if r.URL.Query().Get("format") == formatMsgpack {
		writeMsgpack(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeMsgpack(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentMsgpack)
	w.WriteHeader(status)
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	_ = enc.Encode(v)
}
