// Package model contains domain models passed between layers.
//
// Missing numeric values are carried as NaN; use IsMissing rather than
// comparing against NaN directly.
package model

import (
	"math"
	"time"
)

// NoMeal is the meal type sentinel for points without a logged meal.
const NoMeal = "N/A"

// GlucoseEvent is one CGM reading.
type GlucoseEvent struct {
	Timestamp time.Time
	Value     float64 // mg/dL
}

// MealEvent is one logged carbohydrate intake.
type MealEvent struct {
	Timestamp time.Time
	Carbs     float64 // grams
	MealType  string
}

// GridRow is one 5-minute slot of the aligned table. Glucose may be missing,
// Carbs never is.
type GridRow struct {
	Time    time.Time
	Glucose float64
	Carbs   float64
}

// FeatureRow extends GridRow with derived signals. FutureMax and Target are
// only meaningful when Labeled is true (training mode).
type FeatureRow struct {
	GridRow
	Slope15   float64 // mg/dL per minute over 15 minutes
	Slope60   float64 // mg/dL per minute over 60 minutes
	Cob2h     float64 // grams of carbs over the trailing 2 hours
	FutureMax float64
	Target    int
	Labeled   bool
}

// Vector returns the classifier input for this row.
func (r FeatureRow) Vector() FeatureVector {
	return FeatureVector{
		Glucose: r.Glucose,
		Slope15: r.Slope15,
		Slope60: r.Slope60,
		Cob2h:   r.Cob2h,
	}
}

// FeatureNames is the ordered field list shared with persisted model artifacts.
var FeatureNames = []string{"glucose", "slope_15", "slope_60", "cob_2h"}

// FeatureVector is the serving output consumed by the classifier.
type FeatureVector struct {
	Glucose float64 `json:"glucose" msgpack:"glucose"`
	Slope15 float64 `json:"slope_15" msgpack:"slope_15"`
	Slope60 float64 `json:"slope_60" msgpack:"slope_60"`
	Cob2h   float64 `json:"cob_2h" msgpack:"cob_2h"`
}

// Values returns the vector in FeatureNames order.
func (v FeatureVector) Values() []float64 {
	return []float64{v.Glucose, v.Slope15, v.Slope60, v.Cob2h}
}

// Point is one serving-time observation submitted by a client.
type Point struct {
	UserID    string
	Timestamp time.Time
	Glucose   float64
	Carbs     float64
	MealType  string
}

// TrainingRow is a labelled FeatureRow tagged with its session and partition.
type TrainingRow struct {
	SessionID string
	Partition string
	FeatureRow
}

// Missing returns the value used for an undefined measurement.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is undefined.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// SessionJob is one recording file scheduled for the dataset build.
type SessionJob struct {
	ID        string
	Path      string
	Partition string
}
