// Package ohio reads recording sessions in the OhioT1DM XML layout.
package ohio

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/okian/cgmrisk/internal/domain/model"
)

// TimeLayout is the day-first timestamp layout used by the dataset.
const TimeLayout = "02-01-2006 15:04:05"

// Partition names.
const (
	PartitionTrain = "train"
	PartitionTest  = "test"
	PartitionSkip  = "skip"
)

// Session is one parsed recording file.
type Session struct {
	PatientID string
	Glucose   []model.GlucoseEvent
	Meals     []model.MealEvent
}

type xmlEvent struct {
	TS    string `xml:"ts,attr"`
	Value string `xml:"value,attr,omitempty"`
	Carbs string `xml:"carbs,attr,omitempty"`
	Type  string `xml:"type,attr,omitempty"`
}

type xmlContainer struct {
	Events []xmlEvent `xml:"event"`
}

type xmlPatient struct {
	XMLName      xml.Name      `xml:"patient"`
	ID           string        `xml:"id,attr,omitempty"`
	GlucoseLevel *xmlContainer `xml:"glucose_level"`
	Meal         *xmlContainer `xml:"meal"`
}

// ReadFile parses the session stored at path.
func ReadFile(path string) (*Session, error) {
	f, err := os.Open(path) //nolint:gosec // dataset paths come from the operator
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Read parses a session from r. Events keep their file order.
func Read(r io.Reader) (*Session, error) {
	var p xmlPatient
	if err := xml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.GlucoseLevel == nil {
		return nil, fmt.Errorf("%w: missing glucose_level", ErrMalformed)
	}

	s := &Session{
		PatientID: p.ID,
		Glucose:   make([]model.GlucoseEvent, 0, len(p.GlucoseLevel.Events)),
	}
	for i, ev := range p.GlucoseLevel.Events {
		ts, err := ParseTime(ev.TS)
		if err != nil {
			return nil, fmt.Errorf("glucose event %d: %w", i, err)
		}
		v, err := parseNumber(ev.Value)
		if err != nil {
			return nil, fmt.Errorf("glucose event %d: %w", i, err)
		}
		s.Glucose = append(s.Glucose, model.GlucoseEvent{Timestamp: ts, Value: v})
	}

	if p.Meal != nil {
		s.Meals = make([]model.MealEvent, 0, len(p.Meal.Events))
		for i, ev := range p.Meal.Events {
			ts, err := ParseTime(ev.TS)
			if err != nil {
				return nil, fmt.Errorf("meal event %d: %w", i, err)
			}
			c, err := parseNumber(ev.Carbs)
			if err != nil {
				return nil, fmt.Errorf("meal event %d: %w", i, err)
			}
			mt := ev.Type
			if mt == "" {
				mt = model.NoMeal
			}
			s.Meals = append(s.Meals, model.MealEvent{Timestamp: ts, Carbs: c, MealType: mt})
		}
	}
	return s, nil
}

// ParseTime parses a day-first dataset timestamp as UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
	}
	return t, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: number %q", ErrMalformed, s)
	}
	return v, nil
}

// Partition classifies a file by case-insensitive substring of its base name.
// The train marker wins when both match.
func Partition(filename, trainMarker, testMarker string) string {
	name := strings.ToLower(filepath.Base(filename))
	switch {
	case trainMarker != "" && strings.Contains(name, strings.ToLower(trainMarker)):
		return PartitionTrain
	case testMarker != "" && strings.Contains(name, strings.ToLower(testMarker)):
		return PartitionTest
	default:
		return PartitionSkip
	}
}

// Discover lists the *.xml files directly under dir in name order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
