package ohio

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

// Write encodes s in the layout Read accepts.
func Write(w io.Writer, s *Session) error {
	p := xmlPatient{
		ID:           s.PatientID,
		GlucoseLevel: &xmlContainer{Events: make([]xmlEvent, 0, len(s.Glucose))},
	}
	for _, g := range s.Glucose {
		p.GlucoseLevel.Events = append(p.GlucoseLevel.Events, xmlEvent{
			TS:    g.Timestamp.UTC().Format(TimeLayout),
			Value: strconv.FormatFloat(g.Value, 'f', -1, 64),
		})
	}
	if len(s.Meals) > 0 {
		p.Meal = &xmlContainer{Events: make([]xmlEvent, 0, len(s.Meals))}
		for _, m := range s.Meals {
			p.Meal.Events = append(p.Meal.Events, xmlEvent{
				TS:    m.Timestamp.UTC().Format(TimeLayout),
				Carbs: strconv.FormatFloat(m.Carbs, 'f', -1, 64),
				Type:  m.MealType,
			})
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return enc.Close()
}
