// Package chart renders an engineered session as a PNG line chart.
package chart

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/okian/cgmrisk/internal/domain/model"
)

const (
	defaultWidth     = 1280
	defaultHeight    = 720
	defaultMaxPoints = 2000
)

// ErrNotEnoughPoints is returned when fewer than two glucose values are defined.
var ErrNotEnoughPoints = errors.New("not enough glucose points to plot")

// Options configures Render.
type Options struct {
	Title     string
	Threshold float64
	Width     int
	Height    int
	MaxPoints int
}

// Render draws glucose, the spike threshold and carbs on board (secondary
// axis) for rows, writing a PNG to w.
func Render(w io.Writer, rows []model.FeatureRow, opts Options) error {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = defaultMaxPoints
	}

	rows = downsample(rows, opts.MaxPoints)

	var (
		gx  []time.Time
		gy  []float64
		cx  []time.Time
		cy  []float64
		cob bool
	)
	for _, r := range rows {
		if !model.IsMissing(r.Glucose) {
			gx = append(gx, r.Time)
			gy = append(gy, r.Glucose)
		}
		if !model.IsMissing(r.Cob2h) {
			cx = append(cx, r.Time)
			cy = append(cy, r.Cob2h)
			if r.Cob2h != 0 {
				cob = true
			}
		}
	}
	if len(gx) < 2 {
		return ErrNotEnoughPoints
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Glucose (mg/dL)",
			XValues: gx,
			YValues: gy,
		},
	}
	if opts.Threshold > 0 {
		series = append(series, chart.TimeSeries{
			Name:    fmt.Sprintf("Threshold %g", opts.Threshold),
			XValues: []time.Time{gx[0], gx[len(gx)-1]},
			YValues: []float64{opts.Threshold, opts.Threshold},
			Style: chart.Style{
				StrokeColor:     chart.ColorRed,
				StrokeDashArray: []float64{5, 5},
			},
		})
	}
	// go-chart rejects an axis with a zero range, so a meal-free session has
	// no secondary series.
	if cob && len(cx) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "COB 2h (g)",
			XValues: cx,
			YValues: cy,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Glucose (mg/dL)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
	if cob {
		graph.YAxisSecondary = chart.YAxis{Name: "Carbs on board (g)"}
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func downsample(rows []model.FeatureRow, max int) []model.FeatureRow {
	if max <= 1 || len(rows) <= max {
		return rows
	}
	out := make([]model.FeatureRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		out = append(out, rows[idx])
	}
	return out
}
