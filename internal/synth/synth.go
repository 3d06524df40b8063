// Package synth generates synthetic CGM recording sessions with meals and
// post-meal glucose rises, written in the OhioT1DM layout.
package synth

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/okian/cgmrisk/internal/adapters/ohio"
	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/okian/cgmrisk/pkg/logger"
)

// Generation constants.
const (
	readingInterval = 5 * time.Minute
	baselineMin     = 95.0
	baselineRange   = 30.0
	noiseSD         = 4.0
	carbGain        = 1.6  // peak mg/dL rise per gram of carbs
	peakMinutes     = 60.0 // time to peak after a meal
	dropoutRate     = 0.02
	glucoseFloor    = 40.0
	glucoseCeiling  = 400.0
)

type mealSlot struct {
	name     string
	hour     int
	carbsMin float64
	carbsMax float64
}

var meals = []mealSlot{ //nolint:gochecknoglobals // fixed daily schedule
	{"Breakfast", 7, 20, 60},
	{"Lunch", 12, 40, 90},
	{"Snack", 16, 10, 35},
	{"Dinner", 19, 40, 100},
}

// Config controls generation.
type Config struct {
	Patients    int
	Days        int
	TestDays    int // trailing days written to the test file
	Seed        uint64
	Start       time.Time
	TrainMarker string
	TestMarker  string
}

// DefaultConfig returns a small reproducible configuration.
func DefaultConfig() Config {
	return Config{
		Patients:    3,
		Days:        5,
		TestDays:    1,
		Seed:        42,
		Start:       time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		TrainMarker: "training",
		TestMarker:  "testing",
	}
}

// Generator produces sessions from a seeded source.
type Generator struct {
	cfg Config
	rng *rand.Rand
	src *rand.ChaCha8
}

// New creates a Generator for cfg.
func New(cfg Config) *Generator {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:], cfg.Seed)
	src := rand.NewChaCha8(seed)
	return &Generator{cfg: cfg, rng: rand.New(src), src: src}
}

// PatientID returns a new uuid drawn from the generator's source.
func (g *Generator) PatientID() string {
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Session generates days of readings for one patient starting at start.
func (g *Generator) Session(patientID string, start time.Time, days int) *ohio.Session {
	s := &ohio.Session{PatientID: patientID}
	baseline := baselineMin + g.rng.Float64()*baselineRange
	end := start.Add(time.Duration(days) * 24 * time.Hour)

	for day := start; day.Before(end); day = day.Add(24 * time.Hour) {
		for _, slot := range meals {
			if slot.name == "Snack" && g.rng.Float64() < 0.5 {
				continue
			}
			jitter := time.Duration(g.rng.IntN(60)-30) * time.Minute
			ts := day.Add(time.Duration(slot.hour)*time.Hour + jitter)
			carbs := math.Round(slot.carbsMin + g.rng.Float64()*(slot.carbsMax-slot.carbsMin))
			s.Meals = append(s.Meals, model.MealEvent{Timestamp: ts, Carbs: carbs, MealType: slot.name})
		}
	}

	for ts := start; ts.Before(end); ts = ts.Add(readingInterval) {
		if g.rng.Float64() < dropoutRate {
			continue
		}
		v := baseline + g.rng.NormFloat64()*noiseSD
		for _, m := range s.Meals {
			v += mealResponse(ts.Sub(m.Timestamp), m.Carbs)
		}
		v = math.Max(glucoseFloor, math.Min(glucoseCeiling, math.Round(v)))
		// CGM clocks drift; readings land anywhere inside their slot.
		offset := time.Duration(g.rng.IntN(60)) * time.Second
		s.Glucose = append(s.Glucose, model.GlucoseEvent{Timestamp: ts.Add(offset), Value: v})
	}
	return s
}

// mealResponse is the glucose excursion elapsed after a meal of carbs grams.
func mealResponse(elapsed time.Duration, carbs float64) float64 {
	if elapsed < 0 {
		return 0
	}
	x := elapsed.Minutes() / peakMinutes
	return carbs * carbGain * x * math.Exp(1-x)
}

// WriteDir writes one training and one test file per patient into dir and
// returns the written paths.
func (g *Generator) WriteDir(ctx context.Context, dir string) ([]string, error) {
	if g.cfg.Patients <= 0 || g.cfg.Days <= 0 {
		return nil, fmt.Errorf("%w: patients and days must be positive", ErrInvalidConfig)
	}
	if g.cfg.TestDays < 0 || g.cfg.TestDays >= g.cfg.Days {
		return nil, fmt.Errorf("%w: test days must be in [0, days)", ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // operator chosen directory
		return nil, fmt.Errorf("create dir: %w", err)
	}

	log := logger.Get().Named("synth")
	trainDays := g.cfg.Days - g.cfg.TestDays
	var paths []string
	for i := 0; i < g.cfg.Patients; i++ {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		id := g.PatientID()
		short := id[:8]

		train := g.Session(id, g.cfg.Start, trainDays)
		p := filepath.Join(dir, fmt.Sprintf("%s-ws-%s.xml", short, g.cfg.TrainMarker))
		if err := writeSession(p, train); err != nil {
			return paths, err
		}
		paths = append(paths, p)

		if g.cfg.TestDays > 0 {
			test := g.Session(id, g.cfg.Start.Add(time.Duration(trainDays)*24*time.Hour), g.cfg.TestDays)
			p := filepath.Join(dir, fmt.Sprintf("%s-ws-%s.xml", short, g.cfg.TestMarker))
			if err := writeSession(p, test); err != nil {
				return paths, err
			}
			paths = append(paths, p)
		}
		log.Info(ctx, "synthetic patient written", logger.String("patient", id), logger.Int("days", g.cfg.Days))
	}
	return paths, nil
}

func writeSession(path string, s *ohio.Session) error {
	f, err := os.Create(path) //nolint:gosec // operator chosen directory
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := ohio.Write(f, s); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
