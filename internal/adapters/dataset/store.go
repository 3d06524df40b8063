// Package dataset stores and exports labelled training rows.
package dataset

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/okian/cgmrisk/internal/domain/model"
)

// Record is the flat export form of a training row. Undefined values are nil.
type Record struct {
	SessionID string    `json:"session_id"`
	Partition string    `json:"partition"`
	GridTime  time.Time `json:"grid_time"`
	Glucose   *float64  `json:"glucose"`
	Carbs     *float64  `json:"carbs"`
	Slope15   *float64  `json:"slope_15"`
	Slope60   *float64  `json:"slope_60"`
	Cob2h     *float64  `json:"cob_2h"`
	FutureMax *float64  `json:"future_max"`
	Target    int       `json:"target"`
}

// Columns is the export column order.
var Columns = []string{ //nolint:gochecknoglobals // fixed export schema
	"session_id", "partition", "grid_time", "glucose", "carbs",
	"slope_15", "slope_60", "cob_2h", "future_max", "target",
}

// NewRecord flattens r.
func NewRecord(r model.TrainingRow) Record { //nolint:gocritic // value semantics
	return Record{
		SessionID: r.SessionID,
		Partition: r.Partition,
		GridTime:  r.Time.UTC(),
		Glucose:   optional(r.Glucose),
		Carbs:     optional(r.Carbs),
		Slope15:   optional(r.Slope15),
		Slope60:   optional(r.Slope60),
		Cob2h:     optional(r.Cob2h),
		FutureMax: optional(r.FutureMax),
		Target:    r.Target,
	}
}

// Row converts the record back into a training row.
func (rec Record) Row() model.TrainingRow { //nolint:gocritic // value semantics
	var r model.TrainingRow
	r.SessionID = rec.SessionID
	r.Partition = rec.Partition
	r.Time = rec.GridTime
	r.Glucose = value(rec.Glucose)
	r.Carbs = value(rec.Carbs)
	r.Slope15 = value(rec.Slope15)
	r.Slope60 = value(rec.Slope60)
	r.Cob2h = value(rec.Cob2h)
	r.FutureMax = value(rec.FutureMax)
	r.Target = rec.Target
	r.Labeled = !model.IsMissing(r.FutureMax)
	return r
}

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func value(p *float64) float64 {
	if p == nil {
		return model.Missing()
	}
	return *p
}

// Store holds training rows grouped by partition.
type Store interface {
	Save(ctx context.Context, rows []model.TrainingRow) error
	// Rows returns the rows of a partition ordered by session and grid time.
	Rows(ctx context.Context, partition string) ([]model.TrainingRow, error)
	Count(ctx context.Context, partition string) (int, error)
}

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string][]model.TrainingRow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]model.TrainingRow)}
}

// Save appends rows to their partitions.
func (s *MemoryStore) Save(ctx context.Context, rows []model.TrainingRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.rows[r.Partition] = append(s.rows[r.Partition], r)
	}
	return nil
}

// Rows returns a sorted copy of a partition.
func (s *MemoryStore) Rows(_ context.Context, partition string) ([]model.TrainingRow, error) {
	s.mu.RLock()
	out := append([]model.TrainingRow(nil), s.rows[partition]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out, nil
}

// Count returns the number of rows in a partition.
func (s *MemoryStore) Count(_ context.Context, partition string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[partition]), nil
}
