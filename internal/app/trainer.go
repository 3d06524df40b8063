package app

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/cgmrisk/internal/adapters/dataset"
	"github.com/okian/cgmrisk/internal/adapters/mq/queue"
	"github.com/okian/cgmrisk/internal/adapters/mq/worker"
	"github.com/okian/cgmrisk/internal/adapters/ohio"
	"github.com/okian/cgmrisk/internal/domain/align"
	"github.com/okian/cgmrisk/internal/domain/dedupe"
	"github.com/okian/cgmrisk/internal/domain/features"
	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/okian/cgmrisk/pkg/logger"
	"github.com/okian/cgmrisk/pkg/metrics"
)

const (
	defaultQueueSize = 1024
	enqueueBackoff   = 5 * time.Millisecond
)

// Failure stages reported to metrics.
const (
	stageRead     = "read"
	stageParse    = "parse"
	stageAlign    = "align"
	stageEngineer = "engineer"
)

// Summary describes one dataset build.
type Summary struct {
	Files             int     `json:"files"`
	Processed         int     `json:"processed"`
	Skipped           int     `json:"skipped"`
	Duplicates        int     `json:"duplicates"`
	Failed            int     `json:"failed"`
	TrainRows         int     `json:"train_rows"`
	TestRows          int     `json:"test_rows"`
	TrainPositiveRate float64 `json:"train_positive_rate"`
	TestPositiveRate  float64 `json:"test_positive_rate"`
}

// Dataset is the labelled output of a build, split by partition.
type Dataset struct {
	Train   []model.TrainingRow
	Test    []model.TrainingRow
	Summary Summary
}

// Partitions returns the rows keyed by partition name.
func (d *Dataset) Partitions() map[string][]model.TrainingRow {
	return map[string][]model.TrainingRow{
		ohio.PartitionTrain: d.Train,
		ohio.PartitionTest:  d.Test,
	}
}

// Trainer builds the labelled training dataset from a directory of sessions.
type Trainer struct {
	dir         string
	trainMarker string
	testMarker  string
	workerCount int
	queueSize   int
	aligner     *align.Aligner
	engine      *features.Engine
	deduper     dedupe.Deduper
	store       dataset.Store
	logger      logger.Logger
}

// TrainerOption applies a configuration option to the Trainer.
type TrainerOption func(*Trainer)

// WithMarkers sets the filename substrings selecting the train and test partitions.
func WithMarkers(train, test string) TrainerOption {
	return func(t *Trainer) {
		if train != "" && test != "" {
			t.trainMarker, t.testMarker = train, test
		}
	}
}

// WithWorkerCount sets the number of session workers.
func WithWorkerCount(n int) TrainerOption {
	return func(t *Trainer) {
		if n > 0 {
			t.workerCount = n
		}
	}
}

// WithQueueSize bounds the session job queue. Producers wait while it is full.
func WithQueueSize(n int) TrainerOption {
	return func(t *Trainer) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithSpikeThreshold sets the label threshold in mg/dL.
func WithSpikeThreshold(threshold float64) TrainerOption {
	return func(t *Trainer) {
		if threshold > 0 {
			t.engine = features.New(features.WithSpikeThreshold(threshold))
		}
	}
}

// WithStore sets where rows are collected. The default is a MemoryStore.
func WithStore(s dataset.Store) TrainerOption {
	return func(t *Trainer) {
		if s != nil {
			t.store = s
		}
	}
}

// WithTrainerLogger sets the trainer logger.
func WithTrainerLogger(l logger.Logger) TrainerOption {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTrainer creates a Trainer reading sessions from dir.
func NewTrainer(dir string, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		dir:         dir,
		trainMarker: "training",
		testMarker:  "testing",
		workerCount: runtime.NumCPU(),
		queueSize:   defaultQueueSize,
		aligner:     align.New(),
		engine:      features.New(),
		deduper:     dedupe.NewInMemoryDeduper(),
		store:       dataset.NewMemoryStore(),
		logger:      logger.Get().Named("trainer"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run processes every session file and returns the labelled dataset. Files
// that fail are logged and counted; the build fails only when the train
// partition ends up empty.
func (t *Trainer) Run(ctx context.Context) (*Dataset, error) {
	files, err := ohio.Discover(t.dir)
	if err != nil {
		return nil, err
	}

	summary := Summary{Files: len(files)}
	var jobs []queue.Job
	for _, path := range files {
		partition := ohio.Partition(path, t.trainMarker, t.testMarker)
		if partition == ohio.PartitionSkip {
			summary.Skipped++
			t.logger.Warn(ctx, "file matches no partition marker", logger.String("path", path))
			continue
		}
		key, err := dedupe.FileKey(path)
		if err != nil {
			summary.Failed++
			metrics.RecordSessionFailed(stageRead)
			t.logger.Error(ctx, "cannot read session", logger.String("path", path), logger.Error(err))
			continue
		}
		if t.deduper.SeenAndRecord(ctx, key) {
			summary.Duplicates++
			metrics.RecordSessionSkipped()
			t.logger.Warn(ctx, "duplicate session content skipped", logger.String("path", path))
			continue
		}
		jobs = append(jobs, queue.Job{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
			Path:      path,
			Partition: partition,
		})
	}

	if len(jobs) > 0 {
		proc := &sessionProcessor{aligner: t.aligner, engine: t.engine, logger: t.logger}
		sink := &storeSink{store: t.store}
		if err := t.runJobs(ctx, jobs, proc, sink); err != nil {
			return nil, err
		}
		summary.Failed += int(proc.failed.Load() + sink.failed.Load())
		summary.Processed = int(sink.sessions.Load())
	}

	train, err := t.store.Rows(ctx, ohio.PartitionTrain)
	if err != nil {
		return nil, fmt.Errorf("load train rows: %w", err)
	}
	test, err := t.store.Rows(ctx, ohio.PartitionTest)
	if err != nil {
		return nil, fmt.Errorf("load test rows: %w", err)
	}

	summary.TrainRows, summary.TestRows = len(train), len(test)
	summary.TrainPositiveRate = positiveRate(train)
	summary.TestPositiveRate = positiveRate(test)

	t.logger.Info(ctx, "dataset built",
		logger.Int("files", summary.Files),
		logger.Int("processed", summary.Processed),
		logger.Int("failed", summary.Failed),
		logger.Int("duplicates", summary.Duplicates),
		logger.Int("train_rows", summary.TrainRows),
		logger.Int("test_rows", summary.TestRows),
		logger.Float64("train_positive_rate", summary.TrainPositiveRate))

	ds := &Dataset{Train: train, Test: test, Summary: summary}
	if len(train) == 0 {
		return ds, ErrNoTrainingRows
	}
	return ds, nil
}

func (t *Trainer) runJobs(ctx context.Context, jobs []queue.Job, proc worker.Processor, sink worker.Sink) error {
	capacity := t.queueSize
	if capacity > len(jobs) {
		capacity = len(jobs)
	}
	workers := t.workerCount
	if workers > len(jobs) {
		workers = len(jobs)
	}

	q := queue.NewInMemoryQueue(queue.WithCapacity(capacity))
	pool := worker.NewPool(workers, q, proc, sink, worker.WithPoolLogger(t.logger))
	pool.Start(ctx)

	err := enqueueAll(ctx, q, jobs)
	_ = q.Close()
	pool.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// enqueueAll feeds jobs into q, backing off while the queue is full.
func enqueueAll(ctx context.Context, q queue.Queue, jobs []queue.Job) error {
	for _, j := range jobs {
		for !q.Enqueue(ctx, j) {
			if q.IsClosed() {
				return fmt.Errorf("enqueue %s: queue closed", filepath.Base(j.Path))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(enqueueBackoff):
			}
		}
	}
	return nil
}

func positiveRate(rows []model.TrainingRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	targets := make([]float64, len(rows))
	for i, r := range rows {
		targets[i] = float64(r.Target)
	}
	return stat.Mean(targets, nil)
}

// sessionProcessor parses, aligns and labels one session file.
type sessionProcessor struct {
	aligner *align.Aligner
	engine  *features.Engine
	logger  logger.Logger
	failed  atomic.Int64
}

func (p *sessionProcessor) Process(ctx context.Context, j worker.Job) ([]model.TrainingRow, error) {
	fail := func(stage string, err error) ([]model.TrainingRow, error) {
		p.failed.Add(1)
		metrics.RecordSessionFailed(stage)
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	s, err := ohio.ReadFile(j.Path)
	if err != nil {
		return fail(stageParse, err)
	}
	grid, err := p.aligner.Align(s.Glucose, s.Meals)
	if err != nil {
		return fail(stageAlign, err)
	}
	labelled, err := p.engine.Engineer(grid, features.Training)
	if err != nil {
		return fail(stageEngineer, err)
	}

	rows := make([]model.TrainingRow, len(labelled))
	positives := 0
	for i, fr := range labelled {
		rows[i] = model.TrainingRow{SessionID: j.ID, Partition: j.Partition, FeatureRow: fr}
		positives += fr.Target
	}
	metrics.RecordGridRows(len(grid))
	metrics.RecordTrainingRows(j.Partition, len(rows), len(grid)-len(rows), positives)

	p.logger.Info(ctx, "session engineered",
		logger.String("file", filepath.Base(j.Path)),
		logger.String("patient", s.PatientID),
		logger.String("partition", j.Partition),
		logger.Int("grid_rows", len(grid)),
		logger.Int("kept_rows", len(rows)),
		logger.Duration("took", time.Since(start)))
	return rows, nil
}

// storeSink saves worker output into a dataset.Store.
type storeSink struct {
	store    dataset.Store
	sessions atomic.Int64
	failed   atomic.Int64
}

func (s *storeSink) Collect(ctx context.Context, _ worker.Job, rows []model.TrainingRow) error {
	if err := s.store.Save(ctx, rows); err != nil {
		s.failed.Add(1)
		return err
	}
	s.sessions.Add(1)
	return nil
}
