package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/cgmrisk/internal/domain/model"
	"github.com/okian/cgmrisk/pkg/logger"
	"github.com/okian/cgmrisk/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Job is what workers read off the queue.
type Job = model.SessionJob

// Processor turns one session job into training rows.
type Processor interface {
	Process(ctx context.Context, j Job) ([]model.TrainingRow, error)
}

// Sink receives the rows of each successfully processed job.
type Sink interface {
	Collect(ctx context.Context, j Job, rows []model.TrainingRow) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes jobs until the queue is drained or it is stopped.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	sink      Sink
	name      string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker.
func NewInMemoryWorker(q Queue, processor Processor, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		processor: processor,
		sink:      sink,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run consumes jobs until the queue channel closes, ctx is cancelled or
// Shutdown is called.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.processJob(ctx, j); err != nil {
				w.logger.Error(ctx, "session failed",
					logger.String("session", j.ID),
					logger.String("path", j.Path),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker and waits for the current job to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) processJob(ctx context.Context, j Job) error {
	start := time.Now()
	defer func() {
		metrics.RecordSessionLatency(float64(time.Since(start).Milliseconds()))
	}()

	rows, err := w.processor.Process(ctx, j)
	if err != nil {
		return fmt.Errorf("process %s: %w", j.Path, err)
	}
	if err := w.sink.Collect(ctx, j, rows); err != nil {
		metrics.RecordSessionFailed("collect")
		return fmt.Errorf("collect %s: %w", j.Path, err)
	}
	metrics.RecordSessionProcessed()
	w.logger.Debug(ctx, "session processed",
		logger.String("session", j.ID),
		logger.String("partition", j.Partition),
		logger.Int("rows", len(rows)))
	return nil
}

// Pool manages a fixed set of workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. Values < 1 use runtime.NumCPU.
func NewPool(workerCount int, q Queue, processor Processor, sink Sink, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewInMemoryWorker(q, processor, sink,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger),
		)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Wait blocks until every worker has returned, which happens once the queue
// is closed and drained or ctx is cancelled.
func (p *Pool) Wait() {
	for _, w := range p.workers {
		<-w.done
	}
	metrics.UpdateWorkerCount(0)
}

// Shutdown closes the queue when it supports closing, stops all workers and
// waits up to poolShutdownTimeout for them to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerCount(0)
	return firstErr
}
