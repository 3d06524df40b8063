package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/cgmrisk/internal/adapters/mq/queue"
	"github.com/okian/cgmrisk/internal/adapters/mq/worker"
	"github.com/okian/cgmrisk/internal/domain/model"
	logging "github.com/okian/cgmrisk/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	jobs chan worker.Job
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan worker.Job, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan worker.Job { return mq.jobs }

func (mq *mockQueue) Close() error {
	close(mq.jobs)
	return nil
}

type mockProcessor struct {
	mu     sync.Mutex
	errors map[string]error
	calls  int
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{errors: make(map[string]error)}
}

func (mp *mockProcessor) Process(_ context.Context, j worker.Job) ([]model.TrainingRow, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.calls++
	if err, ok := mp.errors[j.ID]; ok {
		return nil, err
	}
	return []model.TrainingRow{{SessionID: j.ID, Partition: j.Partition}}, nil
}

type mockSink struct {
	mu   sync.Mutex
	rows map[string][]model.TrainingRow
	err  error
}

func newMockSink() *mockSink {
	return &mockSink{rows: make(map[string][]model.TrainingRow)}
}

func (ms *mockSink) Collect(_ context.Context, j worker.Job, rows []model.TrainingRow) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.err != nil {
		return ms.err
	}
	ms.rows[j.ID] = rows
	return nil
}

func (ms *mockSink) count() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.rows)
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		q := newMockQueue()
		processor := newMockProcessor()
		sink := newMockSink()
		w := worker.NewInMemoryWorker(q, processor, sink,
			worker.WithName("worker-test"),
			worker.WithLogger(logging.NewNop()))

		convey.Convey("When jobs are queued and the queue is closed", func() {
			q.jobs <- worker.Job{ID: "a", Partition: "train"}
			q.jobs <- worker.Job{ID: "b", Partition: "test"}
			_ = q.Close()

			done := make(chan struct{})
			go func() {
				w.Run(context.Background())
				close(done)
			}()

			convey.Convey("Then every job reaches the sink and Run returns", func() {
				select {
				case <-done:
				case <-time.After(time.Second):
					t.Fatal("worker did not stop")
				}
				convey.So(sink.count(), convey.ShouldEqual, 2)
				convey.So(sink.rows["b"][0].Partition, convey.ShouldEqual, "test")
			})
		})

		convey.Convey("When a job fails to process", func() {
			processor.errors["bad"] = errors.New("malformed")
			q.jobs <- worker.Job{ID: "bad"}
			q.jobs <- worker.Job{ID: "good"}
			_ = q.Close()
			w.Run(context.Background())

			convey.Convey("Then the worker continues with the next job", func() {
				convey.So(sink.count(), convey.ShouldEqual, 1)
				_, ok := sink.rows["good"]
				convey.So(ok, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the worker is shut down while idle", func() {
			go w.Run(context.Background())
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err := w.Shutdown(ctx)

			convey.Convey("Then it stops cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool on a real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(50))
		processor := newMockProcessor()
		sink := newMockSink()
		pool := worker.NewPool(4, q, processor, sink, worker.WithPoolLogger(logging.NewNop()))

		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When jobs are enqueued and the queue is closed", func() {
			ctx := context.Background()
			for i := 0; i < 20; i++ {
				convey.So(q.Enqueue(ctx, queue.Job{ID: fmt.Sprintf("s-%d", i)}), convey.ShouldBeTrue)
			}
			pool.Start(ctx)
			_ = q.Close()

			waited := make(chan struct{})
			go func() {
				pool.Wait()
				close(waited)
			}()

			convey.Convey("Then Wait returns after every job is collected", func() {
				select {
				case <-waited:
				case <-time.After(2 * time.Second):
					t.Fatal("pool did not drain")
				}
				convey.So(sink.count(), convey.ShouldEqual, 20)
			})
		})

		convey.Convey("When the pool is shut down", func() {
			pool.Start(context.Background())
			err := pool.Shutdown(context.Background())

			convey.Convey("Then the queue is closed and workers stop", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}
