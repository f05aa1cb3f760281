package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	worker "github.com/okian/stopodds/internal/adapters/mq/worker"
	model "github.com/okian/stopodds/internal/domain/model"
	logging "github.com/okian/stopodds/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockQueue struct {
	jobs chan model.Job
	once sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan model.Job, 100)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan model.Job {
	return mq.jobs
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.jobs) })
	return nil
}

func (mq *mockQueue) add(id string, kind model.JobKind) {
	mq.jobs <- model.Job{ID: id, Kind: kind, Reason: "test", RequestedAt: time.Now()}
}

type mockRunner struct {
	mu     sync.Mutex
	ran    []string
	errors map[string]error
	done   chan string
}

func newMockRunner() *mockRunner {
	return &mockRunner{errors: make(map[string]error), done: make(chan string, 100)}
}

func (mr *mockRunner) Run(ctx context.Context, job model.Job) error {
	mr.mu.Lock()
	mr.ran = append(mr.ran, job.ID)
	err := mr.errors[job.ID]
	mr.mu.Unlock()
	mr.done <- job.ID
	return err
}

func (mr *mockRunner) setError(id string, err error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.errors[id] = err
}

func (mr *mockRunner) count() int {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return len(mr.ran)
}

func (mr *mockRunner) wait(n int) bool {
	timeout := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-mr.done:
		case <-timeout:
			return false
		}
	}
	return true
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		queue := newMockQueue()
		runner := newMockRunner()

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(queue, runner, worker.WithName("test-worker"), worker.WithLogger(logging.Get()))

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(queue, runner)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("And when jobs arrive", func() {
				queue.add("job-1", model.JobTrain)
				queue.add("job-2", model.JobPrune)

				convey.Convey("Then they should run in order", func() {
					convey.So(runner.wait(2), convey.ShouldBeTrue)
					convey.So(runner.ran, convey.ShouldResemble, []string{"job-1", "job-2"})
				})
			})

			convey.Convey("And when a job fails or is skipped", func() {
				runner.setError("job-1", errors.New("fit diverged"))
				runner.setError("job-2", fmt.Errorf("lease: %w", worker.ErrSkipped))
				queue.add("job-1", model.JobTrain)
				queue.add("job-2", model.JobTrain)
				queue.add("job-3", model.JobTrain)

				convey.Convey("Then the worker should carry on", func() {
					convey.So(runner.wait(3), convey.ShouldBeTrue)
					convey.So(runner.count(), convey.ShouldEqual, 3)
				})
			})

			convey.Convey("And when shutting down", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()

				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)

				convey.Convey("Then a second shutdown should be harmless", func() {
					convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When a job outlives the job timeout", func() {
			deadline := make(chan error, 1)
			slow := worker.RunnerFunc(func(ctx context.Context, job model.Job) error {
				<-ctx.Done()
				deadline <- ctx.Err()
				return ctx.Err()
			})
			w := worker.NewInMemoryWorker(queue, slow, worker.WithJobTimeout(20*time.Millisecond))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)
			queue.add("job-slow", model.JobTrain)

			convey.Convey("Then the job context should be cancelled at the deadline", func() {
				select {
				case err := <-deadline:
					convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
				case <-time.After(2 * time.Second):
					convey.So("job never timed out", convey.ShouldBeEmpty)
				}
			})
		})

		convey.Convey("When the queue channel is closed", func() {
			w := worker.NewInMemoryWorker(queue, runner)
			stopped := make(chan struct{})
			go func() {
				w.Run(context.Background())
				close(stopped)
			}()
			_ = queue.Close()

			convey.Convey("Then the worker should stop", func() {
				select {
				case <-stopped:
					convey.So(true, convey.ShouldBeTrue)
				case <-time.After(time.Second):
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()

		queue := newMockQueue()
		runner := newMockRunner()

		convey.Convey("When creating a pool with default count", func() {
			convey.So(worker.NewPool(0, queue, runner), convey.ShouldNotBeNil)
		})

		convey.Convey("When the pool processes jobs", func() {
			pool := worker.NewPool(2, queue, runner, worker.WithName("jobs"), worker.WithJobTimeout(time.Second))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			for i := 0; i < 10; i++ {
				queue.add(fmt.Sprintf("job-%d", i), model.JobTrain)
			}

			convey.Convey("Then every job should run once", func() {
				convey.So(runner.wait(10), convey.ShouldBeTrue)
				convey.So(runner.count(), convey.ShouldEqual, 10)
			})

			convey.Convey("Then shutdown should drain and return", func() {
				convey.So(runner.wait(10), convey.ShouldBeTrue)
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()
				convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestRunnerFunc(t *testing.T) {
	convey.Convey("Given a function runner", t, func() {
		var got model.JobKind
		r := worker.RunnerFunc(func(ctx context.Context, job model.Job) error {
			got = job.Kind
			return nil
		})

		convey.So(r.Run(context.Background(), model.Job{Kind: model.JobPrune}), convey.ShouldBeNil)
		convey.So(got, convey.ShouldEqual, model.JobPrune)
	})
}
