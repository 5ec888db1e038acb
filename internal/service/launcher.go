package service

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"media-job-service/internal/entity"
)

// JobRunner executes one job to completion (implementation: worker.Processor).
type JobRunner interface {
	Process(ctx context.Context, job entity.Job) error
}

// GoLauncher runs each job in a detached goroutine of this process.
// At most max jobs run at once; the rest wait inside their own goroutine,
// so Launch itself never blocks.
type GoLauncher struct {
	runner JobRunner
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewGoLauncher(runner JobRunner, max int64, logger *slog.Logger) *GoLauncher {
	if max <= 0 {
		max = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoLauncher{runner: runner, sem: semaphore.NewWeighted(max), logger: logger}
}

func (l *GoLauncher) Launch(ctx context.Context, job entity.Job) error {
	// The request that submitted the job is about to finish; the job must not.
	jobCtx := context.WithoutCancel(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		if err := l.sem.Acquire(jobCtx, 1); err != nil {
			l.logger.Error("acquire job slot failed", "job_id", job.ID.String(), "error", err)
			return
		}
		defer l.sem.Release(1)

		// Process logs its own outcome.
		_ = l.runner.Process(jobCtx, job)
	}()
	return nil
}

// Wait blocks until every launched job has finished.
func (l *GoLauncher) Wait() {
	l.wg.Wait()
}

// QueueLauncher hands jobs to separate worker processes through a Queue.
type QueueLauncher struct {
	queue Queue
}

func NewQueueLauncher(queue Queue) *QueueLauncher {
	return &QueueLauncher{queue: queue}
}

func (l *QueueLauncher) Launch(ctx context.Context, job entity.Job) error {
	return l.queue.Enqueue(ctx, job)
}
