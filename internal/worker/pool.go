package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"media-job-service/internal/entity"
	"media-job-service/internal/service"
)

type JobProcessor interface {
	Process(ctx context.Context, job entity.Job) error
}

// Pool consumes the job queue with a fixed number of processors. It is the
// out-of-process counterpart of service.GoLauncher.
type Pool struct {
	queue      service.Queue
	processor  JobProcessor
	workers    int
	claimDelay time.Duration
	logger     *slog.Logger
}

func NewPool(queue service.Queue, processor JobProcessor, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		logger:     logger,
	}
}

// Run claims jobs until ctx is cancelled, then waits for in-flight jobs.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", "workers", p.workers)

	claims := make(chan service.Claim)
	done := make(chan struct{})

	for i := 0; i < p.workers; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for c := range claims {
				// A started job runs to completion even during shutdown.
				jobCtx := context.WithoutCancel(ctx)
				_ = p.processor.Process(jobCtx, c.Job)

				// Ack in any case: the job has published its terminal status.
				if err := p.queue.Ack(jobCtx, c); err != nil {
					p.logger.Error("ack failed", "worker", n, "job_id", c.Job.ID.String(), "error", err)
				}
			}
		}(i + 1)
	}

	for {
		c, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if !errors.Is(err, redis.Nil) {
				p.logger.Error("claim failed", "error", err)
				p.sleep(ctx, time.Second)
			}
			continue
		}

		select {
		case claims <- c:
		case <-ctx.Done():
			// Claimed but never started: leave it in processing for the
			// startup reaper.
		}
		if ctx.Err() != nil {
			break
		}
	}

	close(claims)
	for i := 0; i < p.workers; i++ {
		<-done
	}
	p.logger.Info("worker pool stopped")
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
