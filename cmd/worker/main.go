// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"media-job-service/internal/app"
	"media-job-service/internal/config"
	"media-job-service/internal/service"
	"media-job-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DispatchMode != config.DispatchQueue {
		log.Fatalf("worker needs DISPATCH_MODE=queue, got %q", cfg.DispatchMode)
	}
	logger := app.NewLogger(cfg)

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer deps.Close()

	// Each worker identity owns its processing list, so the reaper below only
	// sees jobs claimed by a previous run of this same worker.
	processingKey := cfg.Redis.ProcessingKey + ":" + cfg.WorkerID
	queue := service.NewRedisQueue(deps.Redis, cfg.Redis.QueueKey, processingKey)

	// Reaper: jobs left behind by a crashed run are handed out again.
	n, err := queue.RequeueStale(ctx, 1000)
	if err != nil {
		logger.Error("requeue stale jobs failed", "error", err)
	} else if n > 0 {
		logger.Warn("requeued jobs from processing", "count", n)
	}

	processor, err := deps.NewProcessor(cfg)
	if err != nil {
		log.Fatalf("processor: %v", err)
	}

	logger.Info("worker config",
		"workers", cfg.Workers,
		"redis_addr", cfg.Redis.Addr,
		"queue_key", cfg.Redis.QueueKey,
		"worker_id", cfg.WorkerID,
		"processing_key", processingKey,
		"job_timeout", cfg.JobTimeout.String(),
	)

	worker.NewPool(queue, processor, cfg.Workers, logger).Run(ctx)

	logger.Info("worker stopped")
}
