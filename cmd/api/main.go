// cmd/api/main.go
//
// @title Media Job Service API
// @version 1.0
// @description Asynchronous audio extraction and audio/video merge jobs streamed to object storage.
// @BasePath /
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"media-job-service/internal/app"
	"media-job-service/internal/config"
	"media-job-service/internal/service"
	httptransport "media-job-service/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := app.NewLogger(cfg)

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer deps.Close()

	// DI
	var (
		launcher service.Launcher
		inline   *service.GoLauncher
	)
	switch cfg.DispatchMode {
	case config.DispatchQueue:
		launcher = service.NewQueueLauncher(service.NewRedisQueue(deps.Redis, cfg.Redis.QueueKey, cfg.Redis.ProcessingKey))
	default:
		proc, err := deps.NewProcessor(cfg)
		if err != nil {
			log.Fatalf("processor: %v", err)
		}
		inline = service.NewGoLauncher(proc, int64(cfg.MaxInlineJobs), logger)
		launcher = inline
	}

	var repo service.JobRepository
	if deps.Ledger != nil {
		repo = deps.Ledger
	}
	svc := service.NewJobService(repo, launcher, deps.Mailbox)
	handler := httptransport.NewHandler(svc, logger)

	sched := cron.New()
	if deps.Memory != nil {
		if _, err := sched.AddFunc(cfg.Mailbox.Sweep, func() {
			if n := deps.Memory.Sweep(); n > 0 {
				logger.Info("mailbox sweep", "evicted", n, "pending", deps.Memory.Pending())
			}
		}); err != nil {
			log.Fatalf("mailbox sweep schedule %q: %v", cfg.Mailbox.Sweep, err)
		}
	}
	sched.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api started", "addr", cfg.HTTPAddr, "dispatch", cfg.DispatchMode, "mailbox", cfg.Mailbox.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped with error", "error", err)
	}

	<-sched.Stop().Done()
	if inline != nil {
		logger.Info("waiting for running jobs")
		inline.Wait()
	}
	logger.Info("api stopped")
}
