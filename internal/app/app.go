// Package app wires the shared dependencies of the api and worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"media-job-service/internal/config"
	"media-job-service/internal/mailbox"
	"media-job-service/internal/media"
	"media-job-service/internal/repository/postgresql"
	"media-job-service/internal/storage"
	"media-job-service/internal/worker"
)

type Deps struct {
	Logger  *slog.Logger
	Redis   *redis.Client
	PG      *pgxpool.Pool
	Ledger  *postgresql.JobRepository
	Mailbox mailbox.Mailbox
	// Memory is set when the mailbox is process-local and needs sweeping.
	Memory *mailbox.Memory
}

func NewLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return logger
}

// Open connects to whatever backends cfg asks for.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Deps, error) {
	d := &Deps{Logger: logger}

	if cfg.NeedsRedis() {
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	if cfg.PostgresDSN != "" {
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.PG = pool
		d.Ledger = postgresql.NewJobRepository(pool)
		logger.Info("job ledger enabled", "postgres_dsn", config.RedactDSN(cfg.PostgresDSN))
	}

	switch cfg.Mailbox.Backend {
	case config.MailboxRedis:
		d.Mailbox = mailbox.NewRedis(d.Redis, cfg.Mailbox.Prefix, cfg.Mailbox.TTL)
	default:
		d.Memory = mailbox.NewMemory(cfg.Mailbox.TTL)
		d.Mailbox = d.Memory
	}

	return d, nil
}

func (d *Deps) Close() {
	if d.PG != nil {
		d.PG.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// NewProcessor builds the job worker against real ffmpeg and object storage.
func (d *Deps) NewProcessor(cfg config.Config) (*worker.Processor, error) {
	core, err := storage.NewMinioCore(storage.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	opts := []storage.Option{
		storage.WithPartSize(cfg.Storage.PartSize),
		storage.WithLogger(d.Logger),
	}
	if cfg.Storage.PublicURL != "" {
		opts = append(opts, storage.WithPublicURL(cfg.Storage.PublicURL))
	}
	uploader := storage.NewUploader(core, cfg.Storage.Region, opts...)

	var ledger worker.JobLedger
	if d.Ledger != nil {
		ledger = d.Ledger
	}

	return worker.NewProcessor(
		media.NewExecRunner(cfg.FFmpegPath),
		uploader,
		d.Mailbox,
		ledger,
		worker.Config{Bucket: cfg.Storage.Bucket, Timeout: cfg.JobTimeout},
		d.Logger,
	), nil
}
