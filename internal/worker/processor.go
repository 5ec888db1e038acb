package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"media-job-service/internal/entity"
	"media-job-service/internal/media"
	"media-job-service/internal/storage"
)

type Uploader interface {
	Upload(ctx context.Context, r io.Reader, dst storage.Destination, contentType string) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, rec entity.StatusRecord) error
}

// JobLedger mirrors job progress into durable storage. Optional.
type JobLedger interface {
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, url string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errText string) error
}

type Config struct {
	Bucket string
	// Timeout bounds one job end to end; zero means no deadline.
	Timeout time.Duration
}

type Processor struct {
	runner   media.Runner
	uploader Uploader
	mailbox  Publisher
	ledger   JobLedger
	cfg      Config
	logger   *slog.Logger
}

func NewProcessor(runner media.Runner, uploader Uploader, mailbox Publisher, ledger JobLedger, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		runner:   runner,
		uploader: uploader,
		mailbox:  mailbox,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process runs one job to its terminal status and publishes that status.
// The returned error is only for logging: the caller has nothing to undo.
func (p *Processor) Process(ctx context.Context, job entity.Job) error {
	start := time.Now()
	log := p.logger.With("job_id", job.ID.String(), "kind", string(job.Request.Kind))

	if p.ledger != nil {
		if err := p.ledger.MarkRunning(ctx, job.ID); err != nil {
			log.Warn("ledger mark running failed", "error", err)
		}
	}

	log.Info("job started")
	rec := p.execute(ctx, job)

	if err := p.mailbox.Publish(ctx, rec); err != nil {
		// Nothing left to do: the outcome is unobservable through the mailbox.
		log.Error("publish status failed", "status", string(rec.Status), "error", err)
		p.record(ctx, log, job.ID, rec)
		return fmt.Errorf("publish status: %w", err)
	}
	p.record(ctx, log, job.ID, rec)

	if rec.Status == entity.StatusError {
		log.Error("job failed", "status", string(rec.Status),
			"duration_ms", time.Since(start).Milliseconds(), "error", rec.Error)
		return errors.New(rec.Error)
	}

	log.Info("job completed", "status", string(rec.Status),
		"duration_ms", time.Since(start).Milliseconds(), "url", rec.URL)
	return nil
}

func (p *Processor) record(ctx context.Context, log *slog.Logger, id uuid.UUID, rec entity.StatusRecord) {
	if p.ledger == nil {
		return
	}
	var err error
	if rec.Status == entity.StatusCompleted {
		err = p.ledger.MarkCompleted(ctx, id, rec.URL)
	} else {
		err = p.ledger.MarkFailed(ctx, id, rec.Error)
	}
	if err != nil {
		log.Warn("ledger update failed", "error", err)
	}
}

func (p *Processor) execute(ctx context.Context, job entity.Job) (rec entity.StatusRecord) {
	var proc media.Process
	defer func() {
		if r := recover(); r != nil {
			if proc != nil {
				proc.Kill()
				proc.Wait()
			}
			rec = entity.Failed(job.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	out, err := job.Request.Kind.Output()
	if err != nil {
		return entity.Failed(job.ID, err.Error())
	}
	args, err := media.Args(job.Request)
	if err != nil {
		return entity.Failed(job.ID, err.Error())
	}

	proc, err = p.runner.Start(ctx, args)
	if err != nil {
		return entity.Failed(job.ID, err.Error())
	}

	dst := storage.Destination{Bucket: p.cfg.Bucket, Key: out.Key(job.ID)}
	url, upErr := p.uploader.Upload(ctx, proc.Stdout(), dst, out.ContentType)
	if upErr != nil {
		// Nobody reads stdout anymore; stop the producer before reaping it.
		proc.Kill()
	}
	exit := proc.Wait()

	switch {
	case upErr != nil:
		return entity.Failed(job.ID, p.describe(ctx, upErr.Error()))
	case exit.AsError() != nil:
		return entity.Failed(job.ID, p.describe(ctx, exit.Detail()))
	default:
		return entity.Completed(job.ID, url)
	}
}

func (p *Processor) describe(ctx context.Context, detail string) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("job timed out after %s: %s", p.cfg.Timeout, detail)
	}
	return detail
}
