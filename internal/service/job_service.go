package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"media-job-service/internal/entity"
	"media-job-service/internal/mailbox"
)

var ErrNotFound = errors.New("not found")

// Ledger port (implementation: postgresql.JobRepository). Optional.
type JobRepository interface {
	Create(ctx context.Context, job entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.JobRecord, error)
}

// Launcher starts a job in the background and returns without waiting for it.
type Launcher interface {
	Launch(ctx context.Context, job entity.Job) error
}

type JobService struct {
	repo     JobRepository
	launcher Launcher
	mailbox  mailbox.Mailbox
}

func NewJobService(repo JobRepository, launcher Launcher, mb mailbox.Mailbox) *JobService {
	return &JobService{repo: repo, launcher: launcher, mailbox: mb}
}

// Submit validates req, mints a job id and starts the job. It never waits
// for the media work itself.
func (s *JobService) Submit(ctx context.Context, req entity.JobRequest) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	job := entity.NewJob(req)

	if s.repo != nil {
		if err := s.repo.Create(ctx, job); err != nil {
			return uuid.Nil, fmt.Errorf("record job: %w", err)
		}
	}

	if err := s.launcher.Launch(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("launch job: %w", err)
	}
	return job.ID, nil
}

// Status takes the terminal record for jobID if one is waiting. Unknown,
// running and already-polled jobs all report processing.
func (s *JobService) Status(ctx context.Context, jobID string) (entity.StatusRecord, error) {
	rec, ok, err := s.mailbox.TakeMatching(ctx, jobID)
	if err != nil {
		return entity.StatusRecord{}, err
	}
	if !ok {
		return entity.Processing(jobID), nil
	}
	return rec, nil
}

// Lookup reads the ledger without consuming anything.
func (s *JobService) Lookup(ctx context.Context, id uuid.UUID) (*entity.JobRecord, error) {
	if s.repo == nil {
		return nil, ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}
