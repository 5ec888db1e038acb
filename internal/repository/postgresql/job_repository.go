package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"media-job-service/internal/entity"
	"media-job-service/internal/service"
)

// JobRepository is the durable ledger of submitted jobs. The mailbox stays
// the delivery channel; this table is what operators and GET /jobs/{id} read.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}
	return pool, nil
}

func (r *JobRepository) Create(ctx context.Context, job entity.Job) error {
	const q = `
INSERT INTO media_jobs (id, kind, video_url, audio_url, state, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), 'submitted', $5, $5);
`
	_, err := r.pool.Exec(ctx, q,
		job.ID, string(job.Request.Kind), job.Request.VideoURL, job.Request.AudioURL, job.CreatedAt,
	)
	return err
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.JobRecord, error) {
	const q = `
SELECT id, kind, video_url, COALESCE(audio_url, ''), state, result_url, error, created_at, updated_at
FROM media_jobs
WHERE id = $1;
`
	var (
		rec   entity.JobRecord
		kind  string
		state string
	)
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID,
		&kind,
		&rec.VideoURL,
		&rec.AudioURL,
		&state,
		&rec.ResultURL, // NULL => nil
		&rec.Error,     // NULL => nil
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	rec.Kind = entity.JobKind(kind)
	rec.State = entity.JobState(state)
	return &rec, nil
}

func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE media_jobs SET state='running', updated_at=now() WHERE id=$1 AND state='submitted';`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE media_jobs SET state='completed', result_url=$2, error=NULL, updated_at=now() WHERE id=$1;`
	return r.exec(ctx, q, id, url)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `UPDATE media_jobs SET state='error', error=$2, updated_at=now() WHERE id=$1;`
	return r.exec(ctx, q, id, errText)
}

func (r *JobRepository) exec(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}
