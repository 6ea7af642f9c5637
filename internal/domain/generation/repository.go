package generation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, job *Job) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO generation_jobs
			(id, user_id, source_image_url, prompt, quality, provider, credits_cost, status)
		VALUES
			(:id, :user_id, :source_image_url, :prompt, :quality, :provider, :credits_cost, :status)
	`, job)
	return err
}

func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE generation_jobs SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (r *Repository) MarkDispatched(ctx context.Context, id uuid.UUID, vendorTaskID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE generation_jobs SET status = $1, vendor_task_id = $2 WHERE id = $3
	`, StatusDispatched, vendorTaskID, id)
	return err
}

func (r *Repository) Complete(ctx context.Context, id uuid.UUID, modelURL, videoURL, thumbnailURL string, processingSeconds int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = $1, model_url = $2, video_url = $3, thumbnail_url = $4,
		    processing_seconds = $5, completed_at = now()
		WHERE id = $6
	`, StatusCompleted, modelURL, videoURL, thumbnailURL, processingSeconds, id)
	return err
}

// Fail marks the job failed unless it already reached a terminal state. The
// guard keeps the reaper from clobbering a job that completed between listing
// and reaping.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = $1, error_message = $2, completed_at = now()
		WHERE id = $3 AND status NOT IN ('completed', 'failed')
	`, StatusFailed, errorMessage, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *Repository) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*Job, error) {
	var job Job
	err := r.db.GetContext(ctx, &job,
		`SELECT * FROM generation_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Job, error) {
	jobs := []Job{}
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM generation_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return jobs, err
}

func (r *Repository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM generation_jobs WHERE user_id = $1`, userID)
	return count, err
}

// ListStale returns open jobs created before the cutoff. These are jobs whose
// polling loop died with the process.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time) ([]Job, error) {
	jobs := []Job{}
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM generation_jobs
		WHERE status NOT IN ('completed', 'failed') AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	return jobs, err
}
