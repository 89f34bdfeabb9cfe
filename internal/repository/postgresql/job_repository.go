package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kyc-worker-service/internal/apperr"
	"kyc-worker-service/internal/entity"
)

var ErrNotFound = apperr.ErrNotFound

// JobRepository is the Status Store: kyc_jobs plus the mirrored KYC columns
// on users. Every write that touches a job also touches its owner's mirror
// inside the same transaction.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// CreateJob inserts a queued job and points the user's mirror at it. The
// caller is already authenticated, so a missing mirror row is provisioned.
func (r *JobRepository) CreateJob(ctx context.Context, userID uuid.UUID, images entity.Images) (uuid.UUID, error) {
	var id uuid.UUID
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const ensureUser = `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING;`
		if _, err := tx.Exec(ctx, ensureUser, userID); err != nil {
			return err
		}

		const insertJob = `
INSERT INTO kyc_jobs (user_id, status, image_front, image_back, image_selfie)
VALUES ($1, 'queued', $2, $3, $4)
RETURNING id;
`
		if err := tx.QueryRow(ctx, insertJob, userID, images.Front, images.Back, images.Selfie).Scan(&id); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("user %s: %w", userID, ErrNotFound)
			}
			return err
		}

		const mirror = `
UPDATE users
SET kyc_status = 'queued', kyc_job_id = $2, updated_at = NOW()
WHERE id = $1;
`
		tag, err := tx.Exec(ctx, mirror, userID, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, user_id, status, image_front, image_back, image_selfie,
       ocr_confidence, match_score, credential_id, transaction_hash,
       created_at, updated_at
FROM kyc_jobs
WHERE id = $1;
`
	var (
		job        entity.Job
		statusText string
	)
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID,
		&job.UserID,
		&statusText,
		&job.Images.Front,
		&job.Images.Back,
		&job.Images.Selfie,
		&job.OCRConfidence,   // NULL => nil
		&job.MatchScore,      // NULL => nil
		&job.CredentialID,    // NULL => nil
		&job.TransactionHash, // NULL => nil
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	job.Status = entity.JobStatus(statusText)
	if !job.Status.Valid() {
		return nil, fmt.Errorf("job %s: unknown status %q", id, statusText)
	}
	return &job, nil
}

// ApplyTransition writes the transition to the job and mirrors the resulting
// status onto the owning user in one transaction. A job that already reached
// needs_review or approved is never written again; that returns ErrConflict.
func (r *JobRepository) ApplyTransition(ctx context.Context, jobID uuid.UUID, t entity.Transition) error {
	var fields entity.Job
	t.Apply(&fields)

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const updateJob = `
UPDATE kyc_jobs
SET status           = $2,
    ocr_confidence   = COALESCE($3, ocr_confidence),
    match_score      = COALESCE($4, match_score),
    credential_id    = COALESCE($5, credential_id),
    transaction_hash = COALESCE($6, transaction_hash),
    updated_at       = NOW()
WHERE id = $1 AND status NOT IN ('needs_review', 'approved')
RETURNING user_id;
`
		var userID uuid.UUID
		err := tx.QueryRow(ctx, updateJob, jobID, string(fields.Status),
			fields.OCRConfidence, fields.MatchScore, fields.CredentialID, fields.TransactionHash,
		).Scan(&userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.missingOrFinal(ctx, tx, jobID)
			}
			return err
		}

		const mirror = `
UPDATE users
SET kyc_status        = $2,
    kyc_job_id        = $3,
    kyc_credential_id = COALESCE($4, kyc_credential_id),
    kyc_tx_hash       = COALESCE($5, kyc_tx_hash),
    updated_at        = NOW()
WHERE id = $1;
`
		tag, err := tx.Exec(ctx, mirror, userID, string(fields.Status), jobID, fields.CredentialID, fields.TransactionHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil
	})
}

func (r *JobRepository) missingOrFinal(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM kyc_jobs WHERE id = $1;`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is already %s: %w", jobID, status, apperr.ErrConflict)
}

func (r *JobRepository) GetUserKYC(ctx context.Context, userID uuid.UUID) (*entity.UserKYC, error) {
	const q = `SELECT id, kyc_status, kyc_job_id FROM users WHERE id = $1;`

	var u entity.UserKYC
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.KYCStatus, &u.KYCJobID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListStuckProcessing returns ids of jobs that have sat in processing for
// longer than olderThan. Used for reporting only; nothing requeues them.
func (r *JobRepository) ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	const q = `
SELECT id FROM kyc_jobs
WHERE status = 'processing' AND updated_at < $1
ORDER BY updated_at
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
