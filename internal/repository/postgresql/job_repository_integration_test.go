//go:build integration

package postgresql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"kyc-worker-service/internal/apperr"
	"kyc-worker-service/internal/entity"
	"kyc-worker-service/internal/repository/postgresql"
)

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("kyc"),
		tcpostgres.WithUsername("kyc"),
		tcpostgres.WithPassword("kyc"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgresql.NewPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgresql.Migrate(ctx, pool))
	return pool
}

var imgs = entity.Images{Front: "f", Back: "b", Selfie: "s"}

func TestJobRepository_Lifecycle_MirrorsUserStatus(t *testing.T) {
	ctx := context.Background()
	repo := postgresql.NewJobRepository(newPool(t))
	user := uuid.New()

	id, err := repo.CreateJob(ctx, user, imgs)
	require.NoError(t, err)

	job, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusQueued, job.Status)
	assert.Equal(t, user, job.UserID)
	assert.Equal(t, imgs, job.Images)
	assert.Nil(t, job.OCRConfidence)

	assertMirror := func(want entity.JobStatus) {
		t.Helper()
		u, err := repo.GetUserKYC(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, string(want), u.KYCStatus)
		require.NotNil(t, u.KYCJobID)
		assert.Equal(t, id, *u.KYCJobID)
	}
	assertMirror(entity.StatusQueued)

	require.NoError(t, repo.ApplyTransition(ctx, id, entity.Processing{}))
	assertMirror(entity.StatusProcessing)

	require.NoError(t, repo.ApplyTransition(ctx, id, entity.Approved{
		OCRConfidence: 0.95, MatchScore: 0.91, CredentialID: "Qm123", TransactionHash: "0xabc",
	}))
	assertMirror(entity.StatusApproved)

	job, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, job.Status)
	assert.InDelta(t, 0.95, *job.OCRConfidence, 1e-9)
	assert.InDelta(t, 0.91, *job.MatchScore, 1e-9)
	assert.Equal(t, "Qm123", *job.CredentialID)
	assert.Equal(t, "0xabc", *job.TransactionHash)
}

func TestJobRepository_NeedsReviewKeepsOnlyComputedScores(t *testing.T) {
	ctx := context.Background()
	repo := postgresql.NewJobRepository(newPool(t))

	id, err := repo.CreateJob(ctx, uuid.New(), imgs)
	require.NoError(t, err)
	require.NoError(t, repo.ApplyTransition(ctx, id, entity.Processing{}))
	require.NoError(t, repo.ApplyTransition(ctx, id, entity.NeedsReview{OCRConfidence: entity.Float(0.4)}))

	job, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusNeedsReview, job.Status)
	assert.InDelta(t, 0.4, *job.OCRConfidence, 1e-9)
	assert.Nil(t, job.MatchScore)
	assert.Nil(t, job.CredentialID)
}

func TestJobRepository_TerminalJobIsNeverRewritten(t *testing.T) {
	ctx := context.Background()
	repo := postgresql.NewJobRepository(newPool(t))
	user := uuid.New()

	id, err := repo.CreateJob(ctx, user, imgs)
	require.NoError(t, err)
	require.NoError(t, repo.ApplyTransition(ctx, id, entity.Processing{}))
	require.NoError(t, repo.ApplyTransition(ctx, id, entity.Approved{
		OCRConfidence: 0.95, MatchScore: 0.91, CredentialID: "Qm123", TransactionHash: "0xabc",
	}))

	err = repo.ApplyTransition(ctx, id, entity.Processing{})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	err = repo.ApplyTransition(ctx, id, entity.NeedsReview{OCRConfidence: entity.Float(0.1)})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	job, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, job.Status)
	assert.InDelta(t, 0.95, *job.OCRConfidence, 1e-9)

	u, err := repo.GetUserKYC(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, string(entity.StatusApproved), u.KYCStatus)
}

func TestJobRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := postgresql.NewJobRepository(newPool(t))

	_, err := repo.GetByID(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = repo.ApplyTransition(ctx, uuid.New(), entity.Processing{})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestJobRepository_ListStuckProcessing(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t)
	repo := postgresql.NewJobRepository(pool)

	stuck, err := repo.CreateJob(ctx, uuid.New(), imgs)
	require.NoError(t, err)
	require.NoError(t, repo.ApplyTransition(ctx, stuck, entity.Processing{}))
	_, err = pool.Exec(ctx, `UPDATE kyc_jobs SET updated_at = NOW() - INTERVAL '1 hour' WHERE id = $1`, stuck)
	require.NoError(t, err)

	fresh, err := repo.CreateJob(ctx, uuid.New(), imgs)
	require.NoError(t, err)
	require.NoError(t, repo.ApplyTransition(ctx, fresh, entity.Processing{}))

	ids, err := repo.ListStuckProcessing(ctx, 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stuck}, ids)
}

func TestMigrateDown(t *testing.T) {
	ctx := context.Background()
	pool := newPool(t)

	require.NoError(t, postgresql.MigrateDown(ctx, pool))

	var exists bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass('kyc_jobs') IS NOT NULL`).Scan(&exists))
	assert.False(t, exists)

	require.NoError(t, postgresql.Migrate(ctx, pool))
}
