package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kyc-worker-service/internal/apperr"
	"kyc-worker-service/internal/entity"
	"kyc-worker-service/internal/metrics"
)

// Repository port (implementation: postgresql.JobRepository).
type JobRepository interface {
	CreateJob(ctx context.Context, userID uuid.UUID, images entity.Images) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}

// Producer side of the queue only.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type ImageStore interface {
	Put(data []byte) (string, error)
}

type JobService struct {
	repo         JobRepository
	queue        JobQueue
	images       ImageStore
	maxFileBytes int64
}

func NewJobService(repo JobRepository, queue JobQueue, images ImageStore, maxFileBytes int64) *JobService {
	return &JobService{repo: repo, queue: queue, images: images, maxFileBytes: maxFileBytes}
}

// Upload is one image artifact as received from the client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type SubmitRequest struct {
	UserID uuid.UUID
	Front  *Upload
	Back   *Upload
	Selfie *Upload
}

// Submit validates the three artifacts, stores them, records a queued job
// and enqueues its id. It never waits for processing. An enqueue failure is
// logged only: the job row already exists and can be reconciled.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if req.Front == nil || req.Back == nil || req.Selfie == nil ||
		len(req.Front.Data) == 0 || len(req.Back.Data) == 0 || len(req.Selfie.Data) == 0 {
		return uuid.Nil, apperr.Validation("all three images (front, back, selfie) are required")
	}
	for _, u := range []*Upload{req.Front, req.Back, req.Selfie} {
		if err := s.checkUpload(u); err != nil {
			return uuid.Nil, err
		}
	}

	var images entity.Images
	var err error
	if images.Front, err = s.images.Put(req.Front.Data); err != nil {
		return uuid.Nil, fmt.Errorf("store front image: %w", err)
	}
	if images.Back, err = s.images.Put(req.Back.Data); err != nil {
		return uuid.Nil, fmt.Errorf("store back image: %w", err)
	}
	if images.Selfie, err = s.images.Put(req.Selfie.Data); err != nil {
		return uuid.Nil, fmt.Errorf("store selfie image: %w", err)
	}

	id, err := s.repo.CreateJob(ctx, req.UserID, images)
	if err != nil {
		return uuid.Nil, err
	}
	metrics.JobsSubmitted.Inc()

	if err := s.queue.Enqueue(ctx, id.String()); err != nil {
		metrics.EnqueueFailures.Inc()
		log.Error().Err(err).
			Str("job_id", id.String()).
			Str("user_id", req.UserID.String()).
			Msg("enqueue failed, job left queued")
	}

	log.Info().Str("job_id", id.String()).Str("user_id", req.UserID.String()).Msg("kyc job submitted")
	return id, nil
}

func (s *JobService) checkUpload(u *Upload) error {
	if !strings.HasPrefix(u.ContentType, "image/") {
		return apperr.Validation("only images allowed: " + u.Filename)
	}
	if s.maxFileBytes > 0 && int64(len(u.Data)) > s.maxFileBytes {
		return fmt.Errorf("%w: %s exceeds %d bytes", apperr.ErrTooLarge, u.Filename, s.maxFileBytes)
	}
	return nil
}

// GetStatus returns the job only to its owner. A job owned by someone else
// yields ErrForbidden, which callers report exactly like ErrNotFound.
func (s *JobService) GetStatus(ctx context.Context, callerID, jobID uuid.UUID) (*entity.Job, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
		}
		return nil, err
	}
	if job.UserID != callerID {
		return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrForbidden)
	}
	return job, nil
}
