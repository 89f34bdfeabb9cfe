package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kyc-worker-service/internal/apperr"
	"kyc-worker-service/internal/entity"
	"kyc-worker-service/internal/metrics"
	"kyc-worker-service/internal/realtime"
	"kyc-worker-service/internal/stage"
)

// ErrPermanent marks a delivery that can never succeed (malformed id,
// dangling job reference). The pool acks it instead of retrying.
var ErrPermanent = errors.New("permanent failure")

// ErrLeaseHeld means another worker is running the same job right now.
var ErrLeaseHeld = errors.New("job lease held by another worker")

var tracer = otel.Tracer("kyc-worker-service/worker")

type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, t entity.Transition) error
}

type ImageLoader interface {
	Get(ref string) ([]byte, error)
}

type Notifier interface {
	Push(ctx context.Context, userID string, ev realtime.Event)
}

type DocumentReader interface {
	Extract(ctx context.Context, front, back stage.Image) (stage.OCRResult, error)
}

type FaceMatcher interface {
	Match(ctx context.Context, selfie, reference stage.Image, userID string) (stage.MatchResult, error)
}

type CredentialIssuer interface {
	Issue(ctx context.Context, in stage.IssueRequest) (stage.IssueResult, error)
}

type Stages struct {
	OCR    DocumentReader
	Match  FaceMatcher
	Issuer CredentialIssuer
}

type Thresholds struct {
	OCR   float64
	Match float64
}

type Processor struct {
	store      JobStore
	images     ImageLoader
	notifier   Notifier
	locker     Locker
	stages     Stages
	thresholds Thresholds
}

func NewProcessor(store JobStore, images ImageLoader, notifier Notifier, locker Locker, stages Stages, th Thresholds) *Processor {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Processor{
		store:      store,
		images:     images,
		notifier:   notifier,
		locker:     locker,
		stages:     stages,
		thresholds: th,
	}
}

// Process runs the verification pipeline for one job reference. A stage
// error is returned as is and leaves the job in processing; the queue
// redelivers and the run starts over from OCR.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		log.Error().Str("job_id", jobID).Err(err).Msg("[worker] malformed job reference")
		return fmt.Errorf("%w: parse job id %q: %v", ErrPermanent, jobID, err)
	}

	unlock, ok, err := p.locker.Lock(ctx, id.String())
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		log.Info().Str("job_id", id.String()).Msg("[worker] duplicate delivery while job in flight, dropping")
		return ErrLeaseHeld
	}
	defer unlock(context.WithoutCancel(ctx))

	job, err := p.store.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Error().Str("job_id", id.String()).Msg("[worker] job not found, dropping")
		return fmt.Errorf("%w: job %s not found", ErrPermanent, id)
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	if job.Status.Terminal() {
		log.Info().Str("job_id", id.String()).Str("status", string(job.Status)).
			Msg("[worker] job already finished, skipping")
		return nil
	}

	ctx, span := tracer.Start(ctx, "kyc.pipeline", trace.WithAttributes(
		attribute.String("job.id", id.String()),
		attribute.String("user.id", job.UserID.String()),
	))
	defer span.End()

	final, err := p.run(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Str("job_id", id.String()).Err(err).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("[worker] pipeline failed, job stays processing")
		return err
	}

	metrics.JobsFinished.WithLabelValues(string(final)).Inc()
	log.Info().Str("job_id", id.String()).Str("user_id", job.UserID.String()).
		Str("status", string(final)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("[worker] job finished")
	return nil
}

func (p *Processor) run(ctx context.Context, job *entity.Job) (entity.JobStatus, error) {
	if err := p.transition(ctx, job, entity.Processing{}); err != nil {
		return "", err
	}

	front, back, selfie, err := p.loadImages(job.Images)
	if err != nil {
		return "", err
	}

	var ocr stage.OCRResult
	err = observe(ctx, stage.StageOCR, func(ctx context.Context) error {
		ocr, err = p.stages.OCR.Extract(ctx, front, back)
		return err
	})
	if err != nil {
		return "", err
	}
	if t := EvaluateOCR(ocr.Confidence, p.thresholds.OCR); t != nil {
		return t.Status(), p.transition(ctx, job, t)
	}

	var match stage.MatchResult
	err = observe(ctx, stage.StageFaceMatch, func(ctx context.Context) error {
		match, err = p.stages.Match.Match(ctx, selfie, front, job.UserID.String())
		return err
	})
	if err != nil {
		return "", err
	}
	if t := EvaluateMatch(ocr.Confidence, match.MatchScore, p.thresholds.Match); t != nil {
		return t.Status(), p.transition(ctx, job, t)
	}

	var issued stage.IssueResult
	err = observe(ctx, stage.StageIssuance, func(ctx context.Context) error {
		issued, err = p.stages.Issuer.Issue(ctx, stage.IssueRequest{
			UserID: job.UserID.String(),
			Status: string(entity.StatusApproved),
		})
		return err
	})
	if err != nil {
		return "", err
	}

	t := entity.Approved{
		OCRConfidence:   ocr.Confidence,
		MatchScore:      match.MatchScore,
		CredentialID:    issued.CredentialID,
		TransactionHash: issued.TransactionHash,
	}
	return t.Status(), p.transition(ctx, job, t)
}

// transition pushes the update to the user first, then writes the job and
// the user's mirrored status through in one store call.
func (p *Processor) transition(ctx context.Context, job *entity.Job, t entity.Transition) error {
	if !entity.CanTransition(job.Status, t.Status()) {
		return fmt.Errorf("%w: illegal transition %s -> %s", ErrPermanent, job.Status, t.Status())
	}

	p.notifier.Push(ctx, job.UserID.String(), realtime.KYCUpdate(job.ID, t))

	if err := p.store.ApplyTransition(ctx, job.ID, t); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// another run already finished the job
			return fmt.Errorf("%w: apply %s: %v", ErrPermanent, t.Status(), err)
		}
		return fmt.Errorf("apply %s: %w", t.Status(), err)
	}
	t.Apply(job)
	return nil
}

func (p *Processor) loadImages(refs entity.Images) (front, back, selfie stage.Image, err error) {
	load := func(ref, name string) (stage.Image, error) {
		data, err := p.images.Get(ref)
		if err != nil {
			return stage.Image{}, fmt.Errorf("%w: load %s image: %v", ErrPermanent, name, err)
		}
		return stage.Image{Filename: name + ".jpg", Data: data}, nil
	}

	if front, err = load(refs.Front, "front"); err != nil {
		return
	}
	if back, err = load(refs.Back, "back"); err != nil {
		return
	}
	selfie, err = load(refs.Selfie, "selfie")
	return
}

func observe(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "kyc.stage."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.StageDuration.WithLabelValues(name, result).Observe(time.Since(start).Seconds())
	return err
}
