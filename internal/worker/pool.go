package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kyc-worker-service/internal/metrics"
	"kyc-worker-service/internal/service"
)

type Claimer interface {
	Claim(ctx context.Context, timeout time.Duration) (service.Delivery, error)
}

type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

type Pool struct {
	queue      Claimer
	processor  JobProcessor
	workers    int
	claimDelay time.Duration
}

func NewPool(queue Claimer, processor JobProcessor, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
	}
}

// Run claims deliveries and fans them out to the workers until ctx is done,
// then waits for in-flight jobs to settle.
func (p *Pool) Run(ctx context.Context) {
	log.Info().Int("workers", p.workers).Msg("worker pool started")

	deliveries := make(chan service.Delivery)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for d := range deliveries {
				p.handle(ctx, n, d)
			}
		}(i + 1)
	}

	defer func() {
		close(deliveries)
		wg.Wait()
		log.Info().Msg("worker pool stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		d, err := p.queue.Claim(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, service.ErrEmpty) && ctx.Err() == nil {
				log.Warn().Err(err).Msg("claim failed")
				time.Sleep(time.Second)
			}
			continue
		}
		select {
		case deliveries <- d:
		case <-ctx.Done():
			// Not started: hand it back for another worker.
			_ = d.Nack(context.WithoutCancel(ctx))
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, n int, d service.Delivery) {
	err := p.processor.Process(ctx, d.JobID())

	settle := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if ackErr := d.Ack(settle); ackErr != nil {
			log.Error().Int("worker", n).Str("job_id", d.JobID()).Err(ackErr).Msg("ack failed")
		}
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrLeaseHeld):
		metrics.JobsFinished.WithLabelValues("dropped").Inc()
		if ackErr := d.Ack(settle); ackErr != nil {
			log.Error().Int("worker", n).Str("job_id", d.JobID()).Err(ackErr).Msg("ack failed")
		}
	default:
		metrics.JobsFinished.WithLabelValues("retry").Inc()
		log.Warn().Int("worker", n).Str("job_id", d.JobID()).Int("attempt", d.Attempt()).Err(err).
			Msg("process failed, returning to queue")
		if nackErr := d.Nack(settle); nackErr != nil {
			log.Error().Int("worker", n).Str("job_id", d.JobID()).Err(nackErr).Msg("nack failed")
		}
	}
}
