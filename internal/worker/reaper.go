package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kyc-worker-service/internal/metrics"
	"kyc-worker-service/internal/service"
)

type StuckLister interface {
	ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)
}

// Reaper periodically returns deliveries whose worker went away to the
// queue, and reports jobs that sit in processing past the visibility
// timeout (they are not touched; an operator decides).
type Reaper struct {
	requeuer   service.StaleRequeuer // nil for backends that redeliver on their own
	stuck      StuckLister
	interval   time.Duration
	visibility time.Duration
	batch      int64
}

func NewReaper(requeuer service.StaleRequeuer, stuck StuckLister, interval, visibility time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		requeuer:   requeuer,
		stuck:      stuck,
		interval:   interval,
		visibility: visibility,
		batch:      100,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Reaper) Sweep(ctx context.Context) {
	if r.requeuer != nil {
		n, err := r.requeuer.RequeueStale(ctx, r.visibility, r.batch)
		if err != nil {
			log.Error().Err(err).Msg("requeue stale failed")
		} else if n > 0 {
			log.Info().Int64("count", n).Msg("requeued stale deliveries")
		}
	}

	if r.stuck == nil {
		return
	}
	ids, err := r.stuck.ListStuckProcessing(ctx, r.visibility, int(r.batch))
	if err != nil {
		log.Error().Err(err).Msg("list stuck jobs failed")
		return
	}
	metrics.StuckProcessing.Set(float64(len(ids)))
	for _, id := range ids {
		log.Warn().Str("job_id", id.String()).Msg("job stuck in processing")
	}
}
