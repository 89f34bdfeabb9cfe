// Package app opens the shared infrastructure (postgres, redis, image store,
// queue backend) and builds the pipeline from configuration. Both binaries
// use it so the wiring lives in one place.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"kyc-worker-service/internal/config"
	"kyc-worker-service/internal/repository/postgresql"
	"kyc-worker-service/internal/service"
	"kyc-worker-service/internal/stage"
	"kyc-worker-service/internal/storage/images"
	"kyc-worker-service/internal/worker"
)

const (
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
	BackendMemory = "memory"
)

type Deps struct {
	Cfg    *config.Config
	DB     *pgxpool.Pool
	Redis  redis.UniversalClient // nil when redis.url is empty
	Repo   *postgresql.JobRepository
	Images *images.Store

	closers []func()
}

func Open(ctx context.Context, cfg *config.Config) (*Deps, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required (KYC_DATABASE_URL)")
	}

	d := &Deps{Cfg: cfg}

	pool, err := postgresql.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	d.DB = pool
	d.closers = append(d.closers, pool.Close)
	d.Repo = postgresql.NewJobRepository(pool)

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			d.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.Redis = rdb
		d.closers = append(d.closers, func() { _ = rdb.Close() })
	}

	store, err := images.New(cfg.Uploads.Dir)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("image store: %w", err)
	}
	d.Images = store

	return d, nil
}

// Close releases everything Open acquired, newest first.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Queue builds the configured backend. The memory backend only works when
// producer and consumer share the process (worker.embedded).
func (d *Deps) Queue() (service.Queue, error) {
	q := d.Cfg.Queue
	switch q.Backend {
	case BackendRedis:
		if d.Redis == nil {
			return nil, errors.New("queue.backend=redis needs redis.url")
		}
		return service.NewRedisQueue(d.Redis, service.KeysFor(q.Name), q.MaxAttempts, q.RetryBackoff), nil
	case BackendKafka:
		kq, err := service.NewKafkaQueue(d.Cfg.Kafka.Brokers, d.Cfg.Kafka.Topic, d.Cfg.Kafka.Group, q.MaxAttempts, q.RetryBackoff)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		d.closers = append(d.closers, kq.Close)
		return kq, nil
	case BackendMemory:
		if !d.Cfg.Worker.Embedded {
			return nil, errors.New("queue.backend=memory requires worker.embedded=true")
		}
		return service.NewMemoryQueue(0, q.MaxAttempts, q.RetryBackoff), nil
	default:
		return nil, fmt.Errorf("unknown queue.backend %q", q.Backend)
	}
}

// Producer returns the enqueue side for a process that does not run the
// worker pool. For kafka it is a client outside the consumer group, so the
// process never takes partitions away from the workers.
func (d *Deps) Producer() (service.JobQueue, error) {
	if d.Cfg.Queue.Backend != BackendKafka {
		return d.Queue()
	}
	kp, err := service.NewKafkaProducer(d.Cfg.Kafka.Brokers, d.Cfg.Kafka.Topic)
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	d.closers = append(d.closers, kp.Close)
	return kp, nil
}

// Locker returns a redis lease when redis is configured. Without it only a
// single process may consume, which the memory backend already implies.
func (d *Deps) Locker() worker.Locker {
	if d.Redis == nil {
		log.Warn().Msg("redis not configured, job leases are process local")
		return worker.NoopLocker{}
	}
	return worker.NewRedisLocker(d.Redis, d.Cfg.Queue.Name, d.Cfg.Worker.LockTTL)
}

func (d *Deps) Processor(n worker.Notifier) *worker.Processor {
	s := d.Cfg.Stages
	return worker.NewProcessor(d.Repo, d.Images, n, d.Locker(),
		worker.Stages{
			OCR:    stage.NewOCRClient(s.OCRURL, s.Timeout),
			Match:  stage.NewFaceMatchClient(s.MatchURL, s.Timeout),
			Issuer: stage.NewIssuanceClient(s.IssuanceURL, s.Timeout),
		},
		worker.Thresholds{OCR: s.OCRThreshold, Match: s.MatchThreshold},
	)
}

func (d *Deps) Reaper(q service.Queue) *worker.Reaper {
	requeuer, _ := q.(service.StaleRequeuer)
	return worker.NewReaper(requeuer, d.Repo, d.Cfg.Queue.ReaperInterval, d.Cfg.Queue.VisibilityTimeout)
}
