package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrQueueFull = errors.New("queue: full")

// MemoryQueue is the in-process backend: a buffered channel with the same
// retry policy as the redis queue. Used by tests and single-process runs.
type MemoryQueue struct {
	ch          chan memoryItem
	maxAttempts int
	backoff     time.Duration

	mu   sync.Mutex
	dead []string
}

type memoryItem struct {
	jobID   string
	attempt int
}

func NewMemoryQueue(size, maxAttempts int, backoff time.Duration) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MemoryQueue{ch: make(chan memoryItem, size), maxAttempts: maxAttempts, backoff: backoff}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.push(memoryItem{jobID: jobID, attempt: 1})
}

func (q *MemoryQueue) push(it memoryItem) error {
	select {
	case q.ch <- it:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Claim(ctx context.Context, timeout time.Duration) (Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case it := <-q.ch:
		return &memoryDelivery{q: q, item: it}, nil
	case <-timer.C:
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dead lists job ids that exhausted their attempts.
func (q *MemoryQueue) Dead() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.dead...)
}

func (q *MemoryQueue) Len() int { return len(q.ch) }

type memoryDelivery struct {
	q    *MemoryQueue
	item memoryItem
}

func (d *memoryDelivery) JobID() string                 { return d.item.jobID }
func (d *memoryDelivery) Attempt() int                  { return d.item.attempt }
func (d *memoryDelivery) Ack(ctx context.Context) error { return nil }

func (d *memoryDelivery) Nack(ctx context.Context) error {
	q := d.q
	if d.item.attempt >= q.maxAttempts {
		q.bury(d.item.jobID)
		return nil
	}

	next := memoryItem{jobID: d.item.jobID, attempt: d.item.attempt + 1}
	delay := RetryDelay(q.backoff, d.item.attempt)
	if delay == 0 {
		return q.push(next)
	}
	time.AfterFunc(delay, func() {
		if err := q.push(next); err != nil {
			log.Error().Str("job_id", next.jobID).Err(err).Msg("memory queue: retry dropped")
			q.bury(next.jobID)
		}
	})
	return nil
}

func (q *MemoryQueue) bury(jobID string) {
	q.mu.Lock()
	q.dead = append(q.dead, jobID)
	q.mu.Unlock()
}
