package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"kyc-worker-service/internal/entity"
	"kyc-worker-service/internal/service"
)

type recordingQueue struct {
	mu     sync.Mutex
	items  []string
	acked  []string
	nacked []string
}

func (q *recordingQueue) Claim(ctx context.Context, timeout time.Duration) (service.Delivery, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		id := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return &recordingDelivery{q: q, id: id}, nil
	}
	q.mu.Unlock()

	select {
	case <-time.After(timeout):
		return nil, service.ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *recordingQueue) settled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked) + len(q.nacked)
}

type recordingDelivery struct {
	q  *recordingQueue
	id string
}

func (d *recordingDelivery) JobID() string { return d.id }
func (d *recordingDelivery) Attempt() int  { return 1 }

func (d *recordingDelivery) Ack(context.Context) error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	d.q.acked = append(d.q.acked, d.id)
	return nil
}

func (d *recordingDelivery) Nack(context.Context) error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	d.q.nacked = append(d.q.nacked, d.id)
	return nil
}

type funcProcessor func(ctx context.Context, jobID string) error

func (f funcProcessor) Process(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func runPool(t *testing.T, q *recordingQueue, p JobProcessor, want int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pool := NewPool(q, p, 2)
	pool.claimDelay = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return q.settled() == want }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestPool_SettlesByOutcome(t *testing.T) {
	q := &recordingQueue{items: []string{"ok", "permanent", "held", "flaky"}}
	p := funcProcessor(func(_ context.Context, id string) error {
		switch id {
		case "permanent":
			return ErrPermanent
		case "held":
			return ErrLeaseHeld
		case "flaky":
			return errors.New("ocr stage: status 502")
		}
		return nil
	})

	runPool(t, q, p, 4)

	assert.ElementsMatch(t, []string{"ok", "permanent", "held"}, q.acked)
	assert.Equal(t, []string{"flaky"}, q.nacked)
}

func TestPool_RunsPipelineEndToEnd(t *testing.T) {
	store := newFakeStore()
	job := store.add(entity.StatusQueued)
	n := &fakeNotifier{}
	p := newTestProcessor(store, n, &fakeStages{ocr: 0.95, match: 0.91}, nil)

	q := &recordingQueue{items: []string{job.ID.String(), uuid.NewString()}}
	runPool(t, q, p, 2)

	assert.Len(t, q.acked, 2)
	assert.Equal(t, entity.StatusApproved, store.job(job.ID).Status)
	assert.Equal(t, []string{"processing", "approved"}, n.statuses())
}

func TestPool_MemoryQueueRetriesUntilDead(t *testing.T) {
	q := service.NewMemoryQueue(8, 3, 0)
	var mu sync.Mutex
	calls := 0
	p := funcProcessor(func(context.Context, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("transient")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, q.Enqueue(ctx, "j1"))

	pool := NewPool(q, p, 1)
	pool.claimDelay = 10 * time.Millisecond
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(q.Dead()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"j1"}, q.Dead())
}

func TestPool_StageOutageSpreadsRetriesOverBackoff(t *testing.T) {
	q := service.NewMemoryQueue(8, 3, 50*time.Millisecond)
	var mu sync.Mutex
	var calls []time.Time
	p := funcProcessor(func(context.Context, string) error {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
		return errors.New("ocr stage: status 503")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, q.Enqueue(ctx, "j1"))

	pool := NewPool(q, p, 2)
	pool.claimDelay = 10 * time.Millisecond
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(q.Dead()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if assert.Len(t, calls, 3) {
		assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 50*time.Millisecond)
		assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 100*time.Millisecond)
	}
}
