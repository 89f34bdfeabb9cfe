//go:build integration

package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"

	"kyc-worker-service/internal/service"
)

func newBroker(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.2.4",
		redpanda.WithAutoCreateTopics(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)
	return broker
}

// claimOne polls until a record arrives; the first polls also wait for the
// consumer group to join.
func claimOne(t *testing.T, q service.Queue) service.Delivery {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		d, err := q.Claim(context.Background(), time.Second)
		if errors.Is(err, service.ErrEmpty) {
			continue
		}
		require.NoError(t, err)
		return d
	}
	t.Fatal("no delivery within 30s")
	return nil
}

func TestKafkaQueue_NackRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	broker := newBroker(t)

	q, err := service.NewKafkaQueue([]string{broker}, "kyc-jobs", "kyc-worker", 2, 0)
	require.NoError(t, err)
	t.Cleanup(q.Close)

	require.NoError(t, q.Enqueue(ctx, "job-1"))

	d := claimOne(t, q)
	assert.Equal(t, "job-1", d.JobID())
	assert.Equal(t, 1, d.Attempt())
	require.NoError(t, d.Nack(ctx))

	d = claimOne(t, q)
	assert.Equal(t, "job-1", d.JobID())
	assert.Equal(t, 2, d.Attempt())
	require.NoError(t, d.Nack(ctx))

	dead, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics("kyc-jobs.dead"),
	)
	require.NoError(t, err)
	t.Cleanup(dead.Close)

	pctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	fetches := dead.PollRecords(pctx, 1)
	require.Empty(t, fetches.Errors())
	recs := fetches.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "job-1", string(recs[0].Value))
}

func TestKafkaQueue_AckedRecordsAreNotRedelivered(t *testing.T) {
	ctx := context.Background()
	broker := newBroker(t)

	q, err := service.NewKafkaQueue([]string{broker}, "kyc-ack", "kyc-worker", 3, 0)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, "job-a"))
	require.NoError(t, q.Enqueue(ctx, "job-b"))

	first := claimOne(t, q)
	second := claimOne(t, q)
	assert.ElementsMatch(t, []string{"job-a", "job-b"}, []string{first.JobID(), second.JobID()})

	require.NoError(t, second.Ack(ctx))
	require.NoError(t, first.Ack(ctx))
	q.Close()

	// A fresh member of the same group starts after the committed offsets.
	q2, err := service.NewKafkaQueue([]string{broker}, "kyc-ack", "kyc-worker", 3, 0)
	require.NoError(t, err)
	t.Cleanup(q2.Close)

	require.NoError(t, q2.Enqueue(ctx, "job-c"))
	d := claimOne(t, q2)
	assert.Equal(t, "job-c", d.JobID())
}

func TestKafkaQueue_ProducerDoesNotJoinTheConsumerGroup(t *testing.T) {
	ctx := context.Background()
	broker := newBroker(t)

	// The enqueue-only side starts first, as the api process does.
	producer, err := service.NewKafkaProducer([]string{broker}, "kyc-split")
	require.NoError(t, err)
	t.Cleanup(producer.Close)
	require.NoError(t, producer.Enqueue(ctx, "job-x"))

	q, err := service.NewKafkaQueue([]string{broker}, "kyc-split", "kyc-worker", 3, 0)
	require.NoError(t, err)
	t.Cleanup(q.Close)

	require.NoError(t, producer.Enqueue(ctx, "job-y"))

	got := []string{claimOne(t, q).JobID(), claimOne(t, q).JobID()}
	assert.ElementsMatch(t, []string{"job-x", "job-y"}, got)
}

func TestKafkaQueue_NackWaitsForBackoff(t *testing.T) {
	ctx := context.Background()
	broker := newBroker(t)

	q, err := service.NewKafkaQueue([]string{broker}, "kyc-backoff", "kyc-worker", 3, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(q.Close)

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	d := claimOne(t, q)
	nacked := time.Now()
	require.NoError(t, d.Nack(ctx))

	d = claimOne(t, q)
	assert.Equal(t, "job-1", d.JobID())
	assert.Equal(t, 2, d.Attempt())
	assert.GreaterOrEqual(t, time.Since(nacked), 2*time.Second)
	require.NoError(t, d.Ack(ctx))
}
