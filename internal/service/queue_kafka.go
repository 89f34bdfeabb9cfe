package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	attemptHeader   = "attempt"
	notBeforeHeader = "not-before" // unix ms
)

func produceJob(ctx context.Context, cl *kgo.Client, topic, jobID string, attempt int, notBefore time.Time) error {
	headers := []kgo.RecordHeader{{Key: attemptHeader, Value: []byte(strconv.Itoa(attempt))}}
	if !notBefore.IsZero() {
		headers = append(headers, kgo.RecordHeader{
			Key:   notBeforeHeader,
			Value: []byte(strconv.FormatInt(notBefore.UnixMilli(), 10)),
		})
	}
	rec := &kgo.Record{
		Topic:   topic,
		Key:     []byte(jobID),
		Value:   []byte(jobID),
		Headers: headers,
	}
	return cl.ProduceSync(ctx, rec).FirstErr()
}

// KafkaProducer is the enqueue side for processes that never claim. It has
// no consumer group, so it never holds partitions a worker should own.
type KafkaProducer struct {
	cl    *kgo.Client
	topic string
}

func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaProducer{cl: cl, topic: topic}, nil
}

func (p *KafkaProducer) Close() { p.cl.Close() }

func (p *KafkaProducer) Enqueue(ctx context.Context, jobID string) error {
	return produceJob(ctx, p.cl, p.topic, jobID, 1, time.Time{})
}

// KafkaQueue is the broker-backed alternative to the redis queue. Offsets
// are committed manually and only over a contiguous run of finished records
// per partition, so a crash redelivers everything that was not finished.
// Nack re-produces the reference with a bumped attempt header and a
// not-before time (or to the dead topic) before the original is marked
// finished. Records are held back until their not-before time passes.
type KafkaQueue struct {
	cl          *kgo.Client
	topic       string
	deadTopic   string
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time

	mu      sync.Mutex
	buf     []*kgo.Record
	pending map[partitionKey][]int64
	done    map[partitionKey]map[int64]*kgo.Record
}

type partitionKey struct {
	topic     string
	partition int32
}

func NewKafkaQueue(brokers []string, topic, group string, maxAttempts int, backoff time.Duration) (*KafkaQueue, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DefaultProduceTopic(topic),
		kgo.DisableAutoCommit(),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &KafkaQueue{
		cl:          cl,
		topic:       topic,
		deadTopic:   topic + ".dead",
		maxAttempts: maxAttempts,
		backoff:     backoff,
		now:         time.Now,
		pending:     map[partitionKey][]int64{},
		done:        map[partitionKey]map[int64]*kgo.Record{},
	}, nil
}

func (q *KafkaQueue) Close() { q.cl.Close() }

func (q *KafkaQueue) Enqueue(ctx context.Context, jobID string) error {
	return produceJob(ctx, q.cl, q.topic, jobID, 1, time.Time{})
}

func (q *KafkaQueue) Claim(ctx context.Context, timeout time.Duration) (Delivery, error) {
	deadline := q.now().Add(timeout)
	for {
		rec, wake := q.next()
		if rec != nil {
			return q.deliver(rec), nil
		}

		now := q.now()
		wait := deadline.Sub(now)
		if wait <= 0 {
			return nil, ErrEmpty
		}
		if !wake.IsZero() && wake.Sub(now) < wait {
			wait = wake.Sub(now)
		}

		pctx, cancel := context.WithTimeout(ctx, wait)
		fetches := q.cl.PollRecords(pctx, 64)
		cancel()

		if fetches.IsClientClosed() {
			return nil, errors.New("queue: kafka client closed")
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
				continue
			}
			return nil, fe.Err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.buffer(fetches.Records())
	}
}

// buffer queues fetched records and tracks their offsets as pending, so a
// record held back by its not-before time also holds back the commit.
func (q *KafkaQueue) buffer(recs []*kgo.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range recs {
		pk := partitionKey{rec.Topic, rec.Partition}
		q.pending[pk] = append(q.pending[pk], rec.Offset)
		q.buf = append(q.buf, rec)
	}
}

// next pops the first buffered record that is due. When none is, it returns
// the earliest time one will be.
func (q *KafkaQueue) next() (*kgo.Record, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var wake time.Time
	for i, rec := range q.buf {
		nb := notBefore(rec)
		if nb.After(now) {
			if wake.IsZero() || nb.Before(wake) {
				wake = nb
			}
			continue
		}
		q.buf = append(q.buf[:i:i], q.buf[i+1:]...)
		return rec, time.Time{}
	}
	return nil, wake
}

func notBefore(rec *kgo.Record) time.Time {
	for _, h := range rec.Headers {
		if h.Key != notBeforeHeader {
			continue
		}
		if ms, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

func (q *KafkaQueue) deliver(rec *kgo.Record) Delivery {
	attempt := 1
	for _, h := range rec.Headers {
		if h.Key == attemptHeader {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				attempt = n
			}
		}
	}
	return &kafkaDelivery{q: q, rec: rec, attempt: attempt}
}

// finish marks rec done and commits the highest offset below which every
// buffered record on its partition is done.
func (q *KafkaQueue) finish(ctx context.Context, rec *kgo.Record) error {
	pk := partitionKey{rec.Topic, rec.Partition}

	q.mu.Lock()
	if q.done[pk] == nil {
		q.done[pk] = map[int64]*kgo.Record{}
	}
	q.done[pk][rec.Offset] = rec

	var commit *kgo.Record
	for len(q.pending[pk]) > 0 {
		off := q.pending[pk][0]
		r, ok := q.done[pk][off]
		if !ok {
			break
		}
		commit = r
		delete(q.done[pk], off)
		q.pending[pk] = q.pending[pk][1:]
	}
	q.mu.Unlock()

	if commit == nil {
		return nil
	}
	return q.cl.CommitRecords(ctx, commit)
}

type kafkaDelivery struct {
	q       *KafkaQueue
	rec     *kgo.Record
	attempt int
}

func (d *kafkaDelivery) JobID() string { return string(d.rec.Value) }
func (d *kafkaDelivery) Attempt() int  { return d.attempt }

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	return d.q.finish(ctx, d.rec)
}

func (d *kafkaDelivery) Nack(ctx context.Context) error {
	q := d.q
	var err error
	if d.attempt >= q.maxAttempts {
		err = produceJob(ctx, q.cl, q.deadTopic, d.JobID(), d.attempt, time.Time{})
	} else {
		due := q.now().Add(RetryDelay(q.backoff, d.attempt))
		err = produceJob(ctx, q.cl, q.topic, d.JobID(), d.attempt+1, due)
	}
	if err != nil {
		return err
	}
	return q.finish(ctx, d.rec)
}
