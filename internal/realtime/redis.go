package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"kyc-worker-service/internal/metrics"
)

// envelope is what crosses the pub/sub channel between the worker and the
// process that owns the websocket connections.
type envelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}

// RedisPublisher is the worker-side Notifier when connections live in
// another process. Publish errors are logged, never returned.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisPublisher(rdb redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Push(ctx context.Context, userID string, ev Event) {
	b, err := json.Marshal(envelope{UserID: userID, Event: ev})
	if err != nil {
		metrics.PushesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("user_id", userID).Msg("realtime: encode envelope")
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		metrics.PushesTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("user_id", userID).Msg("realtime: publish")
	}
}

type Pusher interface {
	Push(ctx context.Context, userID string, ev Event)
}

// Relay forwards events published by workers to the local Notifier.
type Relay struct {
	rdb     redis.UniversalClient
	channel string
	local   Pusher
}

func NewRelay(rdb redis.UniversalClient, channel string, local Pusher) *Relay {
	return &Relay{rdb: rdb, channel: channel, local: local}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Info().Str("channel", r.channel).Msg("realtime relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("realtime relay: bad payload")
				continue
			}
			r.local.Push(ctx, env.UserID, env.Event)
		}
	}
}
