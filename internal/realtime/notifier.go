package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kyc-worker-service/internal/entity"
	"kyc-worker-service/internal/metrics"
)

const (
	EventKYCUpdate    = "kycUpdate"
	EventNotification = "notification"
)

// Event is the envelope written to the realtime channel.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// KYCUpdate builds the kycUpdate event for a transition of job.
func KYCUpdate(jobID uuid.UUID, t entity.Transition) Event {
	data := map[string]any{
		"jobId":  jobID.String(),
		"status": string(t.Status()),
	}
	for k, v := range t.Fields() {
		data[k] = v
	}
	return Event{Event: EventKYCUpdate, Data: data}
}

func Welcome() Event {
	return Event{Event: EventNotification, Data: map[string]string{
		"type":    "welcome",
		"message": "Connected to real-time server",
	}}
}

// Sender writes an encoded event to one connection.
type Sender interface {
	Send(ctx context.Context, connID string, msg []byte) error
}

type Notifier struct {
	registry *Registry
	sender   Sender
}

func NewNotifier(registry *Registry, sender Sender) *Notifier {
	return &Notifier{registry: registry, sender: sender}
}

// Push delivers ev to userID iff they are connected right now. It never
// fails the caller: offline users and send errors are only counted and logged.
func (n *Notifier) Push(ctx context.Context, userID string, ev Event) {
	connID, ok := n.registry.Lookup(userID)
	if !ok {
		metrics.PushesTotal.WithLabelValues("offline").Inc()
		return
	}

	msg, err := json.Marshal(ev)
	if err != nil {
		metrics.PushesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("user_id", userID).Msg("realtime: encode event")
		return
	}

	if err := n.sender.Send(ctx, connID, msg); err != nil {
		metrics.PushesTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("user_id", userID).Str("conn_id", connID).Msg("realtime: push failed")
		return
	}
	metrics.PushesTotal.WithLabelValues("delivered").Inc()
}
