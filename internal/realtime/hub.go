package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kyc-worker-service/internal/auth"
)

const writeTimeout = 5 * time.Second

var errUnknownConn = errors.New("connection not open")

type Authenticator interface {
	Verify(token string) (uuid.UUID, error)
}

// Hub accepts websocket connections on behalf of authenticated users and
// implements Sender for the Notifier.
type Hub struct {
	registry *Registry
	auth     Authenticator
	origins  []string

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

func NewHub(registry *Registry, a Authenticator, origins []string) *Hub {
	return &Hub{
		registry: registry,
		auth:     a,
		origins:  origins,
		conns:    make(map[string]*websocket.Conn),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Warn().Err(err).Msg("realtime: accept")
		return
	}
	defer c.CloseNow()

	connID := uuid.NewString()
	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()
	h.registry.Register(userID.String(), connID)

	defer func() {
		h.registry.UnregisterByConn(connID)
		h.mu.Lock()
		delete(h.conns, connID)
		h.mu.Unlock()
		log.Debug().Str("user_id", userID.String()).Str("conn_id", connID).Msg("realtime: disconnected")
	}()

	log.Debug().Str("user_id", userID.String()).Str("conn_id", connID).Msg("realtime: connected")

	msg, _ := json.Marshal(Welcome())
	if err := h.Send(r.Context(), connID, msg); err != nil {
		return
	}

	// Inbound frames are not part of the protocol; CloseRead discards them
	// and cancels ctx once the peer goes away.
	ctx := c.CloseRead(r.Context())
	<-ctx.Done()
}

func (h *Hub) Send(ctx context.Context, connID string, msg []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return errUnknownConn
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, msg)
}
