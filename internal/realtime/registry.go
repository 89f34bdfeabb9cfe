// Package realtime keeps the userId → connection mapping and pushes
// status updates to connected users. Delivery is best effort: a user who is
// not connected simply misses the event.
package realtime

import (
	"sync"

	"kyc-worker-service/internal/metrics"
)

// Registry maps a user to their most recent live connection. A second
// connection for the same user replaces the first.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]string
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]string)}
}

func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	r.byUser[userID] = connID
	n := len(r.byUser)
	r.mu.Unlock()

	metrics.Connections.Set(float64(n))
}

// UnregisterByConn removes the entry whose connection is connID. A stale
// connection that was already replaced leaves the newer entry alone.
func (r *Registry) UnregisterByConn(connID string) {
	r.mu.Lock()
	for user, c := range r.byUser {
		if c == connID {
			delete(r.byUser, user)
			break
		}
	}
	n := len(r.byUser)
	r.mu.Unlock()

	metrics.Connections.Set(float64(n))
}

func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
