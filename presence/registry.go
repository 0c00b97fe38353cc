// Package presence owns the in-memory mapping from an online user identity to
// its single live connection. Entries live for the lifetime of the process and
// are rebuilt from scratch on restart; a disconnected client simply
// re-registers.
package presence

import (
	"sync"

	"chat-relay/contract"
)

type Registry struct {
	mu     sync.RWMutex
	byUser map[string]contract.ConnectionSink // user id -> live connection
	owner  map[string]string                  // connection id -> user id
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]contract.ConnectionSink),
		owner:  make(map[string]string),
	}
}

// Register installs or overwrites the mapping for userID. Last write wins: a
// later connection silently supersedes fanout targeting for any earlier one.
// Idempotent, never fails.
func (r *Registry) Register(userID string, sink contract.ConnectionSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.byUser[userID]; ok {
		delete(r.owner, previous.ID())
	}
	r.byUser[userID] = sink
	r.owner[sink.ID()] = userID
}

// Lookup resolves the live connection for userID. Absent means the user is
// not currently reachable, not an error.
func (r *Registry) Lookup(userID string) (contract.ConnectionSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.byUser[userID]
	return sink, ok
}

// Unregister removes the entry owned by connID. No-op if none is found, in
// particular when a superseded connection disconnects after a newer one has
// taken over the user's slot.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[connID]
	if !ok {
		return
	}
	delete(r.owner, connID)
	if current, ok := r.byUser[userID]; ok && current.ID() == connID {
		delete(r.byUser, userID)
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Snapshot returns every live connection, for broadcasts that target all
// connected users rather than a room's members.
func (r *Registry) Snapshot() []contract.ConnectionSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]contract.ConnectionSink, 0, len(r.byUser))
	for _, sink := range r.byUser {
		sinks = append(sinks, sink)
	}
	return sinks
}
