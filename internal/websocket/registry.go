package websocket

import (
	"log"
	"sync"

	"parlor/pkg/interfaces"
)

// Registry tracks attached connections per session. This state is
// ephemeral and non-authoritative: membership truth lives in the
// session store and is revalidated on every attach, the registry only
// answers "who is reachable right now".
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]interfaces.Connection // sessionID -> userID -> conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]interfaces.Connection),
	}
}

// Register adds a connection for its (session, user) pair, replacing
// and closing any previous connection for the same pair so a reconnect
// wins immediately.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	sessionID := conn.GetSessionID()
	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	peers, exists := r.sessions[sessionID]
	if !exists {
		peers = make(map[string]interfaces.Connection)
		r.sessions[sessionID] = peers
	}

	if existing, ok := peers[userID]; ok && existing != conn {
		// Close the stale connection off the lock path to avoid
		// blocking registration on its teardown.
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection for %s: %v", userID, err)
			}
		}()
	}
	peers[userID] = conn
	return nil
}

// Unregister removes conn if it is still the registered connection for
// its pair. Idempotent; a newer connection for the same pair is left
// in place.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	sessionID := conn.GetSessionID()
	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	peers, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	if peers[userID] != conn {
		return
	}
	delete(peers, userID)
	if len(peers) == 0 {
		delete(r.sessions, sessionID)
	}
}

// Get returns the connection for a (session, user) pair.
func (r *Registry) Get(sessionID, userID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.sessions[sessionID][userID]
	return conn, exists
}

// SessionConnections returns every attached connection for a session.
func (r *Registry) SessionConnections(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := r.sessions[sessionID]
	conns := make([]interfaces.Connection, 0, len(peers))
	for _, conn := range peers {
		conns = append(conns, conn)
	}
	return conns
}

// SessionConnectionsByRole returns attached connections holding role,
// e.g. the judges for a reveal delivery.
func (r *Registry) SessionConnectionsByRole(sessionID, role string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, conn := range r.sessions[sessionID] {
		if conn.GetRole() == role {
			conns = append(conns, conn)
		}
	}
	return conns
}

// DropSession removes and returns all connections for a session. Used
// by hub teardown; closing them is the caller's job.
func (r *Registry) DropSession(sessionID string) []interfaces.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := r.sessions[sessionID]
	delete(r.sessions, sessionID)

	conns := make([]interfaces.Connection, 0, len(peers))
	for _, conn := range peers {
		conns = append(conns, conn)
	}
	return conns
}

// Stats reports registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, peers := range r.sessions {
		total += len(peers)
	}
	return map[string]int{
		"attached_connections": total,
		"sessions_with_peers":  len(r.sessions),
	}
}
