package hub

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"parlor/internal/router"
	"parlor/internal/session"
	"parlor/internal/websocket"
	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

// systemSender marks envelopes emitted by the hub itself.
const systemSender = "system"

// Hub multiplexes the persistent connections of admitted participants.
// It owns only ephemeral transport state: the connection registry and
// the set of sessions open for live messaging. Membership truth stays
// in the lifecycle manager and is revalidated on every attach; the hub
// is never a cache of it.
//
// Hub implements interfaces.LifecycleEvents, which is how the manager
// tells it to open a session on activation and tear it down on a
// terminal transition.
type Hub struct {
	registry *websocket.Registry
	manager  *session.Manager
	router   *router.Router

	mu   sync.RWMutex
	open map[string]struct{} // sessions open for chat-bearing kinds
}

// NewHub creates a hub over the registry and lifecycle manager. The
// router is attached separately because it needs the hub as its
// session gate.
func NewHub(registry *websocket.Registry, manager *session.Manager) *Hub {
	return &Hub{
		registry: registry,
		manager:  manager,
		open:     make(map[string]struct{}),
	}
}

// SetRouter wires the envelope router. Must be called before Attach.
func (h *Hub) SetRouter(r *router.Router) {
	h.router = r
}

// Attach admits a connection for a (session, participant) pair. The
// lifecycle manager revalidates membership and the stored role; a
// claim that does not match is a stale or forged attach and is
// rejected. On success the participant is marked connected and a
// participant_joined event goes to every other attached connection.
func (h *Hub) Attach(ctx context.Context, conn interfaces.Connection) error {
	sessionID := conn.GetSessionID()
	userID := conn.GetUserID()
	role := conn.GetRole()

	if err := h.manager.ValidateAttach(ctx, sessionID, userID, role); err != nil {
		switch {
		case errors.Is(err, session.ErrNotParticipant), errors.Is(err, session.ErrRoleMismatch):
			return ErrUnauthorized
		default:
			return err
		}
	}

	if err := h.registry.Register(conn); err != nil {
		return err
	}

	// connectionState is mutated only here and in Detach.
	if err := h.manager.SetConnectionState(ctx, sessionID, userID, types.ConnConnected); err != nil {
		log.Printf("Failed to record connected state for %s in session %s: %v", userID, sessionID, err)
	}

	// Reconcile the open set in case the activation event raced the
	// attach.
	if h.manager.IsActive(ctx, sessionID) {
		h.markOpen(sessionID)
	}

	h.broadcastSystem(sessionID, types.KindParticipantJoined, map[string]interface{}{
		"user_id": userID,
		"role":    role,
	}, userID)

	log.Printf("Connection attached: session=%s user=%s role=%s", sessionID, userID, role)
	return nil
}

// Detach handles a transport-level disconnect, voluntary or not. It
// removes the registered connection, marks the participant
// disconnected and notifies the remaining connections. Membership is
// untouched; whether a detach should also be a lifecycle leave is the
// gateway's call.
func (h *Hub) Detach(ctx context.Context, conn interfaces.Connection) {
	sessionID := conn.GetSessionID()
	userID := conn.GetUserID()

	h.registry.Unregister(conn)

	if err := h.manager.SetConnectionState(ctx, sessionID, userID, types.ConnDisconnected); err != nil {
		if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrNotParticipant) {
			log.Printf("Failed to record disconnected state for %s in session %s: %v", userID, sessionID, err)
		}
	}

	h.broadcastSystem(sessionID, types.KindParticipantLeft, map[string]interface{}{
		"user_id": userID,
		"role":    conn.GetRole(),
	}, userID)

	log.Printf("Connection detached: session=%s user=%s", sessionID, userID)
}

// Send routes a client envelope through the routing policy.
func (h *Hub) Send(ctx context.Context, env *types.Envelope, sender interfaces.Connection) error {
	return h.router.Route(ctx, env, sender)
}

// SessionActivated opens the session for chat-bearing envelopes.
// Part of interfaces.LifecycleEvents.
func (h *Hub) SessionActivated(sessionID string) {
	h.markOpen(sessionID)
	log.Printf("Hub opened session for messaging: id=%s", sessionID)
}

// SessionClosed tears down every connection for the session: a final
// session_closed{reason} envelope, then a forced close, then the
// hub-side state is released. Part of interfaces.LifecycleEvents.
func (h *Hub) SessionClosed(sessionID, reason string) {
	h.mu.Lock()
	delete(h.open, sessionID)
	h.mu.Unlock()

	conns := h.registry.DropSession(sessionID)
	if len(conns) == 0 {
		return
	}

	notice := &types.Envelope{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		SenderID:  systemSender,
		Kind:      types.KindSessionClosed,
		Payload:   map[string]interface{}{"reason": reason},
		Timestamp: time.Now(),
	}

	for _, conn := range conns {
		if err := conn.WriteJSON(notice); err != nil {
			log.Printf("Failed to send session_closed to %s: %v", conn.GetUserID(), err)
		}
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection for %s: %v", conn.GetUserID(), err)
		}
	}
	log.Printf("Session torn down: id=%s reason=%s connections=%d", sessionID, reason, len(conns))
}

// IsOpen implements router.SessionGate. A miss in the local set falls
// back to the manager, so a hub restart or missed event never wedges
// an active session shut.
func (h *Hub) IsOpen(sessionID string) bool {
	h.mu.RLock()
	_, isOpen := h.open[sessionID]
	h.mu.RUnlock()
	if isOpen {
		return true
	}

	if h.manager.IsActive(context.Background(), sessionID) {
		h.markOpen(sessionID)
		return true
	}
	return false
}

func (h *Hub) markOpen(sessionID string) {
	h.mu.Lock()
	h.open[sessionID] = struct{}{}
	h.mu.Unlock()
}

// broadcastSystem delivers a hub-emitted event to every attached
// connection in the session except excludeUserID.
func (h *Hub) broadcastSystem(sessionID, kind string, payload map[string]interface{}, excludeUserID string) {
	env := &types.Envelope{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		SenderID:  systemSender,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	for _, conn := range h.registry.SessionConnections(sessionID) {
		if conn.GetUserID() == excludeUserID {
			continue
		}
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Failed to deliver %s event to %s: %v", kind, conn.GetUserID(), err)
		}
	}
}

// Stats reports hub counters for the health endpoint.
func (h *Hub) Stats() map[string]int {
	stats := h.registry.Stats()
	h.mu.RLock()
	stats["open_sessions"] = len(h.open)
	h.mu.RUnlock()
	return stats
}
