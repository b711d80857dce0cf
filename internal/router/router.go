package router

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"parlor/internal/websocket"
	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

// SessionGate answers whether a session is open for chat-bearing
// envelopes. The hub implements it, reconciling its ephemeral view
// against the lifecycle manager.
type SessionGate interface {
	IsOpen(sessionID string) bool
}

// Router turns an inbound envelope from one attached connection into
// deliveries on the others. Pure routing policy: no session mutation,
// no connection lifecycle.
//
// Routing rules by kind:
//   - a non-nil To designates a point-to-point recipient in the same
//     session
//   - reveal without To goes to the session's judges only
//   - chat and vote go to every other attached connection
//
// Kinds outside the closed protocol set are rejected, as are the
// hub-emitted kinds when a client tries to send them.
type Router struct {
	registry    *websocket.Registry
	gate        SessionGate
	rateLimiter *RateLimiter
}

// NewRouter creates a router over the connection registry.
func NewRouter(registry *websocket.Registry, gate SessionGate, messagesPerMinute int) *Router {
	return &Router{
		registry:    registry,
		gate:        gate,
		rateLimiter: NewRateLimiter(messagesPerMinute),
	}
}

// Route validates, enriches and delivers env on behalf of sender.
// Session and sender identity always come from the connection's bound
// credentials, never from the client payload.
func (r *Router) Route(ctx context.Context, env *types.Envelope, sender interfaces.Connection) error {
	env.ID = uuid.New().String()
	env.Timestamp = time.Now()
	env.SessionID = sender.GetSessionID()
	env.SenderID = sender.GetUserID()

	if !types.ValidKind(env.Kind) {
		return types.ErrUnknownKind
	}
	if !types.ClientKind(env.Kind) {
		return ErrKindReserved
	}

	if _, attached := r.registry.Get(env.SessionID, env.SenderID); !attached {
		return ErrSenderNotAttached
	}
	if !r.rateLimiter.Allow(env.SenderID) {
		return ErrRateLimitExceeded
	}
	if !r.gate.IsOpen(env.SessionID) {
		return ErrSessionNotOpen
	}

	recipients, err := r.recipients(env)
	if err != nil {
		return err
	}

	// Delivery continues past individual failures; a dead connection
	// is the detach path's problem, not the other recipients'.
	for _, conn := range recipients {
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Failed to deliver %s envelope to %s in session %s: %v",
				env.Kind, conn.GetUserID(), env.SessionID, err)
		}
	}
	return nil
}

// recipients selects the target connections for env.
func (r *Router) recipients(env *types.Envelope) ([]interfaces.Connection, error) {
	if env.To != nil {
		conn, exists := r.registry.Get(env.SessionID, *env.To)
		if !exists {
			return nil, ErrRecipientNotAttached
		}
		return []interfaces.Connection{conn}, nil
	}

	if env.Kind == types.KindReveal {
		return r.registry.SessionConnectionsByRole(env.SessionID, types.RoleJudge), nil
	}

	all := r.registry.SessionConnections(env.SessionID)
	others := all[:0]
	for _, conn := range all {
		if conn.GetUserID() != env.SenderID {
			others = append(others, conn)
		}
	}
	return others, nil
}

// StartCleanup prunes idle rate-limit windows until ctx is cancelled.
func (r *Router) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.rateLimiter.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
