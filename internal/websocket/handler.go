package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"parlor/internal/session"
	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

// ChannelHub is the slice of the hub the handler needs. Declared here
// so the transport layer does not depend on the hub package.
type ChannelHub interface {
	Attach(ctx context.Context, conn interfaces.Connection) error
	Detach(ctx context.Context, conn interfaces.Connection)
	Send(ctx context.Context, env *types.Envelope, sender interfaces.Connection) error
}

// Config holds the transport tuning knobs for accepted connections.
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

var upgrader = websocket.Upgrader{
	// Origin policy is the deployment's concern; the gateway sits
	// behind its own CORS configuration.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades admitted participants onto the channel hub.
type Handler struct {
	hub      ChannelHub
	manager  *session.Manager
	verifier interfaces.TokenVerifier
	cfg      Config
}

// NewHandler creates the WebSocket attach handler.
func NewHandler(hub ChannelHub, manager *session.Manager, verifier interfaces.TokenVerifier, cfg Config) *Handler {
	return &Handler{
		hub:      hub,
		manager:  manager,
		verifier: verifier,
		cfg:      cfg,
	}
}

// clientFrame is the wire shape accepted from clients. Session and
// sender are never taken from the frame; they come from the bound
// credentials.
type clientFrame struct {
	Kind    string                 `json:"kind"`
	To      *string                `json:"to,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// errorFrame is the feedback sent when an inbound frame is rejected.
type errorFrame struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// sessionState is the snapshot delivered right after a successful
// attach so a reconnecting client can resume from hub state.
type sessionState struct {
	Type        string                `json:"type"`
	SessionID   string                `json:"session_id"`
	Status      string                `json:"status"`
	YourRole    string                `json:"your_role"`
	Participants []*types.Participant `json:"participants"`
}

// HandleWebSocket validates the attach before upgrading, so a rejected
// request gets a proper HTTP status instead of a dropped socket.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	role := r.URL.Query().Get("role")
	if sessionID == "" || role == "" {
		http.Error(w, "Missing required query parameters: session_id, role", http.StatusBadRequest)
		return
	}
	if !types.IsValidRole(role) {
		http.Error(w, "Invalid role: must be human, ai or judge", http.StatusBadRequest)
		return
	}

	identity, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "Invalid or missing bearer credential", http.StatusUnauthorized)
		return
	}

	if err := h.manager.ValidateAttach(r.Context(), sessionID, identity.UserID, role); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, session.ErrExpired):
			http.Error(w, "Session expired or closed", http.StatusGone)
		case errors.Is(err, session.ErrNotParticipant), errors.Is(err, session.ErrRoleMismatch):
			http.Error(w, "Not authorized to attach to this session", http.StatusForbidden)
		default:
			http.Error(w, "Attach validation failed", http.StatusInternalServerError)
		}
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(wsConn, h.cfg.BufferSize, h.cfg.WriteTimeout)
	if err := conn.SetCredentials(identity.UserID, role, sessionID); err != nil {
		_ = conn.Close()
		return
	}

	if err := h.hub.Attach(r.Context(), conn); err != nil {
		log.Printf("Attach rejected after upgrade: session=%s user=%s: %v", sessionID, identity.UserID, err)
		_ = conn.Close()
		return
	}

	h.sendSessionState(conn)
	go h.readLoop(conn)
}

// authenticate resolves the bearer credential from the Authorization
// header, falling back to a token query parameter for browser
// WebSocket clients that cannot set headers.
func (h *Handler) authenticate(r *http.Request) (*interfaces.Identity, error) {
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, interfaces.ErrInvalidToken
	}
	return h.verifier.Verify(r.Context(), token)
}

// sendSessionState delivers the post-attach snapshot.
func (h *Handler) sendSessionState(conn *Connection) {
	s, err := h.manager.Get(context.Background(), conn.GetSessionID(), conn.GetUserID())
	if err != nil {
		log.Printf("Failed to load session state for %s: %v", conn.GetUserID(), err)
		return
	}

	state := sessionState{
		Type:         "session_state",
		SessionID:    s.ID,
		Status:       s.Status,
		YourRole:     conn.GetRole(),
		Participants: s.Participants,
	}
	if err := conn.WriteJSON(state); err != nil {
		log.Printf("Failed to send session state to %s: %v", conn.GetUserID(), err)
	}
}

// readLoop pumps inbound frames into the hub until the transport
// drops, then detaches. A transport drop is a lifecycle event, not an
// error to the other participants.
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.hub.Detach(context.Background(), conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	// Heartbeat pings keep the read deadline honest across quiet
	// stretches of a round.
	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.cfg.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error for %s: %v", conn.GetUserID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(conn, "", errors.New("malformed JSON frame"))
			continue
		}

		env := &types.Envelope{
			Kind:    frame.Kind,
			To:      frame.To,
			Payload: frame.Payload,
		}
		if err := h.hub.Send(context.Background(), env, conn); err != nil {
			h.sendError(conn, frame.Kind, err)
		}
	}
}

// sendError reports a rejected frame back to its sender only.
func (h *Handler) sendError(conn *Connection, kind string, err error) {
	if writeErr := conn.WriteJSON(errorFrame{Error: err.Error(), Kind: kind}); writeErr != nil {
		log.Printf("Failed to send error frame to %s: %v", conn.GetUserID(), writeErr)
	}
}
