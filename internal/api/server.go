package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"parlor/internal/session"
	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

// defaultAIUserID names the AI slot when the injector omits one.
const defaultAIUserID = "ai-agent"

// HubStats is the slice of the hub the health endpoint reads.
type HubStats interface {
	Stats() map[string]int
}

// Server is the HTTP gateway over the lifecycle manager. Every
// lifecycle route runs behind bearer authentication; the resolved
// identity travels in the request context.
type Server struct {
	manager  *session.Manager
	store    interfaces.SessionStore
	hub      HubStats
	verifier interfaces.TokenVerifier
	notifier *AINotifier
	ws       http.Handler
}

// NewServer creates the gateway. ws handles the WebSocket attach route
// and performs its own authentication.
func NewServer(manager *session.Manager, store interfaces.SessionStore, hub HubStats, verifier interfaces.TokenVerifier, notifier *AINotifier, ws http.Handler) *Server {
	return &Server{
		manager:  manager,
		store:    store,
		hub:      hub,
		verifier: verifier,
		notifier: notifier,
		ws:       ws,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/ws", s.ws).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)
	api.Use(s.authMiddleware)

	api.HandleFunc("/sessions", s.handleCreate).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/sessions/join", s.handleJoin).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}", s.handleGet).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/complete", s.handleComplete).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/ai", s.handleAddAI).Methods(http.MethodPost, http.MethodOptions)

	return r
}

type contextKey string

const identityKey contextKey = "identity"

// identityFrom returns the authenticated identity stored by the
// middleware. Panics would mean a route escaped the middleware, so the
// nil case is handled as a 500 by callers instead.
func identityFrom(ctx context.Context) *interfaces.Identity {
	id, _ := ctx.Value(identityKey).(*interfaces.Identity)
	return id
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the bearer credential and stores the
// identity in the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer credential")
			return
		}

		identity, err := s.verifier.Verify(r.Context(), strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer credential")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type createRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	MaxParticipants int    `json:"max_participants"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusInternalServerError, "missing identity")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	created, err := s.manager.Create(r.Context(), identity.UserID, req.Name, req.Description, req.MaxParticipants, req.DurationMinutes)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type joinRequest struct {
	JoinCode  string `json:"join_code,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusInternalServerError, "missing identity")
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	var (
		joined *types.Session
		err    error
	)
	switch {
	case req.JoinCode != "":
		joined, err = s.manager.JoinByCode(r.Context(), req.JoinCode, identity.UserID)
	case req.SessionID != "":
		joined, err = s.manager.JoinByID(r.Context(), req.SessionID, identity.UserID)
	default:
		writeError(w, http.StatusBadRequest, "join_code or session_id is required")
		return
	}
	if err != nil {
		writeLifecycleError(w, err)
		return
	}

	s.maybeTriggerAI(joined)
	writeJSON(w, http.StatusOK, joined)
}

// maybeTriggerAI notifies the AI service once the human seats are
// filled and no AI has claimed its slot yet. Duplicate triggers are
// harmless: AddAI is idempotent for the same identity.
func (s *Server) maybeTriggerAI(joined *types.Session) {
	if !s.notifier.Enabled() || joined.IsTerminal() {
		return
	}
	if joined.CountRole(types.RoleAI) > 0 {
		return
	}
	if joined.CountRole(types.RoleHuman) < s.manager.Policy().HumanQuota {
		return
	}
	s.notifier.NotifyAsync(joined.ID)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusInternalServerError, "missing identity")
		return
	}

	sessions, err := s.manager.List(r.Context(), identity.UserID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusInternalServerError, "missing identity")
		return
	}

	found, err := s.manager.Get(r.Context(), mux.Vars(r)["id"], identity.UserID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusInternalServerError, "missing identity")
		return
	}

	if err := s.manager.Delete(r.Context(), mux.Vars(r)["id"], identity.UserID); err != nil {
		writeLifecycleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity == nil {
		writeError(w, http.StatusInternalServerError, "missing identity")
		return
	}

	sessionID := mux.Vars(r)["id"]
	if err := s.manager.Complete(r.Context(), sessionID, identity.UserID); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     types.StatusCompleted,
	})
}

type addAIRequest struct {
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleAddAI(w http.ResponseWriter, r *http.Request) {
	var req addAIRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed JSON body")
			return
		}
	}
	if req.UserID == "" {
		req.UserID = defaultAIUserID
	}

	updated, err := s.manager.AddAI(r.Context(), mux.Vars(r)["id"], req.UserID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := http.StatusOK
	storeStatus := "ok"
	if err := s.store.HealthCheck(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		storeStatus = err.Error()
	}

	body := map[string]interface{}{
		"status": "healthy",
		"store":  storeStatus,
	}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	if s.hub != nil {
		body["hub"] = s.hub.Stats()
	}
	writeJSON(w, status, body)
}

// writeLifecycleError maps domain errors onto HTTP statuses.
func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidUserID),
		errors.Is(err, types.ErrInvalidSessionName),
		errors.Is(err, types.ErrInvalidJoinCode),
		errors.Is(err, types.ErrInvalidCapacity),
		errors.Is(err, types.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusGone, "session expired or closed")
	case errors.Is(err, session.ErrForbidden),
		errors.Is(err, session.ErrNotParticipant),
		errors.Is(err, session.ErrRoleMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrCapacityExceeded),
		errors.Is(err, session.ErrAIPresent),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrResourceExhausted):
		writeError(w, http.StatusServiceUnavailable, "no join code available, try again")
	default:
		log.Printf("Unhandled gateway error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response body: %v", err)
	}
}
