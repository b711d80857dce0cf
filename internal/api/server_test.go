package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlor/internal/auth"
	"parlor/internal/hub"
	"parlor/internal/router"
	"parlor/internal/session"
	"parlor/internal/store"
	"parlor/internal/websocket"
	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

// newTestGateway wires the real component graph over the in-memory
// store, with fixed development tokens.
func newTestGateway(t *testing.T, notifier *AINotifier) *httptest.Server {
	t.Helper()

	sessionStore := store.NewMemoryStore()
	manager := session.NewManager(sessionStore, session.Config{})
	registry := websocket.NewRegistry()
	channelHub := hub.NewHub(registry, manager)
	channelHub.SetRouter(router.NewRouter(registry, channelHub, 60))
	manager.SetEvents(channelHub)

	verifier := auth.NewStaticVerifier()
	for _, user := range []string{"host", "alice", "bob"} {
		verifier.Add("token-"+user, interfaces.Identity{UserID: user})
	}

	if notifier == nil {
		notifier = NewAINotifier("", "", 0)
	}

	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := NewServer(manager, sessionStore, channelHub, verifier, notifier, ws)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	decoded := make(map[string]interface{})
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), "body: %s", data)
	}
	return resp, decoded
}

func createSession(t *testing.T, ts *httptest.Server, capacity int) map[string]interface{} {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/api/sessions", "token-host", map[string]interface{}{
		"name":             "round one",
		"description":      "a test round",
		"max_participants": capacity,
		"duration_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body
}

func TestGatewayRequiresAuth(t *testing.T) {
	ts := newTestGateway(t, nil)

	resp, _ := doJSON(t, ts, http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/sessions", "bad-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayCreate(t *testing.T) {
	ts := newTestGateway(t, nil)

	created := createSession(t, ts, 3)
	assert.Equal(t, "host", created["host_user_id"])
	assert.Equal(t, types.StatusWaiting, created["status"])
	assert.Len(t, created["join_code"], 6)
	assert.Len(t, created["participants"], 1)
}

func TestGatewayCreateValidation(t *testing.T) {
	ts := newTestGateway(t, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/sessions", "token-host", map[string]interface{}{
		"name":             "round",
		"max_participants": 1,
		"duration_minutes": 30,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestGatewayJoinByCode(t *testing.T) {
	ts := newTestGateway(t, nil)
	created := createSession(t, ts, 3)

	resp, joined := doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-alice", map[string]interface{}{
		"join_code": created["join_code"],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created["id"], joined["id"])
	assert.Len(t, joined["participants"], 2)
}

func TestGatewayJoinBySessionID(t *testing.T) {
	ts := newTestGateway(t, nil)
	created := createSession(t, ts, 3)

	resp, joined := doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-alice", map[string]interface{}{
		"session_id": created["id"],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, joined["participants"], 2)

	resp, _ = doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-alice", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayJoinFullSession(t *testing.T) {
	ts := newTestGateway(t, nil)
	created := createSession(t, ts, 2)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-alice", map[string]interface{}{
		"session_id": created["id"],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-bob", map[string]interface{}{
		"session_id": created["id"],
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGatewayGet(t *testing.T) {
	ts := newTestGateway(t, nil)
	created := createSession(t, ts, 3)
	id := created["id"].(string)

	resp, got := doJSON(t, ts, http.MethodGet, "/api/sessions/"+id, "token-host", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, got["id"])

	// Non-participants cannot read the session.
	resp, _ = doJSON(t, ts, http.MethodGet, "/api/sessions/"+id, "token-bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/sessions/missing", "token-host", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGatewayList(t *testing.T) {
	ts := newTestGateway(t, nil)
	createSession(t, ts, 3)
	createSession(t, ts, 3)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/sessions", "token-host", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])
	assert.Len(t, body["sessions"], 2)

	resp, body = doJSON(t, ts, http.MethodGet, "/api/sessions", "token-bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])
}

func TestGatewayDelete(t *testing.T) {
	ts := newTestGateway(t, nil)
	created := createSession(t, ts, 3)
	id := created["id"].(string)

	doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-alice", map[string]interface{}{"session_id": id})

	// Host only.
	resp, _ := doJSON(t, ts, http.MethodDelete, "/api/sessions/"+id, "token-alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodDelete, "/api/sessions/"+id, "token-host", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Closed sessions are gone for joins, by id and by code.
	resp, _ = doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-bob", map[string]interface{}{"session_id": id})
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-bob", map[string]interface{}{"join_code": created["join_code"]})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Repeating the delete is a no-op success.
	resp, _ = doJSON(t, ts, http.MethodDelete, "/api/sessions/"+id, "token-host", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestGatewayComplete(t *testing.T) {
	ts := newTestGateway(t, nil)
	created := createSession(t, ts, 2)
	id := created["id"].(string)

	// Not active yet.
	resp, _ := doJSON(t, ts, http.MethodPost, "/api/sessions/"+id+"/complete", "token-host", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-alice", map[string]interface{}{"session_id": id})

	resp, _ = doJSON(t, ts, http.MethodPost, "/api/sessions/"+id+"/complete", "token-alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/sessions/"+id+"/complete", "token-host", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.StatusCompleted, body["status"])
}

func TestGatewayAddAI(t *testing.T) {
	ts := newTestGateway(t, nil)
	created := createSession(t, ts, 3)
	id := created["id"].(string)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/sessions/"+id+"/ai", "token-host", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	participants := body["participants"].([]interface{})
	require.Len(t, participants, 2)
	ai := participants[1].(map[string]interface{})
	assert.Equal(t, defaultAIUserID, ai["user_id"])
	assert.Equal(t, types.RoleAI, ai["role"])

	// A second distinct AI identity is rejected.
	resp, _ = doJSON(t, ts, http.MethodPost, "/api/sessions/"+id+"/ai", "token-host", map[string]interface{}{
		"user_id": "other-agent",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGatewayHealth(t *testing.T) {
	ts := newTestGateway(t, nil)

	resp, body := doJSON(t, ts, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "hub")
}

func TestGatewayTriggersAIService(t *testing.T) {
	notified := make(chan map[string]string, 1)
	aiService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := make(map[string]string)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		notified <- payload
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(aiService.Close)

	notifier := NewAINotifier(aiService.URL, "ws://localhost:8080/ws", time.Second)
	ts := newTestGateway(t, notifier)

	created := createSession(t, ts, 3)
	id := created["id"].(string)

	// The default quota of one human is met by the host, so the first
	// join fires the trigger.
	resp, _ := doJSON(t, ts, http.MethodPost, "/api/sessions/join", "token-alice", map[string]interface{}{
		"session_id": id,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case payload := <-notified:
		assert.Equal(t, id, payload["session_id"])
		assert.Equal(t, "ws://localhost:8080/ws", payload["websocket_url"])
	case <-time.After(2 * time.Second):
		t.Fatal("AI service was not notified")
	}
}
