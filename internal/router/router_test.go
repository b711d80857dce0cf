package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlor/internal/websocket"
	"parlor/pkg/types"
)

// fakeConn records writes for assertions.
type fakeConn struct {
	mu        sync.Mutex
	userID    string
	role      string
	sessionID string
	messages  []*types.Envelope
	closed    bool
}

func newFakeConn(sessionID, userID, role string) *fakeConn {
	return &fakeConn{sessionID: sessionID, userID: userID, role: role}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if env, ok := v.(*types.Envelope); ok {
		c.messages = append(c.messages, env)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) GetUserID() string    { return c.userID }
func (c *fakeConn) GetRole() string      { return c.role }
func (c *fakeConn) GetSessionID() string { return c.sessionID }
func (c *fakeConn) IsAuthenticated() bool {
	return c.userID != ""
}
func (c *fakeConn) SetCredentials(userID, role, sessionID string) error {
	c.userID, c.role, c.sessionID = userID, role, sessionID
	return nil
}

func (c *fakeConn) received() []*types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Envelope, len(c.messages))
	copy(out, c.messages)
	return out
}

// fakeGate opens sessions by ID.
type fakeGate struct {
	mu   sync.Mutex
	open map[string]bool
}

func newFakeGate(openIDs ...string) *fakeGate {
	g := &fakeGate{open: make(map[string]bool)}
	for _, id := range openIDs {
		g.open[id] = true
	}
	return g
}

func (g *fakeGate) IsOpen(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open[sessionID]
}

func attach(t *testing.T, registry *websocket.Registry, conns ...*fakeConn) {
	t.Helper()
	for _, c := range conns {
		require.NoError(t, registry.Register(c))
	}
}

func TestRouteRejectsUnknownKind(t *testing.T) {
	registry := websocket.NewRegistry()
	r := NewRouter(registry, newFakeGate("s1"), 60)

	sender := newFakeConn("s1", "alice", types.RoleHuman)
	attach(t, registry, sender)

	err := r.Route(context.Background(), &types.Envelope{Kind: "broadcast"}, sender)
	assert.ErrorIs(t, err, types.ErrUnknownKind)
}

func TestRouteRejectsReservedKind(t *testing.T) {
	registry := websocket.NewRegistry()
	r := NewRouter(registry, newFakeGate("s1"), 60)

	sender := newFakeConn("s1", "alice", types.RoleHuman)
	attach(t, registry, sender)

	for _, kind := range []string{types.KindParticipantJoined, types.KindParticipantLeft, types.KindSessionClosed} {
		err := r.Route(context.Background(), &types.Envelope{Kind: kind}, sender)
		assert.ErrorIs(t, err, ErrKindReserved, "kind %s", kind)
	}
}

func TestRouteRejectsUnattachedSender(t *testing.T) {
	registry := websocket.NewRegistry()
	r := NewRouter(registry, newFakeGate("s1"), 60)

	sender := newFakeConn("s1", "alice", types.RoleHuman)

	err := r.Route(context.Background(), &types.Envelope{Kind: types.KindChat}, sender)
	assert.ErrorIs(t, err, ErrSenderNotAttached)
}

func TestRouteRejectsClosedSession(t *testing.T) {
	registry := websocket.NewRegistry()
	r := NewRouter(registry, newFakeGate(), 60)

	sender := newFakeConn("s1", "alice", types.RoleHuman)
	attach(t, registry, sender)

	err := r.Route(context.Background(), &types.Envelope{Kind: types.KindChat}, sender)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestRouteChatBroadcastsToOthers(t *testing.T) {
	registry := websocket.NewRegistry()
	r := NewRouter(registry, newFakeGate("s1"), 60)

	alice := newFakeConn("s1", "alice", types.RoleHuman)
	bob := newFakeConn("s1", "bob", types.RoleJudge)
	stranger := newFakeConn("s2", "carol", types.RoleHuman)
	attach(t, registry, alice, bob, stranger)

	env := &types.Envelope{
		Kind:      types.KindChat,
		SessionID: "forged",
		SenderID:  "forged",
		Payload:   map[string]interface{}{"text": "hello"},
	}
	require.NoError(t, r.Route(context.Background(), env, alice))

	assert.Empty(t, alice.received(), "sender gets no echo")
	assert.Empty(t, stranger.received(), "other sessions are untouched")

	got := bob.received()
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].SessionID, "session comes from credentials, not payload")
	assert.Equal(t, "alice", got[0].SenderID, "sender comes from credentials, not payload")
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestRouteRevealGoesToJudgesOnly(t *testing.T) {
	registry := websocket.NewRegistry()
	r := NewRouter(registry, newFakeGate("s1"), 60)

	host := newFakeConn("s1", "host", types.RoleHuman)
	ai := newFakeConn("s1", "ai-agent", types.RoleAI)
	judge := newFakeConn("s1", "judy", types.RoleJudge)
	attach(t, registry, host, ai, judge)

	env := &types.Envelope{Kind: types.KindReveal, Payload: map[string]interface{}{"who": "ai-agent"}}
	require.NoError(t, r.Route(context.Background(), env, host))

	assert.Len(t, judge.received(), 1)
	assert.Empty(t, ai.received())
	assert.Empty(t, host.received())
}

func TestRoutePointToPoint(t *testing.T) {
	registry := websocket.NewRegistry()
	r := NewRouter(registry, newFakeGate("s1"), 60)

	alice := newFakeConn("s1", "alice", types.RoleHuman)
	bob := newFakeConn("s1", "bob", types.RoleJudge)
	carol := newFakeConn("s1", "carol", types.RoleJudge)
	attach(t, registry, alice, bob, carol)

	to := "bob"
	env := &types.Envelope{Kind: types.KindVote, To: &to}
	require.NoError(t, r.Route(context.Background(), env, alice))

	assert.Len(t, bob.received(), 1)
	assert.Empty(t, carol.received())

	missing := "nobody"
	err := r.Route(context.Background(), &types.Envelope{Kind: types.KindVote, To: &missing}, alice)
	assert.ErrorIs(t, err, ErrRecipientNotAttached)
}

func TestRouteRateLimit(t *testing.T) {
	registry := websocket.NewRegistry()
	r := NewRouter(registry, newFakeGate("s1"), 2)

	alice := newFakeConn("s1", "alice", types.RoleHuman)
	bob := newFakeConn("s1", "bob", types.RoleJudge)
	attach(t, registry, alice, bob)

	for i := 0; i < 2; i++ {
		require.NoError(t, r.Route(context.Background(), &types.Envelope{Kind: types.KindChat}, alice))
	}
	err := r.Route(context.Background(), &types.Envelope{Kind: types.KindChat}, alice)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// The window is per sender.
	require.NoError(t, r.Route(context.Background(), &types.Envelope{Kind: types.KindChat}, bob))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(5)
	require.True(t, rl.Allow("alice"))

	rl.mu.Lock()
	windows := len(rl.windows)
	rl.mu.Unlock()
	assert.Equal(t, 1, windows)

	// A fresh window is not pruned.
	rl.Cleanup()
	rl.mu.Lock()
	windows = len(rl.windows)
	rl.mu.Unlock()
	assert.Equal(t, 1, windows)
}
