package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parlor/pkg/types"
)

// fakeConn is a registry-level stand-in for a live transport.
type fakeConn struct {
	mu        sync.Mutex
	userID    string
	role      string
	sessionID string
	closed    bool
}

func newFakeConn(sessionID, userID, role string) *fakeConn {
	return &fakeConn{sessionID: sessionID, userID: userID, role: role}
}

func (c *fakeConn) WriteJSON(v interface{}) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) GetUserID() string     { return c.userID }
func (c *fakeConn) GetRole() string       { return c.role }
func (c *fakeConn) GetSessionID() string  { return c.sessionID }
func (c *fakeConn) IsAuthenticated() bool { return c.userID != "" }
func (c *fakeConn) SetCredentials(userID, role, sessionID string) error {
	c.userID, c.role, c.sessionID = userID, role, sessionID
	return nil
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register(nil), ErrNilConnection)
	assert.ErrorIs(t, r.Register(newFakeConn("s1", "", "")), ErrConnectionNotAuthenticated)
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("s1", "alice", types.RoleHuman)

	require.NoError(t, r.Register(conn))

	got, exists := r.Get("s1", "alice")
	require.True(t, exists)
	assert.Same(t, conn, got.(*fakeConn))

	_, exists = r.Get("s1", "bob")
	assert.False(t, exists)
	_, exists = r.Get("s2", "alice")
	assert.False(t, exists)
}

func TestRegisterReplacesStaleConnection(t *testing.T) {
	r := NewRegistry()
	stale := newFakeConn("s1", "alice", types.RoleHuman)
	fresh := newFakeConn("s1", "alice", types.RoleHuman)

	require.NoError(t, r.Register(stale))
	require.NoError(t, r.Register(fresh))

	got, exists := r.Get("s1", "alice")
	require.True(t, exists)
	assert.Same(t, fresh, got.(*fakeConn))

	assert.Eventually(t, stale.isClosed, time.Second, 10*time.Millisecond,
		"replaced connection must be closed")
}

func TestUnregisterIsInstanceMatched(t *testing.T) {
	r := NewRegistry()
	stale := newFakeConn("s1", "alice", types.RoleHuman)
	fresh := newFakeConn("s1", "alice", types.RoleHuman)

	require.NoError(t, r.Register(stale))
	require.NoError(t, r.Register(fresh))

	// The stale connection's deferred detach must not evict the
	// replacement.
	r.Unregister(stale)
	_, exists := r.Get("s1", "alice")
	assert.True(t, exists)

	r.Unregister(fresh)
	_, exists = r.Get("s1", "alice")
	assert.False(t, exists)

	// Idempotent.
	r.Unregister(fresh)
}

func TestSessionConnectionsByRole(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeConn("s1", "host", types.RoleHuman)))
	require.NoError(t, r.Register(newFakeConn("s1", "judy", types.RoleJudge)))
	require.NoError(t, r.Register(newFakeConn("s1", "jim", types.RoleJudge)))

	assert.Len(t, r.SessionConnections("s1"), 3)
	assert.Len(t, r.SessionConnectionsByRole("s1", types.RoleJudge), 2)
	assert.Len(t, r.SessionConnectionsByRole("s1", types.RoleAI), 0)
}

func TestDropSession(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFakeConn("s1", "alice", types.RoleHuman)))
	require.NoError(t, r.Register(newFakeConn("s1", "bob", types.RoleJudge)))
	require.NoError(t, r.Register(newFakeConn("s2", "carol", types.RoleHuman)))

	dropped := r.DropSession("s1")
	assert.Len(t, dropped, 2)
	assert.Empty(t, r.SessionConnections("s1"))
	assert.Len(t, r.SessionConnections("s2"), 1)

	stats := r.Stats()
	assert.Equal(t, 1, stats["attached_connections"])
	assert.Equal(t, 1, stats["sessions_with_peers"])
}
