package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() *Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Session{
		ID:              "sess-1",
		JoinCode:        "ABC234",
		HostUserID:      "host",
		Name:            "round one",
		MaxParticipants: 3,
		DurationMinutes: 30,
		Status:          StatusWaiting,
		Participants: []*Participant{
			{UserID: "host", Role: RoleHuman, ConnectionState: ConnDisconnected, JoinedAt: now},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
		Version:   1,
	}
}

func TestIsTerminal(t *testing.T) {
	s := testSession()

	for _, status := range []string{StatusWaiting, StatusActive} {
		s.Status = status
		assert.False(t, s.IsTerminal(), "status %s should not be terminal", status)
	}
	for _, status := range []string{StatusCompleted, StatusExpired, StatusClosed} {
		s.Status = status
		assert.True(t, s.IsTerminal(), "status %s should be terminal", status)
	}
}

func TestExpiredAt(t *testing.T) {
	s := testSession()

	assert.False(t, s.ExpiredAt(s.ExpiresAt.Add(-time.Minute)))
	assert.True(t, s.ExpiredAt(s.ExpiresAt.Add(time.Minute)))

	// A terminal session never re-expires.
	s.Status = StatusCompleted
	assert.False(t, s.ExpiredAt(s.ExpiresAt.Add(time.Hour)))
}

func TestParticipantLookup(t *testing.T) {
	s := testSession()

	p := s.Participant("host")
	require.NotNil(t, p)
	assert.Equal(t, RoleHuman, p.Role)

	assert.Nil(t, s.Participant("stranger"))
}

func TestCountRole(t *testing.T) {
	s := testSession()
	s.Participants = append(s.Participants,
		&Participant{UserID: "guest", Role: RoleHuman},
		&Participant{UserID: "bot", Role: RoleAI},
	)

	assert.Equal(t, 2, s.CountRole(RoleHuman))
	assert.Equal(t, 1, s.CountRole(RoleAI))
	assert.Equal(t, 0, s.CountRole(RoleJudge))
}

func TestCloneIsDeep(t *testing.T) {
	s := testSession()
	clone := s.Clone()

	clone.Status = StatusActive
	clone.Participants[0].ConnectionState = ConnConnected
	clone.Participants = append(clone.Participants, &Participant{UserID: "guest", Role: RoleJudge})

	assert.Equal(t, StatusWaiting, s.Status)
	assert.Equal(t, ConnDisconnected, s.Participants[0].ConnectionState)
	assert.Len(t, s.Participants, 1)
}

func TestKindSets(t *testing.T) {
	for _, kind := range []string{KindChat, KindReveal, KindVote, KindParticipantJoined, KindParticipantLeft, KindSessionClosed} {
		assert.True(t, ValidKind(kind), "kind %s should be valid", kind)
	}
	assert.False(t, ValidKind("broadcast"))
	assert.False(t, ValidKind(""))

	for _, kind := range []string{KindChat, KindReveal, KindVote} {
		assert.True(t, ClientKind(kind), "kind %s should be client-originated", kind)
	}
	for _, kind := range []string{KindParticipantJoined, KindParticipantLeft, KindSessionClosed} {
		assert.False(t, ClientKind(kind), "kind %s is hub-only", kind)
	}
}

func TestValidation(t *testing.T) {
	assert.True(t, IsValidUserID("alice_01"))
	assert.True(t, IsValidUserID("ai-agent"))
	assert.False(t, IsValidUserID(""))
	assert.False(t, IsValidUserID("has spaces"))
	assert.False(t, IsValidUserID(string(make([]byte, 65))))

	assert.True(t, IsValidJoinCode("ABC234"))
	assert.False(t, IsValidJoinCode("abc234"))
	assert.False(t, IsValidJoinCode("AB"))

	assert.True(t, IsValidSessionName("round one"))
	assert.False(t, IsValidSessionName(""))

	assert.True(t, IsValidRole(RoleHuman))
	assert.True(t, IsValidRole(RoleAI))
	assert.True(t, IsValidRole(RoleJudge))
	assert.False(t, IsValidRole("spectator"))
}
