package types

import (
	"time"
)

// Session status values. Completed, expired and closed are terminal:
// once reached, no further transition occurs and the join code may be
// recycled by a later session.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
	StatusClosed    = "closed"
)

// Participant roles. The host is admitted as human; subsequent joiners
// are human until the configured quota is met, then judge. The AI slot
// is claimed by a system-injected participant.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
	RoleJudge = "judge"
)

// Participant connection states, mutated only by the channel hub.
const (
	ConnDisconnected = "disconnected"
	ConnConnected    = "connected"
)

// Envelope kinds form a closed set; anything else is rejected at the
// routing layer. chat/reveal/vote originate from clients, the rest are
// emitted by the hub.
const (
	KindChat              = "chat"
	KindReveal            = "reveal"
	KindVote              = "vote"
	KindParticipantJoined = "participant_joined"
	KindParticipantLeft   = "participant_left"
	KindSessionClosed     = "session_closed"
)

// Participant is one identity's membership record within a session.
type Participant struct {
	UserID          string    `json:"user_id"`
	Role            string    `json:"role"`
	ConnectionState string    `json:"connection_state"`
	JoinedAt        time.Time `json:"joined_at"`
}

// Session is a bounded-duration, bounded-capacity grouping of
// participants coordinating a single Turing-test round.
//
// Version is the store's compare-and-set counter: every successful Put
// increments it, and a Put against a stale version fails. Participants
// preserves insertion order, which role assignment relies on.
type Session struct {
	ID              string         `json:"id"`
	JoinCode        string         `json:"join_code"`
	HostUserID      string         `json:"host_user_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	MaxParticipants int            `json:"max_participants"`
	DurationMinutes int            `json:"duration_minutes"`
	Status          string         `json:"status"`
	Participants    []*Participant `json:"participants"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
	Version         int64          `json:"version"`
}

// Envelope is the protocol-level message frame carried over the
// real-time channel. To designates a point-to-point recipient; when nil
// the envelope is session-scoped per the routing rules for its kind.
type Envelope struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	SenderID  string                 `json:"sender_id"`
	Kind      string                 `json:"kind"`
	To        *string                `json:"to,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// IsTerminalStatus reports whether status permits no further transition.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusExpired, StatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether the session has reached a terminal status.
func (s *Session) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// ExpiredAt reports whether the session's deadline has passed at now.
// Terminal sessions are never re-expired.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !s.IsTerminal() && now.After(s.ExpiresAt)
}

// Participant returns the membership record for userID, or nil.
func (s *Session) Participant(userID string) *Participant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// CountRole returns the number of participants holding role.
func (s *Session) CountRole(role string) int {
	n := 0
	for _, p := range s.Participants {
		if p.Role == role {
			n++
		}
	}
	return n
}

// Clone returns a deep copy. Stores hand out copies so callers never
// share mutable state with the authoritative record.
func (s *Session) Clone() *Session {
	dup := *s
	dup.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		pc := *p
		dup.Participants[i] = &pc
	}
	return &dup
}

// ValidKind reports whether kind belongs to the closed envelope set.
func ValidKind(kind string) bool {
	switch kind {
	case KindChat, KindReveal, KindVote,
		KindParticipantJoined, KindParticipantLeft, KindSessionClosed:
		return true
	}
	return false
}

// ClientKind reports whether kind may originate from a connected
// participant rather than the hub itself.
func ClientKind(kind string) bool {
	switch kind {
	case KindChat, KindReveal, KindVote:
		return true
	}
	return false
}
