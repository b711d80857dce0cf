package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

// Config bounds the manager's internal retry loops and parameterizes
// the admission policy.
type Config struct {
	HumanQuota       int // human slots per session, host included
	JoinCodeLength   int
	JoinCodeAttempts int // generation retries before ResourceExhausted
	CASRetries       int // store conflict retries before Conflict
}

// applyDefaults fills zero values with production defaults.
func (c *Config) applyDefaults() {
	if c.HumanQuota <= 0 {
		c.HumanQuota = 1
	}
	if c.JoinCodeLength <= 0 {
		c.JoinCodeLength = 6
	}
	if c.JoinCodeAttempts <= 0 {
		c.JoinCodeAttempts = 10
	}
	if c.CASRetries <= 0 {
		c.CASRetries = 5
	}
}

// Manager owns session creation, join admission, expiry and deletion.
// It holds no session state of its own: every mutation is a
// read-modify-write cycle against the store, serialized by the session
// version field. Expiry is checked lazily on every access in addition
// to the background sweep, so callers never observe a stale-open
// session between sweeps.
type Manager struct {
	store  interfaces.SessionStore
	policy RolePolicy
	cfg    Config
	events interfaces.LifecycleEvents

	now func() time.Time // injectable clock for expiry tests
}

// NewManager creates a session lifecycle manager backed by store.
func NewManager(store interfaces.SessionStore, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		store:  store,
		policy: RolePolicy{HumanQuota: cfg.HumanQuota},
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetEvents wires the channel hub's lifecycle notifications. Must be
// called before the manager serves requests.
func (m *Manager) SetEvents(events interfaces.LifecycleEvents) {
	m.events = events
}

// Policy exposes the admission policy so the hub's attach check uses
// the exact same logic as the lifecycle calls.
func (m *Manager) Policy() RolePolicy {
	return m.policy
}

// errNoChange short-circuits the commit when a mutation turns out to
// be idempotent (rejoin, repeated delete, unchanged connection state).
var errNoChange = errors.New("no change")

// mutate runs fn against a fresh copy of the session and commits the
// result, retrying on version conflicts up to the configured bound.
// With lazyExpiry set, a session past its deadline is transitioned to
// expired and the caller receives ErrExpired.
func (m *Manager) mutate(ctx context.Context, sessionID string, lazyExpiry bool, fn func(*types.Session) error) (*types.Session, error) {
	for attempt := 0; attempt < m.cfg.CASRetries; attempt++ {
		s, err := m.store.GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, interfaces.ErrSessionNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}

		if lazyExpiry && s.ExpiredAt(m.now()) {
			m.expire(ctx, s)
			return nil, ErrExpired
		}

		if err := fn(s); err != nil {
			if errors.Is(err, errNoChange) {
				return s, nil
			}
			return nil, err
		}

		committed, err := m.store.Put(ctx, s)
		if err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				continue
			}
			return nil, err
		}
		return committed, nil
	}
	return nil, ErrConflict
}

// expire transitions a session past its deadline to expired and tears
// the hub down. Best effort: a conflict means someone else already
// advanced the state machine, which is just as correct.
func (m *Manager) expire(ctx context.Context, s *types.Session) {
	for attempt := 0; attempt < m.cfg.CASRetries; attempt++ {
		if s.IsTerminal() {
			return
		}
		s.Status = types.StatusExpired
		if _, err := m.store.Put(ctx, s); err != nil {
			if errors.Is(err, interfaces.ErrVersionConflict) {
				fresh, getErr := m.store.GetByID(ctx, s.ID)
				if getErr != nil {
					return
				}
				s = fresh
				continue
			}
			log.Printf("Failed to expire session %s: %v", s.ID, err)
			return
		}
		log.Printf("Session expired: id=%s", s.ID)
		if m.events != nil {
			m.events.SessionClosed(s.ID, types.StatusExpired)
		}
		return
	}
}

// Create builds a session, auto-admits the host as the first human
// participant and persists it atomically. Join-code generation retries
// against the store until an unused code among non-terminal sessions
// is found, bounded by JoinCodeAttempts.
func (m *Manager) Create(ctx context.Context, hostUserID, name, description string, maxParticipants, durationMinutes int) (*types.Session, error) {
	if !types.IsValidUserID(hostUserID) {
		return nil, types.ErrInvalidUserID
	}
	if !types.IsValidSessionName(name) {
		return nil, types.ErrInvalidSessionName
	}
	if maxParticipants < 2 {
		return nil, types.ErrInvalidCapacity
	}
	if durationMinutes < 1 {
		return nil, types.ErrInvalidDuration
	}

	for attempt := 0; attempt < m.cfg.JoinCodeAttempts; attempt++ {
		code, err := generateJoinCode(m.cfg.JoinCodeLength)
		if err != nil {
			return nil, err
		}

		now := m.now()
		s := &types.Session{
			ID:              uuid.New().String(),
			JoinCode:        code,
			HostUserID:      hostUserID,
			Name:            name,
			Description:     description,
			MaxParticipants: maxParticipants,
			DurationMinutes: durationMinutes,
			Status:          types.StatusWaiting,
			Participants: []*types.Participant{{
				UserID:          hostUserID,
				Role:            types.RoleHuman,
				ConnectionState: types.ConnDisconnected,
				JoinedAt:        now,
			}},
			CreatedAt: now,
			ExpiresAt: now.Add(time.Duration(durationMinutes) * time.Minute),
		}

		committed, err := m.store.Put(ctx, s)
		if err != nil {
			if errors.Is(err, interfaces.ErrJoinCodeInUse) {
				continue
			}
			return nil, err
		}

		log.Printf("Created session: id=%s code=%s host=%s capacity=%d duration=%dm",
			committed.ID, committed.JoinCode, hostUserID, maxParticipants, durationMinutes)
		return committed, nil
	}
	return nil, ErrResourceExhausted
}

// JoinByCode resolves the join code among non-terminal sessions and
// admits userID.
func (m *Manager) JoinByCode(ctx context.Context, joinCode, userID string) (*types.Session, error) {
	joinCode = strings.ToUpper(strings.TrimSpace(joinCode))
	if !types.IsValidJoinCode(joinCode) {
		return nil, ErrNotFound
	}

	s, err := m.store.GetByJoinCode(ctx, joinCode)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m.join(ctx, s.ID, userID)
}

// JoinByID admits userID into the session, supporting rejoin by id.
func (m *Manager) JoinByID(ctx context.Context, sessionID, userID string) (*types.Session, error) {
	return m.join(ctx, sessionID, userID)
}

// join performs atomic admission. The capacity check and the insert
// commit in one compare-and-set, so of two racing joins for the last
// slot exactly one succeeds and the other observes a full session.
// Joining as an existing participant is idempotent to support
// reconnection.
func (m *Manager) join(ctx context.Context, sessionID, userID string) (*types.Session, error) {
	if !types.IsValidUserID(userID) {
		return nil, types.ErrInvalidUserID
	}

	var activated bool
	committed, err := m.mutate(ctx, sessionID, true, func(s *types.Session) error {
		activated = false
		if s.IsTerminal() {
			return ErrExpired
		}
		if s.Participant(userID) != nil {
			return errNoChange
		}
		if len(s.Participants) >= s.MaxParticipants {
			return ErrCapacityExceeded
		}

		s.Participants = append(s.Participants, &types.Participant{
			UserID:          userID,
			Role:            m.policy.Assign(s),
			ConnectionState: types.ConnDisconnected,
			JoinedAt:        m.now(),
		})
		if s.Status == types.StatusWaiting && len(s.Participants) == s.MaxParticipants {
			s.Status = types.StatusActive
			activated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated {
		log.Printf("Session activated: id=%s participants=%d", committed.ID, len(committed.Participants))
		if m.events != nil {
			m.events.SessionActivated(committed.ID)
		}
	}
	return committed, nil
}

// AddAI admits the system-injected AI participant. The core assigns it
// a slot and the ai role like any other participant; generating its
// responses is the gateway's problem. One AI slot per session;
// re-adding the same identity is idempotent.
func (m *Manager) AddAI(ctx context.Context, sessionID, aiUserID string) (*types.Session, error) {
	if !types.IsValidUserID(aiUserID) {
		return nil, types.ErrInvalidUserID
	}

	var activated bool
	committed, err := m.mutate(ctx, sessionID, true, func(s *types.Session) error {
		activated = false
		if s.IsTerminal() {
			return ErrExpired
		}
		if p := s.Participant(aiUserID); p != nil {
			if p.Role != types.RoleAI {
				return ErrRoleMismatch
			}
			return errNoChange
		}
		if s.CountRole(types.RoleAI) > 0 {
			return ErrAIPresent
		}
		if len(s.Participants) >= s.MaxParticipants {
			return ErrCapacityExceeded
		}

		s.Participants = append(s.Participants, &types.Participant{
			UserID:          aiUserID,
			Role:            types.RoleAI,
			ConnectionState: types.ConnDisconnected,
			JoinedAt:        m.now(),
		})
		if s.Status == types.StatusWaiting && len(s.Participants) == s.MaxParticipants {
			s.Status = types.StatusActive
			activated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated {
		log.Printf("Session activated: id=%s participants=%d", committed.ID, len(committed.Participants))
		if m.events != nil {
			m.events.SessionActivated(committed.ID)
		}
	}
	return committed, nil
}

// Leave is the lifecycle counterpart of a transport detach. A
// non-host leaving a waiting session frees the slot; after activation
// the membership record stays to preserve round composition and the
// participant is only marked disconnected. A host left alone closes
// the session.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) error {
	var abandoned bool
	_, err := m.mutate(ctx, sessionID, true, func(s *types.Session) error {
		abandoned = false
		if s.IsTerminal() {
			return ErrExpired
		}
		p := s.Participant(userID)
		if p == nil {
			return ErrNotParticipant
		}

		if userID == s.HostUserID {
			// The host entry is never removed; hostUserId stays
			// present for the life of the session.
			p.ConnectionState = types.ConnDisconnected
			if len(s.Participants) == 1 {
				s.Status = types.StatusClosed
				abandoned = true
			}
			return nil
		}

		if s.Status == types.StatusWaiting {
			// Pre-activation abandonment frees the slot.
			kept := s.Participants[:0]
			for _, q := range s.Participants {
				if q.UserID != userID {
					kept = append(kept, q)
				}
			}
			s.Participants = kept
			return nil
		}

		p.ConnectionState = types.ConnDisconnected
		return nil
	})
	if err != nil {
		return err
	}

	if abandoned {
		log.Printf("Session closed, host abandoned: id=%s", sessionID)
		if m.events != nil {
			m.events.SessionClosed(sessionID, types.StatusClosed)
		}
	}
	return nil
}

// Delete closes the session immediately. Host only; the hub tears
// down every connection with a session_closed notice. Deleting an
// already-terminal session is a no-op success, terminal states being
// monotonic.
func (m *Manager) Delete(ctx context.Context, sessionID, requesterID string) error {
	var torndown bool
	_, err := m.mutate(ctx, sessionID, false, func(s *types.Session) error {
		torndown = false
		if s.HostUserID != requesterID {
			return ErrForbidden
		}
		if s.IsTerminal() {
			return errNoChange
		}
		s.Status = types.StatusClosed
		torndown = true
		return nil
	})
	if err != nil {
		return err
	}

	if torndown {
		log.Printf("Session closed by host: id=%s", sessionID)
		if m.events != nil {
			m.events.SessionClosed(sessionID, types.StatusClosed)
		}
	}
	return nil
}

// Complete applies the gateway's explicit end-of-round signal,
// transitioning active to completed. Host only.
func (m *Manager) Complete(ctx context.Context, sessionID, requesterID string) error {
	_, err := m.mutate(ctx, sessionID, true, func(s *types.Session) error {
		if s.HostUserID != requesterID {
			return ErrForbidden
		}
		if s.IsTerminal() {
			return ErrExpired
		}
		if s.Status != types.StatusActive {
			return ErrNotActive
		}
		s.Status = types.StatusCompleted
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("Session completed: id=%s", sessionID)
	if m.events != nil {
		m.events.SessionClosed(sessionID, types.StatusCompleted)
	}
	return nil
}

// Get returns the session to one of its participants, applying the
// lazy expiry check so the returned status is never read-stale.
func (m *Manager) Get(ctx context.Context, sessionID, requesterID string) (*types.Session, error) {
	s, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if s.ExpiredAt(m.now()) {
		m.expire(ctx, s.Clone())
		s.Status = types.StatusExpired
	}

	if s.Participant(requesterID) == nil {
		return nil, ErrNotParticipant
	}
	return s, nil
}

// List returns the caller's non-terminal sessions, newest first.
// Sessions found past their deadline are expired on the spot instead
// of being reported as open.
func (m *Manager) List(ctx context.Context, userID string) ([]*types.Session, error) {
	sessions, err := m.store.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	result := make([]*types.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ExpiredAt(now) {
			m.expire(ctx, s)
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

// ValidateAttach is the hub's admission check: the session must be
// non-terminal and (userID, role) must match a current membership
// record. Shares RolePolicy with the lifecycle calls.
func (m *Manager) ValidateAttach(ctx context.Context, sessionID, userID, role string) error {
	s, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}
	if s.ExpiredAt(m.now()) {
		m.expire(ctx, s)
		return ErrExpired
	}
	if s.IsTerminal() {
		return ErrExpired
	}
	return m.policy.CheckAttach(s, userID, role)
}

// IsActive reports whether the session is currently active. The hub's
// router uses this to reconcile its ephemeral open-session view.
func (m *Manager) IsActive(ctx context.Context, sessionID string) bool {
	s, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return false
	}
	return s.Status == types.StatusActive && !s.ExpiredAt(m.now())
}

// SetConnectionState records a transport-level state change for a
// participant. Called only by the hub on attach/detach; terminal
// sessions are left untouched.
func (m *Manager) SetConnectionState(ctx context.Context, sessionID, userID, state string) error {
	_, err := m.mutate(ctx, sessionID, false, func(s *types.Session) error {
		if s.IsTerminal() {
			return errNoChange
		}
		p := s.Participant(userID)
		if p == nil {
			return ErrNotParticipant
		}
		if p.ConnectionState == state {
			return errNoChange
		}
		p.ConnectionState = state
		return nil
	})
	return err
}
