package store

import (
	"context"
	"sort"
	"sync"

	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

// MemoryStore is the in-memory reference implementation of the session
// store. A single mutex makes every Put atomic, which is the property
// the lifecycle manager's compare-and-set protocol relies on; the
// concurrency tests run against this implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session // sessionID -> authoritative record
	codes    map[string]string         // joinCode -> sessionID, non-terminal only
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*types.Session),
		codes:    make(map[string]string),
	}
}

// GetByID returns a copy of the session.
func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// GetByJoinCode resolves a join code among non-terminal sessions.
func (s *MemoryStore) GetByJoinCode(ctx context.Context, joinCode string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.codes[joinCode]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	return s.sessions[sessionID].Clone(), nil
}

// Put commits a session under the store mutex, enforcing the version
// check and join-code uniqueness in one atomic step.
func (s *MemoryStore) Put(ctx context.Context, session *types.Session) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.sessions[session.ID]

	if session.Version == 0 {
		// Insert path.
		if exists {
			return nil, interfaces.ErrVersionConflict
		}
		if _, taken := s.codes[session.JoinCode]; taken {
			return nil, interfaces.ErrJoinCodeInUse
		}
	} else {
		if !exists {
			return nil, interfaces.ErrSessionNotFound
		}
		if current.Version != session.Version {
			return nil, interfaces.ErrVersionConflict
		}
	}

	committed := session.Clone()
	committed.Version = session.Version + 1
	s.sessions[committed.ID] = committed

	// Keep the code index scoped to non-terminal sessions so terminal
	// transitions recycle the code.
	if committed.IsTerminal() {
		if s.codes[committed.JoinCode] == committed.ID {
			delete(s.codes, committed.JoinCode)
		}
	} else {
		s.codes[committed.JoinCode] = committed.ID
	}

	return committed.Clone(), nil
}

// ListByParticipant returns non-terminal sessions containing userID,
// newest first.
func (s *MemoryStore) ListByParticipant(ctx context.Context, userID string) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Session
	for _, session := range s.sessions {
		if session.IsTerminal() {
			continue
		}
		if session.Participant(userID) != nil {
			result = append(result, session.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ListOpen returns every non-terminal session.
func (s *MemoryStore) ListOpen(ctx context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Session
	for _, session := range s.sessions {
		if !session.IsTerminal() {
			result = append(result, session.Clone())
		}
	}
	return result, nil
}

// Delete removes the session record. Missing sessions are not an error.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil
	}
	if s.codes[session.JoinCode] == sessionID {
		delete(s.codes, session.JoinCode)
	}
	delete(s.sessions, sessionID)
	return nil
}

// HealthCheck always succeeds for the in-memory backend.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
