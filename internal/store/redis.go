package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

const (
	redisSessionPrefix = "parlor:session:"
	redisCodePrefix    = "parlor:code:"
	redisUserPrefix    = "parlor:user-sessions:"
	redisOpenSet       = "parlor:sessions:open"
)

// RedisStore keeps sessions as JSON values with the version embedded,
// using WATCH/MULTI optimistic transactions for compare-and-set. The
// join-code and open-session indexes are maintained inside the same
// transaction as the write, so readers never see them out of step.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and verifies the server is reachable.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) getSession(ctx context.Context, c redis.Cmdable, sessionID string) (*types.Session, error) {
	data, err := c.Get(ctx, redisSessionPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var session types.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// GetByID returns the session, or ErrSessionNotFound.
func (s *RedisStore) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.getSession(ctx, s.client, sessionID)
}

// GetByJoinCode resolves the code index; it only ever points at
// non-terminal sessions.
func (s *RedisStore) GetByJoinCode(ctx context.Context, joinCode string) (*types.Session, error) {
	sessionID, err := s.client.Get(ctx, redisCodePrefix+joinCode).Result()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.getSession(ctx, s.client, sessionID)
}

// Put commits the session and its indexes in one optimistic
// transaction. The session key and the code key are both watched, so
// a concurrent update or a code claim by another create aborts the
// transaction.
func (s *RedisStore) Put(ctx context.Context, session *types.Session) (*types.Session, error) {
	sessionKey := redisSessionPrefix + session.ID
	codeKey := redisCodePrefix + session.JoinCode

	committed := session.Clone()
	committed.Version = session.Version + 1
	data, err := json.Marshal(committed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, sessionKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if session.Version != 0 {
				return interfaces.ErrSessionNotFound
			}
			// Insert path: the code must be free.
			holder, err := tx.Get(ctx, codeKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && holder != session.ID {
				return interfaces.ErrJoinCodeInUse
			}
		case err != nil:
			return err
		default:
			var stored types.Session
			if err := json.Unmarshal([]byte(current), &stored); err != nil {
				return fmt.Errorf("failed to decode session %s: %w", session.ID, err)
			}
			if stored.Version != session.Version {
				return interfaces.ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey, data, 0)
			if committed.IsTerminal() {
				pipe.Del(ctx, codeKey)
				pipe.SRem(ctx, redisOpenSet, committed.ID)
			} else {
				pipe.Set(ctx, codeKey, committed.ID, 0)
				pipe.SAdd(ctx, redisOpenSet, committed.ID)
			}
			for _, p := range committed.Participants {
				pipe.SAdd(ctx, redisUserPrefix+p.UserID, committed.ID)
			}
			return nil
		})
		return err
	}, sessionKey, codeKey)

	if txErr != nil {
		if errors.Is(txErr, redis.TxFailedErr) {
			return nil, interfaces.ErrVersionConflict
		}
		return nil, txErr
	}
	return committed, nil
}

// ListByParticipant walks the user's session index, filtering to
// non-terminal and sorting newest first.
func (s *RedisStore) ListByParticipant(ctx context.Context, userID string) ([]*types.Session, error) {
	ids, err := s.client.SMembers(ctx, redisUserPrefix+userID).Result()
	if err != nil {
		return nil, err
	}

	sessions, err := s.fetchOpen(ctx, ids)
	if err != nil {
		return nil, err
	}

	// The index is add-only; membership can have been dropped by a
	// pre-activation leave, so it is rechecked here.
	result := sessions[:0]
	for _, session := range sessions {
		if session.Participant(userID) != nil {
			result = append(result, session)
		}
	}
	return result, nil
}

// ListOpen returns every non-terminal session.
func (s *RedisStore) ListOpen(ctx context.Context) ([]*types.Session, error) {
	ids, err := s.client.SMembers(ctx, redisOpenSet).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchOpen(ctx, ids)
}

func (s *RedisStore) fetchOpen(ctx context.Context, ids []string) ([]*types.Session, error) {
	result := make([]*types.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.getSession(ctx, s.client, id)
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			continue // index lagging a delete
		}
		if err != nil {
			return nil, err
		}
		if session.IsTerminal() {
			continue
		}
		result = append(result, session)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes the session and its index entries.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	session, err := s.getSession(ctx, s.client, sessionID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisSessionPrefix+sessionID)
		pipe.Del(ctx, redisCodePrefix+session.JoinCode)
		pipe.SRem(ctx, redisOpenSet, sessionID)
		for _, p := range session.Participants {
			pipe.SRem(ctx, redisUserPrefix+p.UserID, sessionID)
		}
		return nil
	})
	return err
}

// HealthCheck pings the server.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
