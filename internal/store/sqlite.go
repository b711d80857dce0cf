package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"parlor/pkg/interfaces"
	"parlor/pkg/types"
)

// sqliteSchema keeps the version column for compare-and-set and a
// partial unique index scoping join-code uniqueness to non-terminal
// sessions, so terminal sessions recycle their codes automatically.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	join_code        TEXT NOT NULL,
	host_user_id     TEXT NOT NULL,
	name             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	max_participants INTEGER NOT NULL,
	duration_minutes INTEGER NOT NULL,
	status           TEXT NOT NULL,
	participants     TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	expires_at       TIMESTAMP NOT NULL,
	version          INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_code
	ON sessions(join_code) WHERE status IN ('waiting', 'active');
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

// SQLiteStore is the embedded durable backend. All writes funnel
// through a single goroutine, which is how SQLite wants to be written
// to; reads go straight to the pooled connections.
type SQLiteStore struct {
	db       *sql.DB
	writeCh  chan sqliteWrite
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
}

type sqliteWrite struct {
	op     func(*sql.DB) error
	result chan error
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	db.SetMaxOpenConns(10)

	s := &SQLiteStore{
		db:       db,
		writeCh:  make(chan sqliteWrite, 100),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case w := <-s.writeCh:
			w.result <- w.op(s.db)
		case <-s.shutdown:
			return
		}
	}
}

func (s *SQLiteStore) executeWrite(op func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- sqliteWrite{op: op, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timed out")
	case <-s.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

const sessionColumns = `id, join_code, host_user_id, name, description,
	max_participants, duration_minutes, status, participants,
	created_at, expires_at, version`

func scanSession(row interface{ Scan(...interface{}) error }) (*types.Session, error) {
	var s types.Session
	var participantsJSON string
	err := row.Scan(&s.ID, &s.JoinCode, &s.HostUserID, &s.Name, &s.Description,
		&s.MaxParticipants, &s.DurationMinutes, &s.Status, &participantsJSON,
		&s.CreatedAt, &s.ExpiresAt, &s.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participantsJSON), &s.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants for session %s: %w", s.ID, err)
	}
	return &s, nil
}

// GetByID returns the session, or ErrSessionNotFound.
func (s *SQLiteStore) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	return session, err
}

// GetByJoinCode resolves a code among non-terminal sessions only.
func (s *SQLiteStore) GetByJoinCode(ctx context.Context, joinCode string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE join_code = ? AND status IN ('waiting', 'active')`, joinCode)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	return session, err
}

// Put commits via the single writer. Inserts ride the partial unique
// index for join-code collisions; updates are guarded by the version
// column.
func (s *SQLiteStore) Put(ctx context.Context, session *types.Session) (*types.Session, error) {
	participantsJSON, err := json.Marshal(session.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to encode participants: %w", err)
	}

	committed := session.Clone()
	committed.Version = session.Version + 1

	writeErr := s.executeWrite(func(db *sql.DB) error {
		if session.Version == 0 {
			_, err := db.Exec(`INSERT INTO sessions (`+sessionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				session.ID, session.JoinCode, session.HostUserID, session.Name,
				session.Description, session.MaxParticipants, session.DurationMinutes,
				session.Status, string(participantsJSON),
				session.CreatedAt, session.ExpiresAt, committed.Version)
			return translateSQLiteInsertErr(err)
		}

		res, err := db.Exec(`UPDATE sessions SET
				join_code = ?, host_user_id = ?, name = ?, description = ?,
				max_participants = ?, duration_minutes = ?, status = ?,
				participants = ?, created_at = ?, expires_at = ?, version = ?
			WHERE id = ? AND version = ?`,
			session.JoinCode, session.HostUserID, session.Name, session.Description,
			session.MaxParticipants, session.DurationMinutes, session.Status,
			string(participantsJSON), session.CreatedAt, session.ExpiresAt,
			committed.Version, session.ID, session.Version)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists int
			if err := db.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, session.ID).Scan(&exists); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return interfaces.ErrSessionNotFound
				}
				return err
			}
			return interfaces.ErrVersionConflict
		}
		return nil
	})
	if writeErr != nil {
		return nil, writeErr
	}
	return committed, nil
}

func translateSQLiteInsertErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		if strings.Contains(err.Error(), "join_code") {
			return interfaces.ErrJoinCodeInUse
		}
		return interfaces.ErrVersionConflict
	}
	return err
}

// ListByParticipant scans open sessions and filters membership in Go;
// at session scale (handfuls of concurrent rounds) this beats teaching
// SQLite about the participants JSON.
func (s *SQLiteStore) ListByParticipant(ctx context.Context, userID string) ([]*types.Session, error) {
	open, err := s.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*types.Session, 0, len(open))
	for _, session := range open {
		if session.Participant(userID) != nil {
			result = append(result, session)
		}
	}
	return result, nil
}

// ListOpen returns every non-terminal session, newest first.
func (s *SQLiteStore) ListOpen(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status IN ('waiting', 'active')
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

// Delete removes the session row.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
		return err
	})
}

// HealthCheck verifies the database answers queries.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

// Close drains the writer and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	log.Println("SQLite store closed")
	return s.db.Close()
}
