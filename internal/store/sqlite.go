package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/ember/internal/model"

	_ "modernc.org/sqlite"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    closed_at  DATETIME
)`

const createNavigationsTable = `
CREATE TABLE IF NOT EXISTS navigations (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    url        TEXT NOT NULL,
    kind       TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

const createNavigationsIndex = `
CREATE INDEX IF NOT EXISTS navigations_session_idx ON navigations (session_id, created_at)`

const selectSession = `
SELECT s.id, s.status, s.created_at, s.closed_at,
    (SELECT COUNT(*) FROM navigations n WHERE n.session_id = s.id)
FROM sessions s`

// ErrNotFound is returned when a session or navigation is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createSessionsTable, createNavigationsTable, createNavigationsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, created_at, closed_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Status, sess.CreatedAt, sess.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.Session, error) {
	sess := &model.Session{}
	if err := row.Scan(&sess.ID, &sess.Status, &sess.CreatedAt, &sess.ClosedAt, &sess.Navigations); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, selectSession+" WHERE s.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns a paginated list of sessions ordered by created_at DESC,
// along with the total count of all sessions.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*model.Session, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		selectSession+" ORDER BY s.created_at DESC, s.id DESC LIMIT ? OFFSET ?", limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, total, nil
}

// UpdateSessionStatus moves a session to status, validating the transition
// and stamping closed_at.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM sessions WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read session status: %w", err)
	}

	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, status)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET status = ?, closed_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AbandonOpenSessions marks every open session other than exceptID as
// abandoned and returns how many were changed.
func (s *SQLiteStore) AbandonOpenSessions(ctx context.Context, exceptID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, closed_at = ? WHERE status = ? AND id != ?",
		model.SessionAbandoned, time.Now().UTC(), model.SessionOpen, exceptID,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// CreateNavigation inserts a navigation record.
func (s *SQLiteStore) CreateNavigation(ctx context.Context, n *model.Navigation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO navigations (id, session_id, url, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.SessionID, n.URL, n.Kind, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert navigation: %w", err)
	}
	return nil
}

// GetNavigation retrieves a navigation by ID.
func (s *SQLiteStore) GetNavigation(ctx context.Context, id string) (*model.Navigation, error) {
	n := &model.Navigation{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, session_id, url, kind, created_at FROM navigations WHERE id = ?", id,
	).Scan(&n.ID, &n.SessionID, &n.URL, &n.Kind, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get navigation: %w", err)
	}
	return n, nil
}

// ListNavigations returns a paginated list of navigations ordered by
// created_at DESC, along with the total count. An empty sessionID lists
// navigations from every session.
func (s *SQLiteStore) ListNavigations(ctx context.Context, sessionID string, limit, offset int) ([]*model.Navigation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where, args := "", []any{}
	if sessionID != "" {
		where, args = " WHERE session_id = ?", []any{sessionID}
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM navigations"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count navigations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT id, session_id, url, kind, created_at FROM navigations"+where+
			" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list navigations: %w", err)
	}
	defer rows.Close()

	var navs []*model.Navigation
	for rows.Next() {
		n := &model.Navigation{}
		if err := rows.Scan(&n.ID, &n.SessionID, &n.URL, &n.Kind, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan navigation: %w", err)
		}
		navs = append(navs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate navigations: %w", err)
	}

	return navs, total, nil
}

// GetStats returns aggregate session and navigation counts.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		SessionsByStatus:  make(map[string]int),
		NavigationsByKind: make(map[string]int),
	}

	groups := []struct {
		query string
		into  map[string]int
		total *int
	}{
		{"SELECT status, COUNT(*) FROM sessions GROUP BY status", stats.SessionsByStatus, &stats.Sessions},
		{"SELECT kind, COUNT(*) FROM navigations GROUP BY kind", stats.NavigationsByKind, &stats.Navigations},
	}
	for _, g := range groups {
		rows, err := s.db.QueryContext(ctx, g.query)
		if err != nil {
			return nil, fmt.Errorf("query stats: %w", err)
		}
		for rows.Next() {
			var (
				key   string
				count int
			)
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan stats: %w", err)
			}
			g.into[key] = count
			*g.total += count
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate stats: %w", err)
		}
	}

	return stats, nil
}
