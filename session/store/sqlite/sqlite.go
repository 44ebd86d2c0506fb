// Package sqlite implements a durable session store backed by
// modernc.org/sqlite (pure Go, no CGO) with WAL mode enabled.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // driver registration

	"github.com/mnemohq/mnemo-go-sdk/core"
	"github.com/mnemohq/mnemo-go-sdk/session"
)

const defaultBusyTimeout = 5000

// Config holds the SQLite store configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables WAL journal mode for concurrent reads. Defaults to true.
	WAL *bool

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

// Store is a session.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// Open opens or creates the database at cfg.Path and applies the schema.
func Open(cfg Config) (*Store, error) {
	cfg.defaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// SQLite handles one writer at a time; limit the pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if *cfg.WAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, summary, token_count, created_at_ms, last_active_ms, ttl_ms
		FROM sessions WHERE id = ?`, sessionID)

	var sess session.Session
	var createdMS, lastActiveMS, ttlMS int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Summary, &sess.TokenCount,
		&createdMS, &lastActiveMS, &ttlMS)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdMS)
	sess.LastActive = time.UnixMilli(lastActiveMS)
	sess.TTL = time.Duration(ttlMS) * time.Millisecond

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tokens, created_at_ms
		FROM session_messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var msg session.Message
		var role string
		var tsMS int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.Tokens, &tsMS); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		msg.Role = session.Role(role)
		msg.Timestamp = time.UnixMilli(tsMS)
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load messages: %w", err)
	}

	return &sess, nil
}

func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (id, user_id, summary, token_count, created_at_ms, last_active_ms, ttl_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Summary, sess.TokenCount,
		sess.CreatedAt.UnixMilli(), sess.LastActive.UnixMilli(), sess.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("sqlite: save session: %w", err)
	}

	// The retained window shrinks on compaction, so messages are rewritten
	// wholesale rather than appended.
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("sqlite: clear messages: %w", err)
	}
	for i, msg := range sess.Messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_messages (session_id, seq, id, role, content, tokens, created_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, i, msg.ID, string(msg.Role), msg.Content, msg.Tokens, msg.Timestamp.UnixMilli())
		if err != nil {
			return fmt.Errorf("sqlite: save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit delete: %w", err)
	}
	return nil
}

func (s *Store) ExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions WHERE last_active_ms + ttl_ms < ?`, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list expired: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list expired: %w", err)
	}
	return ids, nil
}
