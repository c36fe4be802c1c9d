// Package cache persists session history in SQLite so a restarted client
// can render the conversation before the runner answers.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	"forgechat/internal/usecase/stream"
)

// DefaultMaxSessions bounds how many sessions are retained; the least
// recently written are evicted first.
const DefaultMaxSessions = 50

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Store implements stream.Store on a SQLite database.
type Store struct {
	db  *sql.DB
	max int
}

// Open opens (or creates) the cache database at dbPath and runs the
// schema migration. maxSessions <= 0 selects the default bound.
func Open(dbPath string, maxSessions int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Store{db: db, max: maxSessions}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			key        TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			written_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key returns the storage key for a session id. Ids pass through a
// sanitizer because provisional ids may embed arbitrary characters.
func Key(sessionID string) string {
	return "session:" + keySanitizer.ReplaceAllString(sessionID, "_")
}

// Load returns the cached session, with found=false when none exists.
func (s *Store) Load(sessionID string) (stream.CachedSession, bool, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM sessions WHERE key = ?", Key(sessionID)).Scan(&payload)
	if err == sql.ErrNoRows {
		return stream.CachedSession{}, false, nil
	}
	if err != nil {
		return stream.CachedSession{}, false, fmt.Errorf("load session: %w", err)
	}
	var cs stream.CachedSession
	if err := json.Unmarshal([]byte(payload), &cs); err != nil {
		// A corrupt row is treated as absent rather than fatal.
		return stream.CachedSession{}, false, nil
	}
	return cs, true, nil
}

// Save upserts the session and evicts beyond the retention bound.
func (s *Store) Save(sessionID string, cs stream.CachedSession) error {
	payload, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(
		"INSERT INTO sessions (key, payload, written_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, written_at = excluded.written_at",
		Key(sessionID), string(payload), now,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return s.evict()
}

func (s *Store) evict() error {
	_, err := s.db.Exec(`
		DELETE FROM sessions WHERE key NOT IN (
			SELECT key FROM sessions ORDER BY written_at DESC LIMIT ?
		)
	`, s.max)
	if err != nil {
		return fmt.Errorf("evict sessions: %w", err)
	}
	return nil
}

// Migrate renames a session entry, typically from a provisional id to the
// one the runner assigned. When the destination already exists the source
// row is simply dropped.
func (s *Store) Migrate(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate session: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(1) FROM sessions WHERE key = ?", Key(newID)).Scan(&exists); err != nil {
		return fmt.Errorf("migrate session: %w", err)
	}
	if exists > 0 {
		if _, err := tx.Exec("DELETE FROM sessions WHERE key = ?", Key(oldID)); err != nil {
			return fmt.Errorf("migrate session: %w", err)
		}
	} else {
		if _, err := tx.Exec("UPDATE sessions SET key = ? WHERE key = ?", Key(newID), Key(oldID)); err != nil {
			return fmt.Errorf("migrate session: %w", err)
		}
	}
	return tx.Commit()
}
