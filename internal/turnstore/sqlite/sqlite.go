package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/chatstream/relay/internal/turnstore"
)

// Store implements turnstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite turn store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create turn store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS turns (
	turn_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init turn schema: %w", err)
	}
	return nil
}

// Save writes one completed turn. The primary key on turn_id makes a repeated
// save of the same turn an error rather than a silent duplicate.
func (s *Store) Save(ctx context.Context, rec turnstore.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, session_id, role, content, provider, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.SessionID, rec.Role, rec.Content, rec.Provider, rec.Model, rec.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// BySession returns the persisted turns for a session in completion order.
// Used by tests and the history export path.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]turnstore.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, session_id, role, content, provider, model, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var recs []turnstore.Record
	for rows.Next() {
		var rec turnstore.Record
		if err := rows.Scan(&rec.TurnID, &rec.SessionID, &rec.Role, &rec.Content, &rec.Provider, &rec.Model, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
