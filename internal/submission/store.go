// Package submission persists the data each wizard step hands to its
// completion callback.
package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Submission is one step's saved changes.
type Submission struct {
	SessionID  string
	TemplateID string
	Step       int
	Title      string
	Changes    map[string]any
	CreatedAt  time.Time
}

// Store keeps submissions in a sqlite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the submission database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("submission: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("submission: create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("submission: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("submission: set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("submission: set busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS submissions (
	session_id TEXT NOT NULL,
	template_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	title TEXT NOT NULL,
	changes_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (session_id, step)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("submission: initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save records a step's changes. Saving the same step twice in a session
// keeps the latest changes.
func (s *Store) Save(ctx context.Context, sub Submission) error {
	if strings.TrimSpace(sub.SessionID) == "" {
		return fmt.Errorf("submission: session id is required")
	}
	if sub.Step < 1 {
		return fmt.Errorf("submission: invalid step %d", sub.Step)
	}
	changes := sub.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("submission: marshal step %d changes: %w", sub.Step, err)
	}
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (session_id, template_id, step, title, changes_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, step) DO UPDATE SET
		 template_id = excluded.template_id,
		 title = excluded.title,
		 changes_json = excluded.changes_json,
		 created_at = excluded.created_at`,
		sub.SessionID,
		sub.TemplateID,
		sub.Step,
		sub.Title,
		string(payload),
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("submission: save step %d: %w", sub.Step, err)
	}
	return nil
}

// List returns a session's submissions ordered by step.
func (s *Store) List(ctx context.Context, sessionID string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, template_id, step, title, changes_json, created_at
		 FROM submissions WHERE session_id = ? ORDER BY step`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("submission: list %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make([]Submission, 0)
	for rows.Next() {
		var sub Submission
		var changesJSON, created string
		if err := rows.Scan(&sub.SessionID, &sub.TemplateID, &sub.Step, &sub.Title, &changesJSON, &created); err != nil {
			return nil, fmt.Errorf("submission: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(changesJSON), &sub.Changes); err != nil {
			return nil, fmt.Errorf("submission: unmarshal step %d changes: %w", sub.Step, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			sub.CreatedAt = ts
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("submission: iterate rows: %w", err)
	}
	return out, nil
}

// Merged folds a session's submissions into one record, later steps
// overriding earlier ones. Dependent steps check their dependencies
// against it.
func (s *Store) Merged(ctx context.Context, sessionID string) (map[string]any, error) {
	subs, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	for _, sub := range subs {
		for k, v := range sub.Changes {
			merged[k] = v
		}
	}
	return merged, nil
}
