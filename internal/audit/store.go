// Package audit keeps a queryable history of every state transition:
// applies, rollbacks, and their outcomes. It supplements the write-only
// transition log with something an operator can actually search.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cloisterhq/warden/internal/clock"
)

// Event records one attempted state transition.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"` // apply-sovereign, apply-connected, rollback
	PrevMode  string    `json:"prev_mode"`
	NewMode   string    `json:"new_mode"`
	RulesV4   int       `json:"rules_v4"`
	RulesV6   int       `json:"rules_v6"`
	RulesDMZ  int       `json:"rules_dmz"`
	Outcome   string    `json:"outcome"` // ok or error
	Detail    string    `json:"detail,omitempty"`
}

// NewRunID returns a fresh identifier correlating an event with logs.
func NewRunID() string {
	return uuid.NewString()
}

// Store provides persistent storage for transition events.
type Store struct {
	mu    sync.RWMutex
	db    *sql.DB
	clock clock.Clock
}

// Open creates or opens the audit database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "audit.db"))
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			prev_mode TEXT NOT NULL,
			new_mode TEXT NOT NULL,
			rules_v4 INTEGER DEFAULT 0,
			rules_v6 INTEGER DEFAULT 0,
			rules_dmz INTEGER DEFAULT 0,
			outcome TEXT NOT NULL,
			detail TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_timestamp ON transitions(timestamp);
		CREATE INDEX IF NOT EXISTS idx_transitions_action ON transitions(action);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create transitions table: %w", err)
	}

	return &Store{db: db, clock: &clock.RealClock{}}, nil
}

// Write persists a transition event.
func (s *Store) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO transitions
			(run_id, timestamp, actor, action, prev_mode, new_mode,
			 rules_v4, rules_v6, rules_dmz, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.RunID, evt.Timestamp, evt.Actor, evt.Action, evt.PrevMode, evt.NewMode,
		evt.RulesV4, evt.RulesV6, evt.RulesDMZ, evt.Outcome, evt.Detail)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, actor, action, prev_mode, new_mode,
		       rules_v4, rules_v6, rules_dmz, outcome, detail
		FROM transitions ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var detail sql.NullString
		err := rows.Scan(&evt.ID, &evt.RunID, &evt.Timestamp, &evt.Actor,
			&evt.Action, &evt.PrevMode, &evt.NewMode,
			&evt.RulesV4, &evt.RulesV6, &evt.RulesDMZ, &evt.Outcome, &detail)
		if err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if detail.Valid {
			evt.Detail = detail.String
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
