// Package store manages all SQLite persistence for the virtual office.
//
// SQLite in WAL mode holds everything the engine must not lose across
// restarts: the simulation state row, the persona roster, runtime inboxes,
// status overrides, pending scheduled communications and every generated
// plan or report. All access goes through short per-operation statements;
// no transaction spans a tick.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a keyed lookup has no row.
	ErrNotFound = errors.New("not found")
	// ErrPersonaNotFound is returned when a requested persona does not exist.
	ErrPersonaNotFound = errors.New("persona not found")
	// ErrDuplicatePersona is returned when a persona name is already taken.
	ErrDuplicatePersona = errors.New("duplicate persona name")
	// ErrUnknownPersona is a data-integrity failure: an artifact references a
	// persona id that does not exist. Never retried.
	ErrUnknownPersona = errors.New("artifact references unknown persona")
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations should use this to handle transient SQLite
// errors (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent access.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS simulation_state (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		current_tick INTEGER NOT NULL DEFAULT 0,
		is_running   INTEGER NOT NULL DEFAULT 0,
		auto_tick    INTEGER NOT NULL DEFAULT 0,
		active_ids   TEXT NOT NULL DEFAULT '[]',
		updated_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS people (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		name               TEXT NOT NULL UNIQUE COLLATE NOCASE,
		role               TEXT NOT NULL DEFAULT '',
		timezone           TEXT NOT NULL DEFAULT '',
		work_hours         TEXT NOT NULL DEFAULT '',
		chat_handle        TEXT NOT NULL DEFAULT '',
		email_address      TEXT NOT NULL DEFAULT '',
		is_department_head INTEGER NOT NULL DEFAULT 0,
		skills             TEXT NOT NULL DEFAULT '[]',
		schedule           TEXT NOT NULL DEFAULT '[]',
		created_at         TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS worker_runtime_messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient_id INTEGER NOT NULL,
		payload      TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runtime_recipient ON worker_runtime_messages(recipient_id, id);

	CREATE TABLE IF NOT EXISTS worker_status_overrides (
		worker_id  INTEGER PRIMARY KEY,
		status     TEXT NOT NULL,
		until_tick INTEGER NOT NULL,
		reason     TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS scheduled_comms (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		person_id INTEGER NOT NULL,
		tick      INTEGER NOT NULL,
		payload   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scheduled_person ON scheduled_comms(person_id, tick);

	CREATE TABLE IF NOT EXISTS worker_plans (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		person_id   INTEGER NOT NULL REFERENCES people(id) ON DELETE CASCADE,
		tick        INTEGER NOT NULL,
		plan_type   TEXT NOT NULL,
		content     TEXT NOT NULL,
		model_used  TEXT NOT NULL DEFAULT '',
		tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		UNIQUE (person_id, tick, plan_type)
	);

	CREATE TABLE IF NOT EXISTS hourly_summaries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		person_id   INTEGER NOT NULL REFERENCES people(id) ON DELETE CASCADE,
		hour_index  INTEGER NOT NULL,
		summary     TEXT NOT NULL,
		model_used  TEXT NOT NULL DEFAULT '',
		tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		UNIQUE (person_id, hour_index)
	);

	CREATE TABLE IF NOT EXISTS daily_reports (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		person_id        INTEGER NOT NULL REFERENCES people(id) ON DELETE CASCADE,
		day_index        INTEGER NOT NULL,
		report           TEXT NOT NULL,
		schedule_outline TEXT NOT NULL DEFAULT '',
		model_used       TEXT NOT NULL DEFAULT '',
		tokens_used      INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		UNIQUE (person_id, day_index)
	);

	CREATE TABLE IF NOT EXISTS simulation_reports (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		report      TEXT NOT NULL,
		total_ticks INTEGER NOT NULL,
		model_used  TEXT NOT NULL DEFAULT '',
		tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_plans (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		project_name    TEXT NOT NULL,
		project_summary TEXT NOT NULL DEFAULT '',
		plan            TEXT NOT NULL,
		generated_by    INTEGER,
		duration_weeks  INTEGER NOT NULL DEFAULT 1,
		model_used      TEXT NOT NULL DEFAULT '',
		tokens_used     INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sim_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		type       TEXT NOT NULL,
		target_ids TEXT NOT NULL DEFAULT '[]',
		at_tick    INTEGER NOT NULL,
		payload    TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		tick       INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		actor      TEXT,
		target     TEXT,
		body       TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, tick);

	CREATE TABLE IF NOT EXISTS leases (
		name       TEXT PRIMARY KEY,
		holder     TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mailboxes (
		address      TEXT PRIMARY KEY COLLATE NOCASE,
		display_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS emails (
		id         TEXT PRIMARY KEY,
		sender     TEXT NOT NULL,
		recipients TEXT NOT NULL,
		cc         TEXT NOT NULL DEFAULT '[]',
		bcc        TEXT NOT NULL DEFAULT '[]',
		subject    TEXT NOT NULL,
		body       TEXT NOT NULL,
		thread_id  TEXT NOT NULL DEFAULT '',
		sent_at    TEXT NOT NULL,
		seq        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender, seq);

	CREATE TABLE IF NOT EXISTS chat_users (
		handle       TEXT PRIMARY KEY COLLATE NOCASE,
		display_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		sender    TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body      TEXT NOT NULL,
		sent_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_pair ON chat_messages(sender, recipient);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ResetSimulation clears every derived table and returns the state row to
// tick 0. Personas, mailboxes and chat users are kept.
func (s *Store) ResetSimulation() error {
	tables := []string{
		"worker_runtime_messages", "worker_status_overrides", "scheduled_comms",
		"worker_plans", "hourly_summaries", "daily_reports", "simulation_reports",
		"project_plans", "sim_events", "events", "leases", "emails", "chat_messages",
		"simulation_state",
	}
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
		for _, t := range tables {
			if _, err := tx.Exec(`DELETE FROM ` + t); err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
		}
		return tx.Commit()
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func nowString() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s, what string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", what, err)
	}
	return t, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
