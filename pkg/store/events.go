package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// ---------------------------------------------------------------------------
// Append-only simulation log
// ---------------------------------------------------------------------------

// InsertEvent appends an event to the log. Returns the auto-generated row ID.
func (s *Store) InsertEvent(e *model.Event) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var lastID int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO events (tick, kind, actor, target, body, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.Tick, string(e.Kind), e.Actor, e.Target, e.Body,
			e.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		lastID, err = res.LastInsertId()
		return err
	})
	return lastID, err
}

// ListEvents returns events with tick >= sinceTick, oldest first.
func (s *Store) ListEvents(sinceTick int64, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, tick, kind, COALESCE(actor,''), COALESCE(target,''), COALESCE(body,''), created_at
		 FROM events WHERE tick >= ?
		 ORDER BY tick ASC, id ASC LIMIT ?`,
		sinceTick, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEventsSinceID returns events with row ID > sinceID, ordered by ID.
// This is useful for tailing the log without missing events that share a
// tick.
func (s *Store) ListEventsSinceID(sinceID int64, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, tick, kind, COALESCE(actor,''), COALESCE(target,''), COALESCE(body,''), created_at
		 FROM events WHERE id > ?
		 ORDER BY id ASC LIMIT ?`,
		sinceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MaxEventID returns the highest event row ID, or 0 if the log is empty.
func (s *Store) MaxEventID() int64 {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id); err != nil {
		return 0
	}
	return id
}

// CountEvents returns the number of log entries of a kind ("" counts all).
func (s *Store) CountEvents(kind model.EventKind) int64 {
	var count int64
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM events WHERE (? = '' OR kind = ?)`, string(kind), string(kind),
	).Scan(&count); err != nil {
		return 0
	}
	return count
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kindStr, createdStr string
		if err := rows.Scan(&e.ID, &e.Tick, &kindStr, &e.Actor, &e.Target, &e.Body, &createdStr); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kindStr)
		var parseErr error
		e.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse created_at time for event %d: %w", e.ID, parseErr)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ---------------------------------------------------------------------------
// Simulation events
// ---------------------------------------------------------------------------

// InsertSimEvent records a random or injected simulation event.
func (s *Store) InsertSimEvent(ev *model.SimEvent) (*model.SimEvent, error) {
	targets := ev.TargetIDs
	if targets == nil {
		targets = []int64{}
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO sim_events (type, target_ids, at_tick, payload) VALUES (?, ?, ?, ?)`,
			string(ev.Type), mustJSON(targets), ev.AtTick, mustJSON(payload),
		)
		if err != nil {
			return err
		}
		ev.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := *ev
	return &out, nil
}

// ListSimEvents returns all simulation events in insertion order.
func (s *Store) ListSimEvents() ([]model.SimEvent, error) {
	rows, err := s.db.Query(`SELECT id, type, target_ids, at_tick, payload FROM sim_events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SimEvent
	for rows.Next() {
		var ev model.SimEvent
		var typ, targets, payload string
		if err := rows.Scan(&ev.ID, &typ, &targets, &ev.AtTick, &payload); err != nil {
			return nil, err
		}
		ev.Type = model.SimEventType(typ)
		if err := json.Unmarshal([]byte(targets), &ev.TargetIDs); err != nil {
			return nil, fmt.Errorf("decode targets for sim event %d: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for sim event %d: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Leases
// ---------------------------------------------------------------------------

// Lease is an expiring named reservation held by one process.
type Lease struct {
	Name      string    `json:"name"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcquireLease grants name to holder for ttl unless another holder has an
// unexpired lease. Returns (granted, nil, nil) on success or
// (nil, current, nil) on conflict. Re-acquiring extends the lease.
//
// The check-and-grant sequence runs inside a transaction to prevent TOCTOU
// races when two processes request the same lease concurrently.
func (s *Store) AcquireLease(name, holder string, ttl time.Duration) (*Lease, *Lease, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var cur Lease
	var curExpires string
	err = tx.QueryRow(
		`SELECT name, holder, expires_at FROM leases WHERE name = ?`, name,
	).Scan(&cur.Name, &cur.Holder, &curExpires)
	switch {
	case err == nil:
		cur.ExpiresAt, err = time.Parse(time.RFC3339Nano, curExpires)
		if err != nil {
			return nil, nil, fmt.Errorf("parse lease expires_at for %s: %w", name, err)
		}
		if cur.Holder != holder && cur.ExpiresAt.After(now) {
			return nil, &cur, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, nil, err
	}

	if _, err := tx.Exec(
		`INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at`,
		name, holder, expiresAt.Format(time.RFC3339Nano),
	); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit lease: %w", err)
	}
	return &Lease{Name: name, Holder: holder, ExpiresAt: expiresAt}, nil, nil
}

// ReleaseLease releases a lease held by holder. Releasing a lease held by
// someone else is a no-op.
func (s *Store) ReleaseLease(name, holder string) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(`DELETE FROM leases WHERE name = ? AND holder = ?`, name, holder)
		return err
	})
}
