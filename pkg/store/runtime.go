package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// State is the persisted simulation-state row.
type State struct {
	CurrentTick      int64     `json:"current_tick"`
	IsRunning        bool      `json:"is_running"`
	AutoTick         bool      `json:"auto_tick"`
	ActivePersonaIDs []int64   `json:"active_persona_ids"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// LoadState returns the simulation-state row, or the zero state if the
// simulation was never started (or was reset).
func (s *Store) LoadState() (State, error) {
	var st State
	var running, auto int
	var active, updated string
	err := s.db.QueryRow(
		`SELECT current_tick, is_running, auto_tick, active_ids, updated_at
		 FROM simulation_state WHERE id = 1`,
	).Scan(&st.CurrentTick, &running, &auto, &active, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	st.IsRunning = running != 0
	st.AutoTick = auto != 0
	if err := json.Unmarshal([]byte(active), &st.ActivePersonaIDs); err != nil {
		return State{}, fmt.Errorf("decode active persona ids: %w", err)
	}
	if st.UpdatedAt, err = parseTime(updated, "simulation_state.updated_at"); err != nil {
		return State{}, err
	}
	return st, nil
}

// SaveState upserts the simulation-state row.
func (s *Store) SaveState(st State) error {
	ids := st.ActivePersonaIDs
	if ids == nil {
		ids = []int64{}
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO simulation_state (id, current_tick, is_running, auto_tick, active_ids, updated_at)
			 VALUES (1, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   current_tick = excluded.current_tick,
			   is_running = excluded.is_running,
			   auto_tick = excluded.auto_tick,
			   active_ids = excluded.active_ids,
			   updated_at = excluded.updated_at`,
			st.CurrentTick, boolToInt(st.IsRunning), boolToInt(st.AutoTick), mustJSON(ids), nowString(),
		)
		return err
	})
}

// ---------------------------------------------------------------------------
// Runtime inbox
// ---------------------------------------------------------------------------

// EnqueueMessage appends an inbound message to its recipient's inbox and
// returns the row ID.
func (s *Store) EnqueueMessage(m *model.InboundMessage) (int64, error) {
	var id int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO worker_runtime_messages (recipient_id, payload, created_at) VALUES (?, ?, ?)`,
			m.RecipientID, mustJSON(m), nowString(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ListInbox returns all pending messages, oldest first, across recipients.
func (s *Store) ListInbox() ([]model.InboundMessage, error) {
	rows, err := s.db.Query(`SELECT id, payload FROM worker_runtime_messages ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.InboundMessage
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var m model.InboundMessage
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("decode inbox row %d: %w", id, err)
		}
		m.ID = id
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteInboxMessages removes drained messages by row ID.
func (s *Store) DeleteInboxMessages(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
		for _, id := range ids {
			if _, err := tx.Exec(`DELETE FROM worker_runtime_messages WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ---------------------------------------------------------------------------
// Status overrides
// ---------------------------------------------------------------------------

// UpsertOverride sets a status override. Last write wins.
func (s *Store) UpsertOverride(o model.StatusOverride) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO worker_status_overrides (worker_id, status, until_tick, reason)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(worker_id) DO UPDATE SET
			   status = excluded.status,
			   until_tick = excluded.until_tick,
			   reason = excluded.reason`,
			o.WorkerID, string(o.Status), o.UntilTick, o.Reason,
		)
		return err
	})
}

// DeleteOverride clears a worker's override, if any.
func (s *Store) DeleteOverride(workerID int64) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(`DELETE FROM worker_status_overrides WHERE worker_id = ?`, workerID)
		return err
	})
}

// DeleteExpiredOverrides removes overrides with until_tick <= tick and
// returns how many were removed.
func (s *Store) DeleteExpiredOverrides(tick int64) (int64, error) {
	var n int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(`DELETE FROM worker_status_overrides WHERE until_tick <= ?`, tick)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// ListOverrides returns all overrides ordered by worker ID.
func (s *Store) ListOverrides() ([]model.StatusOverride, error) {
	rows, err := s.db.Query(
		`SELECT worker_id, status, until_tick, reason FROM worker_status_overrides ORDER BY worker_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StatusOverride
	for rows.Next() {
		var o model.StatusOverride
		var status string
		if err := rows.Scan(&o.WorkerID, &status, &o.UntilTick, &o.Reason); err != nil {
			return nil, err
		}
		o.Status = model.OverrideStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Scheduled communications
// ---------------------------------------------------------------------------

// ReplaceSchedule rewrites a persona's pending scheduled communications.
func (s *Store) ReplaceSchedule(personID int64, comms []model.ScheduledComm) error {
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.Exec(`DELETE FROM scheduled_comms WHERE person_id = ?`, personID); err != nil {
			return err
		}
		for _, c := range comms {
			if _, err := tx.Exec(
				`INSERT INTO scheduled_comms (person_id, tick, payload) VALUES (?, ?, ?)`,
				personID, c.Tick, mustJSON(c),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListScheduledComms returns every pending scheduled communication ordered
// by persona, tick and insertion.
func (s *Store) ListScheduledComms() ([]model.ScheduledComm, error) {
	rows, err := s.db.Query(`SELECT id, payload FROM scheduled_comms ORDER BY person_id, tick, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledComm
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var c model.ScheduledComm
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode scheduled comm %d: %w", id, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
