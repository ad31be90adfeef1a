package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/daviddao/virtualoffice/pkg/model"
)

const personaColumns = `id, name, role, timezone, work_hours, chat_handle, email_address,
	is_department_head, skills, schedule, created_at`

// CreatePersona registers a new persona. Names are unique (case-insensitive).
func (s *Store) CreatePersona(p *model.Persona) (*model.Persona, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("create persona: name is required")
	}
	var id int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO people (name, role, timezone, work_hours, chat_handle, email_address,
			                     is_department_head, skills, schedule, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			name, p.Role, p.Timezone, p.WorkHours, p.ChatHandle, p.EmailAddress,
			boolToInt(p.IsDepartmentHead), mustJSON(nonNilStrings(p.Skills)),
			mustJSON(nonNilBlocks(p.Schedule)), nowString(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("create persona %q: %w", name, ErrDuplicatePersona)
	}
	if err != nil {
		return nil, fmt.Errorf("create persona %q: %w", name, err)
	}
	return s.GetPersona(id)
}

// GetPersona retrieves a persona by ID.
func (s *Store) GetPersona(id int64) (*model.Persona, error) {
	row := s.db.QueryRow(`SELECT `+personaColumns+` FROM people WHERE id = ?`, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("persona %d: %w", id, ErrPersonaNotFound)
	}
	return p, err
}

// ListPersonas returns all personas ordered by ID.
func (s *Store) ListPersonas() ([]model.Persona, error) {
	rows, err := s.db.Query(`SELECT ` + personaColumns + ` FROM people ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []model.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, *p)
	}
	return people, rows.Err()
}

// DeletePersona removes a persona and its runtime rows.
func (s *Store) DeletePersona(id int64) error {
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		res, err := tx.Exec(`DELETE FROM people WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("persona %d: %w", id, ErrPersonaNotFound)
		}
		for _, q := range []string{
			`DELETE FROM worker_runtime_messages WHERE recipient_id = ?`,
			`DELETE FROM worker_status_overrides WHERE worker_id = ?`,
			`DELETE FROM scheduled_comms WHERE person_id = ?`,
		} {
			if _, err := tx.Exec(q, id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// personaExists is the integrity check used before storing artifacts.
func (s *Store) personaExists(id int64) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM people WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*model.Persona, error) {
	var p model.Persona
	var head int
	var skills, schedule, created string
	if err := row.Scan(&p.ID, &p.Name, &p.Role, &p.Timezone, &p.WorkHours, &p.ChatHandle,
		&p.EmailAddress, &head, &skills, &schedule, &created); err != nil {
		return nil, err
	}
	p.IsDepartmentHead = head != 0
	if err := json.Unmarshal([]byte(skills), &p.Skills); err != nil {
		return nil, fmt.Errorf("decode skills for persona %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(schedule), &p.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule for persona %d: %w", p.ID, err)
	}
	var err error
	if p.CreatedAt, err = parseTime(created, fmt.Sprintf("created_at for persona %d", p.ID)); err != nil {
		return nil, err
	}
	return &p, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilBlocks(v []model.ScheduleBlock) []model.ScheduleBlock {
	if v == nil {
		return []model.ScheduleBlock{}
	}
	return v
}
