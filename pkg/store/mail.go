package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// ---------------------------------------------------------------------------
// Mailboxes and emails
// ---------------------------------------------------------------------------

// EnsureMailbox creates a mailbox if it does not exist. Idempotent.
func (s *Store) EnsureMailbox(address, displayName string) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO mailboxes (address, display_name) VALUES (?, ?)
			 ON CONFLICT(address) DO UPDATE SET display_name = excluded.display_name`,
			address, displayName,
		)
		return err
	})
}

// InsertEmail stores an accepted email. e.ID must be set by the caller.
func (s *Store) InsertEmail(e *model.EmailRecord) error {
	if e.ID == "" {
		return fmt.Errorf("insert email: id is required")
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO emails (id, sender, recipients, cc, bcc, subject, body, thread_id, sent_at, seq)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM emails))`,
			e.ID, e.Sender, mustJSON(nonNilStrings(e.To)), mustJSON(nonNilStrings(e.Cc)),
			mustJSON(nonNilStrings(e.Bcc)), e.Subject, e.Body, e.ThreadID, e.SentAt,
		)
		return err
	})
}

// GetEmail retrieves an email by ID or ErrNotFound.
func (s *Store) GetEmail(id string) (*model.EmailRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, sender, recipients, cc, bcc, subject, body, thread_id, sent_at
		 FROM emails WHERE id = ?`, id,
	)
	e, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListEmails returns emails sent by or addressed to address (to, cc or bcc),
// newest first. An empty address lists everything.
func (s *Store) ListEmails(address string, limit int) ([]model.EmailRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, sender, recipients, cc, bcc, subject, body, thread_id, sent_at
		 FROM emails
		 WHERE ? = ''
		    OR sender = ? COLLATE NOCASE
		    OR EXISTS (SELECT 1 FROM json_each(emails.recipients) WHERE value = ? COLLATE NOCASE)
		    OR EXISTS (SELECT 1 FROM json_each(emails.cc) WHERE value = ? COLLATE NOCASE)
		    OR EXISTS (SELECT 1 FROM json_each(emails.bcc) WHERE value = ? COLLATE NOCASE)
		 ORDER BY seq DESC LIMIT ?`,
		address, address, address, address, address, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EmailRecord
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CountEmails returns the number of stored emails.
func (s *Store) CountEmails() int64 {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func scanEmail(row rowScanner) (*model.EmailRecord, error) {
	var e model.EmailRecord
	var to, cc, bcc string
	if err := row.Scan(&e.ID, &e.Sender, &to, &cc, &bcc, &e.Subject, &e.Body, &e.ThreadID, &e.SentAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw  string
		dest *[]string
	}{{to, &e.To}, {cc, &e.Cc}, {bcc, &e.Bcc}} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("decode recipients for email %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

// EnsureChatUser creates a chat user if it does not exist. Idempotent.
func (s *Store) EnsureChatUser(handle, displayName string) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO chat_users (handle, display_name) VALUES (?, ?)
			 ON CONFLICT(handle) DO UPDATE SET display_name = excluded.display_name`,
			handle, displayName,
		)
		return err
	})
}

// InsertChat stores a direct message and sets its ID.
func (s *Store) InsertChat(c *model.ChatRecord) error {
	return retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO chat_messages (sender, recipient, body, sent_at) VALUES (?, ?, ?, ?)`,
			c.Sender, c.Recipient, c.Body, c.SentAt,
		)
		if err != nil {
			return err
		}
		c.ID, err = res.LastInsertId()
		return err
	})
}

// ListChats returns direct messages sent or received by handle, newest
// first. An empty handle lists everything.
func (s *Store) ListChats(handle string, limit int) ([]model.ChatRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, sender, recipient, body, sent_at FROM chat_messages
		 WHERE ? = '' OR sender = ? COLLATE NOCASE OR recipient = ? COLLATE NOCASE
		 ORDER BY id DESC LIMIT ?`,
		handle, handle, handle, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChatRecord
	for rows.Next() {
		var c model.ChatRecord
		if err := rows.Scan(&c.ID, &c.Sender, &c.Recipient, &c.Body, &c.SentAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountChats returns the number of stored direct messages.
func (s *Store) CountChats() int64 {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_messages`).Scan(&n); err != nil {
		return 0
	}
	return n
}
