// Package gateway defines the email and chat transports the engine sends
// through, and an in-process implementation backed by the store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/daviddao/virtualoffice/pkg/model"
	"github.com/daviddao/virtualoffice/pkg/store"
)

// ErrNoRecipients is returned when an email has nobody on To.
var ErrNoRecipients = errors.New("email has no recipients")

// OutgoingEmail is a send request.
type OutgoingEmail struct {
	Sender   string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	Body     string
	ThreadID string
	SentAt   string
}

// EmailGateway delivers email.
type EmailGateway interface {
	EnsureMailbox(ctx context.Context, address, displayName string) error
	SendEmail(ctx context.Context, msg OutgoingEmail) (*model.EmailRecord, error)
}

// ChatGateway delivers direct messages.
type ChatGateway interface {
	EnsureUser(ctx context.Context, handle, displayName string) error
	SendDM(ctx context.Context, sender, recipient, body, sentAt string) (*model.ChatRecord, error)
}

// StoreGateway implements both gateways on the store's mailbox and chat
// tables.
type StoreGateway struct {
	store store.StoreInterface
	newID func() string
}

// NewStoreGateway returns a gateway writing to s.
func NewStoreGateway(s store.StoreInterface) *StoreGateway {
	return &StoreGateway{store: s, newID: NewEmailID}
}

// NewEmailID returns a short synthetic email id such as "em-1a2b3c4d5e6f".
func NewEmailID() string {
	return "em-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (g *StoreGateway) EnsureMailbox(ctx context.Context, address, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.store.EnsureMailbox(address, displayName)
}

func (g *StoreGateway) SendEmail(ctx context.Context, msg OutgoingEmail) (*model.EmailRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}
	rec := &model.EmailRecord{
		ID:       g.newID(),
		Sender:   msg.Sender,
		To:       msg.To,
		Cc:       msg.Cc,
		Bcc:      msg.Bcc,
		Subject:  msg.Subject,
		Body:     msg.Body,
		ThreadID: msg.ThreadID,
		SentAt:   msg.SentAt,
	}
	if rec.ThreadID == "" {
		rec.ThreadID = "th-" + strings.TrimPrefix(rec.ID, "em-")
	}
	if err := g.store.InsertEmail(rec); err != nil {
		return nil, fmt.Errorf("send email %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (g *StoreGateway) EnsureUser(ctx context.Context, handle, displayName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.store.EnsureChatUser(handle, displayName)
}

func (g *StoreGateway) SendDM(ctx context.Context, sender, recipient, body, sentAt string) (*model.ChatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := &model.ChatRecord{Sender: sender, Recipient: recipient, Body: body, SentAt: sentAt}
	if err := g.store.InsertChat(rec); err != nil {
		return nil, fmt.Errorf("send dm %s->%s: %w", sender, recipient, err)
	}
	return rec, nil
}

var (
	_ EmailGateway = (*StoreGateway)(nil)
	_ ChatGateway  = (*StoreGateway)(nil)
)
