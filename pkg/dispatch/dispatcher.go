// Package dispatch delivers scheduled and ad-hoc communications through the
// email and chat gateways.
//
// Every send passes CanSend: an exact repeat within the same tick is
// dropped, and the same (channel, sender, recipient) triple is throttled for
// CooldownTicks after each contact. Successful emails are remembered in
// per-persona rings so later "Reply to [em-...]" directives can thread.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/virtualoffice/pkg/clock"
	"github.com/daviddao/virtualoffice/pkg/comms"
	"github.com/daviddao/virtualoffice/pkg/gateway"
	"github.com/daviddao/virtualoffice/pkg/model"
)

// RecentCapacity is the size of each persona's recent-email ring.
const RecentCapacity = 10

// Config tunes a Dispatcher.
type Config struct {
	CooldownTicks int64
	TicksPerDay   int
	// StartTime is midnight of simulated day 1. Zero means sent_at falls
	// back to the "Day N HH:MM" label.
	StartTime time.Time
}

// Sent describes one delivered communication.
type Sent struct {
	Tick      int64
	Channel   model.Channel
	Sender    *model.Persona
	To        []comms.Recipient
	Cc        []comms.Recipient
	Bcc       []comms.Recipient
	Subject   string
	Body      string
	Email     *model.EmailRecord
	Chat      *model.ChatRecord
	Scheduled bool
}

// Recipients returns every persona that received s.
func (s Sent) Recipients() []*model.Persona {
	var out []*model.Persona
	for _, group := range [][]comms.Recipient{s.To, s.Cc, s.Bcc} {
		for _, r := range group {
			if r.Persona != nil {
				out = append(out, r.Persona)
			}
		}
	}
	return out
}

type sendKey struct {
	tick      int64
	channel   model.Channel
	sender    string
	recipient string
	subject   string
	body      string
}

type pairKey struct {
	channel   model.Channel
	sender    string
	recipient string
}

// Dispatcher owns the dedup, cooldown and recent-email state.
type Dispatcher struct {
	email gateway.EmailGateway
	chat  gateway.ChatGateway
	cfg   Config
	log   zerolog.Logger

	mu          sync.Mutex
	sentInTick  map[sendKey]struct{}
	lastContact map[pairKey]int64
	recent      map[int64][]model.RecentEmail
}

// New returns a dispatcher sending through email and chat.
func New(email gateway.EmailGateway, chat gateway.ChatGateway, cfg Config, log zerolog.Logger) *Dispatcher {
	if cfg.TicksPerDay < 1 {
		cfg.TicksPerDay = 1
	}
	d := &Dispatcher{email: email, chat: chat, cfg: cfg, log: log.With().Str("component", "dispatch").Logger()}
	d.Reset()
	return d
}

// Reset forgets all dedup, cooldown and recent-email state.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentInTick = make(map[sendKey]struct{})
	d.lastContact = make(map[pairKey]int64)
	d.recent = make(map[int64][]model.RecentEmail)
}

// ResetTick clears the per-tick dedup set. Called at the start of every
// tick.
func (d *Dispatcher) ResetTick() {
	d.mu.Lock()
	d.sentInTick = make(map[sendKey]struct{})
	d.mu.Unlock()
}

// CanSend reports whether a send is allowed and records it if so.
func (d *Dispatcher) CanSend(tick int64, channel model.Channel, sender, recipientKey, subject, body string) bool {
	sender, recipientKey = strings.ToLower(sender), strings.ToLower(recipientKey)
	k := sendKey{tick, channel, sender, recipientKey, subject, body}
	p := pairKey{channel, sender, recipientKey}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.sentInTick[k]; dup {
		return false
	}
	if last, ok := d.lastContact[p]; ok && tick-last < d.cfg.CooldownTicks {
		return false
	}
	d.sentInTick[k] = struct{}{}
	d.lastContact[p] = tick
	return true
}

// SentAt renders the simulated send time for tick.
func (d *Dispatcher) SentAt(tick int64) string {
	if d.cfg.StartTime.IsZero() {
		return clock.FormatSimTime(tick, d.cfg.TicksPerDay)
	}
	return clock.SimDatetime(d.cfg.StartTime, tick, d.cfg.TicksPerDay).UTC().Format(time.RFC3339)
}

// DispatchScheduled pops person's entries due at or before tick and sends
// them. Unresolvable entries are dropped with a warning. A gateway error
// stops the batch and is returned together with what was already sent.
func (d *Dispatcher) DispatchScheduled(ctx context.Context, person *model.Persona, tick int64, roster *comms.Roster, book *comms.Book) ([]Sent, error) {
	var out []Sent
	for _, entry := range book.PopDue(person.ID, tick) {
		var (
			s   *Sent
			err error
		)
		switch entry.Channel {
		case model.ChannelEmail:
			s, err = d.dispatchEmail(ctx, person, tick, entry, roster)
		case model.ChannelChat:
			s, err = d.dispatchChat(ctx, person, tick, entry, roster, book)
		default:
			d.log.Warn().Str("channel", string(entry.Channel)).Int64("person", person.ID).Msg("unknown channel, dropping")
			continue
		}
		if err != nil {
			return out, err
		}
		if s != nil {
			s.Scheduled = true
			out = append(out, *s)
		}
	}
	return out, nil
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, person *model.Persona, tick int64, entry model.ScheduledComm, roster *comms.Roster) (*Sent, error) {
	to, ok := roster.Match(entry.Target)
	if !ok {
		d.log.Warn().Str("target", entry.Target).Str("sender", person.Name).Msg("unknown email recipient, dropping")
		return nil, nil
	}
	if to.Persona != nil && to.Persona.ID == person.ID {
		return nil, nil
	}

	var cc []comms.Recipient
	if len(entry.Cc) == 0 && entry.ReplyToEmailID == "" {
		for _, p := range SuggestCC(person, to.Persona, roster) {
			cc = append(cc, comms.Recipient{Persona: p, Email: p.EmailAddress, Handle: p.ChatHandle})
		}
	} else {
		cc = d.resolveAll(entry.Cc, person, roster)
	}
	bcc := d.resolveAll(entry.Bcc, person, roster)

	var threadID string
	if entry.ReplyToEmailID != "" {
		if orig, ok := d.LookupRecent(person.ID, entry.ReplyToEmailID); ok {
			threadID = orig.ThreadID
		}
	}
	return d.sendEmail(ctx, tick, person, []comms.Recipient{to}, cc, bcc, entry.Subject, entry.Body, threadID)
}

func (d *Dispatcher) dispatchChat(ctx context.Context, person *model.Persona, tick int64, entry model.ScheduledComm, roster *comms.Roster, book *comms.Book) (*Sent, error) {
	to, ok := roster.Match(entry.Target)
	if !ok || to.Persona == nil {
		d.log.Warn().Str("target", entry.Target).Str("sender", person.Name).Msg("unknown chat recipient, dropping")
		return nil, nil
	}
	if to.Persona.ID == person.ID {
		return nil, nil
	}

	// Mirrored DM pair at the same tick: only the smaller handle sends.
	keys := []string{person.ChatHandle, person.EmailAddress, person.Name}
	if book.HasMirror(to.Persona.ID, entry.Tick, keys...) {
		mine, theirs := handleKey(person), handleKey(to.Persona)
		if !clock.TotalOrderLess(entry.Tick, mine, entry.Tick, theirs) {
			d.log.Debug().Str("sender", mine).Str("peer", theirs).Msg("mirrored chat, peer sends")
			return nil, nil
		}
		book.RemoveMirror(to.Persona.ID, entry.Tick, keys...)
	}
	return d.sendChat(ctx, tick, person, to.Persona, entry.Body)
}

// SendEmail sends an ad-hoc email from person to personas. Returns nil
// without error when dedup or cooldown suppressed it.
func (d *Dispatcher) SendEmail(ctx context.Context, tick int64, from *model.Persona, to, cc []*model.Persona, subject, body, threadID string) (*Sent, error) {
	return d.sendEmail(ctx, tick, from, personaRecipients(to), personaRecipients(cc), nil, subject, body, threadID)
}

// SendChat sends an ad-hoc DM. Returns nil without error when suppressed.
func (d *Dispatcher) SendChat(ctx context.Context, tick int64, from, to *model.Persona, body string) (*Sent, error) {
	return d.sendChat(ctx, tick, from, to, body)
}

func (d *Dispatcher) sendEmail(ctx context.Context, tick int64, from *model.Persona, to, cc, bcc []comms.Recipient, subject, body, threadID string) (*Sent, error) {
	if len(to) == 0 {
		return nil, nil
	}
	if !d.CanSend(tick, model.ChannelEmail, from.EmailAddress, recipientKey(to), subject, body) {
		d.log.Debug().Str("sender", from.EmailAddress).Str("to", recipientKey(to)).Int64("tick", tick).Msg("email suppressed by dedup/cooldown")
		return nil, nil
	}
	rec, err := d.email.SendEmail(ctx, gateway.OutgoingEmail{
		Sender:   from.EmailAddress,
		To:       addresses(to),
		Cc:       addresses(cc),
		Bcc:      addresses(bcc),
		Subject:  subject,
		Body:     body,
		ThreadID: threadID,
		SentAt:   d.SentAt(tick),
	})
	if err != nil {
		return nil, fmt.Errorf("email from %s: %w", from.EmailAddress, err)
	}

	recent := model.RecentEmail{
		EmailID: rec.ID, From: rec.Sender, To: rec.To, Subject: rec.Subject, ThreadID: rec.ThreadID, Tick: tick,
	}
	d.Remember(from.ID, recent)
	s := &Sent{Tick: tick, Channel: model.ChannelEmail, Sender: from, To: to, Cc: cc, Bcc: bcc,
		Subject: subject, Body: body, Email: rec}
	for _, p := range s.Recipients() {
		d.Remember(p.ID, recent)
	}
	return s, nil
}

func (d *Dispatcher) sendChat(ctx context.Context, tick int64, from, to *model.Persona, body string) (*Sent, error) {
	if !d.CanSend(tick, model.ChannelChat, handleKey(from), handleKey(to), "", body) {
		d.log.Debug().Str("sender", from.ChatHandle).Str("to", to.ChatHandle).Int64("tick", tick).Msg("chat suppressed by dedup/cooldown")
		return nil, nil
	}
	rec, err := d.chat.SendDM(ctx, from.ChatHandle, to.ChatHandle, body, d.SentAt(tick))
	if err != nil {
		return nil, fmt.Errorf("chat from %s: %w", from.ChatHandle, err)
	}
	return &Sent{
		Tick: tick, Channel: model.ChannelChat, Sender: from,
		To:   []comms.Recipient{{Persona: to, Email: to.EmailAddress, Handle: to.ChatHandle}},
		Body: body, Chat: rec,
	}, nil
}

func (d *Dispatcher) resolveAll(refs []string, sender *model.Persona, roster *comms.Roster) []comms.Recipient {
	var out []comms.Recipient
	seen := map[string]bool{}
	for _, ref := range refs {
		r, ok := roster.Match(ref)
		if !ok {
			d.log.Warn().Str("target", ref).Str("sender", sender.Name).Msg("unknown cc/bcc recipient, dropping")
			continue
		}
		if (r.Persona != nil && r.Persona.ID == sender.ID) || seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}

// Remember appends e to personID's recent-email ring.
func (d *Dispatcher) Remember(personID int64, e model.RecentEmail) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ring := append(d.recent[personID], e)
	if len(ring) > RecentCapacity {
		ring = ring[len(ring)-RecentCapacity:]
	}
	d.recent[personID] = ring
}

// RecentEmails returns personID's ring, oldest first.
func (d *Dispatcher) RecentEmails(personID int64) []model.RecentEmail {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.RecentEmail(nil), d.recent[personID]...)
}

// LookupRecent finds emailID in personID's ring.
func (d *Dispatcher) LookupRecent(personID int64, emailID string) (model.RecentEmail, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.recent[personID] {
		if strings.EqualFold(e.EmailID, emailID) {
			return e, true
		}
	}
	return model.RecentEmail{}, false
}

func handleKey(p *model.Persona) string {
	return strings.ToLower(strings.TrimPrefix(p.ChatHandle, "@"))
}

func recipientKey(rs []comms.Recipient) string {
	keys := make([]string, 0, len(rs))
	for _, r := range rs {
		keys = append(keys, r.Key())
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func addresses(rs []comms.Recipient) []string {
	var out []string
	for _, r := range rs {
		if r.Email != "" {
			out = append(out, r.Email)
		}
	}
	return out
}

func personaRecipients(ps []*model.Persona) []comms.Recipient {
	out := make([]comms.Recipient, 0, len(ps))
	for _, p := range ps {
		out = append(out, comms.Recipient{Persona: p, Email: p.EmailAddress, Handle: p.ChatHandle})
	}
	return out
}
