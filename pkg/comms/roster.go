package comms

import (
	"net/mail"
	"sort"
	"strings"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// Recipient is a resolved target. Persona is nil for external
// stakeholders.
type Recipient struct {
	Persona *model.Persona
	Email   string
	Handle  string
}

// External reports whether the recipient is outside the roster.
func (r Recipient) External() bool { return r.Persona == nil }

// Key is the stable identity used for dedup and cooldown.
func (r Recipient) Key() string {
	if r.Persona != nil && r.Persona.EmailAddress != "" {
		return strings.ToLower(r.Persona.EmailAddress)
	}
	return strings.ToLower(r.Email)
}

// Roster resolves free-form target references against the active personas
// and an allowlist of external addresses. It is read-only after
// construction.
type Roster struct {
	people   []*model.Persona
	byID     map[int64]*model.Persona
	byEmail  map[string]*model.Persona
	byHandle map[string]*model.Persona
	byName   map[string]*model.Persona
	external map[string]bool
}

// NewRoster indexes people by email, chat handle and display name.
func NewRoster(people []model.Persona, external []string) *Roster {
	r := &Roster{
		byID:     make(map[int64]*model.Persona, len(people)),
		byEmail:  make(map[string]*model.Persona, len(people)),
		byHandle: make(map[string]*model.Persona, len(people)),
		byName:   make(map[string]*model.Persona, len(people)),
		external: make(map[string]bool, len(external)),
	}
	for i := range people {
		p := &people[i]
		r.people = append(r.people, p)
		r.byID[p.ID] = p
		if p.EmailAddress != "" {
			r.byEmail[strings.ToLower(p.EmailAddress)] = p
		}
		if p.ChatHandle != "" {
			r.byHandle[normHandle(p.ChatHandle)] = p
		}
		if p.Name != "" {
			r.byName[strings.ToLower(p.Name)] = p
		}
	}
	sort.Slice(r.people, func(i, j int) bool { return r.people[i].ID < r.people[j].ID })
	for _, addr := range external {
		if a := strings.ToLower(strings.TrimSpace(addr)); a != "" {
			r.external[a] = true
		}
	}
	return r
}

// People returns the roster ordered by persona id.
func (r *Roster) People() []*model.Persona { return r.people }

// ByID returns the persona with id, or nil.
func (r *Roster) ByID(id int64) *model.Persona { return r.byID[id] }

// ByEmail returns the persona owning address, or nil.
func (r *Roster) ByEmail(address string) *model.Persona {
	return r.byEmail[strings.ToLower(strings.TrimSpace(address))]
}

// Match resolves target. Accepted forms, in order: roster email, chat
// handle (with or without "@"), display name, and a literal address on the
// external allowlist. Any other literal address is rejected.
func (r *Roster) Match(target string) (Recipient, bool) {
	t := strings.TrimSpace(target)
	if t == "" {
		return Recipient{}, false
	}
	// "Bob <bob@x>" style.
	if a, err := mail.ParseAddress(t); err == nil {
		t = a.Address
	}
	lower := strings.ToLower(t)

	if p := r.byEmail[lower]; p != nil {
		return r.persona(p), true
	}
	if p := r.byHandle[normHandle(t)]; p != nil {
		return r.persona(p), true
	}
	if p := r.byName[lower]; p != nil {
		return r.persona(p), true
	}
	if looksLikeEmail(lower) && r.external[lower] {
		return Recipient{Email: lower}, true
	}
	return Recipient{}, false
}

func (r *Roster) persona(p *model.Persona) Recipient {
	return Recipient{Persona: p, Email: p.EmailAddress, Handle: p.ChatHandle}
}

func normHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

func looksLikeEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}
