package dispatch

import (
	"strings"

	"github.com/daviddao/virtualoffice/pkg/comms"
	"github.com/daviddao/virtualoffice/pkg/model"
)

// roleFamilies buckets free-form role titles.
var roleFamilies = []struct {
	family   string
	keywords []string
}{
	{"engineering", []string{"engineer", "developer", "dev", "backend", "frontend", "devops", "sre", "architect"}},
	{"design", []string{"design", "ux", "ui"}},
	{"qa", []string{"qa", "test", "quality"}},
	{"product", []string{"product", "pm", "manager", "owner"}},
	{"marketing", []string{"marketing", "sales", "growth"}},
}

// complements lists, per family, the families worth looping in.
var complements = map[string][]string{
	"engineering": {"design", "qa", "product"},
	"design":      {"engineering", "product"},
	"qa":          {"engineering", "product"},
	"product":     {"engineering", "design"},
	"marketing":   {"product", "design"},
}

func roleFamily(role string) string {
	words := strings.FieldsFunc(strings.ToLower(role), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, f := range roleFamilies {
		for _, w := range words {
			for _, kw := range f.keywords {
				if w == kw || (len(kw) > 3 && strings.HasPrefix(w, kw)) {
					return f.family
				}
			}
		}
	}
	return ""
}

// complementaryPeer picks one roster member whose role complements
// person's, skipping anyone in exclude. Falls back to any peer from a
// different family.
func complementaryPeer(person *model.Persona, roster *comms.Roster, exclude map[int64]bool) *model.Persona {
	mine := roleFamily(person.Role)
	var fallback *model.Persona
	for _, want := range complements[mine] {
		for _, p := range roster.People() {
			if exclude[p.ID] || p.ID == person.ID {
				continue
			}
			if roleFamily(p.Role) == want {
				return p
			}
		}
	}
	for _, p := range roster.People() {
		if exclude[p.ID] || p.ID == person.ID {
			continue
		}
		if roleFamily(p.Role) != mine {
			return p
		}
		if fallback == nil {
			fallback = p
		}
	}
	return fallback
}

func departmentHead(roster *comms.Roster, exclude map[int64]bool) *model.Persona {
	for _, p := range roster.People() {
		if p.IsDepartmentHead && !exclude[p.ID] {
			return p
		}
	}
	return nil
}

// SuggestCC proposes the department head and one role-complementary peer
// for an email from sender to primary. primary may be nil for external
// recipients.
func SuggestCC(sender, primary *model.Persona, roster *comms.Roster) []*model.Persona {
	exclude := map[int64]bool{sender.ID: true}
	if primary != nil {
		exclude[primary.ID] = true
	}
	var out []*model.Persona
	if head := departmentHead(roster, exclude); head != nil {
		out = append(out, head)
		exclude[head.ID] = true
	}
	if peer := complementaryPeer(sender, roster, exclude); peer != nil {
		out = append(out, peer)
	}
	return out
}

// Collaborators returns up to two people person works with: the
// department head and one complementary peer.
func Collaborators(person *model.Persona, roster *comms.Roster) []*model.Persona {
	return SuggestCC(person, nil, roster)
}
