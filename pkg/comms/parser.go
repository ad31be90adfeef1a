// Package comms turns planner text into scheduled communications.
//
// Planner output is free text. Lines shaped like
//
//	Email at 10:30 to bob@vdos.local cc carol: Status | Body text
//	Reply at 11:00 to [em-1a2b3c4d] cc dave: Re: Status | Body text
//	Chat at 14:15 with @carol: quick sync?
//
// are extracted as directives. Everything else is ignored. A line that
// starts like a directive but cannot be parsed becomes a ParseError in the
// result; Parse never fails as a whole.
package comms

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/daviddao/virtualoffice/pkg/clock"
)

// Kind tags a parsed directive.
type Kind int

const (
	KindEmail Kind = iota + 1
	KindReply
	KindChat
)

func (k Kind) String() string {
	switch k {
	case KindEmail:
		return "email"
	case KindReply:
		return "reply"
	case KindChat:
		return "chat"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Directive is one recognised scheduling line.
type Directive struct {
	Kind Kind
	Line int // 1-based line number in the planner text
	// Minutes is the 24h-clock minute the sender wants the message out.
	Minutes int
	// Target is a recipient reference for email and chat, or an email id
	// for replies.
	Target  string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
}

// ParseError describes a directive-looking line that was rejected.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Result is the outcome of parsing one block of planner text.
type Result struct {
	Directives []Directive
	Errors     []ParseError
}

var (
	bulletRe = regexp.MustCompile(`^\s*(?:[-*•>]+|\d+[.)])?\s*`)
	// Markdown emphasis around the leading keyword is common in LLM output.
	emphasisRe = regexp.MustCompile(`^[*_` + "`" + `]+|[*_` + "`" + `]+$`)

	headRe  = regexp.MustCompile(`(?i)^(email|reply|chat|dm)\s+at\b`)
	emailRe = regexp.MustCompile(`(?i)^email\s+at\s+(\d{1,2}:\d{2})\s+to\s+(.+?)(?:\s+cc\s+(.+?))?(?:\s+bcc\s+(.+?))?\s*:\s*(.*)$`)
	replyRe = regexp.MustCompile(`(?i)^reply\s+at\s+(\d{1,2}:\d{2})\s+to\s+\[?([A-Za-z0-9][A-Za-z0-9_.\-]*)\]?(?:\s+cc\s+(.+?))?(?:\s+bcc\s+(.+?))?\s*:\s*(.*)$`)
	chatRe  = regexp.MustCompile(`(?i)^(?:chat|dm)\s+at\s+(\d{1,2}:\d{2})\s+(?:with|to)\s+(.+?)\s*:\s*(.*)$`)

	listSplitRe = regexp.MustCompile(`\s*(?:,|;|\s+and\s+)\s*`)
)

// Parse extracts every scheduling directive from text.
func Parse(text string) Result {
	var res Result
	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(bulletRe.ReplaceAllString(raw, ""))
		line = strings.TrimSpace(emphasisRe.ReplaceAllString(line, ""))
		if line == "" || !headRe.MatchString(line) {
			continue
		}
		d, perr := parseLine(line)
		if perr != "" {
			res.Errors = append(res.Errors, ParseError{Line: lineNo, Text: line, Reason: perr})
			continue
		}
		d.Line = lineNo
		res.Directives = append(res.Directives, d)
	}
	return res
}

func parseLine(line string) (Directive, string) {
	var d Directive
	var hhmm, rest string

	switch {
	case emailRe.MatchString(line):
		m := emailRe.FindStringSubmatch(line)
		d.Kind = KindEmail
		hhmm, rest = m[1], m[5]
		d.Cc, d.Bcc = splitList(m[3]), splitList(m[4])
		// Extra "to" recipients ride along as cc.
		if to := splitList(m[2]); len(to) > 0 {
			d.Target = to[0]
			d.Cc = append(to[1:len(to):len(to)], d.Cc...)
		}
	case replyRe.MatchString(line):
		m := replyRe.FindStringSubmatch(line)
		d.Kind = KindReply
		hhmm, d.Target, rest = m[1], m[2], m[5]
		d.Cc, d.Bcc = splitList(m[3]), splitList(m[4])
	case chatRe.MatchString(line):
		m := chatRe.FindStringSubmatch(line)
		d.Kind = KindChat
		hhmm, d.Target, rest = m[1], cleanRef(m[2]), m[3]
	default:
		return d, "unrecognised directive"
	}

	minutes, ok := clock.ParseHHMM(hhmm)
	if !ok || minutes >= 24*60 {
		return d, "invalid time " + hhmm
	}
	d.Minutes = minutes
	if d.Target == "" {
		return d, "missing target"
	}

	rest = strings.TrimSpace(rest)
	if d.Kind == KindChat {
		d.Body = rest
	} else {
		d.Subject, d.Body = splitSubject(rest)
	}
	if d.Body == "" {
		return d, "empty body"
	}
	return d, ""
}

// splitSubject splits "subject | body". Without a separator the whole text
// is used for both.
func splitSubject(s string) (string, string) {
	subject, body, found := strings.Cut(s, "|")
	if !found {
		return s, s
	}
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	if subject == "" {
		subject = body
	}
	return subject, body
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range listSplitRe.Split(s, -1) {
		if ref := cleanRef(part); ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

// cleanRef strips decoration the planner tends to put around names.
func cleanRef(s string) string {
	return strings.Trim(strings.TrimSpace(s), "[]<>()\"'`*_.,")
}
