package comms

import (
	"sort"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// Book holds every persona's pending scheduled communications. It is not
// goroutine-safe; the engine only touches it from the advancing goroutine.
type Book struct {
	byPerson map[int64][]model.ScheduledComm
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{byPerson: make(map[int64][]model.ScheduledComm)}
}

// Add schedules c. Returns false if an identical entry already exists at
// the same tick.
func (b *Book) Add(c model.ScheduledComm) bool {
	for _, e := range b.byPerson[c.PersonID] {
		if e.Tick == c.Tick && e.SameMessage(c) {
			return false
		}
	}
	b.byPerson[c.PersonID] = append(b.byPerson[c.PersonID], c)
	return true
}

// PopDue removes and returns the entries for personID whose tick is at or
// before tick, ordered by tick.
func (b *Book) PopDue(personID, tick int64) []model.ScheduledComm {
	entries := b.byPerson[personID]
	if len(entries) == 0 {
		return nil
	}
	var due, keep []model.ScheduledComm
	for _, e := range entries {
		if e.Tick <= tick {
			due = append(due, e)
		} else {
			keep = append(keep, e)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].Tick < due[j].Tick })
	b.set(personID, keep)
	return due
}

// Pending returns a copy of personID's entries.
func (b *Book) Pending(personID int64) []model.ScheduledComm {
	return append([]model.ScheduledComm(nil), b.byPerson[personID]...)
}

// HasDue reports whether personID has anything due at or before tick.
func (b *Book) HasDue(personID, tick int64) bool {
	for _, e := range b.byPerson[personID] {
		if e.Tick <= tick {
			return true
		}
	}
	return false
}

// HasMirror reports whether personID has a chat due at tick addressed to
// any of keys (handle, email or name of the other party).
func (b *Book) HasMirror(personID, tick int64, keys ...string) bool {
	for _, e := range b.byPerson[personID] {
		if isMirror(e, tick, keys) {
			return true
		}
	}
	return false
}

// RemoveMirror drops personID's chats at tick addressed to any of keys and
// returns how many were removed.
func (b *Book) RemoveMirror(personID, tick int64, keys ...string) int {
	entries := b.byPerson[personID]
	keep := entries[:0:0]
	for _, e := range entries {
		if !isMirror(e, tick, keys) {
			keep = append(keep, e)
		}
	}
	removed := len(entries) - len(keep)
	if removed > 0 {
		b.set(personID, keep)
	}
	return removed
}

func isMirror(e model.ScheduledComm, tick int64, keys []string) bool {
	if e.Channel != model.ChannelChat || e.Tick != tick {
		return false
	}
	target := normHandle(e.Target)
	for _, k := range keys {
		if k != "" && target == normHandle(k) {
			return true
		}
	}
	return false
}

// Replace swaps personID's schedule wholesale.
func (b *Book) Replace(personID int64, entries []model.ScheduledComm) {
	b.set(personID, append([]model.ScheduledComm(nil), entries...))
}

// Drop forgets personID's schedule.
func (b *Book) Drop(personID int64) { delete(b.byPerson, personID) }

// Load replaces the book with entries, typically read back from the store.
func (b *Book) Load(entries []model.ScheduledComm) {
	b.byPerson = make(map[int64][]model.ScheduledComm)
	for _, e := range entries {
		b.byPerson[e.PersonID] = append(b.byPerson[e.PersonID], e)
	}
}

// All returns every pending entry ordered by person then tick.
func (b *Book) All() []model.ScheduledComm {
	var out []model.ScheduledComm
	for _, entries := range b.byPerson {
		out = append(out, entries...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PersonID != out[j].PersonID {
			return out[i].PersonID < out[j].PersonID
		}
		return out[i].Tick < out[j].Tick
	})
	return out
}

// Len returns the number of pending entries.
func (b *Book) Len() int {
	n := 0
	for _, entries := range b.byPerson {
		n += len(entries)
	}
	return n
}

func (b *Book) set(personID int64, entries []model.ScheduledComm) {
	if len(entries) == 0 {
		delete(b.byPerson, personID)
		return
	}
	b.byPerson[personID] = entries
}

