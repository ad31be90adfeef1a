package engine

import (
	"fmt"
	"strings"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// enqueue appends msg to its recipient's inbox. Messages for personas
// outside the run are ignored.
func (e *Engine) enqueue(msg model.InboundMessage) error {
	rt := e.runtime(msg.RecipientID)
	if rt == nil {
		return nil
	}
	id, err := e.store.EnqueueMessage(&msg)
	if err != nil {
		return fmt.Errorf("enqueue for %s: %w", rt.person.Name, err)
	}
	msg.ID = id
	rt.inbox = append(rt.inbox, msg)
	return nil
}

// drainInbox removes and returns every pending message of personID.
func (e *Engine) drainInbox(personID int64) ([]model.InboundMessage, error) {
	rt := e.runtime(personID)
	if rt == nil || len(rt.inbox) == 0 {
		return nil, nil
	}
	msgs := rt.inbox
	if err := e.store.DeleteInboxMessages(messageIDs(msgs)); err != nil {
		return nil, fmt.Errorf("drain inbox of %s: %w", rt.person.Name, err)
	}
	rt.inbox = nil
	return msgs, nil
}

// dropForSickLeave discards everything but reminders.
func (e *Engine) dropForSickLeave(personID int64) error {
	rt := e.runtime(personID)
	if rt == nil {
		return nil
	}
	var keep, drop []model.InboundMessage
	for _, m := range rt.inbox {
		if m.Reminder {
			keep = append(keep, m)
		} else {
			drop = append(drop, m)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	if err := e.store.DeleteInboxMessages(messageIDs(drop)); err != nil {
		return err
	}
	rt.inbox = keep
	return nil
}

// addAdjustment queues a note for personID's next planning pass.
func (e *Engine) addAdjustment(personID int64, note string) {
	e.adjustments[personID] = append(e.adjustments[personID], note)
}

// takeAdjustments returns and clears personID's notes.
func (e *Engine) takeAdjustments(personID int64) []string {
	notes := e.adjustments[personID]
	delete(e.adjustments, personID)
	return notes
}

// remindAdjustments folds pending notes of an unavailable persona into a
// single reminder message so they are seen once the persona is back.
func (e *Engine) remindAdjustments(personID, tick int64) error {
	notes := e.takeAdjustments(personID)
	if len(notes) == 0 {
		return nil
	}
	return e.enqueue(model.InboundMessage{
		RecipientID: personID,
		SenderName:  "system",
		Subject:     "Reminder",
		Summary:     strings.Join(notes, "; "),
		MessageType: model.MessageEvent,
		Channel:     model.ChannelChat,
		Tick:        tick,
		Reminder:    true,
	})
}

func (e *Engine) hasInbox(personID int64) bool {
	rt := e.runtime(personID)
	return rt != nil && len(rt.inbox) > 0
}

func messageIDs(msgs []model.InboundMessage) []int64 {
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

// contextLine renders an inbox message for a planning request.
func contextLine(m model.InboundMessage) string {
	var b strings.Builder
	if m.Reminder {
		b.WriteString("Reminder: ")
		b.WriteString(m.Summary)
		return b.String()
	}
	fmt.Fprintf(&b, "From %s via %s", m.SenderName, m.Channel)
	if m.Subject != "" {
		fmt.Fprintf(&b, ": %s", m.Subject)
	}
	if m.Summary != "" {
		fmt.Fprintf(&b, " - %s", m.Summary)
	}
	if m.ActionItem != "" {
		fmt.Fprintf(&b, " (action: %s)", m.ActionItem)
	}
	return b.String()
}
