package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/daviddao/virtualoffice/pkg/clock"
	"github.com/daviddao/virtualoffice/pkg/comms"
	"github.com/daviddao/virtualoffice/pkg/dispatch"
	"github.com/daviddao/virtualoffice/pkg/model"
)

// ReasonAuto marks advances driven by the auto-tick loop. Any other reason
// makes every available persona replan.
const ReasonAuto = "auto"

// AdvanceResult summarises one Advance call.
type AdvanceResult struct {
	StartTick      int64  `json:"start_tick"`
	CurrentTick    int64  `json:"current_tick"`
	SimTime        string `json:"sim_time"`
	EmailsSent     int    `json:"emails_sent"`
	ChatsSent      int    `json:"chats_sent"`
	PlansGenerated int    `json:"plans_generated"`
}

// Advance runs ticks steps of the simulation. Batches are serialized in
// process by advanceMu and across processes by the "advance" lease.
func (e *Engine) Advance(ctx context.Context, ticks int, reason string) (AdvanceResult, error) {
	if ticks <= 0 {
		return AdvanceResult{}, ErrInvalidTicks
	}
	if reason == "" {
		reason = "manual"
	}
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()

	res := AdvanceResult{StartTick: e.currentTick()}
	if !e.isRunning() {
		return e.finish(res), ErrNotRunning
	}
	if err := e.acquireLease(); err != nil {
		return e.finish(res), err
	}
	defer func() {
		if err := e.store.ReleaseLease(advanceLease, e.opts.Holder); err != nil {
			e.log.Warn().Err(err).Msg("release advance lease")
		}
	}()

	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return e.finish(res), err
		}
		if i > 0 {
			if err := e.acquireLease(); err != nil {
				return e.finish(res), err
			}
		}
		if err := e.step(ctx, reason, &res); err != nil {
			e.log.Error().Err(err).Int64("tick", e.currentTick()).Msg("advance failed")
			return e.finish(res), err
		}
	}
	res = e.finish(res)
	e.log.Info().Int64("tick", res.CurrentTick).Int("emails", res.EmailsSent).Int("chats", res.ChatsSent).
		Int("plans", res.PlansGenerated).Msg("advanced")
	return res, nil
}

func (e *Engine) finish(res AdvanceResult) AdvanceResult {
	res.CurrentTick = e.currentTick()
	res.SimTime = clock.FormatSimTime(res.CurrentTick, e.opts.TicksPerDay)
	return res
}

func (e *Engine) acquireLease() error {
	granted, current, err := e.store.AcquireLease(advanceLease, e.opts.Holder, e.opts.LeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire advance lease: %w", err)
	}
	if granted == nil {
		return fmt.Errorf("%w: held by %s until %s", ErrAdvanceInProgress,
			current.Holder, current.ExpiresAt.Format("15:04:05"))
	}
	return nil
}

// step runs one tick.
func (e *Engine) step(ctx context.Context, reason string, res *AdvanceResult) error {
	e.mu.Lock()
	tick := e.clock.Tick()
	e.mu.Unlock()
	ticksTotal.Inc()
	currentTickGauge.Set(float64(tick))
	e.disp.ResetTick()
	if err := e.saveState(); err != nil {
		return err
	}
	tpd := e.opts.TicksPerDay
	if clock.IsNewDay(tick, tpd) {
		e.attempts = make(map[attemptKey]int)
	}
	e.record(tick, model.EventTick, "", "", reason)
	e.log.Debug().Int64("tick", tick).Str("sim_time", clock.FormatSimTime(tick, tpd)).Msg("tick")

	if err := e.refreshOverrides(tick); err != nil {
		return err
	}
	if err := e.generateEvents(tick); err != nil {
		return err
	}

	var candidates []*model.Persona
	for _, p := range e.sortedActive() {
		if o, ok := e.override(p.ID); ok {
			if o.Status == model.StatusSickLeave {
				if err := e.dropForSickLeave(p.ID); err != nil {
					return err
				}
			}
			if err := e.remindAdjustments(p.ID, tick); err != nil {
				return err
			}
			continue
		}
		if !clock.IsWithinWorkHours(p, tick, tpd) {
			if err := e.remindAdjustments(p.ID, tick); err != nil {
				return err
			}
			continue
		}
		sent, err := e.dispatchDue(ctx, p, tick, res)
		if err != nil {
			return err
		}
		if len(sent) > 0 {
			continue
		}
		if !e.needsPlanning(p.ID, tick, reason) {
			continue
		}
		if !e.allowAttempt(p.ID, tick) {
			e.log.Debug().Str("persona", p.Name).Int64("tick", tick).Msg("planning attempt cap reached")
			continue
		}
		candidates = append(candidates, p)
	}

	tasks := make([]planTask, 0, len(candidates))
	for _, p := range candidates {
		t, err := e.prepareTask(ctx, p, tick, reason, res)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}

	outcomes, err := e.planAll(ctx, tasks)
	if err != nil {
		return err
	}
	// Book every plan before delivering any, so mirrored chats due this
	// tick see both sides.
	plans := make([]*model.WorkerPlan, len(tasks))
	for i, t := range tasks {
		if plans[i], err = e.applyPlan(t, outcomes[i], res); err != nil {
			return err
		}
	}
	for i, t := range tasks {
		if plans[i] == nil {
			continue
		}
		if err := e.deliverPlan(ctx, t.person, t.tick, plans[i], res); err != nil {
			return err
		}
	}

	if tick%e.opts.HourlySummaryInterval == 0 {
		if err := e.summarizeHour(ctx, tick/e.opts.HourlySummaryInterval-1); err != nil {
			return err
		}
	}
	if tick%int64(tpd) == 0 {
		if err := e.reportDay(ctx, tick/int64(tpd)-1); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) needsPlanning(personID, tick int64, reason string) bool {
	return e.hasInbox(personID) ||
		len(e.adjustments[personID]) > 0 ||
		reason != ReasonAuto ||
		clock.IsNewDay(tick, e.opts.TicksPerDay)
}

// allowAttempt enforces the per-persona planning cap for one simulated
// minute.
func (e *Engine) allowAttempt(personID, tick int64) bool {
	if e.opts.MaxPlansPerMinute <= 0 {
		return true
	}
	tpd := e.opts.TicksPerDay
	k := attemptKey{personID, clock.DayIndex(tick, tpd), clock.MinuteOfDay(tick, tpd)}
	if e.attempts[k] >= e.opts.MaxPlansPerMinute {
		return false
	}
	e.attempts[k]++
	return true
}

// dispatchDue sends person's due scheduled communications and persists the
// schedules it touched.
func (e *Engine) dispatchDue(ctx context.Context, p *model.Persona, tick int64, res *AdvanceResult) ([]dispatch.Sent, error) {
	if !e.book.HasDue(p.ID, tick) {
		return nil, nil
	}
	sent, err := e.disp.DispatchScheduled(ctx, p, tick, e.roster, e.book)
	e.noteSent(tick, sent, res)
	touched := []int64{p.ID}
	for _, s := range sent {
		if s.Channel == model.ChannelChat {
			for _, r := range s.Recipients() {
				touched = append(touched, r.ID)
			}
		}
	}
	for _, id := range touched {
		if perr := e.persistSchedule(id); perr != nil && err == nil {
			err = perr
		}
	}
	return sent, err
}

func (e *Engine) persistSchedule(personID int64) error {
	if err := e.store.ReplaceSchedule(personID, e.book.Pending(personID)); err != nil {
		return fmt.Errorf("persist schedule of %s: %w", e.personaName(personID), err)
	}
	return nil
}

// noteSent logs deliveries and bumps the batch counters.
func (e *Engine) noteSent(tick int64, sent []dispatch.Sent, res *AdvanceResult) {
	for _, s := range sent {
		var names []string
		for _, group := range [][]comms.Recipient{s.To, s.Cc} {
			for _, r := range group {
				if r.Persona != nil {
					names = append(names, r.Persona.Name)
				} else {
					names = append(names, r.Email)
				}
			}
		}
		body := s.Body
		if s.Channel == model.ChannelEmail {
			res.EmailsSent++
			body = s.Subject
		} else {
			res.ChatsSent++
		}
		kind := model.EventEmail
		if s.Channel == model.ChannelChat {
			kind = model.EventChat
		}
		messagesSent.WithLabelValues(string(s.Channel)).Inc()
		e.record(tick, kind, s.Sender.Name, strings.Join(names, ", "), body)
	}
}

// acknowledge answers an inbox message that carries an action item and
// notifies the original sender.
func (e *Engine) acknowledge(ctx context.Context, p *model.Persona, m model.InboundMessage, tick int64, res *AdvanceResult) error {
	sender := e.roster.ByID(m.SenderID)
	if sender == nil || sender.ID == p.ID {
		return nil
	}
	subject := "Re: " + strings.TrimPrefix(m.Subject, "Re: ")
	body := fmt.Sprintf("Thanks %s, on it: %s", firstName(sender.Name), m.ActionItem)

	var (
		s   *dispatch.Sent
		err error
	)
	if m.Channel == model.ChannelChat {
		s, err = e.disp.SendChat(ctx, tick, p, sender, body)
	} else {
		var thread string
		if orig, ok := e.disp.LookupRecent(p.ID, m.MessageID); ok {
			thread = orig.ThreadID
		}
		s, err = e.disp.SendEmail(ctx, tick, p, []*model.Persona{sender}, nil, subject, body, thread)
	}
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	e.noteSent(tick, []dispatch.Sent{*s}, res)
	e.record(tick, model.EventExchange, p.Name, sender.Name, "ack: "+m.ActionItem)
	return e.enqueue(model.InboundMessage{
		RecipientID: sender.ID,
		SenderID:    p.ID,
		SenderName:  p.Name,
		Subject:     subject,
		Summary:     m.ActionItem,
		MessageType: model.MessageAck,
		Channel:     m.Channel,
		Tick:        tick,
		MessageID:   sentID(s),
	})
}

// schedule parses planner text and books every resolvable directive.
func (e *Engine) schedule(p *model.Persona, tick int64, content string) {
	parsed := comms.Parse(content)
	for _, pe := range parsed.Errors {
		e.log.Warn().Str("persona", p.Name).Int("line", pe.Line).Str("reason", pe.Reason).Msg("malformed directive")
	}
	for _, d := range parsed.Directives {
		at, ok := comms.Anchor(d, tick, e.opts.TicksPerDay)
		if !ok {
			e.log.Debug().Str("persona", p.Name).Int("line", d.Line).Msg("directive time already passed")
			continue
		}
		sc := model.ScheduledComm{PersonID: p.ID, Tick: at, Subject: d.Subject, Body: d.Body, Cc: d.Cc, Bcc: d.Bcc}
		switch d.Kind {
		case comms.KindReply:
			orig, ok := e.disp.LookupRecent(p.ID, d.Target)
			if !ok {
				e.drop(tick, p, d.Target, "reply to unknown email")
				continue
			}
			sc.Channel = model.ChannelEmail
			sc.ReplyToEmailID = orig.EmailID
			sc.Target = orig.From
			if strings.EqualFold(orig.From, p.EmailAddress) && len(orig.To) > 0 {
				sc.Target = orig.To[0]
			}
			if d.Subject == d.Body && orig.Subject != "" {
				sc.Subject = "Re: " + strings.TrimPrefix(orig.Subject, "Re: ")
			}
		case comms.KindEmail:
			r, ok := e.roster.Match(d.Target)
			if !ok {
				e.drop(tick, p, d.Target, "unknown email recipient")
				continue
			}
			sc.Channel = model.ChannelEmail
			sc.Target = r.Email
		case comms.KindChat:
			r, ok := e.roster.Match(d.Target)
			if !ok || r.External() {
				e.drop(tick, p, d.Target, "unknown chat recipient")
				continue
			}
			sc.Channel = model.ChannelChat
			sc.Target = r.Handle
			sc.Subject = ""
		}
		e.book.Add(sc)
	}
}

func (e *Engine) drop(tick int64, p *model.Persona, target, why string) {
	droppedComms.Inc()
	e.log.Warn().Str("persona", p.Name).Str("target", target).Msg(why)
	e.record(tick, model.EventDrop, p.Name, target, why)
}

// sendFallback emails a status update to each of person's collaborators and
// nudges each of them on chat.
func (e *Engine) sendFallback(ctx context.Context, p *model.Persona, tick int64, plan string, res *AdvanceResult) error {
	summary := excerpt(plan)
	subject := "Update from " + p.Name
	for _, c := range dispatch.Collaborators(p, e.roster) {
		s, err := e.disp.SendEmail(ctx, tick, p, []*model.Persona{c}, nil, subject, summary, "")
		if err != nil {
			return err
		}
		if s != nil {
			e.noteSent(tick, []dispatch.Sent{*s}, res)
			err := e.enqueue(model.InboundMessage{
				RecipientID: c.ID,
				SenderID:    p.ID,
				SenderName:  p.Name,
				Subject:     subject,
				Summary:     summary,
				ActionItem:  fmt.Sprintf("Review %s's update", p.Name),
				MessageType: model.MessageUpdate,
				Channel:     model.ChannelEmail,
				Tick:        tick,
				MessageID:   sentID(s),
			})
			if err != nil {
				return err
			}
		}

		cs, err := e.disp.SendChat(ctx, tick, p, c, "Quick heads-up: "+summary)
		if err != nil {
			return err
		}
		if cs != nil {
			e.noteSent(tick, []dispatch.Sent{*cs}, res)
		}
	}
	return nil
}

func sentID(s *dispatch.Sent) string {
	if s.Email != nil {
		return s.Email.ID
	}
	return ""
}

// excerpt returns the first meaningful line of text.
func excerpt(text string) string {
	const limit = 200
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*#"))
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > limit {
			line = string(r[:limit-3]) + "..."
		}
		return line
	}
	return "No update."
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}
