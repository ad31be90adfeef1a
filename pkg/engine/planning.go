package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/daviddao/virtualoffice/pkg/clock"
	"github.com/daviddao/virtualoffice/pkg/model"
	"github.com/daviddao/virtualoffice/pkg/planner"
	"github.com/daviddao/virtualoffice/pkg/store"
)

// planTask is one persona's planning job for a tick.
type planTask struct {
	person    *model.Persona
	tick      int64
	dayIndex  int64
	needDaily bool
	req       planner.Request
}

// planOutcome is the result of a planTask. timedOut outcomes are
// placeholders: nothing is persisted for them.
type planOutcome struct {
	daily    *planner.Result
	hourly   planner.Result
	err      error
	timedOut bool
}

// prepareTask drains p's inbox, answers action items and assembles the
// planning request.
func (e *Engine) prepareTask(ctx context.Context, p *model.Persona, tick int64, reason string, res *AdvanceResult) (planTask, error) {
	t := planTask{person: p, tick: tick, dayIndex: clock.DayIndex(tick, e.opts.TicksPerDay)}

	msgs, err := e.drainInbox(p.ID)
	if err != nil {
		return t, err
	}
	var lines []string
	if reason != ReasonAuto {
		lines = append(lines, "Advance reason: "+reason)
	}
	for _, m := range msgs {
		if m.MessageType == model.MessageAck {
			e.addAdjustment(p.ID, fmt.Sprintf("%s acknowledged: %s", m.SenderName, m.Summary))
			continue
		}
		lines = append(lines, contextLine(m))
		if m.ActionItem != "" {
			if err := e.acknowledge(ctx, p, m, tick, res); err != nil {
				return t, err
			}
		}
	}
	lines = append(lines, e.takeAdjustments(p.ID)...)

	t.req = e.request(p, tick)
	t.req.Context = lines

	daily, err := e.store.GetWorkerPlan(p.ID, t.dayIndex, model.PlanDaily)
	switch {
	case err == nil:
		t.req.DailyPlan = daily.Content
	case errors.Is(err, store.ErrNotFound):
		t.needDaily = true
	default:
		return t, fmt.Errorf("load daily plan of %s: %w", p.Name, err)
	}
	return t, nil
}

// request fills the fields shared by every planner call for p at tick.
func (e *Engine) request(p *model.Persona, tick int64) planner.Request {
	var team []*model.Persona
	for _, q := range e.roster.People() {
		if p == nil || q.ID != p.ID {
			team = append(team, q)
		}
	}
	return planner.Request{
		Persona:        p,
		Team:           team,
		Tick:           tick,
		DayIndex:       clock.DayIndex(tick, e.opts.TicksPerDay),
		SimTime:        clock.FormatSimTime(tick, e.opts.TicksPerDay),
		ProjectName:    e.opts.ProjectName,
		ProjectSummary: e.opts.ProjectSummary,
		DurationWeeks:  e.opts.DurationWeeks,
		ProjectPlan:    e.projectPlan,
	}
}

// planAll runs tasks on a bounded pool. Outcomes keep submission order.
// Timeouts become placeholders; the first other failure is returned.
func (e *Engine) planAll(ctx context.Context, tasks []planTask) ([]planOutcome, error) {
	out := make([]planOutcome, len(tasks))
	if len(tasks) == 0 {
		return out, nil
	}
	if e.opts.MaxPlanningWorkers <= 1 || len(tasks) == 1 {
		for i, t := range tasks {
			out[i] = e.runTask(ctx, t)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.opts.MaxPlanningWorkers)
		for i, t := range tasks {
			i, t := i, t
			g.Go(func() error {
				out[i] = e.runTask(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, o := range out {
		if o.err != nil && !o.timedOut {
			return out, fmt.Errorf("planning for %s: %w", tasks[i].person.Name, o.err)
		}
	}
	return out, nil
}

// runTask bounds one task by the planning timeout. A task that overruns is
// abandoned; its goroutine finishes in the background.
func (e *Engine) runTask(ctx context.Context, t planTask) planOutcome {
	tctx, cancel := context.WithTimeout(ctx, e.opts.PlanningTimeout)
	defer cancel()

	done := make(chan planOutcome, 1)
	go func() { done <- e.plan(tctx, t) }()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			o.timedOut = true
		}
		return o
	case <-tctx.Done():
		if ctx.Err() != nil {
			return planOutcome{err: ctx.Err()}
		}
		return planOutcome{err: fmt.Errorf("planning timed out after %s", e.opts.PlanningTimeout), timedOut: true}
	}
}

func (e *Engine) plan(ctx context.Context, t planTask) planOutcome {
	var o planOutcome
	req := t.req
	if t.needDaily {
		r, err := e.planner.GenerateDailyPlan(ctx, req)
		if err != nil {
			o.err = err
			return o
		}
		o.daily = &r
		req.DailyPlan = r.Content
	}
	o.hourly, o.err = e.planner.GenerateHourlyPlan(ctx, req)
	return o
}

// applyPlan persists one outcome and books its directives. It returns the
// stored hourly plan, or nil when planning was skipped.
func (e *Engine) applyPlan(t planTask, o planOutcome, res *AdvanceResult) (*model.WorkerPlan, error) {
	p, tick := t.person, t.tick
	if o.err != nil {
		e.log.Warn().Err(o.err).Str("persona", p.Name).Int64("tick", tick).Msg("planning skipped")
		e.record(tick, model.EventDrop, p.Name, "planner", o.err.Error())
		return nil, nil
	}

	if o.daily != nil {
		if _, err := e.storeDailyPlan(p, t.dayIndex, *o.daily); err != nil {
			return nil, err
		}
		res.PlansGenerated++
	}
	plan, err := e.store.PutWorkerPlan(&model.WorkerPlan{
		PersonID:   p.ID,
		Tick:       tick,
		PlanType:   model.PlanHourly,
		Content:    o.hourly.Content,
		Model:      o.hourly.Model,
		TokensUsed: o.hourly.TokensUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("store hourly plan of %s: %w", p.Name, err)
	}
	res.PlansGenerated++
	e.record(tick, model.EventPlan, p.Name, string(model.PlanHourly), excerpt(plan.Content))

	e.schedule(p, tick, plan.Content)
	if err := e.persistSchedule(p.ID); err != nil {
		return nil, err
	}
	return plan, nil
}

// deliverPlan sends what p has already due once every plan of the tick is
// booked. Personas with nothing to deliver send a status update.
func (e *Engine) deliverPlan(ctx context.Context, p *model.Persona, tick int64, plan *model.WorkerPlan, res *AdvanceResult) error {
	if ov, ok := e.override(p.ID); ok && ov.Status == model.StatusSickLeave {
		return nil
	}
	sent, err := e.dispatchDue(ctx, p, tick, res)
	if err != nil {
		return err
	}
	if len(sent) > 0 {
		return nil
	}
	return e.sendFallback(ctx, p, tick, plan.Content, res)
}

func (e *Engine) storeDailyPlan(p *model.Persona, dayIndex int64, r planner.Result) (*model.WorkerPlan, error) {
	plan, err := e.store.PutWorkerPlan(&model.WorkerPlan{
		PersonID:   p.ID,
		Tick:       dayIndex,
		PlanType:   model.PlanDaily,
		Content:    r.Content,
		Model:      r.Model,
		TokensUsed: r.TokensUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("store daily plan of %s: %w", p.Name, err)
	}
	e.record(e.currentTick(), model.EventPlan, p.Name, string(model.PlanDaily), excerpt(plan.Content))
	return plan, nil
}

// EnsureDailyPlan returns personID's plan for dayIndex, generating it once.
// Later calls return the stored plan unchanged.
func (e *Engine) EnsureDailyPlan(ctx context.Context, personID, dayIndex int64) (*model.WorkerPlan, error) {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()

	if plan, err := e.store.GetWorkerPlan(personID, dayIndex, model.PlanDaily); err == nil {
		return plan, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	p := e.roster.ByID(personID)
	if p == nil {
		var err error
		if p, err = e.store.GetPersona(personID); err != nil {
			return nil, err
		}
	}
	tick := dayIndex*int64(e.opts.TicksPerDay) + 1
	r, err := e.planner.GenerateDailyPlan(ctx, e.request(p, tick))
	if err != nil {
		return nil, err
	}
	return e.storeDailyPlan(p, dayIndex, r)
}
