package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/daviddao/virtualoffice/pkg/model"
	"github.com/daviddao/virtualoffice/pkg/store"
)

// ensureProjectPlan loads or generates the run-wide project plan.
func (e *Engine) ensureProjectPlan(ctx context.Context) error {
	if e.projectPlan != "" {
		return nil
	}
	if pp, err := e.store.LatestProjectPlan(); err == nil {
		e.projectPlan = pp.Plan
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	req := e.request(nil, e.currentTick())
	r, err := e.planner.GenerateProjectPlan(ctx, req)
	if err != nil {
		return fmt.Errorf("project plan: %w", err)
	}
	var author int64
	for _, p := range e.roster.People() {
		if p.IsDepartmentHead {
			author = p.ID
			break
		}
	}
	pp, err := e.store.InsertProjectPlan(&model.ProjectPlan{
		ProjectName:    e.opts.ProjectName,
		ProjectSummary: e.opts.ProjectSummary,
		Plan:           r.Content,
		GeneratedBy:    author,
		DurationWeeks:  e.opts.DurationWeeks,
		Model:          r.Model,
		TokensUsed:     r.TokensUsed,
	})
	if err != nil {
		return fmt.Errorf("store project plan: %w", err)
	}
	e.projectPlan = pp.Plan
	e.record(e.currentTick(), model.EventReport, "", "project", excerpt(pp.Plan))
	return nil
}

func (e *Engine) summarizeHour(ctx context.Context, hourIndex int64) error {
	for _, p := range e.sortedActive() {
		if _, err := e.ensureHourlySummary(ctx, p, hourIndex); err != nil {
			return err
		}
	}
	return nil
}

// ensureHourlySummary returns the stored summary or generates one from the
// hour's plans. Hours without plans yield nil.
func (e *Engine) ensureHourlySummary(ctx context.Context, p *model.Persona, hourIndex int64) (*model.HourlySummary, error) {
	if h, err := e.store.GetHourlySummary(p.ID, hourIndex); err == nil {
		return h, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	interval := e.opts.HourlySummaryInterval
	plans, err := e.store.ListWorkerPlans(p.ID, model.PlanHourly, hourIndex*interval+1, (hourIndex+1)*interval, int(interval))
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, nil
	}
	contents := make([]string, 0, len(plans))
	for _, pl := range plans {
		contents = append(contents, pl.Content)
	}

	end := (hourIndex + 1) * interval
	req := e.request(p, end)
	req.HourIndex = hourIndex
	req.HourlyPlans = contents
	r, err := e.planner.GenerateHourlySummary(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("hourly summary of %s: %w", p.Name, err)
	}
	h, err := e.store.PutHourlySummary(&model.HourlySummary{
		PersonID: p.ID, HourIndex: hourIndex, Summary: r.Content, Model: r.Model, TokensUsed: r.TokensUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("store hourly summary of %s: %w", p.Name, err)
	}
	e.record(end, model.EventReport, p.Name, fmt.Sprintf("hour %d", hourIndex), excerpt(h.Summary))
	return h, nil
}

func (e *Engine) reportDay(ctx context.Context, dayIndex int64) error {
	for _, p := range e.sortedActive() {
		if _, err := e.ensureDailyReport(ctx, p, dayIndex); err != nil {
			return err
		}
	}
	return nil
}

// ensureDailyReport returns the stored report or generates it from the
// day's hourly summaries, producing missing summaries on the way.
func (e *Engine) ensureDailyReport(ctx context.Context, p *model.Persona, dayIndex int64) (*model.DailyReport, error) {
	if r, err := e.store.GetDailyReport(p.ID, dayIndex); err == nil {
		return r, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tpd := int64(e.opts.TicksPerDay)
	interval := e.opts.HourlySummaryInterval
	from := dayIndex * tpd / interval
	to := ((dayIndex+1)*tpd + interval - 1) / interval

	sums, err := e.store.ListHourlySummaries(p.ID, from, to)
	if err != nil {
		return nil, err
	}
	if len(sums) == 0 {
		for h := from; h < to; h++ {
			s, err := e.ensureHourlySummary(ctx, p, h)
			if err != nil {
				return nil, err
			}
			if s != nil {
				sums = append(sums, *s)
			}
		}
	}
	summaries := make([]string, 0, len(sums))
	for _, s := range sums {
		summaries = append(summaries, s.Summary)
	}

	end := (dayIndex + 1) * tpd
	req := e.request(p, end)
	req.DayIndex = dayIndex
	req.HourlySummaries = summaries
	if plan, err := e.store.GetWorkerPlan(p.ID, dayIndex, model.PlanDaily); err == nil {
		req.DailyPlan = plan.Content
	}
	r, err := e.planner.GenerateDailyReport(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("daily report of %s: %w", p.Name, err)
	}
	report, err := e.store.PutDailyReport(&model.DailyReport{
		PersonID:        p.ID,
		DayIndex:        dayIndex,
		Report:          r.Content,
		ScheduleOutline: scheduleOutline(p),
		Model:           r.Model,
		TokensUsed:      r.TokensUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("store daily report of %s: %w", p.Name, err)
	}
	e.record(end, model.EventReport, p.Name, fmt.Sprintf("day %d", dayIndex+1), excerpt(report.Report))
	return report, nil
}

// EnsureDailyReport returns personID's report for dayIndex, generating it
// once.
func (e *Engine) EnsureDailyReport(ctx context.Context, personID, dayIndex int64) (*model.DailyReport, error) {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	p := e.roster.ByID(personID)
	if p == nil {
		var err error
		if p, err = e.store.GetPersona(personID); err != nil {
			return nil, err
		}
	}
	return e.ensureDailyReport(ctx, p, dayIndex)
}

func (e *Engine) generateSimulationReport(ctx context.Context) (*model.SimulationReport, error) {
	daily, err := e.store.ListDailyReports(0, 1000)
	if err != nil {
		return nil, err
	}
	tick := e.currentTick()
	req := e.request(nil, tick)
	req.TotalTicks = tick
	for _, d := range daily {
		req.DailyReports = append(req.DailyReports,
			fmt.Sprintf("%s day %d: %s", e.personaName(d.PersonID), d.DayIndex+1, d.Report))
	}
	r, err := e.planner.GenerateSimulationReport(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("simulation report: %w", err)
	}
	report, err := e.store.InsertSimulationReport(&model.SimulationReport{
		Report: r.Content, TotalTicks: tick, Model: r.Model, TokensUsed: r.TokensUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("store simulation report: %w", err)
	}
	e.record(tick, model.EventReport, "", "simulation", excerpt(report.Report))
	return report, nil
}

func scheduleOutline(p *model.Persona) string {
	if len(p.Schedule) == 0 {
		return p.WorkHours
	}
	parts := make([]string, 0, len(p.Schedule))
	for _, b := range p.Schedule {
		parts = append(parts, fmt.Sprintf("%s-%s %s", b.Start, b.End, b.Activity))
	}
	return strings.Join(parts, "; ")
}
