package planner

import (
	"context"
	"fmt"
	"strings"
)

// StubModel is reported as the model of every stub result.
const StubModel = "vdos-stub-1"

// Stub is a deterministic planner with no external dependencies. The same
// request always yields the same text.
type Stub struct{}

func (Stub) Name() string { return "stub" }

func (Stub) GenerateProjectPlan(_ context.Context, req Request) (Result, error) {
	weeks := req.DurationWeeks
	if weeks < 1 {
		weeks = 1
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", orDefault(req.ProjectName, "Untitled project"))
	if req.ProjectSummary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", req.ProjectSummary)
	}
	for w := 1; w <= weeks; w++ {
		fmt.Fprintf(&b, "Week %d: deliver milestone %d and review progress.\n", w, w)
	}
	if len(req.Team) > 0 {
		b.WriteString("Team: " + strings.Join(teamNames(req), ", ") + "\n")
	}
	return stubResult(b.String()), nil
}

func (Stub) GenerateDailyPlan(_ context.Context, req Request) (Result, error) {
	name := personaName(req)
	return stubResult(fmt.Sprintf(
		"Daily plan for %s (day %d):\n- Morning: focus work on %s priorities\n- Midday: sync with collaborators\n- Afternoon: wrap up and report",
		name, req.DayIndex+1, personaRole(req))), nil
}

func (Stub) GenerateHourlyPlan(_ context.Context, req Request) (Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Hourly plan for %s at %s:\n", personaName(req), req.SimTime)
	fmt.Fprintf(&b, "- Continue %s work from the daily plan\n", personaRole(req))
	for _, c := range req.Context {
		fmt.Fprintf(&b, "- Follow up: %s\n", c)
	}
	return stubResult(b.String()), nil
}

func (Stub) GenerateHourlySummary(_ context.Context, req Request) (Result, error) {
	return stubResult(fmt.Sprintf("Hour %d summary for %s: %d plan update(s) recorded.",
		req.HourIndex, personaName(req), len(req.HourlyPlans))), nil
}

func (Stub) GenerateDailyReport(_ context.Context, req Request) (Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily report for %s (day %d)\n", personaName(req), req.DayIndex+1)
	for _, s := range req.HourlySummaries {
		b.WriteString("- " + s + "\n")
	}
	if len(req.HourlySummaries) == 0 {
		b.WriteString("- No hourly activity recorded.\n")
	}
	return stubResult(b.String()), nil
}

func (Stub) GenerateSimulationReport(_ context.Context, req Request) (Result, error) {
	return stubResult(fmt.Sprintf("Simulation report: %d ticks, %d team member(s), %d daily report(s).",
		req.TotalTicks, len(req.Team), len(req.DailyReports))), nil
}

func stubResult(content string) Result {
	return Result{Content: strings.TrimRight(content, "\n"), Model: StubModel}
}

func personaName(req Request) string {
	if req.Persona == nil {
		return "the team"
	}
	return req.Persona.Name
}

func personaRole(req Request) string {
	if req.Persona == nil || req.Persona.Role == "" {
		return "assigned"
	}
	return req.Persona.Role
}

func teamNames(req Request) []string {
	out := make([]string, 0, len(req.Team))
	for _, p := range req.Team {
		out = append(out, p.Name)
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

var _ Planner = Stub{}
