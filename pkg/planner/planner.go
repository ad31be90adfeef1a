// Package planner defines the planning capability the engine consults and
// its implementations: a deterministic stub, an OpenAI-compatible client
// and the Fallback decorator that falls back from one to the other.
package planner

import (
	"context"
	"errors"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// ErrStrictPlanning wraps a primary planner failure when fallback is
// disabled.
var ErrStrictPlanning = errors.New("planner failed in strict mode")

// Method names a planner operation in logs and metrics.
type Method string

const (
	MethodProjectPlan      Method = "project_plan"
	MethodDailyPlan        Method = "daily_plan"
	MethodHourlyPlan       Method = "hourly_plan"
	MethodHourlySummary    Method = "hourly_summary"
	MethodDailyReport      Method = "daily_report"
	MethodSimulationReport Method = "simulation_report"
)

// Request is the structured context handed to a planner. Fields that do
// not apply to a method are left empty.
type Request struct {
	Persona *model.Persona
	Team    []*model.Persona

	Tick      int64
	DayIndex  int64
	HourIndex int64
	SimTime   string

	ProjectName    string
	ProjectSummary string
	DurationWeeks  int
	ProjectPlan    string
	DailyPlan      string

	// Context carries inbox items, adjustment notes and the advance reason.
	Context []string

	HourlyPlans     []string
	HourlySummaries []string
	DailyReports    []string
	TotalTicks      int64
}

// Result is a planner's output.
type Result struct {
	Content    string
	Model      string
	TokensUsed int
}

// Planner produces plans and reports.
type Planner interface {
	Name() string
	GenerateProjectPlan(ctx context.Context, req Request) (Result, error)
	GenerateDailyPlan(ctx context.Context, req Request) (Result, error)
	GenerateHourlyPlan(ctx context.Context, req Request) (Result, error)
	GenerateHourlySummary(ctx context.Context, req Request) (Result, error)
	GenerateDailyReport(ctx context.Context, req Request) (Result, error)
	GenerateSimulationReport(ctx context.Context, req Request) (Result, error)
}

// Invoke calls the method of p named by m.
func Invoke(ctx context.Context, p Planner, m Method, req Request) (Result, error) {
	switch m {
	case MethodProjectPlan:
		return p.GenerateProjectPlan(ctx, req)
	case MethodDailyPlan:
		return p.GenerateDailyPlan(ctx, req)
	case MethodHourlyPlan:
		return p.GenerateHourlyPlan(ctx, req)
	case MethodHourlySummary:
		return p.GenerateHourlySummary(ctx, req)
	case MethodDailyReport:
		return p.GenerateDailyReport(ctx, req)
	case MethodSimulationReport:
		return p.GenerateSimulationReport(ctx, req)
	}
	return Result{}, errors.New("unknown planner method " + string(m))
}
