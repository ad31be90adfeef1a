package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// ---------------------------------------------------------------------------
// Worker plans
// ---------------------------------------------------------------------------

// PutWorkerPlan stores a plan keyed by (person_id, tick, plan_type). Plans
// are generated once per key: if a row already exists it is returned
// unchanged. A plan for a persona that does not exist fails with
// ErrUnknownPersona.
func (s *Store) PutWorkerPlan(p *model.WorkerPlan) (*model.WorkerPlan, error) {
	if err := s.requirePersona(p.PersonID, "worker plan"); err != nil {
		return nil, err
	}
	err := retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO worker_plans (person_id, tick, plan_type, content, model_used, tokens_used, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(person_id, tick, plan_type) DO NOTHING`,
			p.PersonID, p.Tick, string(p.PlanType), p.Content, p.Model, p.TokensUsed, nowString(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store %s plan for persona %d: %w", p.PlanType, p.PersonID, err)
	}
	return s.GetWorkerPlan(p.PersonID, p.Tick, p.PlanType)
}

// GetWorkerPlan returns the plan for a key or ErrNotFound.
func (s *Store) GetWorkerPlan(personID, tick int64, planType model.PlanType) (*model.WorkerPlan, error) {
	row := s.db.QueryRow(
		`SELECT id, person_id, tick, plan_type, content, model_used, tokens_used, created_at
		 FROM worker_plans WHERE person_id = ? AND tick = ? AND plan_type = ?`,
		personID, tick, string(planType),
	)
	p, err := scanWorkerPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListWorkerPlans returns plans of one type for a persona with
// fromTick <= tick <= toTick, oldest first. toTick < 0 means no upper bound.
func (s *Store) ListWorkerPlans(personID int64, planType model.PlanType, fromTick, toTick int64, limit int) ([]model.WorkerPlan, error) {
	if limit <= 0 {
		limit = 100
	}
	if toTick < 0 {
		toTick = 1<<62 - 1
	}
	rows, err := s.db.Query(
		`SELECT id, person_id, tick, plan_type, content, model_used, tokens_used, created_at
		 FROM worker_plans
		 WHERE person_id = ? AND plan_type = ? AND tick >= ? AND tick <= ?
		 ORDER BY tick ASC, id ASC LIMIT ?`,
		personID, string(planType), fromTick, toTick, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []model.WorkerPlan
	for rows.Next() {
		p, err := scanWorkerPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// CountWorkerPlans returns the number of stored plans of one type.
func (s *Store) CountWorkerPlans(planType model.PlanType) int64 {
	var n int64
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM worker_plans WHERE plan_type = ?`, string(planType),
	).Scan(&n); err != nil {
		return 0
	}
	return n
}

func scanWorkerPlan(row rowScanner) (*model.WorkerPlan, error) {
	var p model.WorkerPlan
	var planType, created string
	if err := row.Scan(&p.ID, &p.PersonID, &p.Tick, &planType, &p.Content, &p.Model,
		&p.TokensUsed, &created); err != nil {
		return nil, err
	}
	p.PlanType = model.PlanType(planType)
	var err error
	if p.CreatedAt, err = parseTime(created, fmt.Sprintf("created_at for plan %d", p.ID)); err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// Hourly summaries
// ---------------------------------------------------------------------------

// PutHourlySummary stores a summary keyed by (person_id, hour_index). An
// existing row is returned unchanged.
func (s *Store) PutHourlySummary(h *model.HourlySummary) (*model.HourlySummary, error) {
	if err := s.requirePersona(h.PersonID, "hourly summary"); err != nil {
		return nil, err
	}
	err := retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO hourly_summaries (person_id, hour_index, summary, model_used, tokens_used, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(person_id, hour_index) DO NOTHING`,
			h.PersonID, h.HourIndex, h.Summary, h.Model, h.TokensUsed, nowString(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store hourly summary for persona %d: %w", h.PersonID, err)
	}
	return s.GetHourlySummary(h.PersonID, h.HourIndex)
}

// GetHourlySummary returns the summary for a key or ErrNotFound.
func (s *Store) GetHourlySummary(personID, hourIndex int64) (*model.HourlySummary, error) {
	row := s.db.QueryRow(
		`SELECT id, person_id, hour_index, summary, model_used, tokens_used, created_at
		 FROM hourly_summaries WHERE person_id = ? AND hour_index = ?`,
		personID, hourIndex,
	)
	h, err := scanHourlySummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return h, err
}

// ListHourlySummaries returns summaries with fromHour <= hour_index < toHour.
func (s *Store) ListHourlySummaries(personID, fromHour, toHour int64) ([]model.HourlySummary, error) {
	rows, err := s.db.Query(
		`SELECT id, person_id, hour_index, summary, model_used, tokens_used, created_at
		 FROM hourly_summaries WHERE person_id = ? AND hour_index >= ? AND hour_index < ?
		 ORDER BY hour_index ASC`,
		personID, fromHour, toHour,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HourlySummary
	for rows.Next() {
		h, err := scanHourlySummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHourlySummary(row rowScanner) (*model.HourlySummary, error) {
	var h model.HourlySummary
	var created string
	if err := row.Scan(&h.ID, &h.PersonID, &h.HourIndex, &h.Summary, &h.Model,
		&h.TokensUsed, &created); err != nil {
		return nil, err
	}
	var err error
	if h.CreatedAt, err = parseTime(created, fmt.Sprintf("created_at for hourly summary %d", h.ID)); err != nil {
		return nil, err
	}
	return &h, nil
}

// ---------------------------------------------------------------------------
// Daily reports
// ---------------------------------------------------------------------------

// PutDailyReport stores a report keyed by (person_id, day_index). An
// existing row is returned unchanged.
func (s *Store) PutDailyReport(r *model.DailyReport) (*model.DailyReport, error) {
	if err := s.requirePersona(r.PersonID, "daily report"); err != nil {
		return nil, err
	}
	err := retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO daily_reports (person_id, day_index, report, schedule_outline, model_used, tokens_used, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(person_id, day_index) DO NOTHING`,
			r.PersonID, r.DayIndex, r.Report, r.ScheduleOutline, r.Model, r.TokensUsed, nowString(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store daily report for persona %d: %w", r.PersonID, err)
	}
	return s.GetDailyReport(r.PersonID, r.DayIndex)
}

// GetDailyReport returns the report for a key or ErrNotFound.
func (s *Store) GetDailyReport(personID, dayIndex int64) (*model.DailyReport, error) {
	row := s.db.QueryRow(
		`SELECT id, person_id, day_index, report, schedule_outline, model_used, tokens_used, created_at
		 FROM daily_reports WHERE person_id = ? AND day_index = ?`,
		personID, dayIndex,
	)
	r, err := scanDailyReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListDailyReports returns a persona's reports, oldest first. personID 0
// lists reports for everyone.
func (s *Store) ListDailyReports(personID int64, limit int) ([]model.DailyReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, person_id, day_index, report, schedule_outline, model_used, tokens_used, created_at
		 FROM daily_reports WHERE (? = 0 OR person_id = ?)
		 ORDER BY day_index ASC, person_id ASC LIMIT ?`,
		personID, personID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DailyReport
	for rows.Next() {
		r, err := scanDailyReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanDailyReport(row rowScanner) (*model.DailyReport, error) {
	var r model.DailyReport
	var created string
	if err := row.Scan(&r.ID, &r.PersonID, &r.DayIndex, &r.Report, &r.ScheduleOutline,
		&r.Model, &r.TokensUsed, &created); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = parseTime(created, fmt.Sprintf("created_at for daily report %d", r.ID)); err != nil {
		return nil, err
	}
	return &r, nil
}

// ---------------------------------------------------------------------------
// Simulation reports and project plans
// ---------------------------------------------------------------------------

// InsertSimulationReport appends a simulation report and returns it.
func (s *Store) InsertSimulationReport(r *model.SimulationReport) (*model.SimulationReport, error) {
	created := nowString()
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO simulation_reports (report, total_ticks, model_used, tokens_used, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			r.Report, r.TotalTicks, r.Model, r.TokensUsed, created,
		)
		if err != nil {
			return err
		}
		r.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := *r
	out.CreatedAt, _ = parseTime(created, "simulation report created_at")
	return &out, nil
}

// ListSimulationReports returns the newest reports first.
func (s *Store) ListSimulationReports(limit int) ([]model.SimulationReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, report, total_ticks, model_used, tokens_used, created_at
		 FROM simulation_reports ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SimulationReport
	for rows.Next() {
		var r model.SimulationReport
		var created string
		if err := rows.Scan(&r.ID, &r.Report, &r.TotalTicks, &r.Model, &r.TokensUsed, &created); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created, fmt.Sprintf("created_at for simulation report %d", r.ID)); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertProjectPlan appends a project plan and returns it.
func (s *Store) InsertProjectPlan(p *model.ProjectPlan) (*model.ProjectPlan, error) {
	created := nowString()
	var generatedBy any
	if p.GeneratedBy != 0 {
		generatedBy = p.GeneratedBy
	}
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO project_plans (project_name, project_summary, plan, generated_by,
			                            duration_weeks, model_used, tokens_used, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ProjectName, p.ProjectSummary, p.Plan, generatedBy, p.DurationWeeks, p.Model,
			p.TokensUsed, created,
		)
		if err != nil {
			return err
		}
		p.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := *p
	out.CreatedAt, _ = parseTime(created, "project plan created_at")
	return &out, nil
}

// LatestProjectPlan returns the most recent project plan or ErrNotFound.
func (s *Store) LatestProjectPlan() (*model.ProjectPlan, error) {
	var p model.ProjectPlan
	var generatedBy sql.NullInt64
	var created string
	err := s.db.QueryRow(
		`SELECT id, project_name, project_summary, plan, generated_by, duration_weeks,
		        model_used, tokens_used, created_at
		 FROM project_plans ORDER BY id DESC LIMIT 1`,
	).Scan(&p.ID, &p.ProjectName, &p.ProjectSummary, &p.Plan, &generatedBy, &p.DurationWeeks,
		&p.Model, &p.TokensUsed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.GeneratedBy = generatedBy.Int64
	if p.CreatedAt, err = parseTime(created, "project plan created_at"); err != nil {
		return nil, err
	}
	return &p, nil
}

// TokenUsage sums planner tokens per model across every stored artifact.
func (s *Store) TokenUsage() ([]model.TokenUsage, error) {
	rows, err := s.db.Query(`
		SELECT model_used, SUM(tokens_used) FROM (
			SELECT model_used, tokens_used FROM worker_plans
			UNION ALL SELECT model_used, tokens_used FROM hourly_summaries
			UNION ALL SELECT model_used, tokens_used FROM daily_reports
			UNION ALL SELECT model_used, tokens_used FROM simulation_reports
			UNION ALL SELECT model_used, tokens_used FROM project_plans
		) GROUP BY model_used ORDER BY model_used`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TokenUsage
	for rows.Next() {
		var u model.TokenUsage
		if err := rows.Scan(&u.Model, &u.Tokens); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) requirePersona(id int64, what string) error {
	ok, err := s.personaExists(id)
	if err != nil {
		return fmt.Errorf("check persona %d: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%s for persona %d: %w", what, id, ErrUnknownPersona)
	}
	return nil
}
