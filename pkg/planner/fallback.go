package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// MetricsCapacity bounds the in-memory call log.
const MetricsCapacity = 200

const maxContextLen = 160

var (
	plannerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vo_planner_calls_total",
		Help: "Planner invocations by method, planner and outcome (ok, fallback, error).",
	}, []string{"method", "planner", "outcome"})
	plannerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vo_planner_call_duration_seconds",
		Help:    "Latency of planner invocations, including any fallback.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "planner"})
)

// Fallback decorates a primary planner. A failed call is retried on the
// stub unless the primary is the stub itself or strict mode is on. Every
// call is logged to a bounded ring and to Prometheus.
type Fallback struct {
	primary Planner
	stub    Planner
	strict  bool
	log     zerolog.Logger

	mu      sync.Mutex
	entries []model.PlannerMetricsEntry
	next    int
	full    bool
}

// Option configures a Fallback.
type Option func(*Fallback)

// WithStrict disables fallback.
func WithStrict(strict bool) Option { return func(f *Fallback) { f.strict = strict } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(f *Fallback) { f.log = l } }

// WithStub replaces the fallback planner.
func WithStub(p Planner) Option { return func(f *Fallback) { f.stub = p } }

// NewFallback wraps primary.
func NewFallback(primary Planner, opts ...Option) *Fallback {
	f := &Fallback{
		primary: primary,
		stub:    Stub{},
		log:     zerolog.Nop(),
		entries: make([]model.PlannerMetricsEntry, MetricsCapacity),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fallback) Name() string { return f.primary.Name() }

// Strict reports whether fallback is disabled.
func (f *Fallback) Strict() bool { return f.strict }

func (f *Fallback) GenerateProjectPlan(ctx context.Context, req Request) (Result, error) {
	return f.call(ctx, MethodProjectPlan, req)
}

func (f *Fallback) GenerateDailyPlan(ctx context.Context, req Request) (Result, error) {
	return f.call(ctx, MethodDailyPlan, req)
}

func (f *Fallback) GenerateHourlyPlan(ctx context.Context, req Request) (Result, error) {
	return f.call(ctx, MethodHourlyPlan, req)
}

func (f *Fallback) GenerateHourlySummary(ctx context.Context, req Request) (Result, error) {
	return f.call(ctx, MethodHourlySummary, req)
}

func (f *Fallback) GenerateDailyReport(ctx context.Context, req Request) (Result, error) {
	return f.call(ctx, MethodDailyReport, req)
}

func (f *Fallback) GenerateSimulationReport(ctx context.Context, req Request) (Result, error) {
	return f.call(ctx, MethodSimulationReport, req)
}

func (f *Fallback) call(ctx context.Context, m Method, req Request) (Result, error) {
	start := time.Now()
	res, err := Invoke(ctx, f.primary, m, req)
	entry := model.PlannerMetricsEntry{
		Timestamp: start.UTC(),
		Method:    string(m),
		Planner:   f.primary.Name(),
		Model:     res.Model,
		Context:   requestContext(req),
	}
	if err == nil {
		f.finish(entry, start, "ok")
		return res, nil
	}

	entry.Error = err.Error()
	if f.primary.Name() == f.stub.Name() {
		f.finish(entry, start, "error")
		return Result{}, fmt.Errorf("%s via %s: %w", m, f.primary.Name(), err)
	}
	if f.strict {
		f.finish(entry, start, "error")
		return Result{}, fmt.Errorf("%w: %s via %s: %w", ErrStrictPlanning, m, f.primary.Name(), err)
	}

	f.log.Warn().Err(err).Str("method", string(m)).Str("planner", f.primary.Name()).
		Msg("planner failed, falling back to stub")
	res, ferr := Invoke(ctx, f.stub, m, req)
	entry.Fallback = true
	entry.Model = res.Model
	if ferr != nil {
		entry.Error = ferr.Error()
		f.finish(entry, start, "error")
		return Result{}, fmt.Errorf("%s fallback: %w", m, ferr)
	}
	f.finish(entry, start, "fallback")
	return res, nil
}

func (f *Fallback) finish(e model.PlannerMetricsEntry, start time.Time, outcome string) {
	e.Duration = time.Since(start)
	plannerCalls.WithLabelValues(e.Method, e.Planner, outcome).Inc()
	plannerDuration.WithLabelValues(e.Method, e.Planner).Observe(e.Duration.Seconds())

	f.mu.Lock()
	f.entries[f.next] = e
	f.next = (f.next + 1) % len(f.entries)
	if f.next == 0 {
		f.full = true
	}
	f.mu.Unlock()
}

// Metrics returns up to limit of the most recent entries, oldest first.
// limit <= 0 returns everything retained.
func (f *Fallback) Metrics(limit int) []model.PlannerMetricsEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []model.PlannerMetricsEntry
	if f.full {
		all = append(all, f.entries[f.next:]...)
	}
	all = append(all, f.entries[:f.next]...)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

func requestContext(req Request) string {
	s := req.SimTime
	if req.Persona != nil {
		s = req.Persona.Name + " @ " + s
	}
	if len(req.Context) > 0 {
		s += ": " + req.Context[0]
	}
	if r := []rune(s); len(r) > maxContextLen {
		s = string(r[:maxContextLen-3]) + "..."
	}
	return s
}

var _ Planner = (*Fallback)(nil)
