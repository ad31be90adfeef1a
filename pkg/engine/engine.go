// Package engine runs the virtual office simulation.
//
// The Engine owns the clock and every piece of runtime state: per-persona
// inboxes, status overrides, pending scheduled communications and the
// dispatcher's dedup windows. All mutations go through advanceMu, so at
// most one goroutine ever changes simulation state; Status and the read
// accessors only take the small state lock or read the store.
//
// Runtime state is written through to the store and replayed by New, so a
// restarted process continues from the persisted tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daviddao/virtualoffice/pkg/clock"
	"github.com/daviddao/virtualoffice/pkg/comms"
	"github.com/daviddao/virtualoffice/pkg/config"
	"github.com/daviddao/virtualoffice/pkg/dispatch"
	"github.com/daviddao/virtualoffice/pkg/gateway"
	"github.com/daviddao/virtualoffice/pkg/model"
	"github.com/daviddao/virtualoffice/pkg/planner"
	"github.com/daviddao/virtualoffice/pkg/store"
)

var (
	ErrNotRunning        = errors.New("simulation is not running")
	ErrInvalidTicks      = errors.New("ticks must be positive")
	ErrAdvanceInProgress = errors.New("another process is advancing the simulation")
	ErrNoPersonas        = errors.New("no personas to simulate")
	ErrInvalidStatus     = errors.New("invalid override status")

	// Re-exported so callers only need this package.
	ErrPersonaNotFound  = store.ErrPersonaNotFound
	ErrDuplicatePersona = store.ErrDuplicatePersona
	ErrUnknownPersona   = store.ErrUnknownPersona
)

const advanceLease = "advance"

// Options tunes an Engine.
type Options struct {
	TicksPerDay           int
	HourlySummaryInterval int64
	CooldownTicks         int64
	MaxPlanningWorkers    int
	PlanningTimeout       time.Duration
	MaxPlansPerMinute     int
	Seed                  int64
	AutoTickInterval      time.Duration
	StartTime             time.Time
	ExternalStakeholders  []string

	SickLeaveProbability     float64
	ClientRequestProbability float64

	ProjectName    string
	ProjectSummary string
	DurationWeeks  int

	// Holder identifies this process in the advance lease.
	Holder   string
	LeaseTTL time.Duration
}

// OptionsFromConfig maps the configuration file onto engine options.
func OptionsFromConfig(cfg config.Config) Options {
	s := cfg.Simulation
	start, _ := cfg.StartTime()
	return Options{
		TicksPerDay:              int(s.TicksPerDay),
		HourlySummaryInterval:    s.HourlySummaryInterval,
		CooldownTicks:            s.CooldownTicks,
		MaxPlanningWorkers:       s.MaxPlanningWorkers,
		PlanningTimeout:          s.PlanningTimeout.Duration,
		MaxPlansPerMinute:        s.MaxPlansPerMinute,
		Seed:                     s.Seed,
		AutoTickInterval:         s.AutoTickInterval.Duration,
		StartTime:                start,
		ExternalStakeholders:     s.ExternalStakeholders,
		SickLeaveProbability:     s.Events.SickLeaveProbability,
		ClientRequestProbability: s.Events.ClientRequestProbability,
		ProjectName:              s.ProjectName,
		ProjectSummary:           s.ProjectSummary,
		DurationWeeks:            s.DurationWeeks,
	}
}

func (o *Options) applyDefaults() {
	if o.TicksPerDay < 1 {
		o.TicksPerDay = 480
	}
	if o.HourlySummaryInterval < 1 {
		o.HourlySummaryInterval = 60
	}
	if o.MaxPlanningWorkers < 1 {
		o.MaxPlanningWorkers = 1
	}
	if o.PlanningTimeout <= 0 {
		o.PlanningTimeout = 2 * time.Minute
	}
	if o.AutoTickInterval <= 0 {
		o.AutoTickInterval = time.Second
	}
	if o.DurationWeeks < 1 {
		o.DurationWeeks = 1
	}
	if o.Holder == "" {
		o.Holder = "vo-" + uuid.NewString()[:8]
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 10 * time.Minute
	}
}

// workerRuntime is the in-memory view of one persona's inbox.
type workerRuntime struct {
	person *model.Persona
	inbox  []model.InboundMessage
}

type attemptKey struct {
	personID int64
	day      int64
	minute   int
}

// metricsSource is implemented by planner.Fallback.
type metricsSource interface {
	Metrics(limit int) []model.PlannerMetricsEntry
}

// Engine is the tick-advance simulation engine.
type Engine struct {
	store   store.StoreInterface
	planner planner.Planner
	email   gateway.EmailGateway
	chat    gateway.ChatGateway
	disp    *dispatch.Dispatcher
	opts    Options
	log     zerolog.Logger

	// advanceMu serializes every state mutation.
	advanceMu sync.Mutex

	// mu guards the fields Status reports.
	mu      sync.RWMutex
	clock   *clock.Clock
	running bool
	auto    bool

	activeIDs   []int64
	roster      *comms.Roster
	runtimes    map[int64]*workerRuntime
	overrides   map[int64]model.StatusOverride
	adjustments map[int64][]string
	book        *comms.Book
	attempts    map[attemptKey]int
	rng         *rand.Rand
	projectPlan string

	autoMu   sync.Mutex
	autoStop chan struct{}
	autoDone chan struct{}
}

// New builds an engine and replays persisted state from s.
func New(s store.StoreInterface, p planner.Planner, email gateway.EmailGateway, chat gateway.ChatGateway, opts Options, log zerolog.Logger) (*Engine, error) {
	opts.applyDefaults()
	e := &Engine{
		store:   s,
		planner: p,
		email:   email,
		chat:    chat,
		opts:    opts,
		log:     log.With().Str("component", "engine").Logger(),
		clock:   clock.New(opts.TicksPerDay),
		disp: dispatch.New(email, chat, dispatch.Config{
			CooldownTicks: opts.CooldownTicks,
			TicksPerDay:   opts.TicksPerDay,
			StartTime:     opts.StartTime,
		}, log),
	}
	e.resetMemory()
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) resetMemory() {
	e.activeIDs = nil
	e.roster = comms.NewRoster(nil, e.opts.ExternalStakeholders)
	e.runtimes = make(map[int64]*workerRuntime)
	e.overrides = make(map[int64]model.StatusOverride)
	e.adjustments = make(map[int64][]string)
	e.book = comms.NewBook()
	e.attempts = make(map[attemptKey]int)
	e.rng = rand.New(rand.NewSource(e.opts.Seed))
	e.projectPlan = ""
}

// load replays the simulation state, overrides, inboxes and schedules.
func (e *Engine) load() error {
	st, err := e.store.LoadState()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	e.clock.Set(st.CurrentTick)
	e.running = st.IsRunning
	currentTickGauge.Set(float64(st.CurrentTick))
	e.rng = rand.New(rand.NewSource(e.opts.Seed + st.CurrentTick))

	if st.IsRunning {
		if err := e.buildRoster(st.ActivePersonaIDs); err != nil && !errors.Is(err, ErrNoPersonas) {
			return err
		}
	}

	overrides, err := e.store.ListOverrides()
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	for _, o := range overrides {
		e.overrides[o.WorkerID] = o
	}

	inbox, err := e.store.ListInbox()
	if err != nil {
		return fmt.Errorf("load inbox: %w", err)
	}
	for _, m := range inbox {
		if rt := e.runtime(m.RecipientID); rt != nil {
			rt.inbox = append(rt.inbox, m)
		}
	}

	pending, err := e.store.ListScheduledComms()
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	e.book.Load(pending)

	if pp, err := e.store.LatestProjectPlan(); err == nil {
		e.projectPlan = pp.Plan
	}
	e.seedRecentEmails()
	return nil
}

// buildRoster loads the active personas. An empty ids slice means every
// registered persona.
func (e *Engine) buildRoster(ids []int64) error {
	all, err := e.store.ListPersonas()
	if err != nil {
		return fmt.Errorf("list personas: %w", err)
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var active []model.Persona
	for _, p := range all {
		if len(ids) == 0 || want[p.ID] {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return ErrNoPersonas
	}
	roster := comms.NewRoster(active, e.opts.ExternalStakeholders)
	ids = make([]int64, 0, len(active))
	for _, p := range roster.People() {
		ids = append(ids, p.ID)
	}
	e.mu.Lock()
	e.roster, e.activeIDs = roster, ids
	e.mu.Unlock()
	return nil
}

// seedRecentEmails rebuilds the reply-threading rings from stored mail.
func (e *Engine) seedRecentEmails() {
	for _, p := range e.roster.People() {
		if p.EmailAddress == "" {
			continue
		}
		emails, err := e.store.ListEmails(p.EmailAddress, dispatch.RecentCapacity)
		if err != nil {
			e.log.Warn().Err(err).Str("persona", p.Name).Msg("seed recent emails")
			continue
		}
		for i := len(emails) - 1; i >= 0; i-- {
			m := emails[i]
			e.disp.Remember(p.ID, model.RecentEmail{
				EmailID: m.ID, From: m.Sender, To: m.To, Subject: m.Subject, ThreadID: m.ThreadID,
			})
		}
	}
}

// runtime returns the lazily created runtime for an active persona, or nil.
func (e *Engine) runtime(personID int64) *workerRuntime {
	if rt, ok := e.runtimes[personID]; ok {
		return rt
	}
	p := e.roster.ByID(personID)
	if p == nil {
		return nil
	}
	rt := &workerRuntime{person: p}
	e.runtimes[personID] = rt
	return rt
}

// Status reports the externally visible state.
func (e *Engine) Status() model.SimulationStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tick := e.clock.Value()
	return model.SimulationStatus{
		CurrentTick: tick,
		IsRunning:   e.running,
		AutoTick:    e.auto,
		SimTime:     clock.FormatSimTime(tick, e.opts.TicksPerDay),
	}
}

// TicksPerDay returns the configured day resolution.
func (e *Engine) TicksPerDay() int { return e.opts.TicksPerDay }

func (e *Engine) isRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) currentTick() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock.Value()
}

func (e *Engine) saveState() error {
	e.mu.RLock()
	st := store.State{
		CurrentTick:      e.clock.Value(),
		IsRunning:        e.running,
		AutoTick:         e.auto,
		ActivePersonaIDs: append([]int64(nil), e.activeIDs...),
	}
	e.mu.RUnlock()
	if err := e.store.SaveState(st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Start moves the simulation to Running. personIDs restricts the run to a
// subset of registered personas; empty means everyone. Starting an already
// running simulation is a no-op.
func (e *Engine) Start(ctx context.Context, personIDs []int64) error {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	if e.isRunning() {
		return nil
	}
	for _, id := range personIDs {
		if _, err := e.store.GetPersona(id); err != nil {
			return err
		}
	}
	if err := e.buildRoster(personIDs); err != nil {
		return err
	}
	for _, p := range e.roster.People() {
		if err := e.email.EnsureMailbox(ctx, p.EmailAddress, p.Name); err != nil {
			return fmt.Errorf("ensure mailbox %s: %w", p.EmailAddress, err)
		}
		if err := e.chat.EnsureUser(ctx, p.ChatHandle, p.Name); err != nil {
			return fmt.Errorf("ensure chat user %s: %w", p.ChatHandle, err)
		}
	}
	e.seedRecentEmails()
	if err := e.ensureProjectPlan(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	if err := e.saveState(); err != nil {
		return err
	}
	e.record(e.currentTick(), model.EventTick, "", "", fmt.Sprintf("simulation started with %d persona(s)", len(e.activeIDs)))
	e.log.Info().Int("personas", len(e.activeIDs)).Int64("tick", e.currentTick()).Msg("simulation started")
	return nil
}

// Stop ends the run and generates the simulation report.
func (e *Engine) Stop(ctx context.Context) (*model.SimulationReport, error) {
	e.StopAutoTicks()
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	if !e.isRunning() {
		return nil, ErrNotRunning
	}
	report, err := e.generateSimulationReport(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	if err := e.saveState(); err != nil {
		return nil, err
	}
	e.log.Info().Int64("tick", e.currentTick()).Msg("simulation stopped")
	return report, nil
}

// Reset returns to Stopped at tick 0 and clears every derived table.
// Personas are kept.
func (e *Engine) Reset(ctx context.Context) error {
	e.StopAutoTicks()
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	if err := e.store.ResetSimulation(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	e.mu.Lock()
	e.clock.Set(0)
	e.running = false
	e.auto = false
	e.resetMemory()
	e.mu.Unlock()
	e.disp.Reset()
	currentTickGauge.Set(0)
	e.log.Info().Msg("simulation reset")
	return nil
}

// SetStatusOverride forces workerID into status until untilTick. Last
// write wins.
func (e *Engine) SetStatusOverride(workerID int64, status model.OverrideStatus, untilTick int64, reason string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	if _, err := e.store.GetPersona(workerID); err != nil {
		return err
	}
	return e.setOverride(model.StatusOverride{WorkerID: workerID, Status: status, UntilTick: untilTick, Reason: reason})
}

func (e *Engine) setOverride(o model.StatusOverride) error {
	if err := e.store.UpsertOverride(o); err != nil {
		return fmt.Errorf("store override: %w", err)
	}
	e.overrides[o.WorkerID] = o
	e.record(e.currentTick(), model.EventOverride, e.personaName(o.WorkerID), string(o.Status),
		fmt.Sprintf("until tick %d: %s", o.UntilTick, o.Reason))
	return nil
}

// ClearStatusOverride removes workerID's override, if any.
func (e *Engine) ClearStatusOverride(workerID int64) error {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	if err := e.store.DeleteOverride(workerID); err != nil {
		return err
	}
	delete(e.overrides, workerID)
	e.record(e.currentTick(), model.EventOverride, e.personaName(workerID), "cleared", "")
	return nil
}

// refreshOverrides drops every override with until_tick <= tick.
func (e *Engine) refreshOverrides(tick int64) error {
	for id, o := range e.overrides {
		if o.Expired(tick) {
			delete(e.overrides, id)
			e.record(tick, model.EventOverride, e.personaName(id), "expired", string(o.Status))
		}
	}
	if _, err := e.store.DeleteExpiredOverrides(tick); err != nil {
		return fmt.Errorf("expire overrides: %w", err)
	}
	return nil
}

func (e *Engine) override(personID int64) (model.StatusOverride, bool) {
	o, ok := e.overrides[personID]
	return o, ok
}

// Overrides lists the persisted overrides.
func (e *Engine) Overrides() ([]model.StatusOverride, error) { return e.store.ListOverrides() }

// Inbox returns personID's pending inbound messages.
func (e *Engine) Inbox(personID int64) ([]model.InboundMessage, error) {
	all, err := e.store.ListInbox()
	if err != nil {
		return nil, err
	}
	var out []model.InboundMessage
	for _, m := range all {
		if m.RecipientID == personID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Scheduled returns personID's persisted pending communications.
func (e *Engine) Scheduled(personID int64) ([]model.ScheduledComm, error) {
	all, err := e.store.ListScheduledComms()
	if err != nil {
		return nil, err
	}
	var out []model.ScheduledComm
	for _, c := range all {
		if personID == 0 || c.PersonID == personID {
			out = append(out, c)
		}
	}
	return out, nil
}

// RecentEmails exposes personID's reply-threading ring.
func (e *Engine) RecentEmails(personID int64) []model.RecentEmail { return e.disp.RecentEmails(personID) }

// PlannerMetrics returns the planner call log when the planner keeps one.
func (e *Engine) PlannerMetrics(limit int) []model.PlannerMetricsEntry {
	if m, ok := e.planner.(metricsSource); ok {
		return m.Metrics(limit)
	}
	return nil
}

// TokenUsage sums planner tokens per model.
func (e *Engine) TokenUsage() ([]model.TokenUsage, error) { return e.store.TokenUsage() }

// ActivePersonas returns the personas of the current run, ordered by id.
func (e *Engine) ActivePersonas() []model.Persona {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	var out []model.Persona
	for _, p := range e.roster.People() {
		out = append(out, *p)
	}
	return out
}

func (e *Engine) personaName(id int64) string {
	if p := e.roster.ByID(id); p != nil {
		return p.Name
	}
	return fmt.Sprintf("persona-%d", id)
}

// record appends to the simulation log. Failures are logged only.
func (e *Engine) record(tick int64, kind model.EventKind, actor, target, body string) {
	if _, err := e.store.InsertEvent(&model.Event{Tick: tick, Kind: kind, Actor: actor, Target: target, Body: body}); err != nil {
		e.log.Warn().Err(err).Str("kind", string(kind)).Msg("record event")
	}
}

// sortedActive returns the active personas ordered by id.
func (e *Engine) sortedActive() []*model.Persona {
	people := append([]*model.Persona(nil), e.roster.People()...)
	sort.Slice(people, func(i, j int) bool { return people[i].ID < people[j].ID })
	return people
}
