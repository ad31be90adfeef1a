package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/virtualoffice/pkg/gateway"
	"github.com/daviddao/virtualoffice/pkg/logging"
	"github.com/daviddao/virtualoffice/pkg/model"
	"github.com/daviddao/virtualoffice/pkg/planner"
	"github.com/daviddao/virtualoffice/pkg/store"
)

// scripted returns fixed hourly text per persona name and the stub
// otherwise.
type scripted struct {
	planner.Stub
	hourly map[string]string
}

func (s *scripted) GenerateHourlyPlan(ctx context.Context, req planner.Request) (planner.Result, error) {
	if txt, ok := s.hourly[req.Persona.Name]; ok {
		return planner.Result{Content: txt, Model: "scripted"}, nil
	}
	return s.Stub.GenerateHourlyPlan(ctx, req)
}

// counting numbers every daily plan it produces.
type counting struct {
	planner.Stub
	calls atomic.Int32
}

func (c *counting) GenerateDailyPlan(context.Context, planner.Request) (planner.Result, error) {
	return planner.Result{Content: fmt.Sprintf("plan #%d", c.calls.Add(1)), Model: "counting"}, nil
}

// hourlyFails breaks only hourly planning.
type hourlyFails struct{ planner.Stub }

func (hourlyFails) Name() string { return "flaky-llm" }
func (hourlyFails) GenerateHourlyPlan(context.Context, planner.Request) (planner.Result, error) {
	return planner.Result{}, errors.New("upstream 503")
}

// stalls blocks hourly planning for one persona until the deadline. Everyone
// else gets a plan without directives.
type stalls struct {
	planner.Stub
	who string
}

func (s stalls) GenerateHourlyPlan(ctx context.Context, req planner.Request) (planner.Result, error) {
	if req.Persona.Name == s.who {
		<-ctx.Done()
		return planner.Result{}, ctx.Err()
	}
	return planner.Result{Content: "Heads down.", Model: "stalls"}, nil
}

func testOptions() Options {
	return Options{
		TicksPerDay:           480,
		HourlySummaryInterval: 60,
		CooldownTicks:         10,
		MaxPlanningWorkers:    1,
		PlanningTimeout:       5 * time.Second,
		MaxPlansPerMinute:     10,
		Seed:                  7,
		AutoTickInterval:      time.Second,
		StartTime:             time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		ProjectName:           "Launchpad",
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "vo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(t *testing.T, s *store.Store, p planner.Planner, opts Options) *Engine {
	t.Helper()
	gw := gateway.NewStoreGateway(s)
	e, err := New(s, p, gw, gw, opts, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(e.StopAutoTicks)
	return e
}

func addPersona(t *testing.T, s *store.Store, name, role string, head bool) *model.Persona {
	t.Helper()
	handle := map[string]string{"Alice": "alice", "Bob": "bob", "Carol": "carol", "Dave": "dave"}[name]
	p, err := s.CreatePersona(&model.Persona{
		Name:             name,
		Role:             role,
		ChatHandle:       handle,
		EmailAddress:     handle + "@vdos.local",
		IsDepartmentHead: head,
	})
	require.NoError(t, err)
	return p
}

// pair registers Alice (head) and Bob and starts a run.
func pair(t *testing.T, p planner.Planner, opts Options) (*Engine, *store.Store, *model.Persona, *model.Persona) {
	t.Helper()
	s := openStore(t)
	alice := addPersona(t, s, "Alice", "Engineering Manager", true)
	bob := addPersona(t, s, "Bob", "Backend Engineer", false)
	e := newEngine(t, s, p, opts)
	require.NoError(t, e.Start(context.Background(), nil))
	return e, s, alice, bob
}

func TestAdvance_Guards(t *testing.T) {
	s := openStore(t)
	addPersona(t, s, "Alice", "Engineer", true)
	e := newEngine(t, s, planner.NewFallback(planner.Stub{}), testOptions())

	_, err := e.Advance(context.Background(), 1, "manual")
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, e.Start(context.Background(), nil))
	_, err = e.Advance(context.Background(), 0, "manual")
	assert.ErrorIs(t, err, ErrInvalidTicks)
	_, err = e.Advance(context.Background(), -3, "manual")
	assert.ErrorIs(t, err, ErrInvalidTicks)
	assert.Equal(t, int64(0), e.Status().CurrentTick)
}

func TestStart_Validation(t *testing.T) {
	s := openStore(t)
	e := newEngine(t, s, planner.NewFallback(planner.Stub{}), testOptions())
	assert.ErrorIs(t, e.Start(context.Background(), nil), ErrNoPersonas)

	addPersona(t, s, "Alice", "Engineer", true)
	assert.ErrorIs(t, e.Start(context.Background(), []int64{99}), ErrPersonaNotFound)
	require.NoError(t, e.Start(context.Background(), nil))
	require.NoError(t, e.Start(context.Background(), nil), "second start is a no-op")

	pp, err := s.LatestProjectPlan()
	require.NoError(t, err)
	assert.Contains(t, pp.Plan, "Launchpad")
}

func TestAdvance_MovesClockExactly(t *testing.T) {
	e, s, alice, _ := pair(t, planner.NewFallback(planner.Stub{}), testOptions())
	ctx := context.Background()

	res, err := e.Advance(ctx, 3, "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.StartTick)
	assert.Equal(t, int64(3), res.CurrentTick)
	assert.Equal(t, "Day 1 00:06", res.SimTime)

	res, err = e.Advance(ctx, 2, "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.CurrentTick)
	assert.Equal(t, int64(5), e.Status().CurrentTick)

	st, err := s.LoadState()
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.CurrentTick)

	daily, err := s.ListWorkerPlans(alice.ID, model.PlanDaily, 0, -1, 0)
	require.NoError(t, err)
	assert.Len(t, daily, 1, "one daily plan per persona per day")
	hourly, err := s.ListWorkerPlans(alice.ID, model.PlanHourly, 1, 5, 0)
	require.NoError(t, err)
	assert.Len(t, hourly, 5, "manual advances replan every tick")
}

func TestAdvance_TwoPersonasExchangeMail(t *testing.T) {
	e, s, alice, bob := pair(t, planner.NewFallback(planner.Stub{}), testOptions())

	res, err := e.Advance(context.Background(), 2, "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.CurrentTick)

	for _, p := range []*model.Persona{alice, bob} {
		plans, err := s.ListWorkerPlans(p.ID, model.PlanHourly, 0, -1, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, plans, "%s has an hourly plan", p.Name)
	}

	assert.Positive(t, res.EmailsSent)
	assert.Equal(t, int64(res.EmailsSent), s.CountEmails())
	assert.Equal(t, int64(res.ChatsSent), s.CountChats())
	assert.Equal(t, int64(res.EmailsSent), s.CountEvents(model.EventEmail))

	mail, err := s.ListEmails(bob.EmailAddress, 0)
	require.NoError(t, err)
	require.NotEmpty(t, mail)
	assert.Equal(t, "2025-01-06T00:00:00Z", mail[len(mail)-1].SentAt)
}

func TestEnsureDailyPlan_Memoized(t *testing.T) {
	c := &counting{}
	e, _, alice, _ := pair(t, c, testOptions())
	ctx := context.Background()

	first, err := e.EnsureDailyPlan(ctx, alice.ID, 3)
	require.NoError(t, err)
	second, err := e.EnsureDailyPlan(ctx, alice.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, int32(1), c.calls.Load())

	_, err = e.EnsureDailyPlan(ctx, 999, 0)
	assert.ErrorIs(t, err, ErrPersonaNotFound)
}

func TestSickLeaveOverride(t *testing.T) {
	e, s, alice, bob := pair(t, planner.NewFallback(planner.Stub{}), testOptions())
	ctx := context.Background()

	require.NoError(t, e.SetStatusOverride(alice.ID, model.StatusSickLeave, 5, "flu"))
	assert.ErrorIs(t, e.SetStatusOverride(alice.ID, "Napping", 5, ""), ErrInvalidStatus)
	assert.ErrorIs(t, e.SetStatusOverride(42, model.StatusAbsent, 5, ""), ErrPersonaNotFound)

	_, err := e.Advance(ctx, 4, "manual")
	require.NoError(t, err)

	plans, err := s.ListWorkerPlans(alice.ID, model.PlanHourly, 1, 4, 0)
	require.NoError(t, err)
	assert.Empty(t, plans, "no planning while on sick leave")
	plans, err = s.ListWorkerPlans(bob.ID, model.PlanHourly, 1, 4, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, plans)

	inbox, err := e.Inbox(alice.ID)
	require.NoError(t, err)
	for _, m := range inbox {
		assert.True(t, m.Reminder, "only reminders survive sick leave, got %+v", m)
	}

	_, err = e.Advance(ctx, 2, "manual")
	require.NoError(t, err)
	overrides, err := e.Overrides()
	require.NoError(t, err)
	assert.Empty(t, overrides, "override expired at its until_tick")
	plans, err = s.ListWorkerPlans(alice.ID, model.PlanHourly, 5, 6, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, plans)
}

func TestClearStatusOverride(t *testing.T) {
	e, s, alice, _ := pair(t, planner.NewFallback(planner.Stub{}), testOptions())
	require.NoError(t, e.SetStatusOverride(alice.ID, model.StatusOnLeave, 100, "vacation"))
	require.NoError(t, e.ClearStatusOverride(alice.ID))

	_, err := e.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)
	plans, err := s.ListWorkerPlans(alice.ID, model.PlanHourly, 1, 1, 0)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestMirroredChatSendsOnce(t *testing.T) {
	opts := testOptions()
	opts.TicksPerDay = 48
	p := &scripted{hourly: map[string]string{
		"Alice": "Focus time.\nChat at 09:00 with bob: sync?",
		"Bob":   "Chat at 09:00 with @alice: sync?",
	}}
	e, s, _, _ := pair(t, p, opts)

	// 09:00 anchors to tick 18 at 48 ticks per day. Auto advances only
	// replan on new input, so nobody rebooks the chat after it is sent.
	_, err := e.Advance(context.Background(), 19, ReasonAuto)
	require.NoError(t, err)

	chats, err := s.ListChats("", 500)
	require.NoError(t, err)
	var syncs []model.ChatRecord
	for _, c := range chats {
		if c.Body == "sync?" {
			syncs = append(syncs, c)
		}
	}
	require.Len(t, syncs, 1, "mirrored DM is delivered exactly once")
	assert.Equal(t, "alice", syncs[0].Sender)

	pending, err := e.Scheduled(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestHallucinatedAddressIsDropped(t *testing.T) {
	opts := testOptions()
	opts.TicksPerDay = 48
	p := &scripted{hourly: map[string]string{
		"Alice": "Email at 09:00 to ghost@nowhere.io: Hi | are you real?",
	}}
	e, s, _, _ := pair(t, p, opts)

	_, err := e.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)

	assert.Positive(t, s.CountEvents(model.EventDrop))
	pending, err := e.Scheduled(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	mail, err := s.ListEmails("ghost@nowhere.io", 0)
	require.NoError(t, err)
	assert.Empty(t, mail)
}

func TestScheduledEmailIsDelivered(t *testing.T) {
	opts := testOptions()
	opts.TicksPerDay = 48
	opts.ExternalStakeholders = []string{"client@example.com"}
	p := &scripted{hourly: map[string]string{
		"Bob": "Email at 01:00 to client@example.com cc alice: Demo | slides attached",
	}}
	e, s, _, _ := pair(t, p, opts)

	_, err := e.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)
	pending, err := e.Scheduled(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].Tick)
	assert.Equal(t, "client@example.com", pending[0].Target)

	_, err = e.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)
	mail, err := s.ListEmails("client@example.com", 0)
	require.NoError(t, err)
	require.Len(t, mail, 1)
	assert.Equal(t, []string{"alice@vdos.local"}, mail[0].Cc)
	assert.Equal(t, "Demo", mail[0].Subject)
}

func TestStrictPlannerFailureIsFatal(t *testing.T) {
	strict := planner.NewFallback(hourlyFails{}, planner.WithStrict(true))
	e, _, _, _ := pair(t, strict, testOptions())

	_, err := e.Advance(context.Background(), 3, "manual")
	require.Error(t, err)
	assert.ErrorIs(t, err, planner.ErrStrictPlanning)
	assert.Equal(t, int64(1), e.Status().CurrentTick)
}

func TestPlannerFallbackKeepsTicking(t *testing.T) {
	fb := planner.NewFallback(hourlyFails{})
	e, s, alice, _ := pair(t, fb, testOptions())

	res, err := e.Advance(context.Background(), 3, "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.CurrentTick)

	plans, err := s.ListWorkerPlans(alice.ID, model.PlanHourly, 0, -1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, plans)
	assert.Equal(t, planner.StubModel, plans[0].Model)

	var fallbacks int
	for _, m := range e.PlannerMetrics(0) {
		if m.Fallback {
			fallbacks++
		}
	}
	assert.Positive(t, fallbacks)
}

func TestDeletedPersonaIsIntegrityError(t *testing.T) {
	e, s, _, bob := pair(t, planner.NewFallback(planner.Stub{}), testOptions())
	require.NoError(t, s.DeletePersona(bob.ID))

	_, err := e.Advance(context.Background(), 1, "manual")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestAdvanceLeaseConflict(t *testing.T) {
	e, s, _, _ := pair(t, planner.NewFallback(planner.Stub{}), testOptions())
	granted, _, err := s.AcquireLease("advance", "other-process", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, granted)

	_, err = e.Advance(context.Background(), 1, "manual")
	assert.ErrorIs(t, err, ErrAdvanceInProgress)
	assert.Equal(t, int64(0), e.Status().CurrentTick)
}

func TestDayEndReports(t *testing.T) {
	opts := testOptions()
	opts.TicksPerDay = 8
	opts.HourlySummaryInterval = 4
	e, s, alice, bob := pair(t, planner.NewFallback(planner.Stub{}), opts)

	_, err := e.Advance(context.Background(), 8, "manual")
	require.NoError(t, err)

	for _, p := range []*model.Persona{alice, bob} {
		sums, err := s.ListHourlySummaries(p.ID, 0, 2)
		require.NoError(t, err)
		assert.Len(t, sums, 2, "%s hourly summaries", p.Name)

		r, err := s.GetDailyReport(p.ID, 0)
		require.NoError(t, err)
		assert.Contains(t, r.Report, "Daily report for "+p.Name)
	}

	again, err := e.EnsureDailyReport(context.Background(), alice.ID, 0)
	require.NoError(t, err)
	first, _ := s.GetDailyReport(alice.ID, 0)
	assert.Equal(t, first.ID, again.ID)
}

func TestParallelPlanning(t *testing.T) {
	opts := testOptions()
	opts.MaxPlanningWorkers = 4
	s := openStore(t)
	people := []*model.Persona{
		addPersona(t, s, "Alice", "Engineering Manager", true),
		addPersona(t, s, "Bob", "Backend Engineer", false),
		addPersona(t, s, "Carol", "Product Designer", false),
		addPersona(t, s, "Dave", "QA Tester", false),
	}
	e := newEngine(t, s, planner.NewFallback(planner.Stub{}), opts)
	require.NoError(t, e.Start(context.Background(), nil))

	res, err := e.Advance(context.Background(), 2, "manual")
	require.NoError(t, err)
	assert.Equal(t, 12, res.PlansGenerated, "two hourly plans and one daily plan each")
	for _, p := range people {
		plans, err := s.ListWorkerPlans(p.ID, model.PlanHourly, 1, 2, 0)
		require.NoError(t, err)
		assert.Len(t, plans, 2, p.Name)
	}
}

func TestRandomSickLeave(t *testing.T) {
	opts := testOptions()
	opts.SickLeaveProbability = 1
	e, s, alice, _ := pair(t, planner.NewFallback(planner.Stub{}), opts)

	_, err := e.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)

	overrides, err := e.Overrides()
	require.NoError(t, err)
	assert.Len(t, overrides, 2)
	assert.Equal(t, int64(481), overrides[0].UntilTick)

	evs, err := s.ListSimEvents()
	require.NoError(t, err)
	assert.Len(t, evs, 2)
	plans, err := s.ListWorkerPlans(alice.ID, model.PlanHourly, 0, -1, 0)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestInjectEvent(t *testing.T) {
	e, s, alice, bob := pair(t, planner.NewFallback(planner.Stub{}), testOptions())

	_, err := e.InjectEvent(model.SimEvent{Type: model.SimEventCustom, TargetIDs: []int64{alice.ID}})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = e.InjectEvent(model.SimEvent{Type: "meteor", TargetIDs: []int64{alice.ID}})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = e.InjectEvent(model.SimEvent{Type: model.SimEventCustom, TargetIDs: []int64{77},
		Payload: map[string]string{"message": "x"}})
	assert.ErrorIs(t, err, ErrPersonaNotFound)

	ev, err := e.InjectEvent(model.SimEvent{Type: model.SimEventClientRequest, TargetIDs: []int64{alice.ID},
		Payload: map[string]string{"feature": "SAML"}})
	require.NoError(t, err)
	assert.NotZero(t, ev.ID)

	inbox, err := e.Inbox(alice.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Client request: SAML", inbox[0].Subject)

	_, err = e.InjectEvent(model.SimEvent{Type: model.SimEventSickLeave, TargetIDs: []int64{bob.ID},
		Payload: map[string]string{"duration_ticks": "3"}})
	require.NoError(t, err)
	overrides, err := s.ListOverrides()
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, int64(3), overrides[0].UntilTick)
}

func TestRestartResumes(t *testing.T) {
	s := openStore(t)
	alice := addPersona(t, s, "Alice", "Engineering Manager", true)
	addPersona(t, s, "Bob", "Backend Engineer", false)
	p := planner.NewFallback(planner.Stub{})

	first := newEngine(t, s, p, testOptions())
	require.NoError(t, first.Start(context.Background(), nil))
	_, err := first.Advance(context.Background(), 2, "manual")
	require.NoError(t, err)
	require.NoError(t, first.SetStatusOverride(alice.ID, model.StatusOffline, 50, "offsite"))
	inboxBefore, err := first.Inbox(alice.ID)
	require.NoError(t, err)

	second := newEngine(t, s, p, testOptions())
	st := second.Status()
	assert.Equal(t, int64(2), st.CurrentTick)
	assert.True(t, st.IsRunning)
	assert.Len(t, second.ActivePersonas(), 2)
	assert.Equal(t, first.RecentEmails(alice.ID)[0].EmailID, second.RecentEmails(alice.ID)[0].EmailID)

	inboxAfter, err := second.Inbox(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, inboxBefore, inboxAfter)

	_, err = second.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)
	plans, err := s.ListWorkerPlans(alice.ID, model.PlanHourly, 3, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, plans, "replayed override still applies")
}

func TestStopAndReset(t *testing.T) {
	e, s, _, _ := pair(t, planner.NewFallback(planner.Stub{}), testOptions())
	ctx := context.Background()
	_, err := e.Advance(ctx, 2, "manual")
	require.NoError(t, err)

	report, err := e.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.TotalTicks)
	assert.False(t, e.Status().IsRunning)
	_, err = e.Stop(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, e.Reset(ctx))
	assert.Equal(t, int64(0), e.Status().CurrentTick)
	assert.Zero(t, s.CountEmails())
	people, err := s.ListPersonas()
	require.NoError(t, err)
	assert.Len(t, people, 2, "reset keeps personas")
}

func TestAutoTicks(t *testing.T) {
	opts := testOptions()
	opts.AutoTickInterval = 10 * time.Millisecond
	e, _, _, _ := pair(t, planner.NewFallback(planner.Stub{}), opts)

	require.NoError(t, e.StartAutoTicks())
	require.NoError(t, e.StartAutoTicks())
	assert.True(t, e.Status().AutoTick)
	require.Eventually(t, func() bool { return e.Status().CurrentTick >= 3 }, 5*time.Second, 10*time.Millisecond)

	e.StopAutoTicks()
	assert.False(t, e.Status().AutoTick)
	stopped := e.Status().CurrentTick
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, e.Status().CurrentTick)
}

func TestAutoTicksRequireRunning(t *testing.T) {
	s := openStore(t)
	e := newEngine(t, s, planner.NewFallback(planner.Stub{}), testOptions())
	assert.ErrorIs(t, e.StartAutoTicks(), ErrNotRunning)
}

func TestMirroredChatDueNowSendsOnce(t *testing.T) {
	opts := testOptions()
	opts.TicksPerDay = 48
	p := &scripted{hourly: map[string]string{
		"Alice": "Chat at 00:30 with bob: sync?",
		"Bob":   "Chat at 00:30 with @alice: sync?",
	}}
	e, s, _, _ := pair(t, p, opts)

	// 00:30 anchors to the tick being planned, so both DMs are due in the
	// same tick's delivery pass.
	_, err := e.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)

	chats, err := s.ListChats("", 500)
	require.NoError(t, err)
	var syncs []model.ChatRecord
	for _, c := range chats {
		if c.Body == "sync?" {
			syncs = append(syncs, c)
		}
	}
	require.Len(t, syncs, 1, "mirrored DM is delivered exactly once")
	assert.Equal(t, "alice", syncs[0].Sender)
	assert.Equal(t, "bob", syncs[0].Recipient)
}

func TestFallbackReachesEveryCollaborator(t *testing.T) {
	s := openStore(t)
	alice := addPersona(t, s, "Alice", "Engineering Manager", true)
	bob := addPersona(t, s, "Bob", "Backend Engineer", false)
	carol := addPersona(t, s, "Carol", "Product Designer", false)
	p := &scripted{hourly: map[string]string{
		"Alice": "Reviewing the roadmap.",
		"Bob":   "Heads down on the API.",
		"Carol": "Sketching the onboarding flow.",
	}}
	e := newEngine(t, s, p, testOptions())
	require.NoError(t, e.Start(context.Background(), nil))

	_, err := e.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)

	chats, err := s.ListChats(bob.ChatHandle, 500)
	require.NoError(t, err)
	nudged := map[string]bool{}
	for _, c := range chats {
		if c.Sender == bob.ChatHandle {
			nudged[c.Recipient] = true
		}
	}
	assert.Equal(t, map[string]bool{"alice": true, "carol": true}, nudged)

	for _, c := range []*model.Persona{alice, carol} {
		mail, err := s.ListEmails(c.EmailAddress, 0)
		require.NoError(t, err)
		var updates int
		for _, m := range mail {
			if m.Sender == bob.EmailAddress && m.Subject == "Update from Bob" {
				updates++
				assert.Equal(t, []string{c.EmailAddress}, m.To)
			}
		}
		assert.Equal(t, 1, updates, "%s gets Bob's status email", c.Name)

		inbox, err := e.Inbox(c.ID)
		require.NoError(t, err)
		var fromBob int
		for _, m := range inbox {
			if m.SenderID == bob.ID && m.MessageType == model.MessageUpdate {
				fromBob++
			}
		}
		assert.Equal(t, 1, fromBob, "%s has Bob's update queued", c.Name)
	}
}

func TestPlanningTimeoutLeavesPlaceholder(t *testing.T) {
	opts := testOptions()
	opts.MaxPlanningWorkers = 2
	opts.PlanningTimeout = 50 * time.Millisecond
	e, s, alice, bob := pair(t, stalls{who: "Bob"}, opts)

	res, err := e.Advance(context.Background(), 2, "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.CurrentTick)

	plans, err := s.ListWorkerPlans(alice.ID, model.PlanHourly, 1, 2, 0)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
	plans, err = s.ListWorkerPlans(bob.ID, model.PlanHourly, 1, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, plans, "timed out planning stores nothing")
	assert.GreaterOrEqual(t, s.CountEvents(model.EventDrop), int64(2))
}

func TestOffHoursPersonaGetsReminder(t *testing.T) {
	opts := testOptions()
	opts.TicksPerDay = 48
	s := openStore(t)
	addPersona(t, s, "Alice", "Engineering Manager", true)
	bob, err := s.CreatePersona(&model.Persona{
		Name: "Bob", Role: "Backend Engineer", ChatHandle: "bob",
		EmailAddress: "bob@vdos.local", WorkHours: "09:00-17:00",
	})
	require.NoError(t, err)
	e := newEngine(t, s, planner.NewFallback(planner.Stub{}), opts)
	require.NoError(t, e.Start(context.Background(), nil))

	e.addAdjustment(bob.ID, "Client call moved to 15:00")
	_, err = e.Advance(context.Background(), 1, "manual")
	require.NoError(t, err)

	plans, err := s.ListWorkerPlans(bob.ID, model.PlanHourly, 1, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, plans, "no planning before 09:00")

	inbox, err := e.Inbox(bob.ID)
	require.NoError(t, err)
	var reminders []model.InboundMessage
	for _, m := range inbox {
		if m.Reminder {
			reminders = append(reminders, m)
		}
	}
	require.Len(t, reminders, 1)
	assert.Contains(t, reminders[0].Summary, "Client call moved to 15:00")
	assert.Empty(t, e.adjustments[bob.ID])
}

func TestAttemptCapPerMinute(t *testing.T) {
	quiet := &scripted{hourly: map[string]string{"Alice": "Heads down.", "Bob": "Heads down."}}
	opts := testOptions()
	// Three ticks per simulated minute: ticks 1 and 2 share minute 0,
	// tick 3 falls on minute 1.
	opts.TicksPerDay = 4320
	opts.MaxPlansPerMinute = 1
	e, s, alice, _ := pair(t, quiet, opts)

	_, err := e.Advance(context.Background(), 3, "manual")
	require.NoError(t, err)
	plans, err := s.ListWorkerPlans(alice.ID, model.PlanHourly, 1, 3, 0)
	require.NoError(t, err)
	var ticks []int64
	for _, p := range plans {
		ticks = append(ticks, p.Tick)
	}
	assert.ElementsMatch(t, []int64{1, 3}, ticks)

	opts.MaxPlansPerMinute = 2
	e, s, alice, _ = pair(t, quiet, opts)
	_, err = e.Advance(context.Background(), 2, "manual")
	require.NoError(t, err)
	plans, err = s.ListWorkerPlans(alice.ID, model.PlanHourly, 1, 2, 0)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

func TestExcerptKeepsRunesWhole(t *testing.T) {
	got := excerpt("- " + strings.Repeat("é", 300) + "\nsecond line")
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 200, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))

	assert.Equal(t, "Ship it", excerpt("\n  * Ship it\nlater"))
	assert.Equal(t, "No update.", excerpt("  \n"))
}
