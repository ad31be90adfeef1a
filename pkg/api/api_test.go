package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/virtualoffice/pkg/engine"
	"github.com/daviddao/virtualoffice/pkg/gateway"
	"github.com/daviddao/virtualoffice/pkg/logging"
	"github.com/daviddao/virtualoffice/pkg/model"
	"github.com/daviddao/virtualoffice/pkg/planner"
	"github.com/daviddao/virtualoffice/pkg/store"
)

func init() { gin.SetMode(gin.TestMode) }

func newServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "vo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	gw := gateway.NewStoreGateway(s)
	e, err := engine.New(s, planner.NewFallback(planner.Stub{}), gw, gw, engine.Options{
		TicksPerDay:           48,
		HourlySummaryInterval: 2,
		MaxPlanningWorkers:    1,
		PlanningTimeout:       5 * time.Second,
		AutoTickInterval:      time.Second,
		StartTime:             time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		ProjectName:           "Launchpad",
	}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { e.StopAutoTicks() })
	return New(e, s, logging.Nop()), s
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func addPeople(t *testing.T, srv *Server) (alice, bob model.Persona) {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/api/v1/people", model.Persona{
		Name: "Alice Kim", Role: "Engineering Manager", WorkHours: "00:00-23:59",
		EmailAddress: "alice@vdos.local", ChatHandle: "alice", IsDepartmentHead: true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	alice = decode[model.Persona](t, w)

	w = do(t, srv, http.MethodPost, "/api/v1/people", model.Persona{
		Name: "Bob Lee", Role: "Backend Engineer", WorkHours: "00:00-23:59",
		EmailAddress: "bob@vdos.local", ChatHandle: "bob",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bob = decode[model.Persona](t, w)
	return alice, bob
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	w := do(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newServer(t)
	addPeople(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil).Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/advance", AdvanceRequest{Ticks: 1}).Code)

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vo_ticks_total")
	assert.Contains(t, w.Body.String(), "vo_planner_calls_total")
}

func TestAdvanceRequiresRunning(t *testing.T) {
	srv, _ := newServer(t)
	w := do(t, srv, http.MethodPost, "/api/v1/simulation/advance", AdvanceRequest{Ticks: 1})
	require.Equal(t, http.StatusConflict, w.Code)
	er := decode[ErrorResponse](t, w)
	assert.Equal(t, "conflict", er.Error)
	assert.Equal(t, http.StatusConflict, er.Code)
}

func TestAdvanceValidation(t *testing.T) {
	srv, _ := newServer(t)
	addPeople(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil).Code)

	w := do(t, srv, http.MethodPost, "/api/v1/simulation/advance", map[string]any{"ticks": -2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/simulation/advance", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSimulationLifecycle(t *testing.T) {
	srv, _ := newServer(t)
	addPeople(t, srv)

	w := do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/api/v1/simulation/advance", AdvanceRequest{Ticks: 3, Reason: "kickoff"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[engine.AdvanceResult](t, w)
	assert.Equal(t, int64(3), res.CurrentTick)
	assert.Positive(t, res.PlansGenerated)

	st := decode[model.SimulationStatus](t, do(t, srv, http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, int64(3), st.CurrentTick)
	assert.True(t, st.IsRunning)

	w = do(t, srv, http.MethodGet, "/api/v1/project-plan", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Launchpad", decode[model.ProjectPlan](t, w).ProjectName)

	w = do(t, srv, http.MethodPost, "/api/v1/simulation/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reports := decode[[]model.SimulationReport](t, do(t, srv, http.MethodGet, "/api/v1/reports/simulation", nil))
	require.Len(t, reports, 1)
	assert.Equal(t, int64(3), reports[0].TotalTicks)

	w = do(t, srv, http.MethodPost, "/api/v1/simulation/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st = decode[model.SimulationStatus](t, w)
	assert.Equal(t, int64(0), st.CurrentTick)
	assert.False(t, st.IsRunning)
}

func TestAdvanceOutlivesClientDisconnect(t *testing.T) {
	srv, _ := newServer(t)
	addPeople(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil).Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b, err := json.Marshal(AdvanceRequest{Ticks: 4})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/simulation/advance", bytes.NewReader(b)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(4), decode[engine.AdvanceResult](t, w).CurrentTick)
}

func TestPersonaCRUD(t *testing.T) {
	srv, _ := newServer(t)
	alice, _ := addPeople(t, srv)

	w := do(t, srv, http.MethodPost, "/api/v1/people", model.Persona{Name: "Alice Kim", EmailAddress: "a2@vdos.local", ChatHandle: "a2"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/people", model.Persona{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	people := decode[[]model.Persona](t, do(t, srv, http.MethodGet, "/api/v1/people", nil))
	assert.Len(t, people, 2)

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/people/%d", alice.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode[model.Persona](t, w).ChatHandle)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/people/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/people/999", nil).Code)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/people/%d", alice.ID), nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/people/%d", alice.ID), nil).Code)
}

func TestStartWithUnknownPersona(t *testing.T) {
	srv, _ := newServer(t)
	addPeople(t, srv)
	w := do(t, srv, http.MethodPost, "/api/v1/simulation/start", StartRequest{PersonaIDs: []int64{42}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartWithoutPersonas(t *testing.T) {
	srv, _ := newServer(t)
	w := do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOverrides(t *testing.T) {
	srv, _ := newServer(t)
	_, bob := addPeople(t, srv)
	path := fmt.Sprintf("/api/v1/people/%d/override", bob.ID)

	w := do(t, srv, http.MethodPut, path, OverrideRequest{Status: "Napping", UntilTick: 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPut, path, OverrideRequest{Status: model.StatusOnLeave, UntilTick: 10, Reason: "vacation"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	list := decode[[]model.StatusOverride](t, do(t, srv, http.MethodGet, "/api/v1/overrides", nil))
	require.Len(t, list, 1)
	assert.Equal(t, bob.ID, list[0].WorkerID)
	assert.Equal(t, int64(10), list[0].UntilTick)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, path, nil).Code)
	list = decode[[]model.StatusOverride](t, do(t, srv, http.MethodGet, "/api/v1/overrides", nil))
	assert.Empty(t, list)

	w = do(t, srv, http.MethodPut, "/api/v1/people/999/override", OverrideRequest{Status: model.StatusAbsent, UntilTick: 3})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInjectEvent(t *testing.T) {
	srv, _ := newServer(t)
	alice, _ := addPeople(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil).Code)

	w := do(t, srv, http.MethodPost, "/api/v1/events", model.SimEvent{
		Type: model.SimEventClientRequest, TargetIDs: []int64{alice.ID},
		Payload: map[string]string{"feature": "CSV export"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	inbox := decode[[]model.InboundMessage](t, do(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/people/%d/inbox", alice.ID), nil))
	require.Len(t, inbox, 1)
	assert.Equal(t, "Client request: CSV export", inbox[0].Subject)

	evs := decode[[]model.SimEvent](t, do(t, srv, http.MethodGet, "/api/v1/events", nil))
	require.Len(t, evs, 1)

	w = do(t, srv, http.MethodPost, "/api/v1/events", model.SimEvent{Type: "meteor", TargetIDs: []int64{alice.ID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, srv, http.MethodPost, "/api/v1/events", model.SimEvent{Type: model.SimEventCustom, TargetIDs: []int64{alice.ID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlansAndReports(t *testing.T) {
	srv, _ := newServer(t)
	alice, _ := addPeople(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil).Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/advance", AdvanceRequest{Ticks: 4}).Code)

	base := fmt.Sprintf("/api/v1/people/%d", alice.ID)
	hourly := decode[[]model.WorkerPlan](t, do(t, srv, http.MethodGet, base+"/plans", nil))
	assert.NotEmpty(t, hourly)
	daily := decode[[]model.WorkerPlan](t, do(t, srv, http.MethodGet, base+"/plans?type=daily", nil))
	require.Len(t, daily, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, base+"/plans?type=weekly", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, base+"/plans?from=x", nil).Code)

	w := do(t, srv, http.MethodPost, base+"/daily-plan?day=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, daily[0].Content, decode[model.WorkerPlan](t, w).Content)

	sums := decode[[]model.HourlySummary](t, do(t, srv, http.MethodGet, base+"/hourly-summaries", nil))
	assert.NotEmpty(t, sums)

	w = do(t, srv, http.MethodGet, base+"/daily-reports?day=0", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(0), decode[model.DailyReport](t, w).DayIndex)
	reports := decode[[]model.DailyReport](t, do(t, srv, http.MethodGet, base+"/daily-reports", nil))
	assert.Len(t, reports, 1)

	usage := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/token-usage", nil))
	assert.Contains(t, usage, "total_tokens")
}

func TestMailAndLog(t *testing.T) {
	srv, _ := newServer(t)
	addPeople(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil).Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/advance", AdvanceRequest{Ticks: 2}).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/mail", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/chats", nil).Code)

	emails := decode[[]model.EmailRecord](t, do(t, srv, http.MethodGet, "/api/v1/mail?address=bob@vdos.local", nil))
	assert.NotEmpty(t, emails)

	evs := decode[[]model.Event](t, do(t, srv, http.MethodGet, "/api/v1/log?since=1", nil))
	require.NotEmpty(t, evs)
	for _, ev := range evs {
		assert.GreaterOrEqual(t, ev.Tick, int64(1))
	}
	page := decode[[]model.Event](t, do(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/log?after=%d", evs[0].ID), nil))
	assert.Len(t, page, len(evs)-1)
}

func TestAutoTickToggle(t *testing.T) {
	srv, _ := newServer(t)
	w := do(t, srv, http.MethodPost, "/api/v1/simulation/auto-tick", AutoTickRequest{Enabled: true})
	assert.Equal(t, http.StatusConflict, w.Code)

	addPeople(t, srv)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/simulation/start", nil).Code)
	w = do(t, srv, http.MethodPost, "/api/v1/simulation/auto-tick", AutoTickRequest{Enabled: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[model.SimulationStatus](t, w).AutoTick)

	w = do(t, srv, http.MethodPost, "/api/v1/simulation/auto-tick", AutoTickRequest{Enabled: false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[model.SimulationStatus](t, w).AutoTick)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{engine.ErrInvalidTicks, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", engine.ErrPersonaNotFound), http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{engine.ErrAdvanceInProgress, http.StatusConflict},
		{fmt.Errorf("x: %w", planner.ErrStrictPlanning), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, _ := errorStatus(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestRequestBodyMustBeJSON(t *testing.T) {
	srv, _ := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/simulation/advance", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
