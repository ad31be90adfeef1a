package planner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/virtualoffice/pkg/model"
)

var alice = &model.Persona{ID: 1, Name: "Alice", Role: "Engineer", EmailAddress: "alice@vdos.local", ChatHandle: "alice"}

func TestStub_Deterministic(t *testing.T) {
	ctx := context.Background()
	req := Request{Persona: alice, DayIndex: 0, SimTime: "Day 1 09:00", Context: []string{"review PR"}}
	for _, m := range []Method{MethodProjectPlan, MethodDailyPlan, MethodHourlyPlan,
		MethodHourlySummary, MethodDailyReport, MethodSimulationReport} {
		a, err := Invoke(ctx, Stub{}, m, req)
		require.NoError(t, err, m)
		b, _ := Invoke(ctx, Stub{}, m, req)
		assert.Equal(t, a, b, "stub %s must be deterministic", m)
		assert.NotEmpty(t, a.Content)
		assert.Equal(t, StubModel, a.Model)
	}

	hourly, _ := Stub{}.GenerateHourlyPlan(ctx, req)
	assert.Contains(t, hourly.Content, "Follow up: review PR")
}

func TestInvoke_UnknownMethod(t *testing.T) {
	_, err := Invoke(context.Background(), Stub{}, Method("nope"), Request{})
	require.Error(t, err)
}

func completionServer(t *testing.T, status int, body any) (*httptest.Server, *http.Request) {
	t.Helper()
	var seen http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = *r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestLLM_Success(t *testing.T) {
	srv, seen := completionServer(t, http.StatusOK, map[string]any{
		"model":   "gpt-test-0613",
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "  Plan text \n"}}},
		"usage":   map[string]int{"total_tokens": 42},
	})
	l := NewLLM(srv.URL+"/", "gpt-test", "sk-x", 0.2, time.Second)

	res, err := l.GenerateHourlyPlan(context.Background(), Request{Persona: alice, SimTime: "Day 1 09:00"})
	require.NoError(t, err)
	assert.Equal(t, "Plan text", res.Content)
	assert.Equal(t, "gpt-test-0613", res.Model)
	assert.Equal(t, 42, res.TokensUsed)
	assert.Equal(t, "/chat/completions", seen.URL.Path)
	assert.Equal(t, "Bearer sk-x", seen.Header.Get("Authorization"))
	assert.Equal(t, "llm:gpt-test", l.Name())
}

func TestLLM_Errors(t *testing.T) {
	srv, _ := completionServer(t, http.StatusTooManyRequests, map[string]any{
		"error": map[string]string{"message": "rate limited"},
	})
	_, err := NewLLM(srv.URL, "m", "", 0, time.Second).GenerateDailyPlan(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	empty, _ := completionServer(t, http.StatusOK, map[string]any{"choices": []any{}})
	_, err = NewLLM(empty.URL, "m", "", 0, time.Second).GenerateDailyPlan(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

// failing always errors.
type failing struct{ Stub }

func (failing) Name() string { return "failing" }
func (failing) GenerateHourlyPlan(context.Context, Request) (Result, error) {
	return Result{}, errors.New("upstream 500")
}

// brokenStub is a stub that fails, to exercise the no-further-fallback path.
type brokenStub struct{ Stub }

func (brokenStub) GenerateDailyPlan(context.Context, Request) (Result, error) {
	return Result{}, errors.New("stub broke")
}

func TestFallback_Success(t *testing.T) {
	f := NewFallback(Stub{})
	before := testutil.ToFloat64(plannerCalls.WithLabelValues("daily_plan", "stub", "ok"))

	res, err := f.GenerateDailyPlan(context.Background(), Request{Persona: alice})
	require.NoError(t, err)
	assert.Equal(t, StubModel, res.Model)

	m := f.Metrics(0)
	require.Len(t, m, 1)
	assert.False(t, m[0].Fallback)
	assert.Equal(t, "daily_plan", m[0].Method)
	assert.Equal(t, before+1, testutil.ToFloat64(plannerCalls.WithLabelValues("daily_plan", "stub", "ok")))
}

func TestFallback_FallsBackToStub(t *testing.T) {
	f := NewFallback(failing{})
	res, err := f.GenerateHourlyPlan(context.Background(), Request{Persona: alice, SimTime: "Day 1 09:03"})
	require.NoError(t, err)
	assert.Equal(t, StubModel, res.Model)

	m := f.Metrics(0)
	require.Len(t, m, 1)
	assert.True(t, m[0].Fallback)
	assert.Equal(t, "failing", m[0].Planner)
	assert.Contains(t, m[0].Error, "upstream 500")
	assert.Equal(t, "Alice @ Day 1 09:03", m[0].Context)
}

func TestFallback_Strict(t *testing.T) {
	f := NewFallback(failing{}, WithStrict(true))
	_, err := f.GenerateHourlyPlan(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStrictPlanning)
	assert.Contains(t, err.Error(), "upstream 500")
	assert.True(t, f.Strict())
	assert.False(t, f.Metrics(0)[0].Fallback)
}

func TestFallback_StubFailurePropagates(t *testing.T) {
	f := NewFallback(brokenStub{})
	_, err := f.GenerateDailyPlan(context.Background(), Request{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStrictPlanning)
	assert.Contains(t, err.Error(), "stub broke")
}

func TestFallback_MetricsRing(t *testing.T) {
	f := NewFallback(Stub{})
	long := strings.Repeat("x", 500)
	for i := 0; i < MetricsCapacity+25; i++ {
		_, err := f.GenerateHourlySummary(context.Background(), Request{HourIndex: int64(i), SimTime: long})
		require.NoError(t, err)
	}
	all := f.Metrics(0)
	require.Len(t, all, MetricsCapacity)
	assert.True(t, all[0].Timestamp.Before(all[len(all)-1].Timestamp) || all[0].Timestamp.Equal(all[len(all)-1].Timestamp))
	assert.LessOrEqual(t, len(all[0].Context), maxContextLen)

	assert.Len(t, f.Metrics(5), 5)
}

func TestRequestContext_TruncatesOnRunes(t *testing.T) {
	got := requestContext(Request{Persona: alice, SimTime: "Day 1 09:00", Context: []string{strings.Repeat("日", 400)}})
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxContextLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasPrefix(got, "Alice @ Day 1 09:00: "))
}
