package planner_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/c360studio/semplan/llm"
	_ "github.com/c360studio/semplan/llm/providers" // Register providers
	"github.com/c360studio/semplan/llm/testutil"
	"github.com/c360studio/semplan/model"
	"github.com/c360studio/semplan/planner"
	"github.com/c360studio/semplan/session"
	"github.com/c360studio/semplan/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

func providerConfig(name, url string) llm.ProviderConfig {
	return llm.ProviderConfig{
		Name:    name,
		Dialect: "openai",
		APIKey:  "test-key",
		BaseURL: url,
		Model:   name + "-model",
	}
}

// newHTTPPlanner builds a real client stack against a scripted server.
func newHTTPPlanner(t *testing.T, cfg llm.ProviderConfig) planner.Planner {
	t.Helper()
	client, err := llm.NewClient(cfg,
		llm.WithLogger(discardLogger()),
		llm.WithSleeper(noSleep),
		llm.WithRetryConfig(llm.DefaultRetryConfig()))
	require.NoError(t, err)
	return planner.NewClient(client, planner.WithClientLogger(discardLogger()))
}

func scriptedPlan(title string, n int) *workflow.Plan {
	p := &workflow.Plan{ID: "scripted", Title: title, Status: workflow.StatusDraft}
	for i := 1; i <= n; i++ {
		task := workflow.Task{ID: workflow.TaskID(strconv.Itoa(i)), Title: title}
		if i > 1 {
			task.Dependencies = []workflow.TaskID{workflow.TaskID(strconv.Itoa(i - 1))}
		}
		p.Tasks = append(p.Tasks, task)
	}
	return p
}

func newCoordinator(registry *model.Registry, planners map[string]planner.Planner, opts ...planner.Option) *planner.Coordinator {
	opts = append([]planner.Option{
		planner.WithLogger(discardLogger()),
		planner.WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return planner.NewCoordinator(registry, planners, opts...)
}

func TestCoordinator_FallbackOrdering(t *testing.T) {
	primarySrv := testutil.NewScriptedHandler(testutil.Step{Status: http.StatusServiceUnavailable, Body: "overloaded"})
	primary := httptest.NewServer(primarySrv)
	defer primary.Close()

	secondarySrv := testutil.NewScriptedHandler(testutil.Step{Content: "Sorry, I cannot produce JSON today."})
	secondary := httptest.NewServer(secondarySrv)
	defer secondary.Close()

	pcfg, scfg := providerConfig("primary", primary.URL), providerConfig("secondary", secondary.URL)
	registry := model.NewRegistry([]llm.ProviderConfig{pcfg, scfg})
	coord := newCoordinator(registry, map[string]planner.Planner{
		"primary":   newHTTPPlanner(t, pcfg),
		"secondary": newHTTPPlanner(t, scfg),
	})

	sess := session.New("s1", fixedNow)
	res, err := coord.GeneratePlan(context.Background(), sess, planner.Request{Goal: "Build a REST API"})
	require.NoError(t, err)

	// 503 is retried to exhaustion: MaxRetries+1 attempts
	assert.Equal(t, 4, primarySrv.Calls())
	// Parse failure is not retried: exactly one call
	assert.Equal(t, 1, secondarySrv.Calls())

	assert.Equal(t, planner.OutcomeHeuristic, res.Outcome)
	assert.Empty(t, res.Provider)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "primary", res.Attempts[0].Provider)
	assert.ErrorIs(t, res.Attempts[0].Err, llm.ErrServiceUnavailable)
	assert.Equal(t, "secondary", res.Attempts[1].Provider)
	assert.ErrorIs(t, res.Attempts[1].Err, llm.ErrParse)

	require.NoError(t, workflow.Validate(res.Plan))
	assert.Equal(t, "Plan for: Build a REST API", res.Plan.Title)

	// Primary's transport failure counts against its health, the parse
	// failure does not.
	assert.Equal(t, 1, registry.GetEndpointHealth("primary").FailureCount)
	assert.Equal(t, "ServiceUnavailable", registry.GetEndpointHealth("primary").LastErrorKind)
	assert.Nil(t, registry.GetEndpointHealth("secondary"))

	require.NotNil(t, sess.ActivePlan())
	assert.Equal(t, res.Plan.ID, sess.ActivePlanID)
}

func TestCoordinator_NoProvider(t *testing.T) {
	coord := newCoordinator(model.NewRegistry(nil), nil)
	sess := session.New("s1", fixedNow)

	res, err := coord.GeneratePlan(context.Background(), sess, planner.Request{Goal: "Build a REST API"})
	require.NoError(t, err)

	assert.Equal(t, planner.OutcomeHeuristic, res.Outcome)
	assert.Empty(t, res.Attempts)
	assert.Equal(t, "Plan for: Build a REST API", res.Plan.Title)
	require.Len(t, res.Plan.Tasks, 4)
	assert.Empty(t, res.Plan.Tasks[0].Dependencies)
	for i := 1; i < 4; i++ {
		assert.Equal(t, []workflow.TaskID{res.Plan.Tasks[i-1].ID}, res.Plan.Tasks[i].Dependencies)
	}

	require.Len(t, sess.History, 2)
	assert.Equal(t, workflow.RoleUser, sess.History[0].Role)
	assert.Equal(t, "Build a REST API", sess.History[0].Content)
	assert.Equal(t, workflow.RoleAssistant, sess.History[1].Role)
	assert.Contains(t, sess.History[1].Content, "heuristic")
	assert.Equal(t, fixedNow, sess.UpdatedAt)
}

func TestCoordinator_NamedProviderNotConfigured(t *testing.T) {
	openai := &testutil.ScriptedPlanner{ProviderName: "openai", Plans: []*workflow.Plan{scriptedPlan("x", 1)}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "openai", Dialect: "openai"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"openai": openai})

	sess := session.New("s1", fixedNow)
	res, err := coord.GeneratePlan(context.Background(), sess, planner.Request{Goal: "goal", Provider: "anthropic"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, llm.ErrConfiguration)
	assert.Equal(t, "anthropic", llm.ProviderOf(err))
	assert.Equal(t, 0, openai.Calls(), "no substitution for a named provider")

	last, ok := sess.History.Last()
	require.True(t, ok)
	assert.Equal(t, workflow.RoleSystem, last.Role)
	assert.Nil(t, sess.ActivePlan())
}

func TestCoordinator_PrimarySucceeds(t *testing.T) {
	openai := &testutil.ScriptedPlanner{ProviderName: "openai", Plans: []*workflow.Plan{scriptedPlan("From openai", 3)}}
	groq := &testutil.ScriptedPlanner{ProviderName: "groq"}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "openai"}, {Name: "groq"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"openai": openai, "groq": groq})

	sess := session.New("s1", fixedNow)
	res, err := coord.GeneratePlan(context.Background(), sess, planner.Request{Goal: "goal"})
	require.NoError(t, err)

	assert.Equal(t, planner.OutcomePrimary, res.Outcome)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "From openai", res.Plan.Title)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 0, groq.Calls())
	assert.Equal(t, "From openai", sess.ActivePlan().Title)
}

func TestCoordinator_ExplicitProviderIsPrimary(t *testing.T) {
	openai := &testutil.ScriptedPlanner{ProviderName: "openai"}
	groq := &testutil.ScriptedPlanner{ProviderName: "groq", Plans: []*workflow.Plan{scriptedPlan("From groq", 1)}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "openai"}, {Name: "groq"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"openai": openai, "groq": groq})

	res, err := coord.GeneratePlan(context.Background(), session.New("s1", fixedNow), planner.Request{Goal: "goal", Provider: "groq"})
	require.NoError(t, err)
	assert.Equal(t, "groq", res.Provider)
	assert.Equal(t, planner.OutcomePrimary, res.Outcome)
	assert.Equal(t, 0, openai.Calls())
}

func TestCoordinator_OnlyOneAlternate(t *testing.T) {
	fail := errors.New("boom")
	a := &testutil.ScriptedPlanner{ProviderName: "a", Errs: []error{fail}}
	b := &testutil.ScriptedPlanner{ProviderName: "b", Errs: []error{fail}}
	c := &testutil.ScriptedPlanner{ProviderName: "c", Plans: []*workflow.Plan{scriptedPlan("c", 1)}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a, "b": b, "c": c})

	res, err := coord.GeneratePlan(context.Background(), session.New("s1", fixedNow), planner.Request{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, planner.OutcomeHeuristic, res.Outcome)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b.Calls())
	assert.Equal(t, 0, c.Calls(), "no cascading past one alternate")
}

func TestCoordinator_FallbackSucceeds(t *testing.T) {
	a := &testutil.ScriptedPlanner{ProviderName: "a", Errs: []error{llm.NewError(llm.KindRateLimited, errors.New("429"))}}
	b := &testutil.ScriptedPlanner{ProviderName: "b", Plans: []*workflow.Plan{scriptedPlan("From b", 2)}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}, {Name: "b"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a, "b": b})

	sess := session.New("s1", fixedNow)
	res, err := coord.GeneratePlan(context.Background(), sess, planner.Request{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, planner.OutcomeFallback, res.Outcome)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, "a", llm.ProviderOf(res.Attempts[0].Err))

	last, _ := sess.History.Last()
	assert.Contains(t, last.Content, "fallback provider b")
}

func TestCoordinator_AlternateSkipsOpenCircuit(t *testing.T) {
	fail := errors.New("boom")
	a := &testutil.ScriptedPlanner{ProviderName: "a", Errs: []error{fail}}
	b := &testutil.ScriptedPlanner{ProviderName: "b"}
	c := &testutil.ScriptedPlanner{ProviderName: "c", Plans: []*workflow.Plan{scriptedPlan("From c", 1)}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	for range 3 {
		registry.MarkEndpointFailure("b", nil)
	}
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a, "b": b, "c": c})

	res, err := coord.GeneratePlan(context.Background(), session.New("s1", fixedNow), planner.Request{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, "c", res.Provider)
	assert.Equal(t, 0, b.Calls())
}

func TestCoordinator_FormatHintReachesAlternate(t *testing.T) {
	a := &testutil.MockLLMClient{ProviderName: "a", Responses: []*llm.Response{{Content: "not json at all"}}}
	b := &testutil.MockLLMClient{ProviderName: "b", Responses: []*llm.Response{{Content: `{"title":"ok","tasks":[]}`}}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}, {Name: "b"}})
	coord := newCoordinator(registry, map[string]planner.Planner{
		"a": newPlannerClient(a),
		"b": newPlannerClient(b),
	})

	res, err := coord.GeneratePlan(context.Background(), session.New("s1", fixedNow), planner.Request{Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, planner.OutcomeFallback, res.Outcome)

	first, _ := a.LastRequest()
	assert.NotContains(t, first.Messages[len(first.Messages)-1].Content, "previous attempt failed")
	second, _ := b.LastRequest()
	assert.Contains(t, second.Messages[len(second.Messages)-1].Content, "The previous attempt failed")
}

func TestCoordinator_WithoutHeuristic(t *testing.T) {
	a := &testutil.ScriptedPlanner{ProviderName: "a", Errs: []error{llm.NewParseError(errors.New("bad"))}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a}, planner.WithoutHeuristic())

	sess := session.New("s1", fixedNow)
	_, err := coord.GeneratePlan(context.Background(), sess, planner.Request{Goal: "goal"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrParse)
	assert.Equal(t, "a", llm.ProviderOf(err))

	last, _ := sess.History.Last()
	assert.Equal(t, workflow.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "ParseError")
}

func TestCoordinator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &testutil.ScriptedPlanner{ProviderName: "a", Errs: []error{llm.NewTransportError(context.Canceled)}}
	b := &testutil.ScriptedPlanner{ProviderName: "b"}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}, {Name: "b"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a, "b": b})

	cancel()
	_, err := coord.GeneratePlan(ctx, session.New("s1", fixedNow), planner.Request{Goal: "goal"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.Calls())
}

func TestCoordinator_EmptyGoal(t *testing.T) {
	coord := newCoordinator(model.NewRegistry(nil), nil)
	_, err := coord.GeneratePlan(context.Background(), session.New("s1", fixedNow), planner.Request{Goal: " "})
	assert.ErrorIs(t, err, llm.ErrValidation)
}

func TestCoordinator_HistoryWindow(t *testing.T) {
	a := &testutil.ScriptedPlanner{ProviderName: "a", Plans: []*workflow.Plan{scriptedPlan("x", 1)}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a}, planner.WithHistoryWindow(2))

	sess := session.New("s1", fixedNow)
	for _, m := range []string{"one", "two", "three"} {
		sess.History.Append(workflow.RoleUser, m, fixedNow)
	}

	_, err := coord.GeneratePlan(context.Background(), sess, planner.Request{Goal: "goal"})
	require.NoError(t, err)

	histories := a.Histories()
	require.Len(t, histories, 1)
	require.Len(t, histories[0], 2)
	assert.Equal(t, "two", histories[0][0].Content)
	assert.Equal(t, "three", histories[0][1].Content)
}

func TestCoordinator_RefinePlan(t *testing.T) {
	a := &testutil.ScriptedPlanner{ProviderName: "a", Plans: []*workflow.Plan{scriptedPlan("Refined", 2)}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a})

	sess := session.New("s1", fixedNow)
	original := workflow.HeuristicPlan("goal", fixedNow)
	sess.PutPlan(original)

	res, err := coord.RefinePlan(context.Background(), sess, planner.Request{Feedback: "merge steps"})
	require.NoError(t, err)

	assert.Equal(t, original.ID, res.Plan.ID)
	assert.Equal(t, "Refined", sess.ActivePlan().Title)
	assert.Len(t, sess.Plans, 1)
	assert.Equal(t, []string{"merge steps"}, a.Feedback())
	assert.Equal(t, planner.OutcomePrimary, res.Outcome)
}

func TestCoordinator_RefinePlan_Errors(t *testing.T) {
	t.Run("no active plan", func(t *testing.T) {
		a := &testutil.ScriptedPlanner{ProviderName: "a"}
		coord := newCoordinator(model.NewRegistry([]llm.ProviderConfig{{Name: "a"}}), map[string]planner.Planner{"a": a})

		_, err := coord.RefinePlan(context.Background(), session.New("s1", fixedNow), planner.Request{Feedback: "x"})
		assert.ErrorIs(t, err, llm.ErrConfiguration)
		assert.ErrorIs(t, err, planner.ErrNoActivePlan)
		assert.Equal(t, 0, a.Calls())
	})

	t.Run("no provider and no heuristic", func(t *testing.T) {
		coord := newCoordinator(model.NewRegistry(nil), nil)
		sess := session.New("s1", fixedNow)
		sess.PutPlan(workflow.HeuristicPlan("goal", fixedNow))

		_, err := coord.RefinePlan(context.Background(), sess, planner.Request{Feedback: "x"})
		assert.ErrorIs(t, err, llm.ErrConfiguration)
	})

	t.Run("both providers fail", func(t *testing.T) {
		a := &testutil.ScriptedPlanner{ProviderName: "a", Errs: []error{errors.New("down")}}
		b := &testutil.ScriptedPlanner{ProviderName: "b", Errs: []error{llm.NewValidationError(workflow.ErrDependencyCycle)}}
		coord := newCoordinator(model.NewRegistry([]llm.ProviderConfig{{Name: "a"}, {Name: "b"}}),
			map[string]planner.Planner{"a": a, "b": b})
		sess := session.New("s1", fixedNow)
		original := workflow.HeuristicPlan("goal", fixedNow)
		sess.PutPlan(original)

		_, err := coord.RefinePlan(context.Background(), sess, planner.Request{Feedback: "x"})
		assert.ErrorIs(t, err, workflow.ErrDependencyCycle)
		assert.Equal(t, "b", llm.ProviderOf(err))
		assert.Equal(t, original.Title, sess.ActivePlan().Title)
	})
}

func TestCoordinator_Critique(t *testing.T) {
	a := &testutil.ScriptedPlanner{ProviderName: "a", Errs: []error{llm.NewError(llm.KindServiceUnavailable, errors.New("503"))}}
	b := &testutil.ScriptedPlanner{ProviderName: "b", Critiques: []string{"Looks reasonable."}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}, {Name: "b"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a, "b": b})

	sess := session.New("s1", fixedNow)
	sess.PutPlan(workflow.HeuristicPlan("goal", fixedNow))

	res, err := coord.Critique(context.Background(), sess, planner.Request{})
	require.NoError(t, err)
	assert.Equal(t, "Looks reasonable.", res.Critique)
	assert.Equal(t, planner.OutcomeFallback, res.Outcome)

	last, _ := sess.History.Last()
	assert.Equal(t, workflow.RoleAssistant, last.Role)
	assert.Equal(t, "Looks reasonable.", last.Content)
}

func TestCoordinator_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	a := &testutil.ScriptedPlanner{ProviderName: "a", Errs: []error{errors.New("down")}}
	registry := model.NewRegistry([]llm.ProviderConfig{{Name: "a"}})
	coord := newCoordinator(registry, map[string]planner.Planner{"a": a}, planner.WithTracer(tp.Tracer("test")))

	_, err := coord.GeneratePlan(context.Background(), session.New("s1", fixedNow), planner.Request{Goal: "goal"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "planner.generate.attempt", spans[0].Name())
	assert.Equal(t, "planner.generate", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	var outcome string
	for _, kv := range spans[1].Attributes() {
		if kv.Key == planner.AttrOutcome {
			outcome = kv.Value.AsString()
		}
	}
	assert.Equal(t, string(planner.OutcomeHeuristic), outcome)
}
