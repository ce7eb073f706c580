package executor

import (
	"context"
	"testing"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/llm/llmtest"
	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/rag/chain"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/intent"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/response"
	"agentic-retrieval-be/pkg/rag/synthesis"
	"agentic-retrieval-be/pkg/rag/tools"
	"agentic-retrieval-be/pkg/search"
	"agentic-retrieval-be/pkg/search/memindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var scope = search.Scope{UserID: "u1", Token: "tok"}

func corpus(now time.Time) *memindex.Index {
	return memindex.New(
		memindex.Document{Owner: "u1", Item: search.Item{
			ID: "m1", App: query.AppMail, Entity: query.EntityMessage,
			Title: "GPT-5 access", Snippet: "OpenAI is rolling out access to your workspace",
			Timestamp: now.Add(-48 * time.Hour),
			Fields:    map[string]interface{}{"from": "OpenAI <news@openai.com>"},
		}},
		memindex.Document{Owner: "u1", Item: search.Item{
			ID: "m2", App: query.AppMail, Entity: query.EntityMessage,
			Title: "Lunch?", Snippet: "Are you free on Thursday",
			Timestamp: now.Add(-24 * time.Hour),
			Fields:    map[string]interface{}{"from": "John Smith <john@acme.io>"},
		}},
		memindex.Document{Owner: "u1", Item: search.Item{
			ID: "e1", App: query.AppCalendar, Entity: query.EntityEvent,
			Title: "Retro", Timestamp: now.Add(-24 * time.Hour),
		}},
		memindex.Document{Owner: "u1", Item: search.Item{
			ID: "c1", App: query.AppDirectory, Entity: query.EntityContact,
			Title: "John Smith", Snippet: "Engineering",
			Fields: map[string]interface{}{"email": "john@acme.io"},
		}},
		memindex.Document{Owner: "u2", Item: search.Item{
			ID: "x1", App: query.AppCalendar, Entity: query.EntityEvent,
			Title: "Someone else's standup", Timestamp: now.Add(24 * time.Hour),
		}},
	)
}

type harness struct {
	provider *llmtest.Provider
	registry *tools.Registry
	executor *Executor
}

type option func(*harnessConfig)

type harnessConfig struct {
	backend search.Backend
	apps    []query.App
	// builtinApps defaults to apps.
	builtinApps []query.App
	noBuiltins  bool
	budget      Budget
	extra       []tools.Capability
}

func withBudget(b Budget) option { return func(c *harnessConfig) { c.budget = b } }

func withCapabilities(caps ...tools.Capability) option {
	return func(c *harnessConfig) { c.extra = append(c.extra, caps...) }
}

func withApps(apps ...query.App) option { return func(c *harnessConfig) { c.apps = apps } }

// withoutAppTools keeps only the cross-app built-ins, so extra capabilities
// can stand in for the per-app ones.
func withoutAppTools() option { return func(c *harnessConfig) { c.noBuiltins = true } }

func newHarness(t *testing.T, provider *llmtest.Provider, opts ...option) *harness {
	t.Helper()
	cfg := harnessConfig{
		backend: corpus(time.Now()),
		apps:    []query.App{query.AppMail, query.AppCalendar},
		budget:  Budget{MaxIterations: 5, TurnTimeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.builtinApps = cfg.apps
	if cfg.noBuiltins {
		cfg.builtinApps = nil
	}

	log := logger.NewNopLogger()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Builtins(cfg.backend, cfg.builtinApps, 10)...))
	require.NoError(t, reg.Register(cfg.extra...))

	var completer *structured.Completer
	if provider != nil {
		completer = structured.NewCompleter(provider, log)
	}

	var classifierCompleter intent.Completer
	var evalCompleter synthesis.Completer
	var respCompleter response.Completer
	if completer != nil {
		classifierCompleter, evalCompleter, respCompleter = completer, completer, completer
	}

	evaluator, err := synthesis.NewEvaluator(evalCompleter, 64, log)
	require.NoError(t, err)

	exec := NewExecutor(
		intent.NewClassifier(classifierCompleter, intent.Config{AvailableApps: cfg.apps, PageSize: 10}, log),
		tools.NewInvoker(reg, time.Second, log),
		evaluator,
		response.NewGenerator(respCompleter, log),
		cfg.budget,
		log,
	)
	return &harness{provider: provider, registry: reg, executor: exec}
}

func (h *harness) run(t *testing.T, tracker *chain.Tracker, index int, q string) *Outcome {
	t.Helper()
	out, err := h.executor.Execute(context.Background(), Input{
		Index:  index,
		Query:  q,
		Scope:  scope,
		Chains: tracker,
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func keys(log []tools.Invocation) []string {
	out := make([]string, len(log))
	for i, inv := range log {
		out[i] = inv.Key()
	}
	return out
}

func TestExecute_ShortCircuit(t *testing.T) {
	h := newHarness(t, nil)
	tracker := chain.NewTracker(4)

	out := h.run(t, tracker, 1, "what is 6 times 7")
	assert.Equal(t, StateShortCircuited, out.State)
	assert.Equal(t, "6 * 7 = 42", out.Answer)
	assert.Equal(t, []State{StateClassifying, StateShortCircuited}, out.Trace)
	assert.Empty(t, out.ToolLog)
	assert.Nil(t, tracker.Active(), "short circuits leave chains alone")
}

// Nothing upcoming on the calendar.
func TestExecute_NextMeetingNotFound(t *testing.T) {
	h := newHarness(t, nil)

	out := h.run(t, chain.NewTracker(4), 1, "what's my next meeting")

	assert.Equal(t, StateFallback, out.State)
	assert.Empty(t, out.Citations)
	assert.Empty(t, response.CitationIndices(out.Answer))
	assert.Contains(t, out.Answer, "You could try:")
	assert.Equal(t, query.TypeGetItems, out.Classification.Type)

	require.NotEmpty(t, out.ToolLog)
	assert.Equal(t, "list_calendar", out.ToolLog[0].ToolName)
	assert.Equal(t, "next", out.ToolLog[0].Arguments.String("temporal"))
	assert.Empty(t, out.ToolLog[0].Fragments, "past events and other users' events never match")
	assert.LessOrEqual(t, out.Iterations, 5)
	assert.Equal(t, StateClassifying, out.Trace[0])
}

// Filtered mail search, answered with a sanitised citation.
func TestExecute_EmailsFromOpenAI(t *testing.T) {
	provider := llmtest.New().
		On("answer.v1", llmtest.Text(`{"answer":"OpenAI is rolling out GPT-5 access [0, 3]."}`))
	h := newHarness(t, provider)

	out := h.run(t, chain.NewTracker(4), 1, "emails from OpenAI")

	require.Equal(t, StateAnswering, out.State)
	c := out.Classification
	assert.Equal(t, query.TypeSearchWithFilters, c.Type)
	assert.Equal(t, []query.App{query.AppMail}, c.Filters.Apps)
	assert.Contains(t, c.Filters.MailParticipants.From, "OpenAI")

	assert.Equal(t, "OpenAI is rolling out GPT-5 access [0].", out.Answer)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, "m1", out.Citations[0].ID)
	assert.Equal(t, "search_mail", out.ToolLog[0].ToolName)
	assert.Equal(t,
		[]State{StateClassifying, StateRetrieving, StateEvaluating, StateAnswering},
		out.Trace)
}

func TestExecute_NeverRepeatsAnInvocation(t *testing.T) {
	provider := llmtest.New().
		On("synthesis.v1", llmtest.Text(`{"verdict":"Partial","coverage":0.4,"relevant":[0],"rewrites":["OpenAI","GPT-5 access"],"reason":"only one announcement"}`))
	h := newHarness(t, provider)

	out := h.run(t, chain.NewTracker(4), 1, "emails from OpenAI")

	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, response.ReasonBudget, out.FallbackReason)
	assert.Equal(t, 5, out.Iterations)

	ks := keys(out.ToolLog)
	seen := make(map[string]bool)
	for i, k := range ks {
		assert.False(t, seen[k], "invocation %d repeats %s", i, k)
		seen[k] = true
	}
	assert.Empty(t, out.Citations)
	assert.Contains(t, out.Answer, "GPT-5 access", "summary names what was found")
}

func TestExecute_Terminates(t *testing.T) {
	queries := []string{
		"what's my next meeting", "emails from OpenAI", "what's the weather", "latest 3 emails",
		"budget spreadsheet from last month", "next page", "hello", "zzz qqq",
	}
	h := newHarness(t, nil, withBudget(Budget{MaxIterations: 3, TurnTimeout: 5 * time.Second}))
	tracker := chain.NewTracker(4)

	for i, q := range queries {
		out := h.run(t, tracker, i+1, q)
		assert.True(t, out.State.Terminal(), q)
		assert.LessOrEqual(t, out.Iterations, 3, q)
		assert.LessOrEqual(t, len(out.ToolLog), 3, q)
		if out.State == StateFallback {
			assert.Empty(t, out.Citations, q)
		}
	}
}

func TestExecute_NoSource(t *testing.T) {
	h := newHarness(t, nil, withApps(query.AppMail))

	out := h.run(t, chain.NewTracker(4), 1, "what's on my calendar tomorrow")
	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, response.ReasonNoSource, out.FallbackReason)
	assert.Empty(t, out.ToolLog)
	assert.Contains(t, out.Answer, "don't have access")
}

func TestExecute_AnswerFailureFallsBack(t *testing.T) {
	provider := llmtest.New().On("answer.v1", llmtest.Text("I'd rather not"))
	h := newHarness(t, provider)

	out := h.run(t, chain.NewTracker(4), 1, "emails from OpenAI")
	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, response.ReasonAnswerFailed, out.FallbackReason)
	assert.Empty(t, out.Citations)
}

// End to end: the third turn reactivates the first chain.
func TestExecute_FollowUpReactivatesArchivedChain(t *testing.T) {
	h := newHarness(t, nil)
	tracker := chain.NewTracker(4)

	first := h.run(t, tracker, 1, "emails from John last week")
	require.Equal(t, chain.ActionStarted, first.Transition.Action)
	assert.Nil(t, first.Transition.Archived)
	chainA := first.Transition.Active.ID

	second := h.run(t, tracker, 2, "what's the weather")
	require.Equal(t, chain.ActionStarted, second.Transition.Action)
	require.NotNil(t, second.Transition.Archived)
	assert.Equal(t, chainA, second.Transition.Archived.ID)
	chainB := second.Transition.Active.ID

	third := h.run(t, tracker, 3, "show me more from him")
	assert.Equal(t, chain.ActionReactivated, third.Transition.Action)
	assert.Equal(t, chainA, third.Transition.Active.ID)
	require.NotNil(t, third.Transition.Archived)
	assert.Equal(t, chainB, third.Transition.Archived.ID)
	assert.True(t, third.Classification.IsFollowUp)
	assert.Equal(t, []string{"John"}, third.Classification.Filters.MailParticipants.From)
}

// blockingTool waits for its context; onCall runs first.
type blockingTool struct {
	name   string
	onCall func()
}

func (b *blockingTool) Spec() tools.Spec {
	return tools.Spec{
		Name: b.name,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
			"required":   []string{"query"},
		},
		External: true,
	}
}

func (b *blockingTool) Call(ctx context.Context, _ tools.Request) ([]evidence.Draft, error) {
	if b.onCall != nil {
		b.onCall()
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExecute_TurnTimeoutFallsBack(t *testing.T) {
	h := newHarness(t, nil,
		withApps(query.AppMail),
		withoutAppTools(),
		withCapabilities(&blockingTool{name: "search_mail"}),
		withBudget(Budget{MaxIterations: 5, TurnTimeout: 50 * time.Millisecond}),
	)

	start := time.Now()
	out := h.run(t, chain.NewTracker(4), 1, "budget emails")
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, response.ReasonTimeout, out.FallbackReason)
	assert.Contains(t, out.Answer, "ran out of time")
	assert.Empty(t, out.Citations)
}

func TestExecute_CancellationDeliversNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, nil,
		withApps(query.AppMail),
		withoutAppTools(),
		withCapabilities(&blockingTool{name: "search_mail", onCall: cancel}),
	)

	tracker := chain.NewTracker(4)
	tracker.OnTurnClassified(1, &query.Classification{Type: query.TypeSearchWithoutFilters}, "travel policy", "")
	before := tracker.Snapshot()

	out, err := h.executor.Execute(ctx, Input{Index: 2, Query: "budget emails", Scope: scope, Chains: tracker})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)

	assert.Equal(t, before, tracker.Snapshot(), "the cancelled turn leaves no chain transition behind")
	assert.Zero(t, tracker.ArchivedCount())
}
