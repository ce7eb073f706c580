package executor

import (
	"context"
	"testing"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/synthesis"
	"agentic-retrieval-be/pkg/rag/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannerFixture(t *testing.T, apps ...query.App) (*Planner, *tools.Invoker) {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Builtins(corpus(time.Now()), apps, 10)...))
	return NewPlanner(reg), tools.NewInvoker(reg, time.Second, logger.NewNopLogger())
}

func mailFrom(name string) *query.Classification {
	c := &query.Classification{Filters: query.Filters{
		Apps:             []query.App{query.AppMail},
		FilterQuery:      query.StringPtr(name),
		MailParticipants: &query.Participants{From: []string{name}},
	}}
	c.Normalize()
	return c
}

func TestPlanner_DiscoversAddressesFirst(t *testing.T) {
	planner, invoker := plannerFixture(t, query.AppMail, query.AppDirectory)
	ctx := tools.WithScope(context.Background(), scope)
	store := evidence.NewStore()
	pad := tools.NewScratchpad()
	s := Situation{Query: "emails from John", Classification: mailFrom("John"), Scratchpad: pad, Store: store}

	step, ok := planner.Next(s)
	require.True(t, ok)
	assert.Equal(t, tools.ToolLookupContact, step.Tool)
	assert.True(t, step.Discovery)
	assert.Equal(t, "John", step.Args.String("name"))

	invoker.Invoke(ctx, store, pad, step.Tool, step.Args, nil)
	require.Equal(t, 1, store.Len())

	step, ok = planner.Next(s)
	require.True(t, ok)
	assert.Equal(t, "search_mail", step.Tool)
	assert.Equal(t, []string{"john@acme.io"}, step.Args.Strings("from"), "address comes from the directory, not a guess")
	assert.Equal(t, "John", step.Args.String("query"))
}

func TestPlanner_NoDirectoryKeepsNames(t *testing.T) {
	planner, _ := plannerFixture(t, query.AppMail)
	step, ok := planner.Next(Situation{Query: "emails from OpenAI", Classification: mailFrom("OpenAI"), Scratchpad: tools.NewScratchpad()})
	require.True(t, ok)
	assert.Equal(t, "search_mail", step.Tool)
	assert.Equal(t, []string{"OpenAI"}, step.Args.Strings("from"))
}

func TestPlanner_GetItemsListsWithPaging(t *testing.T) {
	planner, _ := plannerFixture(t, query.AppMail)
	c := &query.Classification{Filters: query.Filters{
		Apps:          []query.App{query.AppMail},
		Count:         query.IntPtr(5),
		Offset:        query.IntPtr(5),
		SortDirection: query.SortDesc,
	}}
	c.Normalize()

	step, ok := planner.Next(Situation{Query: "next page", Classification: c, Scratchpad: tools.NewScratchpad()})
	require.True(t, ok)
	assert.Equal(t, "list_mail", step.Tool)
	assert.Equal(t, tools.Args{"sort": "desc", "offset": 5, "count": 5}, step.Args)
	assert.False(t, step.Exclude)
}

func TestPlanner_PartialAdoptsRewrite(t *testing.T) {
	planner, _ := plannerFixture(t, query.AppMail)
	pad := tools.NewScratchpad()
	c := mailFrom("OpenAI")
	first, ok := planner.Next(Situation{Query: "emails from OpenAI", Classification: c, Scratchpad: pad})
	require.True(t, ok)
	pad.Append(tools.Invocation{ToolName: first.Tool, Arguments: first.Args})

	j := &synthesis.Judgment{Verdict: synthesis.Partial, ProposedRewrites: []string{"OpenAI", "GPT-5 rollout"}}
	step, ok := planner.Next(Situation{Query: "emails from OpenAI", Classification: c, Scratchpad: pad, Judgment: j})
	require.True(t, ok)
	assert.Equal(t, "search_mail", step.Tool)
	assert.Equal(t, "GPT-5 rollout", step.Args.String("query"), "the rewrite matching the first call is skipped")
	assert.True(t, step.Exclude)
}

func TestPlanner_NotFoundBroadens(t *testing.T) {
	planner, _ := plannerFixture(t, query.AppMail)
	start := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	c := mailFrom("John")
	c.Filters.StartTime, c.Filters.EndTime = &start, &end

	pad := tools.NewScratchpad()
	notFound := &synthesis.Judgment{Verdict: synthesis.NotFound}
	var tried []string
	for {
		s := Situation{Query: "emails from John last week", Classification: c, Scratchpad: pad}
		if pad.Len() > 0 {
			s.Judgment = notFound
		}
		step, ok := planner.Next(s)
		if !ok {
			break
		}
		pad.Append(tools.Invocation{ToolName: step.Tool, Arguments: step.Args})
		tried = append(tried, step.Tool)
		require.Less(t, len(tried), 20, "planner must run dry")
	}

	assert.Equal(t, []string{"search_mail", "search_mail", "search_all", "search_time_range"}, tried)

	log := pad.All()
	assert.Equal(t, "2026-10-05T00:00:00Z", log[0].Arguments.String("start_time"))
	assert.Equal(t, []string{"John"}, log[0].Arguments.Strings("from"))
	assert.Equal(t, tools.Args{"query": "John"}, log[1].Arguments, "window and sender dropped")
	assert.Equal(t, "2026-10-12T00:00:00Z", log[3].Arguments.String("end_time"))
}

func TestPlanner_RecoversFromToolErrors(t *testing.T) {
	planner, _ := plannerFixture(t, query.AppMail)
	c := mailFrom("OpenAI")

	t.Run("invalid argument drops optional arguments", func(t *testing.T) {
		pad := tools.NewScratchpad()
		pad.Append(tools.Invocation{
			ToolName:  "search_mail",
			Arguments: tools.Args{"query": "OpenAI", "from": []string{"OpenAI"}, "sort": "sideways"},
			Err:       &tools.ToolError{Kind: tools.KindInvalidArgument, Tool: "search_mail"},
		})
		step, ok := planner.Next(Situation{Query: "emails from OpenAI", Classification: c, Scratchpad: pad, Judgment: &synthesis.Judgment{Verdict: synthesis.NotFound}})
		require.True(t, ok)
		assert.Equal(t, "search_mail", step.Tool)
		assert.Equal(t, tools.Args{"query": "OpenAI"}, step.Args)
	})

	t.Run("unavailable backend switches tool", func(t *testing.T) {
		pad := tools.NewScratchpad()
		pad.Append(tools.Invocation{
			ToolName:  "search_mail",
			Arguments: tools.Args{"query": "OpenAI", "from": []string{"OpenAI"}},
			Err:       &tools.ToolError{Kind: tools.KindBackendUnavailable, Tool: "search_mail"},
		})
		step, ok := planner.Next(Situation{Query: "emails from OpenAI", Classification: c, Scratchpad: pad, Judgment: &synthesis.Judgment{Verdict: synthesis.NotFound}})
		require.True(t, ok)
		assert.Equal(t, tools.ToolSearchAll, step.Tool)
	})
}

func TestPlanner_NeverReturnsUsedKey(t *testing.T) {
	planner, _ := plannerFixture(t, query.AppMail, query.AppCalendar)
	c := &query.Classification{Filters: query.Filters{FilterQuery: query.StringPtr("weather")}}
	c.Normalize()

	pad := tools.NewScratchpad()
	for i := 0; i < 10; i++ {
		step, ok := planner.Next(Situation{Query: "what's the weather", Classification: c, Scratchpad: pad, Judgment: &synthesis.Judgment{Verdict: synthesis.NotFound}})
		if !ok {
			break
		}
		require.False(t, pad.Used(step.key()))
		pad.Append(tools.Invocation{ToolName: step.Tool, Arguments: step.Args})
	}
	assert.Equal(t, 1, pad.Len())
}
