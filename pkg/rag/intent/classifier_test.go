package intent

import (
	"context"
	"testing"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/llm/llmtest"
	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/rag/chain"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/query"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday; the week starts on Monday 12 October.
var now = time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)

func day(d int) *time.Time {
	t := time.Date(2026, 10, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func newClassifier(provider *llmtest.Provider, apps ...query.App) *Classifier {
	var completer Completer
	if provider != nil {
		completer = structured.NewCompleter(provider, logger.NewNopLogger())
	}
	return NewClassifier(completer, Config{AvailableApps: apps, PageSize: 10}, logger.NewNopLogger())
}

func classify(t *testing.T, c *Classifier, in Input) *Result {
	t.Helper()
	if in.Now.IsZero() {
		in.Now = now
	}
	res, err := c.Classify(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestClassify_Deterministic(t *testing.T) {
	tests := []struct {
		query string
		want  *query.Classification
	}{
		{
			query: "what's my next meeting",
			want: &query.Classification{
				Type: query.TypeGetItems,
				Filters: query.Filters{
					Apps:     []query.App{query.AppCalendar},
					Entities: []query.Entity{query.EntityEvent},
					Count:    query.IntPtr(10),
				},
				TemporalDirection: query.TemporalNext,
			},
		},
		{
			query: "emails from OpenAI",
			want: &query.Classification{
				Type: query.TypeSearchWithFilters,
				Filters: query.Filters{
					Apps:             []query.App{query.AppMail},
					Entities:         []query.Entity{query.EntityMessage},
					FilterQuery:      query.StringPtr("OpenAI"),
					MailParticipants: &query.Participants{From: []string{"OpenAI"}},
				},
			},
		},
		{
			query: "emails from John last week",
			want: &query.Classification{
				Type: query.TypeSearchWithFilters,
				Filters: query.Filters{
					Apps:             []query.App{query.AppMail},
					Entities:         []query.Entity{query.EntityMessage},
					FilterQuery:      query.StringPtr("John"),
					StartTime:        day(5),
					EndTime:          day(12),
					MailParticipants: &query.Participants{From: []string{"John"}},
				},
			},
		},
		{
			query: "show me my last 5 emails",
			want: &query.Classification{
				Type: query.TypeGetItems,
				Filters: query.Filters{
					Apps:          []query.App{query.AppMail},
					Entities:      []query.Entity{query.EntityMessage},
					Count:         query.IntPtr(5),
					SortDirection: query.SortDesc,
				},
			},
		},
		{
			query: "what's the weather",
			want: &query.Classification{
				Type:    query.TypeSearchWithoutFilters,
				Filters: query.Filters{FilterQuery: query.StringPtr("weather")},
			},
		},
		{
			query: "files I got yesterday",
			want: &query.Classification{
				Type: query.TypeGetItems,
				Filters: query.Filters{
					Apps:      []query.App{query.AppFileStore},
					Entities:  []query.Entity{query.EntityDocument},
					Count:     query.IntPtr(10),
					StartTime: day(13),
					EndTime:   day(14),
				},
			},
		},
		{
			query: "my upcoming meetings this week",
			want: &query.Classification{
				Type: query.TypeGetItems,
				Filters: query.Filters{
					Apps:      []query.App{query.AppCalendar},
					Entities:  []query.Entity{query.EntityEvent},
					Count:     query.IntPtr(10),
					StartTime: day(12),
					EndTime:   day(19),
				},
				TemporalDirection: query.TemporalNext,
			},
		},
		{
			query: "oldest budget documents",
			want: &query.Classification{
				Type: query.TypeSearchWithFilters,
				Filters: query.Filters{
					Apps:          []query.App{query.AppFileStore},
					Entities:      []query.Entity{query.EntityDocument},
					FilterQuery:   query.StringPtr("budget"),
					SortDirection: query.SortAsc,
				},
			},
		},
	}

	c := newClassifier(nil)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := classify(t, c, Input{Query: tt.query})
			require.False(t, res.ShortCircuit())
			if diff := cmp.Diff(tt.want, res.Classification); diff != "" {
				t.Errorf("classification mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassify_GetItemsNeverCarriesKeywords(t *testing.T) {
	queries := []string{
		"show my inbox", "latest emails", "my calendar tomorrow", "contacts",
		"next page", "slack messages today", "3 most recent documents", "emails from Dana",
	}
	c := newClassifier(nil)
	for _, q := range queries {
		res := classify(t, c, Input{Query: q})
		cl := res.Classification
		require.NotNil(t, cl, q)
		if cl.Type == query.TypeGetItems {
			assert.True(t, cl.Filters.HasTarget(), q)
			assert.Nil(t, cl.Filters.FilterQuery, q)
			assert.NotNil(t, cl.Filters.Count, q)
		}
		assert.NoError(t, cl.Validate(), q)
	}
}

func TestClassify_PastNDays(t *testing.T) {
	res := classify(t, newClassifier(nil), Input{Query: "budget documents from the past 3 days"})
	require.NotNil(t, res.Classification)
	assert.Equal(t, day(11), res.Classification.Filters.StartTime)
	assert.Equal(t, now, *res.Classification.Filters.EndTime)
}

func TestClassify_WhenQuestionsLeaveWindowOpen(t *testing.T) {
	provider := llmtest.New().On("classification.v1", llmtest.Text(`{"startTime":"2026-03-01T00:00:00Z","endTime":"2026-04-01T00:00:00Z"}`))
	res := classify(t, newClassifier(provider), Input{Query: "when was my meeting with Sarah in March"})

	assert.False(t, res.Classification.Filters.HasTimeWindow())
	assert.Zero(t, provider.Calls("classification.v1"))
}

func TestClassify_ModelFillsUnparsedDate(t *testing.T) {
	provider := llmtest.New().On("classification.v1", llmtest.Text(`{"startTime":"2026-10-09T00:00:00Z","endTime":"2026-10-10T00:00:00Z"}`))
	res := classify(t, newClassifier(provider), Input{Query: "invoices sent on Friday"})

	require.NotNil(t, res.Classification)
	assert.Equal(t, day(9), res.Classification.Filters.StartTime)
	assert.Equal(t, day(10), res.Classification.Filters.EndTime)
	assert.Equal(t, 1, provider.Calls("classification.v1"))
}

func TestClassify_NoSource(t *testing.T) {
	t.Run("unsupported entity", func(t *testing.T) {
		res := classify(t, newClassifier(nil), Input{Query: "show my tweets from yesterday"})
		assert.True(t, res.NoSource)
		assert.Equal(t, query.TypeSearchWithoutFilters, res.Classification.Type)
		assert.Equal(t, query.Filters{}, res.Classification.Filters)
	})

	t.Run("app not connected", func(t *testing.T) {
		res := classify(t, newClassifier(nil, query.AppMail), Input{Query: "what's on my calendar"})
		assert.True(t, res.NoSource)
	})
}

func TestClassify_ShortCircuits(t *testing.T) {
	turns := []history.Turn{{Index: 1, Query: "emails from OpenAI", Answer: "You have two emails from OpenAI [0][1]."}}

	tests := []struct {
		query string
		want  string
	}{
		{"hi", "Hi! What would you like me to look up?"},
		{"Thank you!", "You're welcome!"},
		{"what is 12 times 7?", "12 * 7 = 84"},
		{"what's (2+3)*4", "(2+3)*4 = 20"},
		{"calculate 1/0", "That is undefined: it divides by zero."},
		{"what did I just ask?", `You asked: "emails from OpenAI"`},
		{"what did you say", "You have two emails from OpenAI [0][1]."},
	}

	c := newClassifier(nil)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := classify(t, c, Input{Query: tt.query, Turns: turns})
			assert.True(t, res.ShortCircuit())
			assert.Equal(t, tt.want, res.Answer)
			assert.Nil(t, res.Classification)
		})
	}
}

func TestClassify_GreetingAnsweredByModel(t *testing.T) {
	provider := llmtest.New().On("classification.v1", llmtest.Text(`{"answer":"Hey there! Want me to check your inbox?"}`))
	res := classify(t, newClassifier(provider), Input{Query: "hey"})
	assert.Equal(t, "Hey there! Want me to check your inbox?", res.Answer)
}

func TestClassify_ConfidentRulesSkipModel(t *testing.T) {
	provider := llmtest.New().On("classification.v1", llmtest.Text(`{"answer":"should not be used"}`))
	res := classify(t, newClassifier(provider), Input{Query: "emails from OpenAI"})

	assert.False(t, res.ShortCircuit())
	assert.Equal(t, query.TypeSearchWithFilters, res.Classification.Type)
	assert.Zero(t, provider.Calls("classification.v1"))
}

// johnChains reproduces: "emails from John last week", then an unrelated turn.
func johnChains(t *testing.T, unrelated string) chain.Snapshot {
	t.Helper()
	c := newClassifier(nil)
	tr := chain.NewTracker(4)

	first := classify(t, c, Input{Query: "emails from John last week"})
	tr.OnTurnClassified(1, first.Classification, "emails from John last week", first.FollowUpOf)
	tr.OnTurnCompleted(1, first.Classification, "Complete", evidence.NewStore().Append(evidence.Draft{ID: "m1", Title: "Lunch?"}))

	second := classify(t, c, Input{Query: unrelated, Chains: tr.Snapshot()})
	require.False(t, second.Classification.IsFollowUp)
	tr.OnTurnClassified(2, second.Classification, unrelated, second.FollowUpOf)
	tr.OnTurnCompleted(2, second.Classification, "NotFound", nil)

	return tr.Snapshot()
}

func TestClassify_FollowUpResolvesAgainstArchivedChain(t *testing.T) {
	tests := []struct {
		name      string
		unrelated string
	}{
		{name: "no names in the active chain", unrelated: "what's the weather"},
		{name: "place name in the active chain", unrelated: "What's the weather in Paris"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := johnChains(t, tt.unrelated)
			require.Len(t, snap.Archived, 1)
			require.NotNil(t, snap.Active)

			res := classify(t, newClassifier(nil), Input{Query: "show me more from him", Chains: snap})
			cl := res.Classification
			require.NotNil(t, cl)

			assert.Equal(t, snap.Archived[0].ID, res.FollowUpOf)
			assert.NotEqual(t, snap.Active.ID, res.FollowUpOf)
			assert.True(t, cl.IsFollowUp)
			require.NotNil(t, cl.QueryRewrite)
			assert.Equal(t, "show me more from John", *cl.QueryRewrite)
			assert.Equal(t, []string{"John"}, cl.Filters.MailParticipants.From)
			assert.Equal(t, 10, *cl.Filters.Offset)
			assert.Equal(t, 10, *cl.Filters.Count)
		})
	}
}

func TestClassify_PronounResolvesAgainstRetrievedContact(t *testing.T) {
	contacts := evidence.NewStore().Append(evidence.Draft{ID: "p1", SourceType: evidence.SourceContact, Title: "Priya Patel"})
	snap := chain.Snapshot{Active: &chain.Record{
		ID:                 "c1",
		LastQuery:          "who runs the Berlin office",
		LastClassification: &query.Classification{Type: query.TypeSearchWithFilters},
		LastEvidence:       contacts,
	}}

	res := classify(t, newClassifier(nil), Input{Query: "what did she send me", Chains: snap})
	require.NotNil(t, res.Classification.QueryRewrite)
	assert.Equal(t, "what did Priya Patel send me", *res.Classification.QueryRewrite)
	assert.Equal(t, "c1", res.FollowUpOf)
}

func TestClassify_PaginationAdvancesOffset(t *testing.T) {
	prev := &query.Classification{
		Type: query.TypeGetItems,
		Filters: query.Filters{
			Apps:     []query.App{query.AppMail},
			Entities: []query.Entity{query.EntityMessage},
			Count:    query.IntPtr(5),
			Offset:   query.IntPtr(5),
		},
	}
	snap := chain.Snapshot{Active: &chain.Record{ID: "c1", LastQuery: "latest 5 emails", LastClassification: prev}}

	res := classify(t, newClassifier(nil), Input{Query: "next page", Chains: snap})
	cl := res.Classification
	require.NotNil(t, cl)
	assert.Equal(t, query.TypeGetItems, cl.Type)
	assert.Equal(t, 10, *cl.Filters.Offset)
	assert.Equal(t, 5, *cl.Filters.Count)
	assert.Nil(t, cl.Filters.FilterQuery)
	assert.Equal(t, "c1", res.FollowUpOf)

	res = classify(t, newClassifier(nil), Input{Query: "show me 3 more", Chains: snap})
	assert.Equal(t, 10, *res.Classification.Filters.Offset)
	assert.Equal(t, 3, *res.Classification.Filters.Count)
}

func TestClassify_PronounSubstitution(t *testing.T) {
	prev := &query.Classification{
		Type: query.TypeGetItems,
		Filters: query.Filters{
			Apps:     []query.App{query.AppCalendar},
			Entities: []query.Entity{query.EntityEvent},
			Count:    query.IntPtr(10),
		},
	}
	snap := chain.Snapshot{Active: &chain.Record{ID: "c1", LastQuery: "meeting with Sarah tomorrow", LastClassification: prev}}

	res := classify(t, newClassifier(nil), Input{Query: "what did she send me", Chains: snap})
	cl := res.Classification
	require.NotNil(t, cl)
	assert.True(t, cl.IsFollowUp)
	assert.Equal(t, "what did Sarah send me", *cl.QueryRewrite)
	assert.Equal(t, query.TypeSearchWithFilters, cl.Type)
	assert.Equal(t, []query.App{query.AppCalendar}, cl.Filters.Apps, "target inherited from the chain")
	assert.Equal(t, "Sarah", *cl.Filters.FilterQuery)
}

func TestClassify_OrdinalPicksFromLastEvidence(t *testing.T) {
	found := evidence.NewStore().Append(
		evidence.Draft{ID: "d1", Title: "Q3 planning notes"},
		evidence.Draft{ID: "d2", Title: "Hiring plan"},
	)
	snap := chain.Snapshot{Active: &chain.Record{
		ID:                 "c1",
		LastQuery:          "planning documents",
		LastClassification: &query.Classification{Type: query.TypeSearchWithFilters},
		LastEvidence:       found,
	}}

	res := classify(t, newClassifier(nil), Input{Query: "open the second one", Chains: snap})
	require.NotNil(t, res.Classification.QueryRewrite)
	assert.Equal(t, "open Hiring plan", *res.Classification.QueryRewrite)
}

func TestClassify_BareInstructionGetsTopic(t *testing.T) {
	snap := chain.Snapshot{Active: &chain.Record{ID: "c1", LastQuery: "OpenAI pricing"}}
	res := classify(t, newClassifier(nil), Input{Query: "summarize", Chains: snap})
	require.NotNil(t, res.Classification.QueryRewrite)
	assert.Equal(t, "summarize OpenAI pricing", *res.Classification.QueryRewrite)
	assert.True(t, res.Classification.IsFollowUp)
}

func TestClassify_ModelRewriteWithoutHistoryIsIgnored(t *testing.T) {
	provider := llmtest.New().On("classification.v1", llmtest.Text(`{"queryRewrite":"what did John say about the budget"}`))
	res := classify(t, newClassifier(provider), Input{Query: "what did he say about the budget"})

	cl := res.Classification
	require.NotNil(t, cl)
	assert.Equal(t, 1, provider.Calls("classification.v1"))
	assert.False(t, cl.IsFollowUp)
	assert.Nil(t, cl.QueryRewrite)
	assert.Empty(t, res.FollowUpOf)
	if cl.Filters.FilterQuery != nil {
		assert.NotContains(t, *cl.Filters.FilterQuery, "John")
	}
}

func TestClassify_ModelRewriteGroundedInActiveChain(t *testing.T) {
	found := evidence.NewStore().Append(evidence.Draft{ID: "d1", Title: "Q3 budget review", Snippet: "John proposed cutting travel spend"})
	snap := chain.Snapshot{Active: &chain.Record{
		ID:                 "c1",
		LastQuery:          "budget review thread",
		LastClassification: &query.Classification{Type: query.TypeSearchWithoutFilters},
		LastEvidence:       found,
	}}

	t.Run("referent found in the chain", func(t *testing.T) {
		provider := llmtest.New().On("classification.v1", llmtest.Text(`{"queryRewrite":"what did John say about the budget"}`))
		res := classify(t, newClassifier(provider), Input{Query: "what did he say about the budget", Chains: snap})

		cl := res.Classification
		require.NotNil(t, cl)
		assert.True(t, cl.IsFollowUp)
		assert.Equal(t, "c1", res.FollowUpOf)
		require.NotNil(t, cl.QueryRewrite)
		assert.Equal(t, "what did John say about the budget", *cl.QueryRewrite)
		assert.Equal(t, "John budget", *cl.Filters.FilterQuery)
	})

	t.Run("referent the chain never mentioned", func(t *testing.T) {
		provider := llmtest.New().On("classification.v1", llmtest.Text(`{"queryRewrite":"what did Marcus say about the budget"}`))
		res := classify(t, newClassifier(provider), Input{Query: "what did he say about the budget", Chains: snap})

		assert.False(t, res.Classification.IsFollowUp)
		assert.Nil(t, res.Classification.QueryRewrite)
		assert.Empty(t, res.FollowUpOf)
	})
}

func TestClassify_MalformedModelOutputDegrades(t *testing.T) {
	provider := llmtest.New().On("classification.v1", llmtest.Text("no idea, sorry"))
	q := "what did he say about the budget"
	res := classify(t, newClassifier(provider), Input{Query: q})

	assert.True(t, res.Degraded)
	assert.Equal(t, query.TypeSearchWithoutFilters, res.Classification.Type)
	assert.Equal(t, q, *res.Classification.Filters.FilterQuery)
	assert.Equal(t, 2, provider.Calls("classification.v1"))
}

func TestClassify_CancelledContext(t *testing.T) {
	provider := llmtest.New().On("classification.v1", llmtest.Text(`{"answer":"hello"}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClassifier(provider).Classify(ctx, Input{Query: "hello", Now: now})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1+2*3", 7},
		{"(1+2)*3", 9},
		{"10/4", 2.5},
		{"-3+5", 2},
		{"2*(3+(4-1))", 12},
	}
	for _, tt := range tests {
		v, err := evaluate(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, v, tt.expr)
	}

	_, err := evaluate("2+")
	assert.Error(t, err)
}
