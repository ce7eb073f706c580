package response

import (
	"context"
	"strings"
	"testing"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/llm/llmtest"
	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/synthesis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenerator(provider *llmtest.Provider) *Generator {
	var completer Completer
	if provider != nil {
		completer = structured.NewCompleter(provider, logger.NewNopLogger())
	}
	return NewGenerator(completer, logger.NewNopLogger())
}

func openAIFragments() []evidence.Fragment {
	return evidence.NewStore().Append(
		evidence.Draft{ID: "m1", SourceType: evidence.SourceMail, Title: "GPT-5 access", Snippet: "OpenAI is rolling out GPT-5 access"},
		evidence.Draft{ID: "m2", SourceType: evidence.SourceMail, Title: "Invoice", Snippet: "OpenAI API usage for March"},
	)
}

func TestAnswer_SanitisesModelCitations(t *testing.T) {
	provider := llmtest.New().On("answer.v1",
		llmtest.Text(`{"answer":"OpenAI announced GPT-5 access [0, 5] and sent an invoice [1][0][1]."}`))
	g := newGenerator(provider)

	text, err := g.Answer(context.Background(), "emails from OpenAI", openAIFragments(), nil)
	require.NoError(t, err)
	assert.Equal(t, "OpenAI announced GPT-5 access [0] and sent an invoice [1].", text)
	assert.Contains(t, provider.Prompts[0], "[1] (mail) Invoice")
}

func TestAnswer_ErrorsWhenModelFails(t *testing.T) {
	g := newGenerator(llmtest.New().On("answer.v1", llmtest.Text("not json")))
	_, err := g.Answer(context.Background(), "emails from OpenAI", openAIFragments(), nil)
	assert.ErrorIs(t, err, structured.ErrMalformed)

	_, err = newGenerator(nil).Answer(context.Background(), "q", openAIFragments(), nil)
	assert.Error(t, err)
}

func TestFallback_UsesModelAndDropsCitations(t *testing.T) {
	provider := llmtest.New().On("fallback.v1", llmtest.Text(`{
		"notFound": "I couldn't find your next meeting [0].",
		"suggestions": ["Give me a date range", "Name the organiser"],
		"summary": "Your calendar had no upcoming events."}`))
	g := newGenerator(provider)

	text := g.Fallback(context.Background(), FallbackInput{Query: "what's my next meeting", Reason: ReasonNotFound})
	assert.Equal(t, "I couldn't find your next meeting.\n\nYou could try:\n- Give me a date range\n- Name the organiser\n\nYour calendar had no upcoming events.", text)
}

func TestFallback_TemplateWhenModelUnavailable(t *testing.T) {
	g := newGenerator(llmtest.New().On("fallback.v1", llmtest.Reply{Err: context.DeadlineExceeded}))

	in := FallbackInput{
		Query:          "what's my next meeting",
		Classification: &query.Classification{Type: query.TypeGetItems, Filters: query.Filters{Apps: []query.App{query.AppCalendar}}},
		Reason:         ReasonBudget,
		Tried:          []string{"list_calendar", "search_all", "list_calendar"},
	}
	text := g.Fallback(context.Background(), in)

	parts := strings.Split(text, "\n\n")
	require.Len(t, parts, 3, "not-found statement, suggestions, summary")
	assert.Contains(t, parts[0], `"what's my next meeting"`)
	assert.Contains(t, parts[1], "date range")
	assert.NotContains(t, parts[1], "where it lives", "a target was already given")
	assert.Equal(t, "Nothing related came up in the searches I ran (list_calendar, search_all).", parts[2])
	assert.Empty(t, CitationIndices(text))
}

func TestFallbackTemplate_SummarisesPartialEvidence(t *testing.T) {
	j := synthesis.Judgment{Verdict: synthesis.Partial, Reason: "no due date is mentioned", ProposedRewrites: []string{"OpenAI invoice due date"}}
	text := FallbackTemplate(FallbackInput{
		Query:     "when is the OpenAI invoice due",
		Fragments: openAIFragments(),
		Judgment:  &j,
		Reason:    ReasonBudget,
	})
	assert.Contains(t, text, `I found 2 related items, such as "GPT-5 access" and "Invoice", but no due date is mentioned.`)
	assert.Contains(t, text, `"OpenAI invoice due date"`)
}

func TestFallbackTemplate_NoSource(t *testing.T) {
	text := FallbackTemplate(FallbackInput{Query: "show my tweets", Reason: ReasonNoSource})
	assert.True(t, strings.HasPrefix(text, "I don't have access to a source"))
	assert.Contains(t, text, "No search was run")
}
