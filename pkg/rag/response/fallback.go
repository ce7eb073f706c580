package response

import (
	"context"
	"fmt"
	"strings"

	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/synthesis"
)

// Reason says why a turn ended in fallback.
type Reason string

const (
	ReasonNotFound       Reason = "not_found"
	ReasonBudget         Reason = "budget_exhausted"
	ReasonNoMoreTools    Reason = "no_more_tools"
	ReasonTimeout        Reason = "timeout"
	ReasonNoSource       Reason = "no_source"
	ReasonAnswerFailed   Reason = "answer_failed"
	ReasonDegradedIntent Reason = "degraded_classification"
)

type FallbackInput struct {
	Query          string
	Classification *query.Classification
	Fragments      []evidence.Fragment
	Judgment       *synthesis.Judgment
	Reason         Reason
	// Tried lists the tools that were called, in order.
	Tried []string
}

type modelFallback struct {
	NotFound    string   `json:"notFound" validate:"required"`
	Suggestions []string `json:"suggestions" validate:"required,min=1,max=3,dive,required"`
	Summary     string   `json:"summary" validate:"required"`
}

// Fallback explains what could not be found. It never fails: when the
// completion service is unavailable a fixed template is used. The text
// carries no citations.
func (g *Generator) Fallback(ctx context.Context, in FallbackInput) string {
	if g.completer != nil && in.Reason != ReasonNoSource {
		var out modelFallback
		err := g.completer.Complete(ctx, fallbackPayload(in), &out)
		if err == nil {
			return StripCitations(compose(out.NotFound, out.Suggestions, out.Summary))
		}
		g.logger.Warn("RESPONSE", "Fallback generation failed, using template", map[string]interface{}{
			"reason": string(in.Reason),
			"error":  err.Error(),
		})
	}
	return FallbackTemplate(in)
}

// FallbackTemplate is the deterministic three-part explanation.
func FallbackTemplate(in FallbackInput) string {
	var notFound string
	switch in.Reason {
	case ReasonNoSource:
		notFound = fmt.Sprintf("I don't have access to a source that could answer %q, so I couldn't look it up.", in.Query)
	case ReasonTimeout:
		notFound = fmt.Sprintf("I ran out of time before finding an answer to %q.", in.Query)
	default:
		notFound = fmt.Sprintf("I couldn't find anything that fully answers %q.", in.Query)
	}
	return StripCitations(compose(notFound, suggestions(in), summary(in)))
}

func compose(notFound string, suggestions []string, summary string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(notFound))
	b.WriteString("\n\nYou could try:\n")
	for _, s := range suggestions {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(s))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(summary))
	return b.String()
}

func suggestions(in FallbackInput) []string {
	var out []string
	if in.Reason == ReasonNoSource {
		return []string{
			"asking about mail, calendar, files, contacts or chat instead",
			"connecting the missing source and asking again",
		}
	}

	if in.Judgment != nil && len(in.Judgment.ProposedRewrites) > 0 {
		out = append(out, fmt.Sprintf("asking more specifically, e.g. %q", in.Judgment.ProposedRewrites[0]))
	}
	c := in.Classification
	if c == nil || c.Filters.MailParticipants.IsEmpty() {
		out = append(out, "naming who sent or received it")
	}
	if c == nil || !c.Filters.HasTimeWindow() {
		out = append(out, "giving a date range, like \"last week\" or \"in March\"")
	}
	if c == nil || !c.Filters.HasTarget() {
		out = append(out, "saying where it lives, such as your mail, calendar or files")
	}
	if len(out) == 0 {
		out = append(out, "rephrasing with a more distinctive word from the item you remember")
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func summary(in FallbackInput) string {
	if len(in.Fragments) == 0 {
		if len(in.Tried) == 0 {
			return "No search was run for this request."
		}
		return fmt.Sprintf("Nothing related came up in the searches I ran (%s).", strings.Join(uniqueStrings(in.Tried), ", "))
	}

	titles := make([]string, 0, 2)
	for _, f := range in.Fragments {
		if f.Title != "" {
			titles = append(titles, fmt.Sprintf("%q", f.Title))
		}
		if len(titles) == 2 {
			break
		}
	}

	why := "they don't cover what you asked"
	if in.Judgment != nil && in.Judgment.Reason != "" {
		why = in.Judgment.Reason
	}

	noun := "items"
	if len(in.Fragments) == 1 {
		noun = "item"
	}
	if len(titles) == 0 {
		return fmt.Sprintf("I found %d related %s, but %s.", len(in.Fragments), noun, why)
	}
	return fmt.Sprintf("I found %d related %s, such as %s, but %s.", len(in.Fragments), noun, strings.Join(titles, " and "), why)
}

func fallbackPayload(in FallbackInput) structured.Payload {
	tried := "(none)"
	if len(in.Tried) > 0 {
		tried = strings.Join(uniqueStrings(in.Tried), ", ")
	}
	reason := ""
	if in.Judgment != nil {
		reason = in.Judgment.Reason
	}

	return structured.Payload{
		Task:    "fallback",
		Version: "v1",
		Instruction: `The assistant could not answer the query. Explain this in three parts:
notFound: one sentence saying the answer was not found.
suggestions: one to three ways the user could narrow the request (sender, date range, source, wording).
summary: what was found, if anything, and why it fell short.
Do not cite or number any evidence.`,
		Sections: []structured.Section{
			{Name: "query", Body: in.Query},
			{Name: "stop_reason", Body: string(in.Reason)},
			{Name: "judgment", Body: reason},
			{Name: "tools_tried", Body: tried},
			{Name: "evidence", Body: synthesis.RenderEvidence(in.Fragments)},
		},
		Schema: `{"notFound": "string", "suggestions": ["string"], "summary": "string"}`,
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
