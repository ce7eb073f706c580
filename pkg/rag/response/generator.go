// Package response composes the user-facing text of a turn: cited answers
// from gathered evidence, and the uncited explanation used when retrieval
// falls short.
package response

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/synthesis"
)

var ErrEmptyAnswer = errors.New("answer has no content")

// Completer is the schema-checked completion call.
type Completer interface {
	Complete(ctx context.Context, p structured.Payload, out any) error
}

// Generator is stateless and shared across sessions.
type Generator struct {
	completer Completer
	logger    logger.ILogger
}

func NewGenerator(completer Completer, log logger.ILogger) *Generator {
	return &Generator{completer: completer, logger: log}
}

type modelAnswer struct {
	Answer string `json:"answer" validate:"required"`
}

// Answer writes a cited answer grounded only in fragments. The result is
// already sanitised; an error means the caller should fall back.
func (g *Generator) Answer(ctx context.Context, q string, fragments []evidence.Fragment, turns []history.Turn) (string, error) {
	if g.completer == nil {
		return "", errors.New("no completion service configured")
	}

	var out modelAnswer
	if err := g.completer.Complete(ctx, answerPayload(q, fragments, turns), &out); err != nil {
		return "", err
	}

	text := strings.TrimSpace(SanitizeCitations(out.Answer, len(fragments)))
	if text == "" {
		return "", ErrEmptyAnswer
	}

	g.logger.Debug("RESPONSE", "Answer generated", map[string]interface{}{
		"fragments": len(fragments),
		"citations": len(CitationIndices(text)),
	})
	return text, nil
}

func answerPayload(q string, fragments []evidence.Fragment, turns []history.Turn) structured.Payload {
	var convo strings.Builder
	for _, t := range lastTurns(turns, 4) {
		fmt.Fprintf(&convo, "user: %s\n", t.Query)
		if t.Answer != "" {
			fmt.Fprintf(&convo, "assistant: %s\n", StripCitations(t.Answer))
		}
	}
	if convo.Len() == 0 {
		convo.WriteString("(none)")
	}

	return structured.Payload{
		Task:    "answer",
		Version: "v1",
		Instruction: `Answer the query using ONLY the evidence. Do not use outside knowledge.
Cite evidence with its bracketed index, one integer per bracket, e.g. [0] or [0][2].
Cite at most two items per sentence and never invent an index that is not listed.
If the evidence only partly answers the query, say which part is missing.`,
		Sections: []structured.Section{
			{Name: "query", Body: q},
			{Name: "evidence", Body: synthesis.RenderEvidence(fragments)},
			{Name: "conversation", Body: convo.String()},
		},
		Schema: `{"answer": "string"}`,
	}
}

func lastTurns(turns []history.Turn, n int) []history.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
