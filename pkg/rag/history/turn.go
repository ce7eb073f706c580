// Package history is the per-session turn log the classifier and chain
// tracker read from. Persistence lives behind Store.
package history

import (
	"context"
	"time"

	"agentic-retrieval-be/pkg/llm"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/tools"
)

// Turn is one completed user turn. Turns are append-only.
type Turn struct {
	ID             string                `json:"id"`
	SessionID      string                `json:"sessionId"`
	UserID         string                `json:"userId"`
	Index          int                   `json:"index"`
	Query          string                `json:"query"`
	Classification *query.Classification `json:"classification,omitempty"`
	ToolLog        []tools.Invocation    `json:"toolLog,omitempty"`
	Answer         string                `json:"answer"`
	Citations      []evidence.Fragment   `json:"citations,omitempty"`
	State          string                `json:"state"`
	ChainID        string                `json:"chainId,omitempty"`
	ChainAction    string                `json:"chainAction,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
}

type Store interface {
	Append(ctx context.Context, turn *Turn) error
	// Recent returns at most limit turns of the session, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]*Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Loader reads the classifier's history window.
type Loader struct {
	store  Store
	window int
}

func NewLoader(store Store, window int) *Loader {
	if window <= 0 {
		window = 10
	}
	return &Loader{store: store, window: window}
}

func (l *Loader) Window(ctx context.Context, sessionID string) ([]Turn, error) {
	turns, err := l.store.Recent(ctx, sessionID, l.window)
	if err != nil {
		return nil, err
	}
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

// Messages flattens turns into a chat transcript for the completion service.
func Messages(turns []Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		out = append(out, llm.Message{Role: llm.RoleUser, Content: t.Query})
		if t.Answer != "" {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: t.Answer})
		}
	}
	return out
}

// Last returns the most recent turn, if any.
func Last(turns []Turn) (Turn, bool) {
	if len(turns) == 0 {
		return Turn{}, false
	}
	return turns[len(turns)-1], true
}
