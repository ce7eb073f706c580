package mapper

import (
	"testing"
	"time"

	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/tools"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMapper_TurnSurvivesStorage(t *testing.T) {
	m := NewChatMapper()
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	c := &query.Classification{
		Type:    query.TypeSearchWithFilters,
		Filters: query.Filters{Apps: []query.App{query.AppMail}, FilterQuery: query.StringPtr("OpenAI")},
	}
	turn := &history.Turn{
		ID:             uuid.NewString(),
		SessionID:      uuid.NewString(),
		UserID:         uuid.NewString(),
		Index:          3,
		Query:          "emails from OpenAI",
		Classification: c,
		ToolLog: []tools.Invocation{{
			ToolName:  "search_mail",
			Arguments: tools.Args{"query": "OpenAI"},
			Err:       &tools.ToolError{Kind: tools.KindNotFound, Tool: "search_mail", Message: "no match"},
		}},
		Answer:      "Nothing yet.",
		Citations:   []evidence.Fragment{{Index: 0, ID: "m1", Title: "GPT-5", Timestamp: at}},
		State:       "Answering",
		ChainID:     "c-1",
		ChainAction: "started",
		CreatedAt:   at,
	}

	row, err := m.ChatTurnToModel(turn)
	require.NoError(t, err)
	assert.Equal(t, 3, row.TurnIndex)

	back, err := m.ChatTurnToHistory(row)
	require.NoError(t, err)
	if diff := cmp.Diff(turn, back, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("turn changed in storage (-want +got):\n%s", diff)
	}
}

func TestChatMapper_RejectsNonUUIDSession(t *testing.T) {
	_, err := NewChatMapper().ChatTurnToModel(&history.Turn{SessionID: "s1", UserID: uuid.NewString()})
	assert.Error(t, err)
}
