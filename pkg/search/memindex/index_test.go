package memindex

import (
	"context"
	"testing"
	"time"

	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

func corpus() *Index {
	return New(
		Document{Owner: "u1", Item: search.Item{ID: "m1", App: query.AppMail, Entity: query.EntityMessage, Title: "GPT-5 access", Timestamp: now.Add(-48 * time.Hour), Fields: map[string]interface{}{"from": "OpenAI <news@openai.com>"}}},
		Document{Owner: "u1", Item: search.Item{ID: "m2", App: query.AppMail, Entity: query.EntityMessage, Title: "Lunch?", Timestamp: now.Add(-24 * time.Hour), Fields: map[string]interface{}{"from": "John Smith <john@acme.io>"}}},
		Document{Owner: "u1", Item: search.Item{ID: "m3", App: query.AppMail, Entity: query.EntityMessage, Title: "Invoice", Timestamp: now.Add(-2 * time.Hour), Fields: map[string]interface{}{"from": "billing@acme.io"}}},
		Document{Owner: "u1", Item: search.Item{ID: "e1", App: query.AppCalendar, Entity: query.EntityEvent, Title: "Design review", Timestamp: now.Add(3 * time.Hour)}},
		Document{Owner: "u1", Item: search.Item{ID: "e2", App: query.AppCalendar, Entity: query.EntityEvent, Title: "Retro", Timestamp: now.Add(-3 * time.Hour)}},
		Document{Owner: "u2", Item: search.Item{ID: "x1", App: query.AppMail, Entity: query.EntityMessage, Title: "GPT-5 access", Timestamp: now}},
	)
}

func TestIndex_OwnerScopingAndContentSearch(t *testing.T) {
	idx := corpus()
	resp, err := idx.Search(context.Background(), search.Request{
		Scope: search.Scope{UserID: "u1"},
		Mode:  search.ModeContent,
		Query: "OpenAI",
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "m1", resp.Items[0].ID)
	assert.Equal(t, "owner:u1", resp.Items[0].PermissionScope)
}

func TestIndex_MetadataPaginationAndExclusion(t *testing.T) {
	idx := corpus()
	req := search.Request{
		Scope: search.Scope{UserID: "u1"},
		Mode:  search.ModeMetadata,
		Apps:  []query.App{query.AppMail},
		Sort:  query.SortDesc,
		Count: 2,
	}
	page1, err := idx.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, page1.Total)
	assert.Equal(t, []string{"m3", "m2"}, ids(page1.Items))

	req.Offset = 2
	page2, err := idx.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(page2.Items))

	req.Offset = 0
	req.Exclude = []string{"m3"}
	excl, err := idx.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, ids(excl.Items))
}

func TestIndex_ParticipantsAndTemporal(t *testing.T) {
	idx := corpus()
	resp, err := idx.Search(context.Background(), search.Request{
		Scope:        search.Scope{UserID: "u1"},
		Mode:         search.ModeMetadata,
		Participants: &query.Participants{From: []string{"john"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids(resp.Items))

	next, err := idx.Search(context.Background(), search.Request{
		Scope:    search.Scope{UserID: "u1"},
		Mode:     search.ModeMetadata,
		Entities: []query.Entity{query.EntityEvent},
		Temporal: query.TemporalNext,
		Now:      now,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids(next.Items))
}

func TestIndex_InvalidAndCancelled(t *testing.T) {
	idx := corpus()
	_, err := idx.Search(context.Background(), search.Request{Mode: search.ModeMetadata})
	assert.ErrorIs(t, err, search.ErrInvalidArgument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.Search(ctx, search.Request{Scope: search.Scope{UserID: "u1"}, Mode: search.ModeMetadata})
	assert.ErrorIs(t, err, context.Canceled)
}

func ids(items []search.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
