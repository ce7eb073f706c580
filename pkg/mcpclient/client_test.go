package mcpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"agentic-retrieval-be/internal/pkg/logger"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notesInput struct {
	Query string `json:"query" jsonschema:"search terms"`
}

func testServer(t *testing.T, lastAuth *atomic.Value) *httptest.Server {
	t.Helper()
	srv := mcp.NewServer(&mcp.Implementation{Name: "notes", Version: "0.1.0"}, nil)

	mcp.AddTool(srv, &mcp.Tool{Name: "search_notes", Description: "Search notes"},
		func(_ context.Context, _ *mcp.CallToolRequest, in notesInput) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "note about " + in.Query}},
			}, nil, nil
		})
	mcp.AddTool(srv, &mcp.Tool{Name: "delete_note", Description: "Delete a note"},
		func(_ context.Context, _ *mcp.CallToolRequest, _ notesInput) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "read-only"}},
			}, nil, nil
		})

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return srv },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_DiscoverAndCall(t *testing.T) {
	var auth atomic.Value
	ts := testServer(t, &auth)

	c, err := Connect(context.Background(), Config{Name: "notes", URL: ts.URL, Token: "svc"}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.True(t, c.HasTool("search_notes"))
	assert.Len(t, c.Tools(), 2)

	out, err := c.CallTool(context.Background(), "search_notes", map[string]interface{}{"query": "budget"})
	require.NoError(t, err)
	assert.Equal(t, "note about budget", out)
	assert.Equal(t, "Bearer svc", auth.Load())

	_, err = c.CallTool(WithBearerToken(context.Background(), "user-jwt"), "search_notes", map[string]interface{}{"query": "x"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer user-jwt", auth.Load())
}

func TestClient_ToolErrorAndDenyList(t *testing.T) {
	var auth atomic.Value
	ts := testServer(t, &auth)

	c, err := Connect(context.Background(), Config{Name: "notes", URL: ts.URL}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.CallTool(context.Background(), "delete_note", map[string]interface{}{"query": "x"})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "read-only", toolErr.Message)

	denied, err := Connect(context.Background(), Config{Name: "notes", URL: ts.URL, Deny: []string{"delete_note"}}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = denied.Close() })
	assert.False(t, denied.HasTool("delete_note"))
	assert.True(t, denied.HasTool("search_notes"))
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{Name: "empty"}, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestConvertInputSchema(t *testing.T) {
	assert.Equal(t, "object", convertInputSchema(nil)["type"])

	type schema struct {
		Type string `json:"type"`
	}
	assert.Equal(t, "object", convertInputSchema(schema{Type: "object"})["type"])
}
