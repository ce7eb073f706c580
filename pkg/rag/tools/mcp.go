package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/mcpclient"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/search"

	"golang.org/x/sync/errgroup"
)

// RemoteCaller is the part of an MCP session a capability needs.
type RemoteCaller interface {
	Name() string
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// MCPCapability exposes one remote tool through the registry.
type MCPCapability struct {
	caller RemoteCaller
	tool   mcpclient.Tool
}

func NewMCPCapability(caller RemoteCaller, tool mcpclient.Tool) *MCPCapability {
	return &MCPCapability{caller: caller, tool: tool}
}

func (m *MCPCapability) Spec() Spec {
	return Spec{
		Name:        m.tool.Name,
		Description: m.tool.Description,
		Parameters:  m.tool.InputSchema,
		External:    true,
	}
}

func (m *MCPCapability) Call(ctx context.Context, req Request) ([]evidence.Draft, error) {
	args := map[string]interface{}(req.Args.Clone())
	if args == nil {
		args = map[string]interface{}{}
	}
	if len(req.Excluded) > 0 && m.Spec().Accepts("exclude_ids") {
		args["exclude_ids"] = req.Excluded
	}

	text, err := m.caller.CallTool(mcpclient.WithBearerToken(ctx, req.Scope.Token), m.tool.Name, args)
	if err != nil {
		var remote *mcpclient.ToolError
		if errors.As(err, &remote) {
			return nil, classifyRemote(m.tool.Name, remote)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Join(search.ErrUnavailable, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return m.parse(text, req.Now), nil
}

type remoteItem struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Snippet   string                 `json:"snippet"`
	Text      string                 `json:"text"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
}

// parse accepts {"items":[...]} structured output and falls back to one
// fragment holding the raw text.
func (m *MCPCapability) parse(text string, now time.Time) []evidence.Draft {
	var structured struct {
		Items []remoteItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(text), &structured); err == nil && len(structured.Items) > 0 {
		out := make([]evidence.Draft, 0, len(structured.Items))
		for _, it := range structured.Items {
			snippet := it.Snippet
			if snippet == "" {
				snippet = it.Text
			}
			id := it.ID
			if id == "" {
				id = m.contentID(it.Title + snippet)
			}
			ts := it.Timestamp
			if ts.IsZero() {
				ts = now
			}
			out = append(out, evidence.Draft{
				ID:         id,
				SourceType: evidence.SourceExternal,
				App:        query.AppExternal,
				Title:      it.Title,
				Snippet:    snippet,
				Payload:    it.Fields,
				Timestamp:  ts,
				Tool:       m.tool.Name,
			})
		}
		return out
	}

	return []evidence.Draft{{
		ID:         m.contentID(text),
		SourceType: evidence.SourceExternal,
		App:        query.AppExternal,
		Title:      m.tool.Name,
		Snippet:    text,
		Timestamp:  now,
		Tool:       m.tool.Name,
	}}
}

func (m *MCPCapability) contentID(text string) string {
	sum := sha256.Sum256([]byte(m.caller.Name() + "/" + m.tool.Name + "/" + text))
	return "mcp:" + m.caller.Name() + ":" + hex.EncodeToString(sum[:8])
}

func classifyRemote(tool string, err *mcpclient.ToolError) *ToolError {
	msg := strings.ToLower(err.Message)
	kind := KindBackendUnavailable
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no results"):
		kind = KindNotFound
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "required"), strings.Contains(msg, "argument"):
		kind = KindInvalidArgument
	}
	return &ToolError{Kind: kind, Tool: tool, Message: err.Message, Err: err}
}

// DiscoverMCP connects to every configured server concurrently and registers
// their tools. Unreachable servers and name clashes are logged and skipped.
func DiscoverMCP(ctx context.Context, registry *Registry, servers []mcpclient.Config, log logger.ILogger) []*mcpclient.Client {
	var (
		mu      sync.Mutex
		clients []*mcpclient.Client
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, server := range servers {
		server := server
		g.Go(func() error {
			client, err := mcpclient.Connect(gctx, server, log)
			if err != nil {
				log.Warn("TOOLS", "MCP server unavailable, skipping", map[string]interface{}{
					"server": server.Name,
					"error":  err.Error(),
				})
				return nil
			}

			for _, tool := range client.Tools() {
				if err := registry.Register(NewMCPCapability(client, tool)); err != nil {
					log.Warn("TOOLS", "Skipping MCP tool", map[string]interface{}{
						"server": server.Name,
						"tool":   tool.Name,
						"error":  err.Error(),
					})
				}
			}

			mu.Lock()
			clients = append(clients, client)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return clients
}
