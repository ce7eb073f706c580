// Package mcpclient connects to remote MCP servers over streamable HTTP and
// exposes their tools to the retrieval registry.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"agentic-retrieval-be/internal/pkg/logger"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool is a discovered remote tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Config configures one remote MCP server.
type Config struct {
	Name  string
	URL   string
	Token string
	// Allow restricts the exposed tools. Empty exposes everything.
	Allow []string
	// Deny wins over Allow.
	Deny    []string
	Version string
}

type Client struct {
	name    string
	client  *mcp.Client
	session *mcp.ClientSession
	logger  logger.ILogger

	mu    sync.RWMutex
	tools []Tool
	index map[string]struct{}
	allow map[string]struct{}
	deny  map[string]struct{}
}

func Connect(ctx context.Context, cfg Config, log logger.ILogger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcpclient: url is required for server %q", cfg.Name)
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	transport := &mcp.StreamableClientTransport{
		Endpoint: cfg.URL,
		HTTPClient: &http.Client{
			Transport: &authTransport{
				base:         http.DefaultTransport,
				serviceToken: cfg.Token,
			},
		},
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "agentic-retrieval",
		Version: cfg.Version,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: connect to %s: %w", cfg.Name, err)
	}

	c := &Client{
		name:    cfg.Name,
		client:  client,
		session: session,
		logger:  log,
		allow:   toSet(cfg.Allow),
		deny:    toSet(cfg.Deny),
	}

	if err := c.Refresh(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("mcpclient: discover tools on %s: %w", cfg.Name, err)
	}
	return c, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *Client) HasTool(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[name]
	return ok
}

// CallTool invokes a remote tool and returns its joined text content.
// A caller token set with WithBearerToken overrides the server token.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcpclient: call %s: %w", name, err)
	}

	text := extractTextContent(result)
	if result.IsError {
		if text != "" {
			return "", &ToolError{Tool: name, Message: text}
		}
		return "", &ToolError{Tool: name, Message: "tool reported an error"}
	}
	return text, nil
}

// Refresh re-lists the server's tools and applies the allow and deny lists.
func (c *Client) Refresh(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	tools := make([]Tool, 0, len(result.Tools))
	index := make(map[string]struct{}, len(result.Tools))
	for _, t := range result.Tools {
		if _, denied := c.deny[t.Name]; denied {
			continue
		}
		if len(c.allow) > 0 {
			if _, ok := c.allow[t.Name]; !ok {
				continue
			}
		}
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertInputSchema(t.InputSchema),
		})
		index[t.Name] = struct{}{}
	}

	c.mu.Lock()
	c.tools = tools
	c.index = index
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("MCP", "Discovered remote tools", map[string]interface{}{
			"server": c.name,
			"count":  len(tools),
		})
	}
	return nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// ToolError is an error reported by the remote tool itself, as opposed to
// a transport failure.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcpclient: tool %s returned error: %s", e.Tool, e.Message)
}

func convertInputSchema(schema any) map[string]interface{} {
	empty := map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	if schema == nil {
		return empty
	}
	if m, ok := schema.(map[string]interface{}); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return empty
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return empty
	}
	return m
}

func extractTextContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

type tokenKey struct{}

// WithBearerToken attaches the caller's token to outgoing tool calls.
func WithBearerToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

func bearerToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

type authTransport struct {
	base         http.RoundTripper
	serviceToken string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	if token := bearerToken(req.Context()); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if t.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.serviceToken)
	}
	return t.base.RoundTrip(req)
}
