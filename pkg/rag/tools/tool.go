// Package tools is the retrieval capability registry: built-in search and
// listing capabilities over the content index plus externally declared MCP
// tools, all invoked through one contract.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/search"
)

var (
	ErrToolNotFound        = errors.New("tool not registered")
	ErrDuplicateTool       = errors.New("tool already registered")
	ErrDuplicateInvocation = errors.New("identical invocation already issued this cycle")
)

// Kind classifies a recoverable tool failure.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidArgument    Kind = "invalid_argument"
	KindBackendUnavailable Kind = "backend_unavailable"
)

// ToolError is recovered by the planner and never shown to the user.
type ToolError struct {
	Kind    Kind   `json:"kind"`
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Classify maps an arbitrary call error onto a ToolError kind.
func Classify(tool string, err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	kind := KindBackendUnavailable
	switch {
	case errors.Is(err, search.ErrNotFound), errors.Is(err, ErrToolNotFound):
		kind = KindNotFound
	case errors.Is(err, search.ErrInvalidArgument), errors.Is(err, ErrDuplicateInvocation):
		kind = KindInvalidArgument
	}
	return &ToolError{Kind: kind, Tool: tool, Message: err.Error(), Err: err}
}

// Spec is the declared shape of a capability. Parameters is a JSON schema
// object with "properties" and "required".
type Spec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	// External marks capabilities discovered from MCP servers.
	External bool `json:"external,omitempty"`
}

// Required lists the mandatory argument names.
func (s Spec) Required() []string {
	switch v := s.Parameters["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if name, ok := x.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

// Accepts reports whether the schema declares the named argument.
func (s Spec) Accepts(name string) bool {
	props, _ := s.Parameters["properties"].(map[string]interface{})
	_, ok := props[name]
	return ok
}

// PropertyType returns the declared JSON type of an argument, if any.
func (s Spec) PropertyType(name string) string {
	props, _ := s.Parameters["properties"].(map[string]interface{})
	prop, _ := props[name].(map[string]interface{})
	t, _ := prop["type"].(string)
	return t
}

// Request is one call into a capability.
type Request struct {
	Scope    search.Scope
	Args     Args
	Excluded []string
	Now      time.Time
}

type Capability interface {
	Spec() Spec
	Call(ctx context.Context, req Request) ([]evidence.Draft, error)
}

// Args are JSON-shaped tool arguments.
type Args map[string]interface{}

// Key is the canonical (tool, args) identity used for duplicate suppression.
// encoding/json sorts map keys, so equal argument sets produce equal keys.
func Key(tool string, args Args) string {
	if len(args) == 0 {
		return tool + "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return tool + fmt.Sprintf("%v", map[string]interface{}(args))
	}
	return tool + string(b)
}

func (a Args) Clone() Args {
	if a == nil {
		return nil
	}
	out := make(Args, len(a))
	for k, v := range a {
		switch x := v.(type) {
		case []string:
			out[k] = append([]string(nil), x...)
		default:
			out[k] = v
		}
	}
	return out
}

// Without returns a copy minus the named keys.
func (a Args) Without(keys ...string) Args {
	out := a.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// Time parses an RFC 3339 argument.
func (a Args) Time(key string) (*time.Time, error) {
	raw := a.String(key)
	if raw == "" {
		if t, ok := a[key].(time.Time); ok {
			return &t, nil
		}
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not RFC 3339: %v", search.ErrInvalidArgument, key, err)
	}
	return &t, nil
}

// SortedKeys lists argument names alphabetically.
func (a Args) SortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
