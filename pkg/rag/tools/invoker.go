package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/metrics"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/search"
)

// Invocation is one completed tool call. It is never mutated after Invoke returns.
type Invocation struct {
	ToolName    string              `json:"toolName"`
	Arguments   Args                `json:"arguments"`
	ExcludedIDs []string            `json:"excludedIds,omitempty"`
	Fragments   []evidence.Fragment `json:"fragments,omitempty"`
	Err         *ToolError          `json:"error,omitempty"`
	Started     time.Time           `json:"started"`
	Duration    time.Duration       `json:"duration"`
}

func (i Invocation) Key() string {
	return Key(i.ToolName, i.Arguments)
}

func (i Invocation) Failed() bool {
	return i.Err != nil
}

// Scratchpad is the append-only invocation log of one resolution cycle.
type Scratchpad struct {
	entries []Invocation
	keys    map[string]struct{}
}

func NewScratchpad() *Scratchpad {
	return &Scratchpad{keys: make(map[string]struct{})}
}

func (s *Scratchpad) Append(inv Invocation) {
	s.entries = append(s.entries, inv)
	s.keys[inv.Key()] = struct{}{}
}

// Used reports whether the (tool, args) key was issued earlier in the cycle.
func (s *Scratchpad) Used(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *Scratchpad) Last() (Invocation, bool) {
	if len(s.entries) == 0 {
		return Invocation{}, false
	}
	return s.entries[len(s.entries)-1], true
}

func (s *Scratchpad) All() []Invocation {
	out := make([]Invocation, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Scratchpad) Len() int {
	return len(s.entries)
}

type scopeKey struct{}

// WithScope attaches the caller's permission scope for tool calls.
func WithScope(ctx context.Context, scope search.Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func ScopeFrom(ctx context.Context) search.Scope {
	scope, _ := ctx.Value(scopeKey{}).(search.Scope)
	return scope
}

// Invoker runs capabilities with a per-call timeout and appends their
// results to the turn's evidence store.
type Invoker struct {
	registry    *Registry
	callTimeout time.Duration
	logger      logger.ILogger
	now         func() time.Time
}

func NewInvoker(registry *Registry, callTimeout time.Duration, log logger.ILogger) *Invoker {
	return &Invoker{
		registry:    registry,
		callTimeout: callTimeout,
		logger:      log,
		now:         time.Now,
	}
}

func (i *Invoker) Registry() *Registry {
	return i.registry
}

// Invoke never returns a Go error: failures are carried in Invocation.Err so
// the planner can recover from them. When pad is set, a (tool, args) key it
// already holds is refused with ErrDuplicateInvocation and nothing is called;
// every other invocation is appended to pad.
func (i *Invoker) Invoke(ctx context.Context, store *evidence.Store, pad *Scratchpad, name string, args Args, excluded []string) Invocation {
	inv := Invocation{
		ToolName:    name,
		Arguments:   args.Clone(),
		ExcludedIDs: append([]string(nil), excluded...),
		Started:     i.now(),
	}

	if pad != nil && pad.Used(inv.Key()) {
		inv.Err = Classify(name, fmt.Errorf("%w: %s", ErrDuplicateInvocation, inv.Key()))
		metrics.ToolCallsTotal.WithLabelValues(name, string(inv.Err.Kind)).Inc()
		i.logger.Warn("TOOLS", "Refused duplicate invocation", map[string]interface{}{
			"tool":      name,
			"arguments": inv.Key(),
		})
		return inv
	}

	defer func() {
		status := "ok"
		if inv.Err != nil {
			status = string(inv.Err.Kind)
		}
		metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(inv.Duration.Seconds())
		if pad != nil {
			pad.Append(inv)
		}
	}()

	capability, ok := i.registry.Get(name)
	if !ok {
		inv.Err = Classify(name, fmt.Errorf("%w: %s", ErrToolNotFound, name))
		return inv
	}

	if err := validateArgs(capability.Spec(), args); err != nil {
		inv.Err = Classify(name, err)
		return inv
	}

	callCtx := ctx
	if i.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.callTimeout)
		defer cancel()
	}

	drafts, err := capability.Call(callCtx, Request{
		Scope:    ScopeFrom(ctx),
		Args:     inv.Arguments,
		Excluded: inv.ExcludedIDs,
		Now:      inv.Started,
	})
	inv.Duration = i.now().Sub(inv.Started)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: call exceeded %s", search.ErrUnavailable, i.callTimeout)
		}
		inv.Err = Classify(name, err)
		i.logger.Warn("TOOLS", "Tool call failed", map[string]interface{}{
			"tool":  name,
			"kind":  inv.Err.Kind,
			"error": err.Error(),
		})
		return inv
	}

	for k := range drafts {
		if drafts[k].Tool == "" {
			drafts[k].Tool = name
		}
	}
	inv.Fragments = store.Append(drafts...)

	i.logger.Debug("TOOLS", "Tool call completed", map[string]interface{}{
		"tool":      name,
		"returned":  len(drafts),
		"new":       len(inv.Fragments),
		"duration":  inv.Duration.String(),
		"excluded":  len(excluded),
		"arguments": Key(name, args),
	})
	return inv
}

func validateArgs(spec Spec, args Args) error {
	for _, name := range spec.Required() {
		v, ok := args[name]
		if !ok || v == nil || v == "" {
			return fmt.Errorf("%w: missing required argument %q", search.ErrInvalidArgument, name)
		}
	}
	if spec.External {
		return nil
	}
	for _, name := range args.SortedKeys() {
		if !spec.Accepts(name) {
			return fmt.Errorf("%w: unknown argument %q", search.ErrInvalidArgument, name)
		}
	}
	return nil
}
