// Package llmtest provides a scripted llm.LLMProvider for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"agentic-retrieval-be/pkg/llm"
)

var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Reply is one scripted answer; Err takes precedence over Text.
type Reply struct {
	Text string
	Err  error
}

// Provider answers prompts from a per-task script. A prompt is matched to a
// script by the first registered key it contains (e.g. "synthesis.v1").
// When a script runs dry its last reply repeats.
type Provider struct {
	mu      sync.Mutex
	order   []string
	scripts map[string][]Reply
	used    map[string]int
	Prompts []string
}

var _ llm.LLMProvider = &Provider{}

func New() *Provider {
	return &Provider{
		scripts: make(map[string][]Reply),
		used:    make(map[string]int),
	}
}

// On registers replies for prompts containing key.
func (p *Provider) On(key string, replies ...Reply) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.scripts[key]; !ok {
		p.order = append(p.order, key)
	}
	p.scripts[key] = append(p.scripts[key], replies...)
	return p
}

// Text is shorthand for a successful reply.
func Text(s string) Reply { return Reply{Text: s} }

// Calls reports how many prompts matched key.
func (p *Provider) Calls(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used[key]
}

func (p *Provider) Chat(ctx context.Context, history []llm.Message, _ ...llm.Option) (string, error) {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return p.Generate(ctx, b.String())
}

func (p *Provider) Generate(ctx context.Context, prompt string, _ ...llm.Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prompts = append(p.Prompts, prompt)

	for _, key := range p.order {
		if !strings.Contains(prompt, key) {
			continue
		}
		replies := p.scripts[key]
		idx := p.used[key]
		p.used[key]++
		if idx >= len(replies) {
			idx = len(replies) - 1
		}
		if idx < 0 {
			return "", ErrScriptExhausted
		}
		r := replies[idx]
		return r.Text, r.Err
	}
	return "", ErrScriptExhausted
}
