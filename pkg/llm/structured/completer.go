// Package structured turns free-text completion backends into schema-checked
// JSON producers. Every payload names a versioned schema; responses that do
// not decode and validate against it are retried once and then reported as
// ErrMalformed.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/llm"
	"agentic-retrieval-be/pkg/metrics"

	"github.com/go-playground/validator/v10"
)

var ErrMalformed = errors.New("completion output does not match schema")

const maxAttempts = 2

// Section is one named block of context handed to the model.
type Section struct {
	Name string
	Body string
}

// Payload is an opaque task specification with an expected output schema.
type Payload struct {
	Task        string
	Version     string
	Instruction string
	Sections    []Section
	Schema      string
}

func (p Payload) SchemaID() string {
	return p.Task + "." + p.Version
}

// Render writes the payload in the tagged-section layout the providers expect.
func (p Payload) Render() string {
	var b strings.Builder

	b.WriteString("<task id=\"")
	b.WriteString(p.SchemaID())
	b.WriteString("\">\n")
	b.WriteString(strings.TrimSpace(p.Instruction))
	b.WriteString("\n</task>\n\n")

	for _, s := range p.Sections {
		b.WriteString("<")
		b.WriteString(s.Name)
		b.WriteString(">\n")
		b.WriteString(strings.TrimSpace(s.Body))
		b.WriteString("\n</")
		b.WriteString(s.Name)
		b.WriteString(">\n\n")
	}

	b.WriteString("<output_schema>\n")
	b.WriteString(strings.TrimSpace(p.Schema))
	b.WriteString("\n</output_schema>\n")
	b.WriteString("Respond with a single JSON object matching output_schema and nothing else.\n")
	return b.String()
}

// Completer is safe for concurrent use; it holds no per-call state.
type Completer struct {
	provider llm.LLMProvider
	validate *validator.Validate
	logger   logger.ILogger
}

func NewCompleter(provider llm.LLMProvider, log logger.ILogger) *Completer {
	return &Completer{
		provider: provider,
		validate: validator.New(),
		logger:   log,
	}
}

// Complete fills out (a pointer to a struct with validate tags) from the model's answer.
// Transport errors are returned as-is; schema violations get one retry.
func (c *Completer) Complete(ctx context.Context, p Payload, out any) error {
	prompt := p.Render()
	id := p.SchemaID()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := c.provider.Generate(ctx, prompt, llm.WithTemperature(0.0), llm.WithJSONResponse())
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}

		decodeErr := c.decode(raw, out)
		if decodeErr == nil {
			return nil
		}

		metrics.CompletionMalformedTotal.WithLabelValues(id).Inc()
		c.logger.Warn("COMPLETER", "Malformed completion output", map[string]interface{}{
			"schema":  id,
			"attempt": attempt,
			"error":   decodeErr.Error(),
		})

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: %w", id, ErrMalformed)
}

func (c *Completer) decode(raw string, out any) error {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return errors.New("no JSON object in output")
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := c.validate.Struct(out); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

// ExtractJSON returns the outermost {...} span, tolerating code fences and chatter.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
