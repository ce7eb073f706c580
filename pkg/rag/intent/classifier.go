// Package intent turns a raw user turn into a routing decision: a
// short-circuit answer, or a classification the executor can plan from.
//
// A deterministic pass runs first. The completion service is only consulted
// for conversational replies and for fields the rules left open.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/metrics"
	"agentic-retrieval-be/pkg/rag/chain"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/query"
)

const defaultPageSize = 10

// Completer is the schema-checked completion call.
type Completer interface {
	Complete(ctx context.Context, p structured.Payload, out any) error
}

type Config struct {
	// AvailableApps lists the connected apps; empty means all of them.
	AvailableApps []query.App
	PageSize      int
}

func (c Config) pageSize() int {
	if c.PageSize <= 0 {
		return defaultPageSize
	}
	return c.PageSize
}

func (c Config) supports(apps []query.App) bool {
	if len(c.AvailableApps) == 0 {
		return true
	}
	for _, a := range apps {
		found := false
		for _, have := range c.AvailableApps {
			if a == have {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type Input struct {
	Query string
	// Turns are the session's recent turns, oldest first.
	Turns  []history.Turn
	Chains chain.Snapshot
	Now    time.Time
}

type Result struct {
	// Answer is set when the turn is answered without retrieval.
	Answer         string
	Classification *query.Classification
	// NoSource means the request targets a source that is not connected.
	NoSource bool
	// Degraded means the completion service failed and an unfiltered route was used.
	Degraded bool
	// FollowUpOf is the chain the follow-up was resolved against.
	FollowUpOf string
}

func (r *Result) ShortCircuit() bool {
	return r.Answer != ""
}

type Classifier struct {
	completer Completer
	cfg       Config
	logger    logger.ILogger
}

func NewClassifier(completer Completer, cfg Config, log logger.ILogger) *Classifier {
	return &Classifier{completer: completer, cfg: cfg, logger: log}
}

// draft is the deterministic outcome plus the fields left open for the model.
type draft struct {
	result       Result
	kind         conversationKind
	needsRewrite bool
	needsWindow  bool
}

func (d draft) open() bool {
	return d.kind == greeting || d.needsRewrite || d.needsWindow
}

func (c *Classifier) Classify(ctx context.Context, in Input) (*Result, error) {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	d := c.deterministic(in)

	if c.completer != nil && d.open() && !d.result.NoSource {
		if err := c.merge(ctx, in, &d); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, structured.ErrMalformed) && !d.result.ShortCircuit() {
				c.logger.Warn("INTENT", "Classification output malformed, degrading to unfiltered search", map[string]interface{}{
					"query": in.Query,
				})
				degraded := query.Unfiltered(in.Query)
				if prev := d.result.Classification; prev != nil {
					degraded.IsFollowUp = prev.IsFollowUp
					degraded.QueryRewrite = prev.QueryRewrite
					degraded.Filters.FilterQuery = query.StringPtr(prev.EffectiveQuery(in.Query))
				}
				d.result.Classification = degraded
				d.result.Degraded = true
			} else {
				c.logger.Warn("INTENT", "Classification completion failed, keeping deterministic result", map[string]interface{}{
					"query": in.Query,
					"error": err.Error(),
				})
			}
		}
	}

	res := d.result
	if cl := res.Classification; cl != nil && !res.ShortCircuit() {
		if err := cl.Validate(); err != nil {
			c.logger.Error("INTENT", "Invalid classification", map[string]interface{}{
				"query": in.Query,
				"error": err.Error(),
			})
			res.Classification = query.Unfiltered(in.Query)
			res.Degraded = true
		}
		metrics.ClassificationsTotal.WithLabelValues(string(res.Classification.Type), fmt.Sprint(res.Classification.IsFollowUp)).Inc()
	}
	return &res, nil
}

// deterministic applies the rule set: conversational short-circuits, follow-up
// resolution against chains, then the query analysis.
func (c *Classifier) deterministic(in Input) draft {
	s := newScanner(in.Query)

	if kind, answer := conversational(s, in.Query, in.Turns); kind != notConversational {
		return draft{result: Result{Answer: answer}, kind: kind}
	}

	vocab := query.MatchVocabulary(s.lower)
	parseWindow(s, in.Now)
	m := detectMarkers(s, vocab)

	if m.any() {
		if r, ok := resolve(m, in.Chains); ok {
			return c.followUp(in, s, m, r)
		}
	}

	a := analyzeQuery(in.Query, in.Now, c.cfg)
	return draft{
		result:       Result{Classification: a.classification, NoSource: a.noSource},
		needsRewrite: len(m.person)+len(m.demonstrative) > 0 || m.bare,
		needsWindow:  a.unparsedDate && !a.asksWhen,
	}
}

func (c *Classifier) followUp(in Input, s *scanner, m markers, r resolution) draft {
	text := r.topic
	if len(m.person)+len(m.demonstrative) > 0 || m.bare || r.item != nil {
		text = rewrite(s, m, r)
	}

	var cl *query.Classification
	if m.continuation && r.record.LastClassification != nil {
		a := analyzeQuery(in.Query, in.Now, c.cfg)
		cl = paginate(r.record.LastClassification, a.classification.Filters.Count, c.cfg.pageSize())
	} else {
		a := analyzeQuery(text, in.Now, c.cfg)
		if a.noSource {
			return draft{result: Result{Classification: a.classification, NoSource: true}}
		}
		cl = a.classification
		if prev := r.record.LastClassification; prev != nil && !cl.Filters.HasTarget() {
			cl.Filters.Apps = append([]query.App(nil), prev.Filters.Apps...)
			cl.Filters.Entities = append([]query.Entity(nil), prev.Filters.Entities...)
			cl.Normalize()
			if cl.Type == query.TypeGetItems && cl.Filters.Count == nil {
				cl.Filters.Count = query.IntPtr(c.cfg.pageSize())
			}
		}
	}

	cl.IsFollowUp = true
	if text != "" && text != in.Query {
		cl.QueryRewrite = query.StringPtr(text)
	} else {
		cl.QueryRewrite = nil
	}

	return draft{result: Result{Classification: cl, FollowUpOf: r.record.ID}}
}

// modelClassification is the classification.v1 output. Every field is optional;
// only fields the rules left open are taken.
type modelClassification struct {
	Answer       string     `json:"answer"`
	QueryRewrite string     `json:"queryRewrite"`
	StartTime    *time.Time `json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
}

func (c *Classifier) merge(ctx context.Context, in Input, d *draft) error {
	var out modelClassification
	if err := c.completer.Complete(ctx, c.payload(in, *d), &out); err != nil {
		return err
	}

	if d.kind == greeting {
		if a := strings.TrimSpace(out.Answer); a != "" {
			d.result.Answer = a
		}
		return nil
	}

	cl := d.result.Classification
	if cl == nil {
		return nil
	}
	merged := cl.Clone()
	followUpOf := d.result.FollowUpOf

	if d.needsRewrite {
		if rw := strings.TrimSpace(out.QueryRewrite); rw != "" && !strings.EqualFold(rw, in.Query) {
			chainID, grounded := referentSource(rw, in)
			a := analyzeQuery(rw, in.Now, c.cfg)
			switch {
			case !grounded:
				c.logger.Debug("INTENT", "Ignoring rewrite with no referent in history", map[string]interface{}{
					"query":   in.Query,
					"rewrite": rw,
				})
			case !a.noSource:
				merged = a.classification
				merged.QueryRewrite = query.StringPtr(rw)
				merged.IsFollowUp = true
				followUpOf = chainID
			}
		}
	}

	if d.needsWindow && !merged.Filters.HasTimeWindow() {
		if out.StartTime != nil && out.EndTime != nil && out.StartTime.Before(*out.EndTime) {
			merged.Filters.StartTime = out.StartTime
			merged.Filters.EndTime = out.EndTime
		}
	}

	merged.Normalize()
	if merged.Type == query.TypeGetItems && merged.Filters.Count == nil {
		merged.Filters.Count = query.IntPtr(c.cfg.pageSize())
	}
	if err := merged.Validate(); err != nil {
		c.logger.Warn("INTENT", "Discarding model classification", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	d.result.Classification = merged
	d.result.FollowUpOf = followUpOf
	return nil
}

func (c *Classifier) payload(in Input, d draft) structured.Payload {
	var convo strings.Builder
	for _, t := range in.Turns {
		convo.WriteString("user: ")
		convo.WriteString(t.Query)
		convo.WriteString("\n")
		if t.Answer != "" {
			convo.WriteString("assistant: ")
			convo.WriteString(t.Answer)
			convo.WriteString("\n")
		}
	}
	if convo.Len() == 0 {
		convo.WriteString("(none)")
	}

	var chains strings.Builder
	if a := in.Chains.Active; a != nil {
		fmt.Fprintf(&chains, "active: %s\n", a.LastQuery)
	}
	for _, r := range in.Chains.Archived {
		fmt.Fprintf(&chains, "archived: %s\n", r.LastQuery)
	}
	if chains.Len() == 0 {
		chains.WriteString("(none)")
	}

	draftJSON := "null"
	if d.result.Classification != nil {
		if b, err := json.Marshal(d.result.Classification); err == nil {
			draftJSON = string(b)
		}
	}

	var open []string
	if d.kind == greeting {
		open = append(open, "answer")
	}
	if d.needsRewrite {
		open = append(open, "queryRewrite")
	}
	if d.needsWindow {
		open = append(open, "startTime", "endTime")
	}

	return structured.Payload{
		Task:    "classification",
		Version: "v1",
		Instruction: `You route a user's request over their mail, calendar, files, contacts and chat.
A rule-based draft has already been produced. Fill ONLY the fields listed in open_fields.
- answer: a short, friendly reply when the user is just chatting.
- queryRewrite: the request restated with pronouns and references replaced by what they refer to in the conversation.
- startTime/endTime: RFC3339 bounds of the date range the user mentioned, relative to now.
Use null for anything you cannot determine.`,
		Sections: []structured.Section{
			{Name: "query", Body: in.Query},
			{Name: "now", Body: in.Now.Format(time.RFC3339)},
			{Name: "conversation", Body: convo.String()},
			{Name: "chains", Body: chains.String()},
			{Name: "draft", Body: draftJSON},
			{Name: "open_fields", Body: strings.Join(open, ", ")},
		},
		Schema: `{"answer": string|null, "queryRewrite": string|null, "startTime": "RFC3339"|null, "endTime": "RFC3339"|null}`,
	}
}
