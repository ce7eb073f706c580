// Package synthesis judges whether the evidence gathered so far answers the query.
package synthesis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/metrics"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Verdict string

const (
	Complete Verdict = "Complete"
	Partial  Verdict = "Partial"
	NotFound Verdict = "NotFound"
)

// CompleteThreshold is the fraction of necessary facts that counts as an answer.
const CompleteThreshold = 0.8

const maxRewrites = 3

const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
	SourceMemo      = "memo"
	SourceEmpty     = "empty"
)

type Judgment struct {
	Verdict          Verdict  `json:"verdict"`
	ProposedRewrites []string `json:"proposedRewrites,omitempty"`
	Coverage         float64  `json:"coverage"`
	// Relevant holds indices of fragments that bear on the query.
	Relevant []int  `json:"relevant,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Source   string `json:"source"`
}

// Completer is the schema-checked completion call the evaluator delegates to.
type Completer interface {
	Complete(ctx context.Context, p structured.Payload, out any) error
}

// Evaluator is shared across sessions; the memo is safe for concurrent use.
type Evaluator struct {
	completer Completer
	memo      *lru.Cache[string, Judgment]
	logger    logger.ILogger
}

func NewEvaluator(completer Completer, memoSize int, log logger.ILogger) (*Evaluator, error) {
	if memoSize <= 0 {
		memoSize = 1024
	}
	memo, err := lru.New[string, Judgment](memoSize)
	if err != nil {
		return nil, fmt.Errorf("create verdict memo: %w", err)
	}
	return &Evaluator{completer: completer, memo: memo, logger: log}, nil
}

// Evaluate returns the same judgment for the same query and fragment set.
// It only fails when ctx is done.
func (e *Evaluator) Evaluate(ctx context.Context, q string, fragments []evidence.Fragment) (Judgment, error) {
	if len(fragments) == 0 {
		metrics.VerdictsTotal.WithLabelValues(string(NotFound), SourceEmpty).Inc()
		return Judgment{Verdict: NotFound, Reason: "no evidence gathered", Source: SourceEmpty}, nil
	}

	key := memoKey(q, fragments)
	if j, ok := e.memo.Get(key); ok {
		metrics.VerdictsTotal.WithLabelValues(string(j.Verdict), SourceMemo).Inc()
		return j, nil
	}

	var j Judgment
	if e.completer != nil {
		var err error
		j, err = e.judgeWithModel(ctx, q, fragments)
		if err != nil {
			if ctx.Err() != nil {
				return Judgment{}, ctx.Err()
			}
			e.logger.Warn("SYNTHESIS", "Model judgment failed, using heuristic", map[string]interface{}{
				"error":     err.Error(),
				"fragments": len(fragments),
			})
			j = Heuristic(q, fragments)
		}
	} else {
		j = Heuristic(q, fragments)
	}

	j = finalize(q, fragments, j)
	e.memo.Add(key, j)
	metrics.VerdictsTotal.WithLabelValues(string(j.Verdict), j.Source).Inc()
	return j, nil
}

type modelJudgment struct {
	Verdict  string   `json:"verdict" validate:"required,oneof=Complete Partial NotFound"`
	Coverage float64  `json:"coverage" validate:"gte=0,lte=1"`
	Relevant []int    `json:"relevant" validate:"dive,gte=0"`
	Rewrites []string `json:"rewrites" validate:"max=3"`
	Reason   string   `json:"reason"`
}

func (e *Evaluator) judgeWithModel(ctx context.Context, q string, fragments []evidence.Fragment) (Judgment, error) {
	var out modelJudgment
	if err := e.completer.Complete(ctx, Payload(q, fragments), &out); err != nil {
		return Judgment{}, err
	}
	return Judgment{
		Verdict:          Verdict(out.Verdict),
		Coverage:         out.Coverage,
		Relevant:         out.Relevant,
		ProposedRewrites: out.Rewrites,
		Reason:           out.Reason,
		Source:           SourceModel,
	}, nil
}

// Payload is the synthesis.v1 task.
func Payload(q string, fragments []evidence.Fragment) structured.Payload {
	return structured.Payload{
		Task:    "synthesis",
		Version: "v1",
		Instruction: "Judge whether the evidence, taken together, answers the core intent of the query. " +
			"Estimate coverage as the fraction of necessary facts present. Use only the evidence given. " +
			"For Partial, propose up to three rewritten queries that would retrieve the missing facts.",
		Sections: []structured.Section{
			{Name: "query", Body: q},
			{Name: "evidence", Body: RenderEvidence(fragments)},
		},
		Schema: `{"verdict":"Complete|Partial|NotFound","coverage":0.0,"relevant":[0],"rewrites":["string"],"reason":"string"}`,
	}
}

// RenderEvidence lists fragments with their citation index.
func RenderEvidence(fragments []evidence.Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		fmt.Fprintf(&b, "[%d] (%s) %s", f.Index, f.SourceType, f.Title)
		if !f.Timestamp.IsZero() {
			fmt.Fprintf(&b, " @ %s", f.Timestamp.Format("2006-01-02 15:04"))
		}
		if f.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(f.Snippet)
		}
		for _, k := range []string{"from", "to", "email", "organizer"} {
			if v, ok := f.Payload[k]; ok {
				fmt.Fprintf(&b, " %s=%v", k, v)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// finalize enforces the verdict rules regardless of who produced the judgment.
func finalize(q string, fragments []evidence.Fragment, j Judgment) Judgment {
	valid := make(map[int]bool, len(fragments))
	for _, f := range fragments {
		valid[f.Index] = true
	}
	relevant := j.Relevant[:0:0]
	for _, i := range j.Relevant {
		if valid[i] {
			relevant = append(relevant, i)
		}
	}
	sort.Ints(relevant)
	j.Relevant = dedupeInts(relevant)

	if j.Coverage >= CompleteThreshold {
		j.Verdict = Complete
	}

	switch j.Verdict {
	case Complete, NotFound:
		j.ProposedRewrites = nil
	case Partial:
		j.ProposedRewrites = cleanRewrites(q, j.ProposedRewrites)
		if len(j.ProposedRewrites) == 0 {
			j.ProposedRewrites = cleanRewrites(q, deterministicRewrites(q, fragments))
		}
		if len(j.ProposedRewrites) == 0 {
			j.ProposedRewrites = []string{strings.TrimSpace(q) + " details"}
		}
	}
	return j
}

func cleanRewrites(q string, in []string) []string {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(q)): true}
	var out []string
	for _, r := range in {
		r = strings.TrimSpace(r)
		k := strings.ToLower(r)
		if r == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
		if len(out) == maxRewrites {
			break
		}
	}
	return out
}

// Heuristic is the term-coverage judge used when no model judgment is available.
func Heuristic(q string, fragments []evidence.Fragment) Judgment {
	if len(fragments) == 0 {
		return Judgment{Verdict: NotFound, Source: SourceHeuristic, Reason: "no evidence gathered"}
	}

	terms := uniqueLower(query.ContentTerms(q))
	if len(terms) == 0 {
		all := make([]int, len(fragments))
		for i, f := range fragments {
			all[i] = f.Index
		}
		return Judgment{Verdict: Complete, Coverage: 1, Relevant: all, Source: SourceHeuristic, Reason: "listing query with results"}
	}

	covered := 0
	var relevant []int
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = strings.ToLower(f.Text())
	}
	for _, t := range terms {
		hit := false
		for i, text := range texts {
			if strings.Contains(text, t) {
				hit = true
				relevant = append(relevant, fragments[i].Index)
			}
		}
		if hit {
			covered++
		}
	}

	coverage := float64(covered) / float64(len(terms))
	j := Judgment{Coverage: coverage, Relevant: relevant, Source: SourceHeuristic}
	switch {
	case coverage >= CompleteThreshold:
		j.Verdict = Complete
		j.Reason = fmt.Sprintf("evidence covers %d of %d query terms", covered, len(terms))
	case covered > 0:
		j.Verdict = Partial
		j.Reason = fmt.Sprintf("evidence covers only %d of %d query terms", covered, len(terms))
	default:
		j.Verdict = NotFound
		j.Reason = "no gathered item mentions the query terms"
	}
	return j
}

// deterministicRewrites narrows the next search to the terms the evidence did not cover.
func deterministicRewrites(q string, fragments []evidence.Fragment) []string {
	terms := query.ContentTerms(q)
	if len(terms) == 0 {
		return nil
	}
	var text strings.Builder
	for _, f := range fragments {
		text.WriteString(strings.ToLower(f.Text()))
		text.WriteString(" ")
	}
	haystack := text.String()

	var missing []string
	for _, t := range terms {
		if !strings.Contains(haystack, strings.ToLower(t)) {
			missing = append(missing, t)
		}
	}

	var out []string
	if len(missing) > 0 {
		out = append(out, strings.Join(missing, " "))
	}
	out = append(out, strings.Join(terms, " "))
	return out
}

// memoKey hashes the query and the (index, id) pairs Judgment.Relevant
// refers to.
func memoKey(q string, fragments []evidence.Fragment) string {
	ordered := make([]evidence.Fragment, len(fragments))
	copy(ordered, fragments)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Index != ordered[j].Index {
			return ordered[i].Index < ordered[j].Index
		}
		return ordered[i].ID < ordered[j].ID
	})
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(q))))
	for _, f := range ordered {
		fmt.Fprintf(h, "\x00%d:%s", f.Index, f.ID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func uniqueLower(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToLower(s)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func dedupeInts(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
