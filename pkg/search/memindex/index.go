// Package memindex is an in-process search.Backend over a fixed corpus. It is
// used by tests and the scenario simulator and enforces owner scoping the way
// a real content index would.
package memindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/search"
)

const defaultCount = 10

type Document struct {
	search.Item
	Owner string
	Body  string
}

type Index struct {
	mu   sync.RWMutex
	docs []Document
	// Requests records every request seen, for assertions.
	Requests []search.Request
}

var _ search.Backend = &Index{}

func New(docs ...Document) *Index {
	return &Index{docs: docs}
}

func (x *Index) Add(docs ...Document) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs = append(x.docs, docs...)
}

func (x *Index) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	x.Requests = append(x.Requests, req)
	x.mu.Unlock()

	x.mu.RLock()
	defer x.mu.RUnlock()

	excluded := make(map[string]struct{}, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = struct{}{}
	}
	terms := queryTerms(req.Query)

	type scored struct {
		doc   Document
		score float64
	}
	var matches []scored
	for _, d := range x.docs {
		if d.Owner != req.Scope.UserID {
			continue
		}
		if _, skip := excluded[d.ID]; skip {
			continue
		}
		if !matchesFilters(d, req) {
			continue
		}
		score := 1.0
		if req.Mode == search.ModeContent {
			score = termScore(d, terms)
			if score == 0 {
				continue
			}
		}
		matches = append(matches, scored{doc: d, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if req.Mode == search.ModeContent && a.score != b.score {
			return a.score > b.score
		}
		if ascending(req) {
			return a.doc.Timestamp.Before(b.doc.Timestamp)
		}
		return a.doc.Timestamp.After(b.doc.Timestamp)
	})

	total := len(matches)
	count := req.Count
	if count == 0 {
		count = defaultCount
	}
	start := req.Offset
	if start > total {
		start = total
	}
	end := start + count
	if end > total {
		end = total
	}

	resp := &search.Response{Total: total}
	for _, m := range matches[start:end] {
		item := m.doc.Item
		item.Score = m.score
		if item.PermissionScope == "" {
			item.PermissionScope = fmt.Sprintf("owner:%s", m.doc.Owner)
		}
		resp.Items = append(resp.Items, item)
	}
	return resp, nil
}

func ascending(req search.Request) bool {
	switch {
	case req.Sort == query.SortAsc:
		return true
	case req.Sort == query.SortDesc:
		return false
	case req.Temporal == query.TemporalNext:
		return true
	}
	return false
}

func matchesFilters(d Document, req search.Request) bool {
	if len(req.Apps) > 0 && !containsApp(req.Apps, d.App) {
		return false
	}
	if len(req.Entities) > 0 && !containsEntity(req.Entities, d.Entity) {
		return false
	}
	if req.StartTime != nil && d.Timestamp.Before(*req.StartTime) {
		return false
	}
	if req.EndTime != nil && !d.Timestamp.Before(*req.EndTime) {
		return false
	}
	if !req.Now.IsZero() {
		if req.Temporal == query.TemporalNext && d.Timestamp.Before(req.Now) {
			return false
		}
		if req.Temporal == query.TemporalPrev && !d.Timestamp.Before(req.Now) {
			return false
		}
	}
	if p := req.Participants; !p.IsEmpty() {
		if !fieldMatches(d.Fields["from"], p.From) ||
			!fieldMatches(d.Fields["to"], p.To) ||
			!fieldMatches(d.Fields["cc"], p.Cc) ||
			!fieldMatches(d.Fields["bcc"], p.Bcc) {
			return false
		}
	}
	return true
}

// fieldMatches is true when wanted is empty or any wanted value appears in the field.
func fieldMatches(field interface{}, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	var values []string
	switch v := field.(type) {
	case string:
		values = []string{v}
	case []string:
		values = v
	case []interface{}:
		for _, x := range v {
			values = append(values, fmt.Sprint(x))
		}
	}
	for _, have := range values {
		for _, w := range wanted {
			if strings.Contains(strings.ToLower(have), strings.ToLower(w)) {
				return true
			}
		}
	}
	return false
}

func queryTerms(q string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(q)) {
		f = strings.Trim(f, `"'.,;:!?()`)
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func termScore(d Document, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	var b strings.Builder
	b.WriteString(d.Title)
	b.WriteString(" ")
	b.WriteString(d.Snippet)
	b.WriteString(" ")
	b.WriteString(d.Body)
	for _, v := range d.Fields {
		b.WriteString(" ")
		b.WriteString(fmt.Sprint(v))
	}
	hay := strings.ToLower(b.String())

	hit := 0
	for _, t := range terms {
		if strings.Contains(hay, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

func containsApp(apps []query.App, a query.App) bool {
	for _, x := range apps {
		if x == a {
			return true
		}
	}
	return false
}

func containsEntity(entities []query.Entity, e query.Entity) bool {
	for _, x := range entities {
		if x == e {
			return true
		}
	}
	return false
}
