package tools

import (
	"context"
	"fmt"

	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/search"
)

const (
	ToolSearchAll       = "search_all"
	ToolSearchTimeRange = "search_time_range"
	ToolLookupContact   = "lookup_contact"
)

// SearchToolName is the per-app content search capability.
func SearchToolName(app query.App) string { return "search_" + string(app) }

// ListToolName is the per-app metadata listing capability.
func ListToolName(app query.App) string { return "list_" + string(app) }

// Optional arguments the planner may drop after an invalid_argument error.
var OptionalArgs = []string{"entities", "sort", "temporal", "start_time", "end_time", "from", "to", "cc", "bcc", "offset", "count", "apps"}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func arrayProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "minimum": 0, "description": desc}
}

func objectSchema(required []string, props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func filterProps() map[string]interface{} {
	return map[string]interface{}{
		"entities":   arrayProp("entity kinds to restrict to"),
		"start_time": stringProp("inclusive RFC 3339 lower bound"),
		"end_time":   stringProp("exclusive RFC 3339 upper bound"),
		"sort":       stringProp("asc or desc by timestamp"),
		"from":       arrayProp("sender names or addresses"),
		"to":         arrayProp("recipient names or addresses"),
		"cc":         arrayProp("cc names or addresses"),
		"bcc":        arrayProp("bcc names or addresses"),
		"offset":     intProp("items to skip"),
		"count":      intProp("items to return"),
	}
}

// backendTool adapts one search backend mode to the capability contract.
type backendTool struct {
	spec     Spec
	backend  search.Backend
	apps     []query.App
	entities []query.Entity
	mode     search.Mode
	pageSize int
}

func (t *backendTool) Spec() Spec { return t.spec }

func (t *backendTool) Call(ctx context.Context, req Request) ([]evidence.Draft, error) {
	sreq, err := t.request(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.backend.Search(ctx, sreq)
	if err != nil {
		return nil, err
	}

	drafts := make([]evidence.Draft, 0, len(resp.Items))
	for _, item := range resp.Items {
		drafts = append(drafts, itemToDraft(item, t.spec.Name))
	}
	return drafts, nil
}

func (t *backendTool) request(req Request) (search.Request, error) {
	a := req.Args
	out := search.Request{
		Scope:    req.Scope,
		Mode:     t.mode,
		Apps:     t.apps,
		Entities: t.entities,
		Query:    a.String("query"),
		Now:      req.Now,
		Exclude:  req.Excluded,
		Count:    t.pageSize,
	}
	if t.spec.Name == ToolLookupContact {
		out.Query = a.String("name")
	}

	if apps := a.Strings("apps"); len(apps) > 0 {
		out.Apps = nil
		for _, s := range apps {
			app, ok := query.ParseApp(s)
			if !ok {
				return out, fmt.Errorf("%w: unknown app %q", search.ErrInvalidArgument, s)
			}
			out.Apps = append(out.Apps, app)
		}
	}
	for _, e := range a.Strings("entities") {
		out.Entities = append(out.Entities, query.Entity(e))
	}

	var err error
	if out.StartTime, err = a.Time("start_time"); err != nil {
		return out, err
	}
	if out.EndTime, err = a.Time("end_time"); err != nil {
		return out, err
	}

	switch s := query.SortDirection(a.String("sort")); s {
	case query.SortNone, query.SortAsc, query.SortDesc:
		out.Sort = s
	default:
		return out, fmt.Errorf("%w: sort must be asc or desc, got %q", search.ErrInvalidArgument, s)
	}
	switch d := query.TemporalDirection(a.String("temporal")); d {
	case query.TemporalNone, query.TemporalNext, query.TemporalPrev:
		out.Temporal = d
	default:
		return out, fmt.Errorf("%w: temporal must be next or prev, got %q", search.ErrInvalidArgument, d)
	}

	p := &query.Participants{
		From: a.Strings("from"),
		To:   a.Strings("to"),
		Cc:   a.Strings("cc"),
		Bcc:  a.Strings("bcc"),
	}
	if !p.IsEmpty() {
		out.Participants = p
	}

	if n, ok := a.Int("offset"); ok {
		out.Offset = n
	}
	if n, ok := a.Int("count"); ok {
		out.Count = n
	}
	if t.spec.Name == ToolSearchTimeRange && out.Query == "" {
		out.Mode = search.ModeMetadata
	}
	return out, nil
}

func itemToDraft(item search.Item, tool string) evidence.Draft {
	return evidence.Draft{
		ID:              item.ID,
		SourceType:      evidence.SourceTypeFor(item.App, item.Entity),
		App:             item.App,
		Entity:          item.Entity,
		Title:           item.Title,
		Snippet:         item.Snippet,
		Payload:         item.Fields,
		Timestamp:       item.Timestamp,
		PermissionScope: item.PermissionScope,
		Tool:            tool,
	}
}

// Builtins returns the built-in capabilities for the apps that have a data source.
func Builtins(backend search.Backend, apps []query.App, pageSize int) []Capability {
	var caps []Capability

	for _, app := range apps {
		if app == query.AppExternal {
			continue
		}
		searchProps := filterProps()
		searchProps["query"] = stringProp("content terms to match")
		caps = append(caps, &backendTool{
			spec: Spec{
				Name:        SearchToolName(app),
				Description: fmt.Sprintf("Content search within %s.", app),
				Parameters:  objectSchema([]string{"query"}, searchProps),
			},
			backend:  backend,
			apps:     []query.App{app},
			mode:     search.ModeContent,
			pageSize: pageSize,
		})

		listProps := filterProps()
		listProps["temporal"] = stringProp("next for upcoming items, prev for past items")
		caps = append(caps, &backendTool{
			spec: Spec{
				Name:        ListToolName(app),
				Description: fmt.Sprintf("Metadata listing of %s items with sort, time range and pagination.", app),
				Parameters:  objectSchema(nil, listProps),
			},
			backend:  backend,
			apps:     []query.App{app},
			mode:     search.ModeMetadata,
			pageSize: pageSize,
		})
	}

	caps = append(caps,
		&backendTool{
			spec: Spec{
				Name:        ToolSearchAll,
				Description: "Unfiltered content search across every app.",
				Parameters: objectSchema([]string{"query"}, map[string]interface{}{
					"query":  stringProp("content terms to match"),
					"offset": intProp("items to skip"),
					"count":  intProp("items to return"),
				}),
			},
			backend:  backend,
			apps:     appsWithout(apps, query.AppExternal),
			mode:     search.ModeContent,
			pageSize: pageSize,
		},
		&backendTool{
			spec: Spec{
				Name:        ToolSearchTimeRange,
				Description: "Items inside a time window, optionally matching content terms.",
				Parameters: objectSchema([]string{"start_time", "end_time"}, map[string]interface{}{
					"query":      stringProp("optional content terms"),
					"apps":       arrayProp("apps to restrict to"),
					"start_time": stringProp("inclusive RFC 3339 lower bound"),
					"end_time":   stringProp("exclusive RFC 3339 upper bound"),
					"sort":       stringProp("asc or desc by timestamp"),
					"offset":     intProp("items to skip"),
					"count":      intProp("items to return"),
				}),
			},
			backend:  backend,
			apps:     appsWithout(apps, query.AppExternal),
			mode:     search.ModeContent,
			pageSize: pageSize,
		},
	)

	if containsApp(apps, query.AppDirectory) {
		caps = append(caps, &backendTool{
			spec: Spec{
				Name:        ToolLookupContact,
				Description: "Resolve a person or organisation name to directory entries and addresses.",
				Parameters: objectSchema([]string{"name"}, map[string]interface{}{
					"name":  stringProp("person or organisation name"),
					"count": intProp("entries to return"),
				}),
			},
			backend:  backend,
			apps:     []query.App{query.AppDirectory},
			entities: []query.Entity{query.EntityContact},
			mode:     search.ModeContent,
			pageSize: pageSize,
		})
	}
	return caps
}

func appsWithout(apps []query.App, drop query.App) []query.App {
	out := make([]query.App, 0, len(apps))
	for _, a := range apps {
		if a != drop {
			out = append(out, a)
		}
	}
	return out
}

func containsApp(apps []query.App, app query.App) bool {
	for _, a := range apps {
		if a == app {
			return true
		}
	}
	return false
}
