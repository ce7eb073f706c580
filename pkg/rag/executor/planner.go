package executor

import (
	"strings"
	"time"

	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/synthesis"
	"agentic-retrieval-be/pkg/rag/tools"
)

// Step is one planned tool call.
type Step struct {
	Tool string
	Args tools.Args
	// Exclude asks the invoker to skip fragments already in the store.
	Exclude bool
	// Discovery steps resolve identifiers for a later call and are not evaluated.
	Discovery bool
	Reason    string
}

func (s Step) key() string {
	return tools.Key(s.Tool, s.Args)
}

// Situation is everything the planner looks at when choosing the next call.
type Situation struct {
	Query          string
	Classification *query.Classification
	Scratchpad     *tools.Scratchpad
	Store          *evidence.Store
	Judgment       *synthesis.Judgment
}

// Planner picks tool calls deterministically. It never returns a step whose
// (tool, args) key was already issued in the cycle.
type Planner struct {
	registry *tools.Registry
}

func NewPlanner(registry *tools.Registry) *Planner {
	return &Planner{registry: registry}
}

// Next returns false when every remaining candidate has been tried.
func (p *Planner) Next(s Situation) (Step, bool) {
	for _, step := range p.candidates(s) {
		if !p.registry.Has(step.Tool) {
			continue
		}
		if s.Scratchpad != nil && s.Scratchpad.Used(step.key()) {
			continue
		}
		return step, true
	}
	return Step{}, false
}

func (p *Planner) candidates(s Situation) []Step {
	c := s.Classification
	if c == nil {
		c = query.Unfiltered(s.Query)
	}

	var out []Step
	out = append(out, p.discovery(c, s.Store)...)

	avoid := ""
	if last, ok := lastInvocation(s.Scratchpad); ok && last.Err != nil {
		switch last.Err.Kind {
		case tools.KindInvalidArgument:
			out = append(out, Step{
				Tool:    last.ToolName,
				Args:    last.Arguments.Without(tools.OptionalArgs...),
				Exclude: true,
				Reason:  "retry without optional arguments",
			})
		case tools.KindBackendUnavailable, tools.KindNotFound:
			avoid = last.ToolName
		}
	}

	if s.Judgment == nil {
		out = append(out, p.primary(s, c)...)
	}

	if s.Judgment != nil && s.Judgment.Verdict == synthesis.Partial {
		out = append(out, p.rewrites(s, c, s.Judgment.ProposedRewrites)...)
	}

	out = append(out, p.broaden(s, c)...)
	if avoid != "" {
		out = withoutTool(out, avoid)
	}
	return out
}

// discovery resolves participant names through the directory before any
// address-scoped call. Each name is looked up at most once.
func (p *Planner) discovery(c *query.Classification, store *evidence.Store) []Step {
	if !p.registry.Has(tools.ToolLookupContact) {
		return nil
	}
	var out []Step
	for _, name := range c.Filters.MailParticipants.All() {
		if isAddress(name) || resolvedAddress(store, name) != "" {
			continue
		}
		out = append(out, Step{
			Tool:      tools.ToolLookupContact,
			Args:      tools.Args{"name": name},
			Discovery: true,
			Reason:    "resolve participant " + name,
		})
	}
	return out
}

// primary is the direct translation of the classification into calls, one
// per target app.
func (p *Planner) primary(s Situation, c *query.Classification) []Step {
	var out []Step
	text := searchText(s.Query, c)

	switch c.Type {
	case query.TypeGetItems:
		for _, app := range targetApps(c.Filters) {
			args := filterArgs(c, s.Store, true)
			out = append(out, Step{Tool: tools.ListToolName(app), Args: args, Reason: "list " + string(app)})
		}
	case query.TypeSearchWithFilters:
		for _, app := range targetApps(c.Filters) {
			args := filterArgs(c, s.Store, false)
			if text != "" {
				args["query"] = text
			}
			out = append(out, Step{Tool: tools.SearchToolName(app), Args: args, Reason: "search " + string(app)})
		}
	default:
		if text != "" {
			args := tools.Args{"query": text}
			pageArgs(c.Filters, args)
			out = append(out, Step{Tool: tools.ToolSearchAll, Args: args, Reason: "search everywhere"})
		}
	}
	return out
}

func (p *Planner) rewrites(s Situation, c *query.Classification, rewrites []string) []Step {
	var out []Step
	for _, rw := range rewrites {
		text := strings.TrimSpace(rw)
		if text == "" {
			continue
		}
		apps := targetApps(c.Filters)
		if len(apps) == 0 {
			out = append(out, Step{Tool: tools.ToolSearchAll, Args: tools.Args{"query": text}, Exclude: true, Reason: "rewrite"})
			continue
		}
		for _, app := range apps {
			args := filterArgs(c, s.Store, false)
			args["query"] = text
			out = append(out, Step{Tool: tools.SearchToolName(app), Args: args, Exclude: true, Reason: "rewrite"})
		}
	}
	return out
}

// broaden relaxes the request one notch at a time: drop the window and
// participants, switch from listing to content search, search every app,
// then fall through to the time-range and external capabilities.
func (p *Planner) broaden(s Situation, c *query.Classification) []Step {
	var out []Step
	text := searchText(s.Query, c)
	apps := targetApps(c.Filters)

	relaxed := c.Clone()
	relaxed.Filters.StartTime, relaxed.Filters.EndTime = nil, nil
	relaxed.Filters.MailParticipants = nil
	relaxed.Filters.Offset = nil

	for _, app := range apps {
		if c.Type == query.TypeGetItems {
			out = append(out, Step{Tool: tools.ListToolName(app), Args: filterArgs(relaxed, s.Store, true), Exclude: true, Reason: "relax filters"})
		} else if text != "" {
			args := filterArgs(relaxed, s.Store, false)
			args["query"] = text
			out = append(out, Step{Tool: tools.SearchToolName(app), Args: args, Exclude: true, Reason: "relax filters"})
		}
	}

	if text != "" {
		for _, app := range apps {
			out = append(out, Step{Tool: tools.SearchToolName(app), Args: tools.Args{"query": text}, Exclude: true, Reason: "content search"})
		}
		out = append(out, Step{Tool: tools.ToolSearchAll, Args: tools.Args{"query": text}, Exclude: true, Reason: "search everywhere"})
	}

	if c.Filters.HasTimeWindow() {
		args := tools.Args{}
		setWindow(c.Filters, args)
		if text != "" {
			args["query"] = text
		}
		out = append(out, Step{Tool: tools.ToolSearchTimeRange, Args: args, Exclude: true, Reason: "time range"})
	}

	if text != "" {
		for _, spec := range p.registry.External() {
			if spec.Accepts("query") {
				out = append(out, Step{Tool: spec.Name, Args: tools.Args{"query": text}, Exclude: true, Reason: "external source"})
			}
		}
	}
	return out
}

// searchText is the keyword query the content tools receive.
func searchText(raw string, c *query.Classification) string {
	if c.Filters.FilterQuery != nil && strings.TrimSpace(*c.Filters.FilterQuery) != "" {
		return strings.TrimSpace(*c.Filters.FilterQuery)
	}
	return strings.Join(query.ContentTerms(c.EffectiveQuery(raw)), " ")
}

func targetApps(f query.Filters) []query.App {
	if len(f.Apps) > 0 {
		return f.Apps
	}
	var apps []query.App
	for _, e := range f.Entities {
		apps = append(apps, e.HomeApp())
	}
	return query.SortedApps(apps)
}

// filterArgs renders the structured filters. Listing calls also carry the
// temporal direction, which content search does not accept.
func filterArgs(c *query.Classification, store *evidence.Store, listing bool) tools.Args {
	f := c.Filters
	args := tools.Args{}
	if len(f.Entities) > 0 {
		entities := make([]string, len(f.Entities))
		for i, e := range f.Entities {
			entities[i] = string(e)
		}
		args["entities"] = entities
	}
	setWindow(f, args)
	if f.SortDirection != query.SortNone {
		args["sort"] = string(f.SortDirection)
	}
	if listing && c.TemporalDirection != query.TemporalNone {
		args["temporal"] = string(c.TemporalDirection)
	}
	if p := f.MailParticipants; !p.IsEmpty() {
		for role, names := range map[string][]string{"from": p.From, "to": p.To, "cc": p.Cc, "bcc": p.Bcc} {
			if len(names) > 0 {
				args[role] = addresses(store, names)
			}
		}
	}
	pageArgs(f, args)
	return args
}

func setWindow(f query.Filters, args tools.Args) {
	if f.StartTime != nil {
		args["start_time"] = f.StartTime.UTC().Format(time.RFC3339)
	}
	if f.EndTime != nil {
		args["end_time"] = f.EndTime.UTC().Format(time.RFC3339)
	}
}

func pageArgs(f query.Filters, args tools.Args) {
	if f.Offset != nil && *f.Offset > 0 {
		args["offset"] = *f.Offset
	}
	if f.Count != nil {
		args["count"] = *f.Count
	}
}

// addresses swaps names for directory addresses already in the store.
func addresses(store *evidence.Store, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n
		if addr := resolvedAddress(store, n); addr != "" {
			out[i] = addr
		}
	}
	return out
}

// resolvedAddress finds a contact fragment for name and returns its address.
func resolvedAddress(store *evidence.Store, name string) string {
	if store == nil {
		return ""
	}
	want := strings.ToLower(name)
	for _, f := range store.All() {
		if f.Entity != query.EntityContact {
			continue
		}
		if !strings.Contains(strings.ToLower(f.Title), want) {
			continue
		}
		if email, ok := f.Payload["email"].(string); ok && isAddress(email) {
			return email
		}
	}
	return ""
}

func isAddress(s string) bool {
	return strings.Contains(s, "@")
}

func lastInvocation(pad *tools.Scratchpad) (tools.Invocation, bool) {
	if pad == nil {
		return tools.Invocation{}, false
	}
	return pad.Last()
}

func withoutTool(steps []Step, tool string) []Step {
	out := steps[:0:0]
	for _, s := range steps {
		if s.Tool != tool {
			out = append(out, s)
		}
	}
	return out
}
