// Package query holds the routing decision produced once per user turn.
package query

import (
	"errors"
	"sort"
	"time"
)

type Type string

const (
	TypeSearchWithoutFilters Type = "SearchWithoutFilters"
	TypeSearchWithFilters    Type = "SearchWithFilters"
	TypeGetItems             Type = "GetItems"
)

type SortDirection string

const (
	SortNone SortDirection = ""
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type TemporalDirection string

const (
	TemporalNone TemporalDirection = ""
	TemporalNext TemporalDirection = "next"
	TemporalPrev TemporalDirection = "prev"
)

// Participants is only populated from explicit names, addresses or organisations.
type Participants struct {
	From []string `json:"from,omitempty"`
	To   []string `json:"to,omitempty"`
	Cc   []string `json:"cc,omitempty"`
	Bcc  []string `json:"bcc,omitempty"`
}

func (p *Participants) IsEmpty() bool {
	return p == nil || len(p.From)+len(p.To)+len(p.Cc)+len(p.Bcc) == 0
}

// All returns every participant in from, to, cc, bcc order.
func (p *Participants) All() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.From)+len(p.To)+len(p.Cc)+len(p.Bcc))
	out = append(out, p.From...)
	out = append(out, p.To...)
	out = append(out, p.Cc...)
	out = append(out, p.Bcc...)
	return out
}

func (p *Participants) Clone() *Participants {
	if p == nil {
		return nil
	}
	return &Participants{
		From: append([]string(nil), p.From...),
		To:   append([]string(nil), p.To...),
		Cc:   append([]string(nil), p.Cc...),
		Bcc:  append([]string(nil), p.Bcc...),
	}
}

type Filters struct {
	Apps             []App         `json:"apps,omitempty"`
	Entities         []Entity      `json:"entities,omitempty"`
	FilterQuery      *string       `json:"filterQuery"`
	Count            *int          `json:"count"`
	Offset           *int          `json:"offset"`
	StartTime        *time.Time    `json:"startTime"`
	EndTime          *time.Time    `json:"endTime"`
	SortDirection    SortDirection `json:"sortDirection,omitempty"`
	MailParticipants *Participants `json:"mailParticipants,omitempty"`
}

func (f Filters) HasTarget() bool {
	return len(f.Apps)+len(f.Entities) > 0
}

func (f Filters) HasApp(app App) bool {
	for _, a := range f.Apps {
		if a == app {
			return true
		}
	}
	return false
}

func (f Filters) HasEntity(e Entity) bool {
	for _, x := range f.Entities {
		if x == e {
			return true
		}
	}
	return false
}

func (f Filters) HasTimeWindow() bool {
	return f.StartTime != nil || f.EndTime != nil
}

// RequestedOffset treats a nil offset as zero.
func (f Filters) RequestedOffset() int {
	if f.Offset == nil {
		return 0
	}
	return *f.Offset
}

type Classification struct {
	Type              Type              `json:"type"`
	Filters           Filters           `json:"filters"`
	TemporalDirection TemporalDirection `json:"temporalDirection,omitempty"`
	IsFollowUp        bool              `json:"isFollowUp"`
	QueryRewrite      *string           `json:"queryRewrite"`
}

var (
	ErrGetItemsWithoutTarget = errors.New("GetItems requires at least one app or entity")
	ErrGetItemsWithKeywords  = errors.New("GetItems must not carry a filter query")
	ErrFilteredWithoutTarget = errors.New("SearchWithFilters requires at least one app or entity")
	ErrTemporalWithoutEvents = errors.New("temporal direction requires a calendar-like target")
)

// Normalize sorts the app and entity sets and re-derives Type from them.
func (c *Classification) Normalize() {
	c.Filters.Apps = SortedApps(c.Filters.Apps)
	c.Filters.Entities = SortedEntities(c.Filters.Entities)
	c.Type = DeriveType(c.Filters)
	if c.Type == TypeGetItems {
		c.Filters.FilterQuery = nil
	}
	if !c.Filters.IsCalendarLike() {
		c.TemporalDirection = TemporalNone
	}
}

// Validate checks the structural invariants of a classification.
func (c *Classification) Validate() error {
	switch c.Type {
	case TypeGetItems:
		if !c.Filters.HasTarget() {
			return ErrGetItemsWithoutTarget
		}
		if c.Filters.FilterQuery != nil {
			return ErrGetItemsWithKeywords
		}
	case TypeSearchWithFilters:
		if !c.Filters.HasTarget() {
			return ErrFilteredWithoutTarget
		}
	}
	if c.TemporalDirection != TemporalNone && !c.Filters.IsCalendarLike() {
		return ErrTemporalWithoutEvents
	}
	return nil
}

// EffectiveQuery is the rewrite when present, otherwise the raw query.
func (c *Classification) EffectiveQuery(raw string) string {
	if c != nil && c.QueryRewrite != nil && *c.QueryRewrite != "" {
		return *c.QueryRewrite
	}
	return raw
}

func (c *Classification) Clone() *Classification {
	if c == nil {
		return nil
	}
	out := *c
	out.Filters.Apps = append([]App(nil), c.Filters.Apps...)
	out.Filters.Entities = append([]Entity(nil), c.Filters.Entities...)
	out.Filters.FilterQuery = cloneString(c.Filters.FilterQuery)
	out.Filters.Count = cloneInt(c.Filters.Count)
	out.Filters.Offset = cloneInt(c.Filters.Offset)
	out.Filters.StartTime = cloneTime(c.Filters.StartTime)
	out.Filters.EndTime = cloneTime(c.Filters.EndTime)
	out.Filters.MailParticipants = c.Filters.MailParticipants.Clone()
	out.QueryRewrite = cloneString(c.QueryRewrite)
	return &out
}

// Unfiltered is the degraded route used when classification cannot be trusted.
func Unfiltered(raw string) *Classification {
	return &Classification{
		Type:         TypeSearchWithoutFilters,
		QueryRewrite: nil,
		Filters:      Filters{FilterQuery: StringPtr(raw)},
	}
}

// DeriveType applies the type-assignment rule.
func DeriveType(f Filters) Type {
	if !f.HasTarget() {
		return TypeSearchWithoutFilters
	}
	if f.FilterQuery == nil || *f.FilterQuery == "" {
		return TypeGetItems
	}
	return TypeSearchWithFilters
}

func SortedApps(in []App) []App {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[App]struct{}, len(in))
	out := make([]App, 0, len(in))
	for _, a := range in {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func SortedEntities(in []Entity) []Entity {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Entity]struct{}, len(in))
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func StringPtr(s string) *string { return &s }

func IntPtr(i int) *int { return &i }

func TimePtr(t time.Time) *time.Time { return &t }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
