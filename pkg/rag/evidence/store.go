// Package evidence accumulates retrieved fragments for one resolution cycle.
package evidence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agentic-retrieval-be/pkg/rag/query"
)

type SourceType string

const (
	SourceMail     SourceType = "mail"
	SourceFile     SourceType = "file"
	SourceEvent    SourceType = "event"
	SourceContact  SourceType = "contact"
	SourceChat     SourceType = "chat"
	SourceExternal SourceType = "external"
)

// SourceTypeFor maps an entity kind to the citation source type.
func SourceTypeFor(app query.App, entity query.Entity) SourceType {
	switch entity {
	case query.EntityMessage, query.EntityAttachment:
		return SourceMail
	case query.EntityEvent:
		return SourceEvent
	case query.EntityDocument, query.EntitySheet, query.EntitySlide, query.EntityPDF, query.EntityFolder:
		return SourceFile
	case query.EntityContact:
		return SourceContact
	case query.EntityChatMessage:
		return SourceChat
	}
	switch app {
	case query.AppMail:
		return SourceMail
	case query.AppCalendar:
		return SourceEvent
	case query.AppFileStore:
		return SourceFile
	case query.AppDirectory:
		return SourceContact
	case query.AppChat:
		return SourceChat
	}
	return SourceExternal
}

var ErrIndexOutOfRange = errors.New("evidence index out of range")

// Fragment is one citable item. Fragments are values; the store never hands
// out pointers into its backing slice.
type Fragment struct {
	Index           int                    `json:"index"`
	ID              string                 `json:"id"`
	SourceType      SourceType             `json:"sourceType"`
	App             query.App              `json:"app,omitempty"`
	Entity          query.Entity           `json:"entity,omitempty"`
	Title           string                 `json:"title"`
	Snippet         string                 `json:"snippet"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	PermissionScope string                 `json:"permissionScope,omitempty"`
	Tool            string                 `json:"tool,omitempty"`
}

// Draft is a fragment before the store assigns its index.
type Draft struct {
	ID              string
	SourceType      SourceType
	App             query.App
	Entity          query.Entity
	Title           string
	Snippet         string
	Payload         map[string]interface{}
	Timestamp       time.Time
	PermissionScope string
	Tool            string
}

// Text is the searchable text of a fragment.
func (f Fragment) Text() string {
	var b strings.Builder
	b.WriteString(f.Title)
	b.WriteString(" ")
	b.WriteString(f.Snippet)
	for _, k := range []string{"from", "to", "email", "name", "organizer", "attendees"} {
		if v, ok := f.Payload[k]; ok {
			b.WriteString(" ")
			b.WriteString(fmt.Sprint(v))
		}
	}
	return b.String()
}

// Store is append-only and owned by a single turn; it is not safe for concurrent use.
type Store struct {
	fragments []Fragment
	byID      map[string]int
}

func NewStore() *Store {
	return &Store{byID: make(map[string]int)}
}

// Append assigns stable indices to new drafts and returns only the fragments
// that were added. Drafts whose ID is already present are skipped.
func (s *Store) Append(drafts ...Draft) []Fragment {
	added := make([]Fragment, 0, len(drafts))
	for _, d := range drafts {
		if d.ID != "" {
			if _, seen := s.byID[d.ID]; seen {
				continue
			}
		}
		f := Fragment{
			Index:           len(s.fragments),
			ID:              d.ID,
			SourceType:      d.SourceType,
			App:             d.App,
			Entity:          d.Entity,
			Title:           d.Title,
			Snippet:         d.Snippet,
			Payload:         copyPayload(d.Payload),
			Timestamp:       d.Timestamp,
			PermissionScope: d.PermissionScope,
			Tool:            d.Tool,
		}
		if f.ID == "" {
			f.ID = fmt.Sprintf("anon-%d", f.Index)
		}
		s.fragments = append(s.fragments, f)
		s.byID[f.ID] = f.Index
		added = append(added, f)
	}
	return added
}

// Seed re-indexes fragments carried over from an earlier cycle.
func (s *Store) Seed(carried []Fragment) []Fragment {
	drafts := make([]Draft, len(carried))
	for i, f := range carried {
		drafts[i] = Draft{
			ID:              f.ID,
			SourceType:      f.SourceType,
			App:             f.App,
			Entity:          f.Entity,
			Title:           f.Title,
			Snippet:         f.Snippet,
			Payload:         f.Payload,
			Timestamp:       f.Timestamp,
			PermissionScope: f.PermissionScope,
			Tool:            f.Tool,
		}
	}
	return s.Append(drafts...)
}

func (s *Store) Len() int {
	return len(s.fragments)
}

// All returns a copy of every fragment in index order.
func (s *Store) All() []Fragment {
	out := make([]Fragment, len(s.fragments))
	copy(out, s.fragments)
	return out
}

func (s *Store) Get(index int) (Fragment, error) {
	if !s.ValidIndex(index) {
		return Fragment{}, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.fragments))
	}
	return s.fragments[index], nil
}

func (s *Store) ValidIndex(index int) bool {
	return index >= 0 && index < len(s.fragments)
}

func (s *Store) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// SeenIDs lists source ids in index order, for exclusion lists.
func (s *Store) SeenIDs() []string {
	out := make([]string, len(s.fragments))
	for i, f := range s.fragments {
		out[i] = f.ID
	}
	return out
}

// IDs returns the ids of the given fragments.
func IDs(frags []Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.ID
	}
	return out
}

func copyPayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
