// Package chain tracks topic chains across the turns of one session.
package chain

import (
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/synthesis"

	"github.com/google/uuid"
)

const DefaultMaxArchived = 8

// Record is one run of turns about a single topic.
type Record struct {
	ID                 string                `json:"id"`
	StartedAt          int                   `json:"startedAt"`
	LastTurn           int                   `json:"lastTurn"`
	LastQuery          string                `json:"lastQuery"`
	LastClassification *query.Classification `json:"lastClassification,omitempty"`
	LastEvidence       []evidence.Fragment   `json:"lastEvidence,omitempty"`
	// BrokenAt is the turn at which the chain was archived; nil while active.
	BrokenAt *int `json:"brokenAt,omitempty"`
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.LastClassification = r.LastClassification.Clone()
	out.LastEvidence = append([]evidence.Fragment(nil), r.LastEvidence...)
	if r.BrokenAt != nil {
		b := *r.BrokenAt
		out.BrokenAt = &b
	}
	return &out
}

type Action string

const (
	ActionStarted     Action = "started"
	ActionExtended    Action = "extended"
	ActionReactivated Action = "reactivated"
)

// Transition describes what OnTurnClassified did.
type Transition struct {
	Action Action
	Active Record
	// Archived is the chain that was archived by this transition, if any.
	Archived *Record
	// Seed is evidence carried forward into the new resolution cycle.
	Seed []evidence.Fragment
}

// Snapshot is a read-only view for the classifier.
type Snapshot struct {
	Active *Record
	// Archived is ordered newest first.
	Archived []Record
}

// Tracker is owned by a session and mutated only at turn start and turn end.
// It is not safe for concurrent use.
type Tracker struct {
	active      *Record
	archived    []*Record
	maxArchived int
	newID       func() string
}

func NewTracker(maxArchived int) *Tracker {
	if maxArchived <= 0 {
		maxArchived = DefaultMaxArchived
	}
	return &Tracker{
		maxArchived: maxArchived,
		newID:       func() string { return uuid.NewString() },
	}
}

// OnTurnClassified applies the chain rules for a newly classified turn.
// followUpOf names the chain the classifier resolved the follow-up against;
// an empty value on a follow-up means the active chain.
func (t *Tracker) OnTurnClassified(turn int, c *query.Classification, q string, followUpOf string) Transition {
	isFollowUp := c != nil && c.IsFollowUp
	topic := c.EffectiveQuery(q)

	if isFollowUp {
		if idx := t.archivedIndex(followUpOf); idx >= 0 {
			target := t.archived[idx]
			t.archived = append(t.archived[:idx], t.archived[idx+1:]...)

			archived := t.archiveActive(turn)

			target.BrokenAt = nil
			target.LastTurn = turn
			target.LastQuery = topic
			t.active = target

			return Transition{
				Action:   ActionReactivated,
				Active:   *target.clone(),
				Archived: archived,
				Seed:     append([]evidence.Fragment(nil), target.LastEvidence...),
			}
		}

		// Unknown or evicted targets fall back to the active chain.
		if t.active != nil {
			t.active.LastTurn = turn
			t.active.LastQuery = topic
			return Transition{Action: ActionExtended, Active: *t.active.clone()}
		}
	}

	archived := t.archiveActive(turn)
	t.active = &Record{
		ID:        t.newID(),
		StartedAt: turn,
		LastTurn:  turn,
		LastQuery: topic,
	}
	return Transition{Action: ActionStarted, Active: *t.active.clone(), Archived: archived}
}

// OnTurnCompleted records the outcome of the turn on the active chain.
// Evidence is only remembered when it answered the query.
func (t *Tracker) OnTurnCompleted(turn int, c *query.Classification, verdict synthesis.Verdict, fragments []evidence.Fragment) {
	if t.active == nil {
		return
	}
	t.active.LastTurn = turn
	if c != nil {
		t.active.LastClassification = c.Clone()
	}
	if verdict == synthesis.Complete && len(fragments) > 0 {
		t.active.LastEvidence = append([]evidence.Fragment(nil), fragments...)
	}
}

// Checkpoint is a deep copy of the tracker state taken with Checkpoint.
type Checkpoint struct {
	active   *Record
	archived []*Record
}

func (t *Tracker) Checkpoint() Checkpoint {
	cp := Checkpoint{active: t.active.clone()}
	for _, r := range t.archived {
		cp.archived = append(cp.archived, r.clone())
	}
	return cp
}

// Restore undoes every transition made since cp was taken.
func (t *Tracker) Restore(cp Checkpoint) {
	t.active = cp.active.clone()
	t.archived = t.archived[:0:0]
	for _, r := range cp.archived {
		t.archived = append(t.archived, r.clone())
	}
}

func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{Active: t.active.clone()}
	for i := len(t.archived) - 1; i >= 0; i-- {
		s.Archived = append(s.Archived, *t.archived[i].clone())
	}
	return s
}

func (t *Tracker) Active() *Record {
	return t.active.clone()
}

func (t *Tracker) ArchivedCount() int {
	return len(t.archived)
}

func (t *Tracker) archiveActive(turn int) *Record {
	if t.active == nil {
		return nil
	}
	broken := turn
	t.active.BrokenAt = &broken
	t.archived = append(t.archived, t.active)
	if len(t.archived) > t.maxArchived {
		t.archived = t.archived[len(t.archived)-t.maxArchived:]
	}
	archived := t.active.clone()
	t.active = nil
	return archived
}

func (t *Tracker) archivedIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range t.archived {
		if r.ID == id {
			return i
		}
	}
	return -1
}
