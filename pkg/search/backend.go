// Package search defines the permission-scoped content index contract the
// retrieval tools call into. Ranking and access control live behind it.
package search

import (
	"context"
	"errors"
	"time"

	"agentic-retrieval-be/pkg/rag/query"
)

var (
	ErrNotFound        = errors.New("search: not found")
	ErrInvalidArgument = errors.New("search: invalid argument")
	ErrUnavailable     = errors.New("search: backend unavailable")
)

type Mode string

const (
	// ModeContent ranks items against Query.
	ModeContent Mode = "content"
	// ModeMetadata lists items by metadata only (sort, time range, participants).
	ModeMetadata Mode = "metadata"
)

// Scope is the caller's opaque permission context. The backend enforces it.
type Scope struct {
	UserID string
	Token  string
}

type Request struct {
	Scope        Scope
	Mode         Mode
	Apps         []query.App
	Entities     []query.Entity
	Query        string
	StartTime    *time.Time
	EndTime      *time.Time
	Sort         query.SortDirection
	Temporal     query.TemporalDirection
	Now          time.Time
	Participants *query.Participants
	Offset       int
	Count        int
	Exclude      []string
}

func (r Request) Validate() error {
	if r.Scope.UserID == "" {
		return errors.Join(ErrInvalidArgument, errors.New("scope user id is required"))
	}
	if r.Mode == ModeContent && r.Query == "" {
		return errors.Join(ErrInvalidArgument, errors.New("content search requires a query"))
	}
	if r.Offset < 0 || r.Count < 0 {
		return errors.Join(ErrInvalidArgument, errors.New("offset and count must be non-negative"))
	}
	if r.StartTime != nil && r.EndTime != nil && r.EndTime.Before(*r.StartTime) {
		return errors.Join(ErrInvalidArgument, errors.New("end time before start time"))
	}
	return nil
}

type Item struct {
	ID              string
	App             query.App
	Entity          query.Entity
	Title           string
	Snippet         string
	Fields          map[string]interface{}
	Timestamp       time.Time
	PermissionScope string
	Score           float64
}

type Response struct {
	Items []Item
	// Total is the number of matches before pagination, when the backend knows it.
	Total int
}

// Backend must be safe for concurrent use across sessions.
type Backend interface {
	Search(ctx context.Context, req Request) (*Response, error)
}
