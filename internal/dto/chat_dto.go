package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateSessionRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type SessionResponse struct {
	Id           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	TurnCount    int        `json:"turn_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at"`
}

type AskRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
}

type ListTurnsRequest struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=100"`
}

type CitationDTO struct {
	Index      int       `json:"index"`
	Id         string    `json:"id"`
	SourceType string    `json:"source_type"`
	App        string    `json:"app,omitempty"`
	Title      string    `json:"title"`
	Snippet    string    `json:"snippet"`
	Timestamp  time.Time `json:"timestamp"`
}

// TurnResponse is what the caller sees for a turn: a cited answer, a
// fallback explanation, or a direct reply.
type TurnResponse struct {
	Id             string        `json:"id"`
	Index          int           `json:"index"`
	Query          string        `json:"query"`
	Kind           string        `json:"kind"` // "answer" | "fallback" | "direct"
	Answer         string        `json:"answer"`
	Citations      []CitationDTO `json:"citations"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	ChainId        string        `json:"chain_id,omitempty"`
	ChainAction    string        `json:"chain_action,omitempty"`
	Iterations     int           `json:"iterations,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type AskResponse struct {
	ChatSessionId    uuid.UUID     `json:"chat_session_id"`
	ChatSessionTitle string        `json:"title"`
	Turn             *TurnResponse `json:"turn"`
}
