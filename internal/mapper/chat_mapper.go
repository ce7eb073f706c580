package mapper

import (
	"encoding/json"
	"fmt"
	"time"

	"agentic-retrieval-be/internal/entity"
	"agentic-retrieval-be/internal/model"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/tools"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Session Mappers

func (m *ChatMapper) ChatSessionToEntity(s *model.ChatSession) *entity.ChatSession {
	if s == nil {
		return nil
	}

	var deletedAt *time.Time
	if s.DeletedAt.Valid {
		t := s.DeletedAt.Time
		deletedAt = &t
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	return &entity.ChatSession{
		Id:           s.Id,
		UserId:       s.UserId,
		Title:        s.Title,
		TurnCount:    s.TurnCount,
		LastActiveAt: s.LastActiveAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    updatedAt,
		DeletedAt:    deletedAt,
		IsDeleted:    s.DeletedAt.Valid,
	}
}

func (m *ChatMapper) ChatSessionToModel(s *entity.ChatSession) *model.ChatSession {
	if s == nil {
		return nil
	}

	var deletedAt gorm.DeletedAt
	if s.DeletedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *s.DeletedAt, Valid: true}
	}

	var updatedAt time.Time
	if s.UpdatedAt != nil {
		updatedAt = *s.UpdatedAt
	}

	return &model.ChatSession{
		Id:           s.Id,
		UserId:       s.UserId,
		Title:        s.Title,
		TurnCount:    s.TurnCount,
		LastActiveAt: s.LastActiveAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    updatedAt,
		DeletedAt:    deletedAt,
	}
}

// Turn Mappers

func (m *ChatMapper) ChatTurnToModel(t *history.Turn) (*model.ChatTurn, error) {
	if t == nil {
		return nil, nil
	}

	sessionId, err := uuid.Parse(t.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", t.SessionID, err)
	}
	userId, err := uuid.Parse(t.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", t.UserID, err)
	}

	var id uuid.UUID
	if t.ID != "" {
		if id, err = uuid.Parse(t.ID); err != nil {
			return nil, fmt.Errorf("invalid turn id %q: %w", t.ID, err)
		}
	}

	classification, err := marshalJSON(t.Classification)
	if err != nil {
		return nil, err
	}
	toolLog, err := marshalJSON(t.ToolLog)
	if err != nil {
		return nil, err
	}
	citations, err := marshalJSON(t.Citations)
	if err != nil {
		return nil, err
	}

	return &model.ChatTurn{
		Id:             id,
		ChatSessionId:  sessionId,
		TurnIndex:      t.Index,
		UserId:         userId,
		Query:          t.Query,
		Answer:         t.Answer,
		State:          t.State,
		ChainId:        t.ChainID,
		ChainAction:    t.ChainAction,
		Classification: classification,
		ToolLog:        toolLog,
		Citations:      citations,
		CreatedAt:      t.CreatedAt,
	}, nil
}

func (m *ChatMapper) ChatTurnToHistory(t *model.ChatTurn) (*history.Turn, error) {
	if t == nil {
		return nil, nil
	}

	out := &history.Turn{
		ID:          t.Id.String(),
		SessionID:   t.ChatSessionId.String(),
		UserID:      t.UserId.String(),
		Index:       t.TurnIndex,
		Query:       t.Query,
		Answer:      t.Answer,
		State:       t.State,
		ChainID:     t.ChainId,
		ChainAction: t.ChainAction,
		CreatedAt:   t.CreatedAt,
	}

	var classification *query.Classification
	if err := unmarshalJSON(t.Classification, &classification); err != nil {
		return nil, fmt.Errorf("turn %s classification: %w", t.Id, err)
	}
	var toolLog []tools.Invocation
	if err := unmarshalJSON(t.ToolLog, &toolLog); err != nil {
		return nil, fmt.Errorf("turn %s tool log: %w", t.Id, err)
	}
	var citations []evidence.Fragment
	if err := unmarshalJSON(t.Citations, &citations); err != nil {
		return nil, fmt.Errorf("turn %s citations: %w", t.Id, err)
	}
	out.Classification = classification
	out.ToolLog = toolLog
	out.Citations = citations
	return out, nil
}

func (m *ChatMapper) ChatTurnsToHistory(models []*model.ChatTurn) ([]*history.Turn, error) {
	out := make([]*history.Turn, 0, len(models))
	for _, t := range models {
		h, err := m.ChatTurnToHistory(t)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func marshalJSON(v interface{}) (datatypes.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func unmarshalJSON(data datatypes.JSON, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
