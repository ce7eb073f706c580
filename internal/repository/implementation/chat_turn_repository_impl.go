package implementation

import (
	"context"
	"fmt"

	"agentic-retrieval-be/internal/mapper"
	"agentic-retrieval-be/internal/model"
	"agentic-retrieval-be/internal/repository/contract"
	"agentic-retrieval-be/internal/repository/specification"
	"agentic-retrieval-be/pkg/rag/history"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatTurnRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatMapper
}

func NewChatTurnRepository(db *gorm.DB) contract.ChatTurnRepository {
	return &ChatTurnRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *ChatTurnRepositoryImpl) Append(ctx context.Context, turn *history.Turn) error {
	m, err := r.mapper.ChatTurnToModel(turn)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to insert turn %d: %w", turn.Index, err)
	}
	turn.ID = m.Id.String()
	return nil
}

// Recent loads the newest limit turns and returns them oldest first.
func (r *ChatTurnRepositoryImpl) Recent(ctx context.Context, sessionID string, limit int) ([]*history.Turn, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}

	specs := []specification.Specification{
		specification.ByChatSessionID{ChatSessionID: id},
		specification.OrderBy{Field: "turn_index", Desc: true},
	}
	if limit > 0 {
		specs = append(specs, specification.Pagination{Limit: limit})
	}

	turns, err := r.FindAll(ctx, specs...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *ChatTurnRepositoryImpl) DeleteSession(ctx context.Context, sessionID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	return r.DeleteByChatSessionId(ctx, id)
}

func (r *ChatTurnRepositoryImpl) DeleteByChatSessionId(ctx context.Context, sessionId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("chat_session_id = ?", sessionId).Delete(&model.ChatTurn{}).Error
}

func (r *ChatTurnRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*history.Turn, error) {
	var models []*model.ChatTurn
	query := specification.Apply(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ChatTurnsToHistory(models)
}

func (r *ChatTurnRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := specification.Apply(r.db.WithContext(ctx).Model(&model.ChatTurn{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
