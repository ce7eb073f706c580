package contract

import (
	"context"

	"agentic-retrieval-be/internal/repository/specification"
	"agentic-retrieval-be/pkg/rag/history"

	"github.com/google/uuid"
)

// ChatTurnRepository is the durable turn log. It satisfies history.Store.
type ChatTurnRepository interface {
	history.Store
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*history.Turn, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteByChatSessionId(ctx context.Context, sessionId uuid.UUID) error
}
