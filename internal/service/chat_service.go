package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"agentic-retrieval-be/internal/dto"
	"agentic-retrieval-be/internal/entity"
	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/internal/pkg/serverutils"
	"agentic-retrieval-be/internal/repository/specification"
	"agentic-retrieval-be/internal/repository/unitofwork"
	"agentic-retrieval-be/pkg/rag/executor"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/session"
	"agentic-retrieval-be/pkg/search"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	defaultSessionTitle = "New conversation"
	defaultTurnsLimit   = 50
	titleMaxRunes       = 60
)

type IChatService interface {
	CreateSession(ctx context.Context, userId uuid.UUID, request *dto.CreateSessionRequest) (*dto.SessionResponse, error)
	GetAllSessions(ctx context.Context, userId uuid.UUID) ([]*dto.SessionResponse, error)
	Ask(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, accessToken string, request *dto.AskRequest) (*dto.AskResponse, error)
	GetTurns(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, limit int) ([]*dto.TurnResponse, error)
	DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error
}

// Conversations runs and records turns; *session.Manager implements it.
type Conversations interface {
	RunTurn(ctx context.Context, sessionID string, scope search.Scope, q string) (*session.Result, error)
	Turns(ctx context.Context, sessionID string, limit int) ([]*history.Turn, error)
	Close(ctx context.Context, sessionID string) error
}

type chatService struct {
	uowFactory    unitofwork.RepositoryFactory
	conversations Conversations
	logger        logger.ILogger
}

func NewChatService(uowFactory unitofwork.RepositoryFactory, conversations Conversations, log logger.ILogger) IChatService {
	return &chatService{
		uowFactory:    uowFactory,
		conversations: conversations,
		logger:        log,
	}
}

func (cs *chatService) CreateSession(ctx context.Context, userId uuid.UUID, request *dto.CreateSessionRequest) (*dto.SessionResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	title := strings.TrimSpace(request.Title)
	if title == "" {
		title = defaultSessionTitle
	}
	chatSession := entity.ChatSession{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     title,
		CreatedAt: time.Now(),
	}
	if err := uow.ChatSessionRepository().Create(ctx, &chatSession); err != nil {
		return nil, err
	}
	return toSessionResponse(&chatSession), nil
}

func (cs *chatService) GetAllSessions(ctx context.Context, userId uuid.UUID) ([]*dto.SessionResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	sessions, err := uow.ChatSessionRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		res = append(res, toSessionResponse(s))
	}
	return res, nil
}

// Ask runs one turn. The caller's token travels with the scope so the
// search backend enforces the caller's permissions.
func (cs *chatService) Ask(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, accessToken string, request *dto.AskRequest) (*dto.AskResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	chatSession, err := cs.verifySession(ctx, uow, userId, sessionId)
	if err != nil {
		return nil, err
	}

	scope := search.Scope{UserID: userId.String(), Token: accessToken}
	result, err := cs.conversations.RunTurn(ctx, sessionId.String(), scope, strings.TrimSpace(request.Query))
	switch {
	case errors.Is(err, session.ErrSessionOwnership):
		return nil, serverutils.Forbidden("session belongs to another user")
	case errors.Is(err, context.Canceled):
		return nil, &serverutils.AppError{Code: fiber.StatusRequestTimeout, Message: "request cancelled"}
	case err != nil:
		return nil, err
	}

	if err := uow.ChatSessionRepository().RecordTurn(ctx, sessionId); err != nil {
		cs.logger.Warn("CHAT", "Failed to record turn on session", map[string]interface{}{
			"session_id": sessionId.String(),
			"error":      err.Error(),
		})
	}

	if chatSession.TurnCount == 0 && chatSession.Title == defaultSessionTitle {
		chatSession.Title = titleFrom(request.Query)
		now := time.Now()
		chatSession.UpdatedAt = &now
		chatSession.TurnCount++
		chatSession.LastActiveAt = &now
		if err := uow.ChatSessionRepository().Update(ctx, chatSession); err != nil {
			cs.logger.Warn("CHAT", "Failed to update session title", map[string]interface{}{
				"session_id": sessionId.String(),
				"error":      err.Error(),
			})
		}
	}

	turn := toTurnResponse(result.Turn)
	turn.FallbackReason = string(result.Outcome.FallbackReason)
	turn.Iterations = result.Outcome.Iterations

	return &dto.AskResponse{
		ChatSessionId:    sessionId,
		ChatSessionTitle: chatSession.Title,
		Turn:             turn,
	}, nil
}

func (cs *chatService) GetTurns(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID, limit int) ([]*dto.TurnResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if _, err := cs.verifySession(ctx, uow, userId, sessionId); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTurnsLimit
	}

	turns, err := cs.conversations.Turns(ctx, sessionId.String(), limit)
	if err != nil {
		return nil, err
	}
	res := make([]*dto.TurnResponse, 0, len(turns))
	for _, t := range turns {
		res = append(res, toTurnResponse(t))
	}
	return res, nil
}

func (cs *chatService) DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error {
	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if _, err := cs.verifySession(ctx, uow, userId, sessionId); err != nil {
		return err
	}

	if err := cs.conversations.Close(ctx, sessionId.String()); err != nil {
		return err
	}
	return uow.ChatSessionRepository().Delete(ctx, sessionId)
}

func (cs *chatService) verifySession(ctx context.Context, uow unitofwork.UnitOfWork, userId, sessionId uuid.UUID) (*entity.ChatSession, error) {
	chatSession, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if chatSession == nil {
		return nil, serverutils.NotFound("session not found")
	}
	return chatSession, nil
}

func titleFrom(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if utf8.RuneCountInString(q) <= titleMaxRunes {
		return q
	}
	runes := []rune(q)
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "…"
}

func toSessionResponse(s *entity.ChatSession) *dto.SessionResponse {
	return &dto.SessionResponse{
		Id:           s.Id,
		Title:        s.Title,
		TurnCount:    s.TurnCount,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
	}
}

func turnKind(state string) string {
	switch executor.State(state) {
	case executor.StateShortCircuited:
		return "direct"
	case executor.StateAnswering:
		return "answer"
	default:
		return "fallback"
	}
}

func toTurnResponse(t *history.Turn) *dto.TurnResponse {
	citations := make([]dto.CitationDTO, 0, len(t.Citations))
	for _, f := range t.Citations {
		citations = append(citations, dto.CitationDTO{
			Index:      f.Index,
			Id:         f.ID,
			SourceType: string(f.SourceType),
			App:        string(f.App),
			Title:      f.Title,
			Snippet:    f.Snippet,
			Timestamp:  f.Timestamp,
		})
	}
	return &dto.TurnResponse{
		Id:          t.ID,
		Index:       t.Index,
		Query:       t.Query,
		Kind:        turnKind(t.State),
		Answer:      t.Answer,
		Citations:   citations,
		ChainId:     t.ChainID,
		ChainAction: t.ChainAction,
		CreatedAt:   t.CreatedAt,
	}
}
