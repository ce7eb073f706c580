package implementation

import (
	"context"
	"testing"
	"time"

	"agentic-retrieval-be/internal/repository/specification"
	"agentic-retrieval-be/pkg/rag/history"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

var turnColumns = []string{
	"id", "chat_session_id", "turn_index", "user_id", "query", "answer", "state",
	"chain_id", "chain_action", "classification", "tool_log", "citations", "created_at",
}

func TestChatTurnRepository_Append(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatTurnRepository(db)

	turn := &history.Turn{
		ID:        uuid.NewString(),
		SessionID: uuid.NewString(),
		UserID:    uuid.NewString(),
		Index:     0,
		Query:     "what's on my calendar tomorrow",
		Answer:    "Nothing scheduled.",
		State:     "FallbackReasoning",
		CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chat_turns"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(turn.ID))
	mock.ExpectCommit()

	require.NoError(t, repo.Append(context.Background(), turn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatTurnRepository_RecentIsOldestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatTurnRepository(db)
	session, user := uuid.New(), uuid.NewString()
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM "chat_turns" WHERE chat_session_id = \$1 ORDER BY turn_index DESC LIMIT`).
		WillReturnRows(sqlmock.NewRows(turnColumns).
			AddRow(uuid.NewString(), session.String(), 4, user, "and the one before?", "b", "Answering", "c1", "extended",
				[]byte(`{"type":"GetItems","filters":{"apps":["mail"],"count":5,"offset":5},"isFollowUp":true}`), []byte(`null`), []byte(`null`), at).
			AddRow(uuid.NewString(), session.String(), 3, user, "latest emails", "a", "Answering", "c1", "started",
				[]byte(`{"type":"GetItems","filters":{"apps":["mail"],"count":5}}`),
				[]byte(`[{"toolName":"list_mail","arguments":{"count":5}}]`),
				[]byte(`[{"index":0,"id":"m1","sourceType":"mail","title":"Hi","snippet":"","timestamp":"2026-10-15T09:00:00Z"}]`), at))

	turns, err := repo.Recent(context.Background(), session.String(), 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, 3, turns[0].Index)
	assert.Equal(t, 4, turns[1].Index)
	require.NotNil(t, turns[1].Classification)
	assert.True(t, turns[1].Classification.IsFollowUp)
	assert.Equal(t, 5, *turns[1].Classification.Filters.Offset)
	require.Len(t, turns[0].ToolLog, 1)
	assert.Equal(t, "list_mail", turns[0].ToolLog[0].ToolName)
	require.Len(t, turns[0].Citations, 1)
	assert.Equal(t, "m1", turns[0].Citations[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatTurnRepository_DeleteSession(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatTurnRepository(db)
	session := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "chat_turns" WHERE chat_session_id = \$1`).
		WithArgs(session).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteSession(context.Background(), session.String()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatTurnRepository_Count(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatTurnRepository(db)
	session := uuid.New()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "chat_turns" WHERE chat_session_id = \$1 AND state = \$2`).
		WithArgs(session, "FallbackReasoning").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.Count(context.Background(),
		specification.ByChatSessionID{ChatSessionID: session},
		specification.TurnState{State: "FallbackReasoning"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatTurnRepository_RejectsMalformedSessionID(t *testing.T) {
	db, _ := newMockDB(t)
	_, err := NewChatTurnRepository(db).Recent(context.Background(), "not-a-uuid", 5)
	assert.Error(t, err)
}
