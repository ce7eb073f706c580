package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChatTurn is one completed turn. Rows are append-only and are removed with
// their session.
type ChatTurn struct {
	Id             uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ChatSessionId  uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_chat_turns_session_turn,priority:1"`
	TurnIndex      int            `gorm:"not null;uniqueIndex:idx_chat_turns_session_turn,priority:2"`
	UserId         uuid.UUID      `gorm:"type:uuid;not null;index"`
	Query          string         `gorm:"type:text;not null"`
	Answer         string         `gorm:"type:text"`
	State          string         `gorm:"type:varchar(32);not null"`
	ChainId        string         `gorm:"type:varchar(64)"`
	ChainAction    string         `gorm:"type:varchar(16)"`
	Classification datatypes.JSON `gorm:"type:jsonb"`
	ToolLog        datatypes.JSON `gorm:"type:jsonb"`
	Citations      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
}

func (ChatTurn) TableName() string {
	return "chat_turns"
}
