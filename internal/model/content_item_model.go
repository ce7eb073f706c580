package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// ContentItem is one indexed, owner-scoped item of the reference content index.
type ContentItem struct {
	Id              string            `gorm:"type:text;primaryKey"`
	OwnerId         string            `gorm:"type:text;not null;index"`
	App             string            `gorm:"type:varchar(32);not null;index"`
	Entity          string            `gorm:"type:varchar(32);index"`
	Title           string            `gorm:"type:text"`
	Body            string            `gorm:"type:text"`
	Fields          datatypes.JSONMap `gorm:"type:jsonb"`
	PermissionScope string            `gorm:"type:text"`
	OccurredAt      time.Time         `gorm:"index"`
	EmbeddingValue  pgvector.Vector   `gorm:"type:vector(768)"` // nomic-embed-text uses 768 dimensions
	CreatedAt       time.Time         `gorm:"autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime"`
}

func (ContentItem) TableName() string {
	return "content_items"
}
