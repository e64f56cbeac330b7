package model

import (
	"time"

	"gorm.io/datatypes"
)

// SearchHistory 记录一次文档搜索，用于搜索建议。
type SearchHistory struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	OwnerID   string            `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Query     string            `gorm:"column:query_text;type:varchar(512);not null" json:"query"`
	Filters   datatypes.JSONMap `gorm:"type:json" json:"filters"`
	CreatedAt time.Time         `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SearchHistory) TableName() string {
	return "search_history"
}
