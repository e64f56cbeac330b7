// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// SourceDocument 定义了 source_documents 表的 ORM 模型。
// 上传时创建，ExtractedText 只在一次成功的抽取 / OCR 之后写入。
type SourceDocument struct {
	ID            string            `gorm:"type:char(36);primaryKey" json:"id"`
	OwnerID       string            `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Name          string            `gorm:"type:varchar(255);not null" json:"name"`
	StoragePath   string            `gorm:"type:varchar(512);not null" json:"storagePath"`
	Type          string            `gorm:"type:varchar(16);not null" json:"type"`
	SizeBytes     int64             `gorm:"not null" json:"sizeBytes"`
	Size          string            `gorm:"type:varchar(32)" json:"size"`
	IsProcessed   bool              `gorm:"not null;default:false;index" json:"isProcessed"`
	ExtractedText string            `gorm:"type:longtext" json:"-"`
	Metadata      datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SourceDocument) TableName() string {
	return "source_documents"
}

// DocumentType 返回文件扩展名的大写形式，例如 "PDF"。
func DocumentType(fileName string) string {
	return strings.ToUpper(strings.TrimPrefix(filepath.Ext(fileName), "."))
}

// HumanSize 将字节数格式化为 "12.3 KB" 形式。
func HumanSize(n int64) string {
	if n == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
