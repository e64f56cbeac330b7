package model

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus 是 RecognitionJob 的生命周期状态。
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal 表示状态是否为终态。
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition 只允许 processing -> completed | failed。
func (s JobStatus) CanTransition(to JobStatus) bool {
	return s == JobProcessing && to.Terminal()
}

// 任务元数据中使用的键。
const (
	MetaError          = "error"
	MetaProcessingTime = "processing_time"
	MetaTextLength     = "text_length"
	MetaEngineVersion  = "engine_version"
	MetaManuallyEdited = "manually_edited"
	MetaEditedAt       = "edited_at"
	MetaPageCount      = "page_count"
)

// RecognitionJob 对应 recognition_jobs 表，记录一次 OCR 任务。
type RecognitionJob struct {
	ID         string            `gorm:"type:char(36);primaryKey" json:"id"`
	DocumentID string            `gorm:"type:char(36);not null;index" json:"documentId"`
	OwnerID    string            `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	FileName   string            `gorm:"type:varchar(255);not null" json:"fileName"`
	Text       string            `gorm:"type:longtext" json:"text"`
	Confidence float64           `gorm:"not null;default:0" json:"confidence"`
	Status     JobStatus         `gorm:"type:varchar(16);not null;index" json:"status"`
	Engine     string            `gorm:"type:varchar(32);not null" json:"engine"`
	Language   string            `gorm:"type:varchar(32)" json:"language"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (RecognitionJob) TableName() string {
	return "recognition_jobs"
}

// RecognitionJobSummary 是列表接口返回的精简视图。
type RecognitionJobSummary struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"documentId"`
	FileName    string            `json:"fileName"`
	Status      JobStatus         `json:"status"`
	Confidence  float64           `json:"confidence"`
	Engine      string            `json:"engine"`
	Language    string            `json:"language"`
	TextPreview string            `json:"textPreview"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `json:"createdAt"`
}

const previewRunes = 200

// Summary 构建带 200 字符预览的摘要。
func (j RecognitionJob) Summary() RecognitionJobSummary {
	return RecognitionJobSummary{
		ID:          j.ID,
		DocumentID:  j.DocumentID,
		FileName:    j.FileName,
		Status:      j.Status,
		Confidence:  j.Confidence,
		Engine:      j.Engine,
		Language:    j.Language,
		TextPreview: Truncate(j.Text, previewRunes),
		Metadata:    j.Metadata,
		CreatedAt:   j.CreatedAt,
	}
}

// Truncate 按 rune 截断，超长时追加 "..."。
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
