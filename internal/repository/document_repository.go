// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
)

// DocumentRepository 定义了 source_documents 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.SourceDocument) error
	FindByID(ctx context.Context, id string) (*model.SourceDocument, error)
	// FindByIDs 按 ids 的顺序返回存在且属于 ownerID 的文档，ownerID 为空时不过滤。
	FindByIDs(ctx context.Context, ids []string, ownerID string) ([]model.SourceDocument, error)
	// SearchText 在已处理文档的全文中做大小写不敏感的子串匹配。
	SearchText(ctx context.Context, keyword, ownerID string, limit int) ([]model.SourceDocument, error)
	// SetExtractedText 在同一条 UPDATE 中写入文本与 is_processed。
	SetExtractedText(ctx context.Context, id, text string) error
	ListProcessedIDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.SourceDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.SourceDocument, error) {
	var doc model.SourceDocument
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindByIDs(ctx context.Context, ids []string, ownerID string) ([]model.SourceDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Where("id IN ?", ids)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var docs []model.SourceDocument
	if err := q.Find(&docs).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]model.SourceDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	ordered := make([]model.SourceDocument, 0, len(docs))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			ordered = append(ordered, d)
		}
	}
	return ordered, nil
}

// likeEscaper 转义 LIKE 通配符，配合 ESCAPE '!' 使用（MySQL 与 SQLite 通用）。
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func (r *documentRepository) SearchText(ctx context.Context, keyword, ownerID string, limit int) ([]model.SourceDocument, error) {
	q := r.db.WithContext(ctx).
		Where("is_processed = ?", true).
		Where("LOWER(extracted_text) LIKE ? ESCAPE '!'", likePattern(keyword))
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var docs []model.SourceDocument
	err := q.Order("updated_at DESC").Limit(limit).Find(&docs).Error
	return docs, err
}

func (r *documentRepository) SetExtractedText(ctx context.Context, id, text string) error {
	res := r.db.WithContext(ctx).Model(&model.SourceDocument{}).Where("id = ?", id).
		Updates(documentTextColumns(text))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (r *documentRepository) ListProcessedIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.SourceDocument{}).
		Where("is_processed = ?", true).Order("created_at").Pluck("id", &ids).Error
	return ids, err
}

// Delete 删除文档记录，记录不存在时不报错。
func (r *documentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.SourceDocument{}).Error
}

// documentTextColumns 保证 is_processed 总是由文本推导。
func documentTextColumns(text string) map[string]interface{} {
	return map[string]interface{}{
		"extracted_text": text,
		"is_processed":   strings.TrimSpace(text) != "",
	}
}
