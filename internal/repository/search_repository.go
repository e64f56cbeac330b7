package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nhdandz/SmartDoc/internal/model"
)

// DocumentSearch 是一次文档搜索的条件。Terms 之间为 AND，
// 每个词在文件名或正文中出现即可。
type DocumentSearch struct {
	OwnerID   string
	Terms     []string
	Type      string
	From      *time.Time
	To        *time.Time
	Processed *bool
	Offset    int
	Limit     int
}

// SearchRepository 定义了文档搜索与搜索历史的数据操作接口。
type SearchRepository interface {
	// Search 返回当前页文档与满足条件的总数，按上传时间倒序。
	Search(ctx context.Context, q DocumentSearch) ([]model.SourceDocument, int64, error)
	LogQuery(ctx context.Context, entry *model.SearchHistory) error
	// RecentQueries 返回包含 fragment 的历史查询，已去重。
	RecentQueries(ctx context.Context, ownerID, fragment string, limit int) ([]string, error)
	// MatchingNames 返回文件名包含 fragment 的文档名。
	MatchingNames(ctx context.Context, ownerID, fragment string, limit int) ([]string, error)
}

type searchRepository struct {
	db *gorm.DB
}

// NewSearchRepository 创建一个新的 SearchRepository 实例。
func NewSearchRepository(db *gorm.DB) SearchRepository {
	return &searchRepository{db: db}
}

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

func (r *searchRepository) Search(ctx context.Context, q DocumentSearch) ([]model.SourceDocument, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.SourceDocument{}).Where("owner_id = ?", q.OwnerID)
	for _, term := range q.Terms {
		p := likePattern(term)
		query = query.Where("(LOWER(name) LIKE ? ESCAPE '!' OR LOWER(extracted_text) LIKE ? ESCAPE '!')", p, p)
	}
	if q.Type != "" {
		query = query.Where("type = ?", strings.ToUpper(q.Type))
	}
	if q.From != nil {
		query = query.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("created_at <= ?", *q.To)
	}
	if q.Processed != nil {
		query = query.Where("is_processed = ?", *q.Processed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var docs []model.SourceDocument
	err := query.Order("created_at DESC").Offset(q.Offset).Limit(q.Limit).Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (r *searchRepository) LogQuery(ctx context.Context, entry *model.SearchHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *searchRepository) RecentQueries(ctx context.Context, ownerID, fragment string, limit int) ([]string, error) {
	var queries []string
	err := r.db.WithContext(ctx).Model(&model.SearchHistory{}).
		Where("owner_id = ?", ownerID).
		Where("LOWER(query_text) LIKE ? ESCAPE '!'", likePattern(fragment)).
		Group("query_text").
		Order("MAX(created_at) DESC").
		Limit(limit).
		Pluck("query_text", &queries).Error
	return queries, err
}

func (r *searchRepository) MatchingNames(ctx context.Context, ownerID, fragment string, limit int) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&model.SourceDocument{}).
		Where("owner_id = ?", ownerID).
		Where("LOWER(name) LIKE ? ESCAPE '!'", likePattern(fragment)).
		Order("created_at DESC").
		Limit(limit).
		Pluck("name", &names).Error
	return names, err
}
