package service

import (
	"context"
	"strings"
	"time"
	"unicode"

	"gorm.io/datatypes"

	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	maxSearchTerms     = 10
	maxHighlights      = 3
	highlightRadius    = 50
	previewRunes       = 300
	minParagraphRunes  = 50
	suggestionSources  = 5
	maxSuggestions     = 10
)

// SearchFilters 是搜索的附加过滤条件。日期接受 RFC3339 或 2006-01-02，无法解析时忽略。
type SearchFilters struct {
	Type      string `json:"type"`
	DateFrom  string `json:"dateFrom"`
	DateTo    string `json:"dateTo"`
	Processed *bool  `json:"processed"`
}

// SearchRequest 是一次文档搜索。Page 从 1 开始。
type SearchRequest struct {
	OwnerID string        `json:"-"`
	Query   string        `json:"query"`
	Filters SearchFilters `json:"filters"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
}

// SearchHit 是一条搜索结果。Content 是与查询最相关的段落预览。
type SearchHit struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	Size       string    `json:"size"`
	Date       time.Time `json:"date"`
	Processed  bool      `json:"isProcessed"`
	Highlights []string  `json:"highlights"`
	Score      float64   `json:"score"`
}

// SearchResult 是分页后的搜索结果。Took 以秒为单位。
type SearchResult struct {
	Results []SearchHit `json:"results"`
	Total   int64       `json:"total"`
	Page    int         `json:"page"`
	Limit   int         `json:"limit"`
	Query   string      `json:"query"`
	Took    float64     `json:"took"`
}

// SearchService 接口定义了文档搜索相关的业务操作。
type SearchService interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	Suggestions(ctx context.Context, ownerID, fragment string) ([]string, error)
}

type searchService struct {
	repo repository.SearchRepository
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(repo repository.SearchRepository) SearchService {
	return &searchService{repo: repo}
}

// Search 按文件名与正文搜索调用方自己的文档。
func (s *searchService) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()
	page, limit := req.Page, req.Limit
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	s.logQuery(ctx, req)

	terms := searchTerms(req.Query)
	q := repository.DocumentSearch{
		OwnerID:   req.OwnerID,
		Terms:     terms,
		Type:      strings.TrimSpace(req.Filters.Type),
		From:      parseFilterDate(req.Filters.DateFrom),
		To:        parseFilterDate(req.Filters.DateTo),
		Processed: req.Filters.Processed,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	}
	docs, total, err := s.repo.Search(ctx, q)
	if err != nil {
		log.Errorf("[SearchService] 搜索失败, query: %q, error: %v", req.Query, err)
		return nil, err
	}

	hits := make([]SearchHit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, SearchHit{
			ID:         d.ID,
			Title:      d.Name,
			Content:    contentPreview(d.ExtractedText, terms),
			Type:       d.Type,
			Size:       d.Size,
			Date:       d.CreatedAt,
			Processed:  d.IsProcessed,
			Highlights: findHighlights(d.ExtractedText, terms),
			Score:      termScore(d, terms),
		})
	}

	result := &SearchResult{
		Results: hits,
		Total:   total,
		Page:    page,
		Limit:   limit,
		Query:   req.Query,
		Took:    time.Since(start).Seconds(),
	}
	log.Infof("[SearchService] owner: %s, terms: %v, total: %d, took: %.3fs", req.OwnerID, terms, total, result.Took)
	return result, nil
}

// logQuery 写入搜索历史，失败不影响搜索。
func (s *searchService) logQuery(ctx context.Context, req SearchRequest) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return
	}
	filters := datatypes.JSONMap{}
	if req.Filters.Type != "" {
		filters["type"] = req.Filters.Type
	}
	if req.Filters.DateFrom != "" {
		filters["dateFrom"] = req.Filters.DateFrom
	}
	if req.Filters.DateTo != "" {
		filters["dateTo"] = req.Filters.DateTo
	}
	if req.Filters.Processed != nil {
		filters["processed"] = *req.Filters.Processed
	}
	entry := &model.SearchHistory{OwnerID: req.OwnerID, Query: query, Filters: filters}
	if err := s.repo.LogQuery(ctx, entry); err != nil {
		log.Warnf("[SearchService] 记录搜索历史失败: %v", err)
	}
}

// Suggestions 合并历史查询与文件名，去重后最多返回 10 条。少于 2 个字符时返回空。
func (s *searchService) Suggestions(ctx context.Context, ownerID, fragment string) ([]string, error) {
	fragment = strings.TrimSpace(fragment)
	out := []string{}
	if len([]rune(fragment)) < 2 {
		return out, nil
	}

	recent, err := s.repo.RecentQueries(ctx, ownerID, fragment, suggestionSources)
	if err != nil {
		log.Warnf("[SearchService] 查询历史搜索失败: %v", err)
	}
	names, err := s.repo.MatchingNames(ctx, ownerID, fragment, suggestionSources)
	if err != nil {
		log.Warnf("[SearchService] 查询文件名失败: %v", err)
	}

	seen := make(map[string]struct{})
	for _, cand := range append(recent, names...) {
		if _, ok := seen[cand]; ok {
			continue
		}
		seen[cand] = struct{}{}
		out = append(out, cand)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}

// searchTerms 转小写、把标点替换为空格后切词，丢弃单字符词，最多 10 个。
func searchTerms(query string) []string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return ' '
	}, query)

	var terms []string
	for _, f := range strings.Fields(clean) {
		if len([]rune(f)) < 2 {
			continue
		}
		terms = append(terms, f)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return terms
}

func parseFilterDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	log.Debugf("[SearchService] 忽略无法解析的日期 %q", s)
	return nil
}

// findHighlights 返回每个命中位置前后 50 个字符的片段，去重，最多 3 条。
func findHighlights(text string, terms []string) []string {
	out := []string{}
	if text == "" || len(terms) == 0 {
		return out
	}
	runes := []rune(text)
	lower := []rune(strings.ToLower(text))
	if len(lower) != len(runes) {
		lower = runes
	}

	seen := make(map[string]struct{})
	for _, term := range terms {
		needle := []rune(term)
		for i := indexRunes(lower, needle, 0); i >= 0; i = indexRunes(lower, needle, i+len(needle)) {
			from := max(0, i-highlightRadius)
			to := min(len(runes), i+len(needle)+highlightRadius)
			snippet := strings.TrimSpace(string(runes[from:to]))
			if _, ok := seen[snippet]; snippet != "" && !ok {
				seen[snippet] = struct{}{}
				out = append(out, snippet)
			}
			if len(out) == maxHighlights {
				return out
			}
		}
	}
	return out
}

func indexRunes(haystack, needle []rune, from int) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := from; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

// contentPreview 短文本原样返回；否则选命中词最多的段落（至少 50 字符），
// 都不命中时取开头，结果截断到 300 字符。
func contentPreview(text string, terms []string) string {
	if text == "" {
		return ""
	}
	if len([]rune(text)) <= previewRunes {
		return text
	}

	best, bestScore := "", 0
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if len([]rune(para)) < minParagraphRunes {
			continue
		}
		lower := strings.ToLower(para)
		score := 0
		for _, term := range terms {
			score += strings.Count(lower, term)
		}
		if score > bestScore {
			best, bestScore = para, score
		}
	}
	if best == "" {
		best = strings.TrimSpace(string([]rune(text)[:previewRunes]))
	}
	if len([]rune(best)) > previewRunes {
		best = string([]rune(best)[:previewRunes]) + "..."
	}
	return best
}

// termScore 统计命中次数，文件名命中记 2 分。
func termScore(d model.SourceDocument, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	name := strings.ToLower(d.Name)
	text := strings.ToLower(d.ExtractedText)
	score := 0
	for _, term := range terms {
		score += 2*strings.Count(name, term) + strings.Count(text, term)
	}
	return float64(score)
}
