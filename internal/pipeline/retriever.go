package pipeline

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/embedding"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/metrics"
)

// Mode 标记检索在降级阶梯上的位置。
type Mode string

const (
	ModeExplicit Mode = "explicit"
	ModeVector   Mode = "vector"
	ModeKeyword  Mode = "keyword"
)

const (
	// MaxFragments 是一次检索返回的片段上限。
	MaxFragments = 5

	maxKeywords     = 5
	docsPerKeyword  = 3
	minKeywordRunes = 3
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields("là gì như thế nào có được của cho trong với về từ khi mà này đó để và hoặc") {
		stopWords[norm.NFC.String(w)] = struct{}{}
	}
}

// RetrieveRequest 是一次检索的输入。
type RetrieveRequest struct {
	Question    string
	DocumentIDs []string
	OwnerID     string
}

// Retrieval 是检索结果。
type Retrieval struct {
	Fragments []model.ContextFragment
	Mode      Mode
}

// Retriever 按 explicit → vector → keyword 的顺序选择上下文。
type Retriever struct {
	caps     Capabilities
	docs     repository.DocumentRepository
	embedder embedding.Client
	index    VectorIndex
	topK     int
}

// NewRetriever 创建 Retriever。embedder 与 index 在对应能力不可用时可以为 nil。
func NewRetriever(caps Capabilities, docs repository.DocumentRepository, embedder embedding.Client, index VectorIndex, topK int) *Retriever {
	if topK <= 0 || topK > MaxFragments {
		topK = MaxFragments
	}
	return &Retriever{caps: caps, docs: docs, embedder: embedder, index: index, topK: topK}
}

// Retrieve 返回至多 MaxFragments 个片段。只有显式文档加载失败时才返回错误。
func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) (Retrieval, error) {
	if len(req.DocumentIDs) > 0 {
		frags, err := r.explicit(ctx, req)
		if err != nil {
			return Retrieval{}, err
		}
		return r.done(ModeExplicit, frags), nil
	}

	if r.caps.CanSearchVectors() {
		frags, err := r.vector(ctx, req.Question)
		switch {
		case err != nil:
			log.Warnf("[Retriever] 向量检索失败，降级为关键词检索: %v", err)
		case len(frags) == 0:
			log.Infof("[Retriever] 向量检索无结果，降级为关键词检索")
		default:
			return r.done(ModeVector, frags), nil
		}
	}

	return r.done(ModeKeyword, r.keyword(ctx, req)), nil
}

func (r *Retriever) done(mode Mode, frags []model.ContextFragment) Retrieval {
	if len(frags) > MaxFragments {
		frags = frags[:MaxFragments]
	}
	metrics.RetrievalTotal.WithLabelValues(string(mode)).Inc()
	log.Debugf("[Retriever] mode=%s, fragments=%d", mode, len(frags))
	return Retrieval{Fragments: frags, Mode: mode}
}

func (r *Retriever) explicit(ctx context.Context, req RetrieveRequest) ([]model.ContextFragment, error) {
	docs, err := r.docs.FindByIDs(ctx, req.DocumentIDs, req.OwnerID)
	if err != nil {
		return nil, err
	}
	frags := make([]model.ContextFragment, 0, len(docs))
	for i := range docs {
		if strings.TrimSpace(docs[i].ExtractedText) == "" {
			continue
		}
		frags = append(frags, documentFragment(&docs[i]))
	}
	return frags, nil
}

func (r *Retriever) vector(ctx context.Context, question string) ([]model.ContextFragment, error) {
	vec, err := r.embedder.CreateEmbedding(ctx, question)
	if err != nil {
		return nil, err
	}
	return r.index.Search(ctx, vec, r.topK)
}

// keyword 永远不返回错误：仓库出错时记录日志并返回已有结果。
func (r *Retriever) keyword(ctx context.Context, req RetrieveRequest) []model.ContextFragment {
	var frags []model.ContextFragment
	seen := make(map[string]bool)
	for _, kw := range Keywords(req.Question) {
		docs, err := r.docs.SearchText(ctx, kw, req.OwnerID, docsPerKeyword)
		if err != nil {
			log.Warnf("[Retriever] 关键词 %q 检索失败: %v", kw, err)
			continue
		}
		for i := range docs {
			if seen[docs[i].ID] {
				continue
			}
			seen[docs[i].ID] = true
			frags = append(frags, documentFragment(&docs[i]))
		}
		if len(frags) >= MaxFragments {
			break
		}
	}
	return frags
}

func documentFragment(doc *model.SourceDocument) model.ContextFragment {
	return model.ContextFragment{
		DocumentID: doc.ID,
		Title:      doc.Name,
		DocType:    doc.Type,
		Content:    doc.ExtractedText,
	}
}

// Keywords 从问题中提取至多 5 个关键词：小写化，非字母数字下划线替换为空格，
// 去掉停用词和不超过 2 个字符的词。
func Keywords(question string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.Is(unicode.Mn, r) {
			return r
		}
		return ' '
	}, norm.NFC.String(strings.ToLower(question)))

	var out []string
	for _, tok := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(tok) < minKeywordRunes {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
