package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/embedding"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/metrics"
	"github.com/nhdandz/SmartDoc/pkg/worker"
)

// IndexRequest 描述一份待索引的文档。
type IndexRequest struct {
	DocumentID string
	Text       string
	Title      string
	DocType    string
	UploadDate time.Time
}

// IndexRequestFor 从文档记录构建索引请求。
func IndexRequestFor(doc *model.SourceDocument) IndexRequest {
	return IndexRequest{
		DocumentID: doc.ID,
		Text:       doc.ExtractedText,
		Title:      doc.Name,
		DocType:    doc.Type,
		UploadDate: doc.CreatedAt,
	}
}

// IndexReport 是一次索引的结果。
type IndexReport struct {
	Fragments int
	Skipped   bool
}

// Indexer 把文档切块、向量化后写入向量索引。
type Indexer struct {
	caps     Capabilities
	chunker  *Chunker
	embedder embedding.Client
	index    VectorIndex
}

// NewIndexer 创建 Indexer。embedder 应当已经带限速。
func NewIndexer(caps Capabilities, chunker *Chunker, embedder embedding.Client, index VectorIndex) *Indexer {
	return &Indexer{caps: caps, chunker: chunker, embedder: embedder, index: index}
}

// Index 追加写入文档的全部分块，不会清理旧分块。
// 向量索引或 embedding 不可用时直接跳过。
func (x *Indexer) Index(ctx context.Context, req IndexRequest) (IndexReport, error) {
	if !x.caps.CanIndex() {
		log.Infof("[Indexer] 向量索引或 embedding 未配置，跳过文档 %s", req.DocumentID)
		return IndexReport{Skipped: true}, nil
	}

	chunks := x.chunker.Split(req.Text)
	if len(chunks) == 0 {
		log.Infof("[Indexer] 文档 %s 没有可索引的文本", req.DocumentID)
		return IndexReport{}, nil
	}

	fragments := make([]model.IndexFragment, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := x.embedder.CreateEmbedding(ctx, chunk)
		if err != nil {
			return IndexReport{}, fmt.Errorf("embed chunk %d of %s: %w", i, req.DocumentID, err)
		}
		fragments = append(fragments, model.IndexFragment{
			ID:           model.FragmentID(req.DocumentID, i),
			DocumentID:   req.DocumentID,
			ChunkIndex:   i,
			Text:         chunk,
			Vector:       vector,
			Title:        req.Title,
			DocType:      req.DocType,
			UploadDate:   req.UploadDate,
			ModelVersion: x.embedder.Model(),
		})
	}

	if err := x.index.Upsert(ctx, fragments); err != nil {
		return IndexReport{}, fmt.Errorf("upsert fragments of %s: %w", req.DocumentID, err)
	}
	metrics.IndexedFragmentsTotal.Add(float64(len(fragments)))
	log.Infof("[Indexer] 文档 %s 索引完成，共 %d 个分块", req.DocumentID, len(fragments))
	return IndexReport{Fragments: len(fragments)}, nil
}

// Reindex 先删除文档已有的分块，再重新索引。
func (x *Indexer) Reindex(ctx context.Context, req IndexRequest) (IndexReport, error) {
	if !x.caps.CanIndex() {
		return x.Index(ctx, req)
	}
	if err := x.index.DeleteByDocument(ctx, req.DocumentID); err != nil {
		return IndexReport{}, fmt.Errorf("purge fragments of %s: %w", req.DocumentID, err)
	}
	return x.Index(ctx, req)
}

// ReindexTask 返回一个后台任务：读取文档当前文本并重建其分块。
func (x *Indexer) ReindexTask(docs repository.DocumentRepository, documentID string) worker.Task {
	return func(ctx context.Context) error {
		doc, err := docs.FindByID(ctx, documentID)
		if err != nil {
			return err
		}
		_, err = x.Reindex(ctx, IndexRequestFor(doc))
		return err
	}
}
