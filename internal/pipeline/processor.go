package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

// ObjectFetcher 把对象存储中的文件下载到本地临时文件。
type ObjectFetcher interface {
	FetchToFile(ctx context.Context, key, dir string) (string, error)
}

// TextExtractor 抽取已编码文本，失败时返回带类型的错误。
type TextExtractor interface {
	Extract(ctx context.Context, path, declared string) (string, error)
}

// Processor 对单个文档执行“必要时抽取，然后清理并重建索引”。
type Processor struct {
	docs      repository.DocumentRepository
	objects   ObjectFetcher
	extractor TextExtractor
	indexer   *Indexer
	tempDir   string
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(docs repository.DocumentRepository, objects ObjectFetcher, extractor TextExtractor, indexer *Indexer, tempDir string) *Processor {
	return &Processor{docs: docs, objects: objects, extractor: extractor, indexer: indexer, tempDir: tempDir}
}

// ProcessDocument 是批量重处理的单元操作。
func (p *Processor) ProcessDocument(ctx context.Context, documentID string) (IndexReport, error) {
	doc, err := p.docs.FindByID(ctx, documentID)
	if err != nil {
		return IndexReport{}, err
	}

	if strings.TrimSpace(doc.ExtractedText) == "" {
		log.Infof("[Processor] 文档 %s 尚无文本，重新抽取", documentID)
		text, err := p.extract(ctx, doc.StoragePath, doc.Type)
		if err != nil {
			return IndexReport{}, fmt.Errorf("extract %s: %w", documentID, err)
		}
		if err := p.docs.SetExtractedText(ctx, documentID, text); err != nil {
			return IndexReport{}, err
		}
		doc.ExtractedText = text
	}

	return p.indexer.Reindex(ctx, IndexRequestFor(doc))
}

func (p *Processor) extract(ctx context.Context, key, declared string) (string, error) {
	path, err := p.objects.FetchToFile(ctx, key, p.tempDir)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)
	return p.extractor.Extract(ctx, path, declared)
}
