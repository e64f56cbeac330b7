package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/pipeline"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

// DocumentExtractor 抽取已编码文本。
type DocumentExtractor interface {
	Supports(declared string) bool
	Extract(ctx context.Context, path, declared string) (string, error)
}

// DocumentUploadRequest 是一次普通文档上传。
type DocumentUploadRequest struct {
	OwnerID  string
	FileName string
	Size     int64
	Reader   io.Reader
}

// DocumentService 接口定义了文档上传与读取的业务操作。
type DocumentService interface {
	// Ingest 同步抽取文本并保存文档，索引在后台进行。
	Ingest(ctx context.Context, req DocumentUploadRequest) (*model.SourceDocument, error)
	// GetContent 返回属于 ownerID 的文档及其抽取文本。
	GetContent(ctx context.Context, id, ownerID string) (*model.SourceDocument, error)
}

type documentService struct {
	docs      repository.DocumentRepository
	store     ObjectStore
	extractor DocumentExtractor
	indexer   *pipeline.Indexer
	scheduler pipeline.Scheduler
	tempDir   string
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docs repository.DocumentRepository,
	store ObjectStore,
	extractor DocumentExtractor,
	indexer *pipeline.Indexer,
	scheduler pipeline.Scheduler,
	tempDir string,
) DocumentService {
	return &documentService{
		docs:      docs,
		store:     store,
		extractor: extractor,
		indexer:   indexer,
		scheduler: scheduler,
		tempDir:   tempDir,
	}
}

func (s *documentService) Ingest(ctx context.Context, req DocumentUploadRequest) (*model.SourceDocument, error) {
	fileName := filepath.Base(req.FileName)
	kind := model.DocumentType(fileName)
	if !s.extractor.Supports(kind) {
		return nil, fmt.Errorf("document upload %q: %w", fileName, errs.ErrUnsupportedFormat)
	}

	// 先落盘：同一份内容既要上传 MinIO 又要本地抽取
	path, size, err := spool(req.Reader, s.tempDir, filepath.Ext(fileName))
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	start := time.Now()
	text, err := s.extractor.Extract(ctx, path, kind)
	if err != nil {
		log.Warnf("[DocumentService] 文件 %s 抽取失败: %v", fileName, err)
		return nil, err
	}

	docID := uuid.NewString()
	key := fmt.Sprintf("documents/%s/%s", docID, fileName)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	_, err = s.store.Put(ctx, key, f, size, contentType)
	f.Close()
	if err != nil {
		log.Errorf("[DocumentService] 保存文件 %s 失败: %v", fileName, err)
		return nil, err
	}

	doc := &model.SourceDocument{
		ID:            docID,
		OwnerID:       req.OwnerID,
		Name:          fileName,
		StoragePath:   key,
		Type:          kind,
		SizeBytes:     size,
		Size:          model.HumanSize(size),
		ExtractedText: text,
		IsProcessed:   strings.TrimSpace(text) != "",
		Metadata: datatypes.JSONMap{
			"source":           "upload",
			"mime_type":        contentType,
			"file_size_bytes":  size,
			"upload_timestamp": time.Now().UTC().Format(time.RFC3339),
			"extraction_time":  time.Since(start).Seconds(),
		},
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rmErr := s.store.Remove(rmCtx, key); rmErr != nil {
			log.Warnf("[DocumentService] 清理对象 %s 失败: %v", key, rmErr)
		}
		return nil, err
	}
	log.Infof("[DocumentService] 文档 %s 已保存, 文件: %s, 字符数: %d", docID, fileName, len([]rune(text)))

	if doc.IsProcessed && s.scheduler != nil && s.indexer != nil {
		if err := s.scheduler.Go("index:"+docID, s.indexer.ReindexTask(s.docs, docID)); err != nil {
			log.Warnf("[DocumentService] 文档 %s 索引未能入队: %v", docID, err)
		}
	}
	return doc, nil
}

func (s *documentService) GetContent(ctx context.Context, id, ownerID string) (*model.SourceDocument, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	return doc, nil
}

// spool 把 r 写入 dir 下的临时文件，返回路径与字节数。
func spool(r io.Reader, dir, ext string) (string, int64, error) {
	f, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}
	return f.Name(), n, nil
}
