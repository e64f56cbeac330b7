// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/pipeline"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/ocr"
	"github.com/nhdandz/SmartDoc/pkg/tasks"
)

const defaultJobListLimit = 50

// ObjectStore 是上传文件的对象存储。
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
}

// EngineInfo 提供写入任务记录的引擎信息。
type EngineInfo interface {
	Engine() string
	EngineVersion() string
}

// OCRSubmitRequest 是一次 OCR 上传。
type OCRSubmitRequest struct {
	OwnerID  string
	FileName string
	Size     int64
	Reader   io.Reader
}

// OCRService 接口定义了 OCR 任务相关的业务操作。
type OCRService interface {
	Submit(ctx context.Context, req OCRSubmitRequest) (*model.RecognitionJob, error)
	GetJob(ctx context.Context, id, ownerID string) (*model.RecognitionJob, error)
	ListJobs(ctx context.Context, ownerID string, limit int) ([]model.RecognitionJobSummary, error)
	CorrectText(ctx context.Context, id, ownerID, text string) (*model.RecognitionJob, error)
}

type ocrService struct {
	jobs       repository.RecognitionJobRepository
	docs       repository.DocumentRepository
	store      ObjectStore
	dispatcher tasks.Dispatcher
	engine     EngineInfo
	language   string
	indexer    *pipeline.Indexer
	scheduler  pipeline.Scheduler
}

// NewOCRService 创建一个新的 OCRService 实例。
func NewOCRService(
	jobs repository.RecognitionJobRepository,
	docs repository.DocumentRepository,
	store ObjectStore,
	dispatcher tasks.Dispatcher,
	engine EngineInfo,
	language string,
	indexer *pipeline.Indexer,
	scheduler pipeline.Scheduler,
) OCRService {
	return &ocrService{
		jobs:       jobs,
		docs:       docs,
		store:      store,
		dispatcher: dispatcher,
		engine:     engine,
		language:   language,
		indexer:    indexer,
		scheduler:  scheduler,
	}
}

// Submit 保存文件、创建任务并投递，立即返回任务。投递失败时任务被置为 failed。
func (s *ocrService) Submit(ctx context.Context, req OCRSubmitRequest) (*model.RecognitionJob, error) {
	fileName := filepath.Base(req.FileName)
	kind := model.DocumentType(fileName)
	if !ocr.Supports(kind) {
		return nil, fmt.Errorf("ocr upload %q: %w", fileName, errs.ErrUnsupportedFormat)
	}

	docID := uuid.NewString()
	key := fmt.Sprintf("ocr/%s/%s", docID, fileName)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.store.Put(ctx, key, req.Reader, req.Size, contentType); err != nil {
		log.Errorf("[OCRService] 保存文件 %s 失败: %v", fileName, err)
		return nil, err
	}

	doc := &model.SourceDocument{
		ID:          docID,
		OwnerID:     req.OwnerID,
		Name:        fileName,
		StoragePath: key,
		Type:        kind,
		SizeBytes:   req.Size,
		Size:        model.HumanSize(req.Size),
		Metadata: datatypes.JSONMap{
			"source":           "ocr_upload",
			"mime_type":        contentType,
			"file_size_bytes":  req.Size,
			"upload_timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.removeObject(key)
		return nil, err
	}

	job := &model.RecognitionJob{
		ID:         uuid.NewString(),
		DocumentID: docID,
		OwnerID:    req.OwnerID,
		FileName:   fileName,
		Status:     model.JobProcessing,
		Engine:     s.engine.Engine(),
		Language:   s.language,
		Metadata:   datatypes.JSONMap{},
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		log.Errorf("[OCRService] 创建任务失败, 回滚文档 %s: %v", docID, err)
		s.removeDocument(docID)
		s.removeObject(key)
		return nil, err
	}

	task := tasks.RecognitionTask{
		JobID:      job.ID,
		DocumentID: docID,
		OwnerID:    req.OwnerID,
		ObjectKey:  key,
		FileName:   fileName,
		FileKind:   kind,
	}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		log.Errorf("[OCRService] 任务 %s 投递失败: %v", job.ID, err)
		meta := datatypes.JSONMap{model.MetaError: err.Error(), model.MetaProcessingTime: 0.0}
		if markErr := s.jobs.MarkFailed(ctx, job.ID, meta); markErr != nil {
			log.Errorf("[OCRService] 任务 %s 标记失败出错: %v", job.ID, markErr)
			return nil, markErr
		}
		job.Status = model.JobFailed
		job.Metadata = meta
		return job, nil
	}
	log.Infof("[OCRService] 任务 %s 已提交, 文件: %s, 引擎: %s", job.ID, fileName, job.Engine)
	return job, nil
}

// GetJob 返回属于 ownerID 的任务。
func (s *ocrService) GetJob(ctx context.Context, id, ownerID string) (*model.RecognitionJob, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("recognition job %s: %w", id, errs.ErrNotFound)
	}
	return job, nil
}

// ListJobs 返回带文本预览的任务摘要，最新的在前。
func (s *ocrService) ListJobs(ctx context.Context, ownerID string, limit int) ([]model.RecognitionJobSummary, error) {
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	jobs, err := s.jobs.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.RecognitionJobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Summary())
	}
	return out, nil
}

// CorrectText 人工修正已完成任务的文本，同步更新文档并重建索引。
func (s *ocrService) CorrectText(ctx context.Context, id, ownerID, text string) (*model.RecognitionJob, error) {
	job, err := s.GetJob(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	meta := datatypes.JSONMap{}
	for k, v := range job.Metadata {
		meta[k] = v
	}
	meta[model.MetaManuallyEdited] = true
	meta[model.MetaEditedAt] = time.Now().UTC().Format(time.RFC3339)

	if err := s.jobs.CorrectText(ctx, id, text, meta); err != nil {
		return nil, err
	}
	log.Infof("[OCRService] 任务 %s 文本已人工修正", id)

	if s.scheduler != nil && s.indexer != nil {
		if err := s.scheduler.Go("reindex:"+job.DocumentID, s.indexer.ReindexTask(s.docs, job.DocumentID)); err != nil {
			log.Warnf("[OCRService] 文档 %s 重建索引未能入队: %v", job.DocumentID, err)
		}
	}

	job.Text = text
	job.Metadata = meta
	return job, nil
}

func (s *ocrService) removeDocument(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.docs.Delete(ctx, id); err != nil {
		log.Warnf("[OCRService] 清理文档记录 %s 失败: %v", id, err)
	}
}

func (s *ocrService) removeObject(key string) {
	// 使用独立的上下文，请求取消后仍然清理
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Remove(ctx, key); err != nil {
		log.Warnf("[OCRService] 清理对象 %s 失败: %v", key, err)
	}
}
