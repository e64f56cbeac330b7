package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
)

// JobCompletion 是一次成功识别要写入的结果。
type JobCompletion struct {
	Text       string
	Confidence float64
	Metadata   datatypes.JSONMap
}

// RecognitionJobRepository 定义了 recognition_jobs 表的数据操作接口。
// 所有状态迁移都以 status = 'processing' 为条件，重复写终态返回 errs.ErrJobNotProcessing。
type RecognitionJobRepository interface {
	Create(ctx context.Context, job *model.RecognitionJob) error
	FindByID(ctx context.Context, id string) (*model.RecognitionJob, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.RecognitionJob, error)
	// Complete 在一个事务中更新任务与其文档的文本。
	Complete(ctx context.Context, jobID string, c JobCompletion) error
	MarkFailed(ctx context.Context, jobID string, metadata datatypes.JSONMap) error
	// CorrectText 修正 completed 任务的文本，并同步写入文档。
	CorrectText(ctx context.Context, jobID, text string, metadata datatypes.JSONMap) error
}

type recognitionJobRepository struct {
	db *gorm.DB
}

// NewRecognitionJobRepository 创建一个新的 RecognitionJobRepository 实例。
func NewRecognitionJobRepository(db *gorm.DB) RecognitionJobRepository {
	return &recognitionJobRepository{db: db}
}

func (r *recognitionJobRepository) Create(ctx context.Context, job *model.RecognitionJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *recognitionJobRepository) FindByID(ctx context.Context, id string) (*model.RecognitionJob, error) {
	var job model.RecognitionJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("recognition job %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *recognitionJobRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.RecognitionJob, error) {
	var jobs []model.RecognitionJob
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

func (r *recognitionJobRepository) Complete(ctx context.Context, jobID string, c JobCompletion) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := r.transition(tx, jobID, model.JobCompleted, map[string]interface{}{
			"text":       c.Text,
			"confidence": c.Confidence,
			"metadata":   c.Metadata,
		})
		if err != nil {
			return err
		}
		return updateDocumentText(tx, job.DocumentID, c.Text)
	})
}

func (r *recognitionJobRepository) MarkFailed(ctx context.Context, jobID string, metadata datatypes.JSONMap) error {
	_, err := r.transition(r.db.WithContext(ctx), jobID, model.JobFailed, map[string]interface{}{
		"metadata": metadata,
	})
	return err
}

// transition 执行受 status = 'processing' 保护的终态迁移。
func (r *recognitionJobRepository) transition(tx *gorm.DB, jobID string, to model.JobStatus, cols map[string]interface{}) (*model.RecognitionJob, error) {
	var job model.RecognitionJob
	if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("recognition job %s: %w", jobID, errs.ErrNotFound)
		}
		return nil, err
	}
	if !job.Status.CanTransition(to) {
		return nil, fmt.Errorf("recognition job %s is %s: %w", jobID, job.Status, errs.ErrJobNotProcessing)
	}

	cols["status"] = to
	res := tx.Model(&model.RecognitionJob{}).
		Where("id = ? AND status = ?", jobID, model.JobProcessing).
		Updates(cols)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("recognition job %s: %w", jobID, errs.ErrJobNotProcessing)
	}
	return &job, nil
}

func (r *recognitionJobRepository) CorrectText(ctx context.Context, jobID, text string, metadata datatypes.JSONMap) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.RecognitionJob
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("recognition job %s: %w", jobID, errs.ErrNotFound)
			}
			return err
		}
		res := tx.Model(&model.RecognitionJob{}).
			Where("id = ? AND status = ?", jobID, model.JobCompleted).
			Updates(map[string]interface{}{"text": text, "metadata": metadata})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("recognition job %s is %s: %w", jobID, job.Status, errs.ErrJobNotCompleted)
		}
		return updateDocumentText(tx, job.DocumentID, text)
	})
}

func updateDocumentText(tx *gorm.DB, documentID, text string) error {
	res := tx.Model(&model.SourceDocument{}).Where("id = ?", documentID).Updates(documentTextColumns(text))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %s: %w", documentID, errs.ErrNotFound)
	}
	return nil
}
