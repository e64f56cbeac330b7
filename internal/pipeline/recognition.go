package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/metrics"
	"github.com/nhdandz/SmartDoc/pkg/ocr"
	"github.com/nhdandz/SmartDoc/pkg/tasks"
	"github.com/nhdandz/SmartDoc/pkg/worker"
)

// Recognizer 是 OCR 适配器的最小接口。
type Recognizer interface {
	Recognize(ctx context.Context, path, kind string) (ocr.Result, error)
	Engine() string
	EngineVersion() string
}

// Scheduler 把后台任务交给 worker pool，不等待结果。
type Scheduler interface {
	Go(name string, fn worker.Task) error
}

// RecognitionProcessor 执行 OCR 任务并维护任务状态。实现 tasks.Processor。
type RecognitionProcessor struct {
	jobs       repository.RecognitionJobRepository
	docs       repository.DocumentRepository
	objects    ObjectFetcher
	recognizer Recognizer
	indexer    *Indexer
	scheduler  Scheduler
	tempDir    string
}

var _ tasks.Processor = (*RecognitionProcessor)(nil)

// NewRecognitionProcessor 创建 RecognitionProcessor。scheduler 为 nil 时不触发重建索引。
func NewRecognitionProcessor(
	jobs repository.RecognitionJobRepository,
	docs repository.DocumentRepository,
	objects ObjectFetcher,
	recognizer Recognizer,
	indexer *Indexer,
	scheduler Scheduler,
	tempDir string,
) *RecognitionProcessor {
	return &RecognitionProcessor{
		jobs:       jobs,
		docs:       docs,
		objects:    objects,
		recognizer: recognizer,
		indexer:    indexer,
		scheduler:  scheduler,
		tempDir:    tempDir,
	}
}

// Process 识别任务对应的文件。识别失败记录到任务中并返回 nil；
// 只有基础设施错误（数据库、对象存储）才返回错误以便重试。
func (p *RecognitionProcessor) Process(ctx context.Context, task tasks.RecognitionTask) error {
	start := time.Now()
	log.Infof("[Recognition] 开始处理任务 %s, 文件: %s", task.JobID, task.FileName)

	job, err := p.jobs.FindByID(ctx, task.JobID)
	if errors.Is(err, errs.ErrNotFound) {
		log.Warnf("[Recognition] 任务 %s 不存在，忽略", task.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", task.JobID, err)
	}
	if job.Status != model.JobProcessing {
		log.Infof("[Recognition] 任务 %s 已是 %s，跳过", task.JobID, job.Status)
		return nil
	}

	path, err := p.objects.FetchToFile(ctx, task.ObjectKey, p.tempDir)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", task.ObjectKey, err)
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warnf("[Recognition] 删除临时文件 %s 失败: %v", path, rmErr)
		}
	}()

	result, recErr := p.recognizer.Recognize(ctx, path, task.FileKind)
	elapsed := time.Since(start)
	metrics.RecognitionDuration.WithLabelValues(p.recognizer.Engine()).Observe(elapsed.Seconds())

	if recErr != nil {
		log.Errorf("[Recognition] 任务 %s 识别失败: %v", task.JobID, recErr)
		return p.fail(ctx, task.JobID, recErr, elapsed)
	}

	err = p.jobs.Complete(ctx, task.JobID, repository.JobCompletion{
		Text:       result.Text,
		Confidence: clamp01(result.Confidence),
		Metadata: datatypes.JSONMap{
			model.MetaProcessingTime: seconds(elapsed),
			model.MetaTextLength:     utf8.RuneCountInString(result.Text),
			model.MetaEngineVersion:  p.recognizer.EngineVersion(),
			model.MetaPageCount:      result.Pages,
		},
	})
	if errors.Is(err, errs.ErrJobNotProcessing) {
		log.Warnf("[Recognition] 任务 %s 已被其他 worker 写入终态", task.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete job %s: %w", task.JobID, err)
	}
	metrics.RecognitionJobsTotal.WithLabelValues(string(model.JobCompleted)).Inc()
	log.Infof("[Recognition] 任务 %s 完成, 字符数: %d, 置信度: %.2f, 耗时: %s",
		task.JobID, utf8.RuneCountInString(result.Text), result.Confidence, elapsed)

	p.scheduleReindex(task.DocumentID)
	return nil
}

// Abandon 在重试耗尽后把任务置为 failed。
func (p *RecognitionProcessor) Abandon(ctx context.Context, task tasks.RecognitionTask, cause error) error {
	log.Errorf("[Recognition] 放弃任务 %s: %v", task.JobID, cause)
	return p.fail(ctx, task.JobID, cause, 0)
}

func (p *RecognitionProcessor) fail(ctx context.Context, jobID string, cause error, elapsed time.Duration) error {
	err := p.jobs.MarkFailed(ctx, jobID, datatypes.JSONMap{
		model.MetaError:          cause.Error(),
		model.MetaProcessingTime: seconds(elapsed),
	})
	if errors.Is(err, errs.ErrJobNotProcessing) || errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	metrics.RecognitionJobsTotal.WithLabelValues(string(model.JobFailed)).Inc()
	return nil
}

func (p *RecognitionProcessor) scheduleReindex(documentID string) {
	if p.scheduler == nil || p.indexer == nil {
		return
	}
	err := p.scheduler.Go("reindex:"+documentID, p.indexer.ReindexTask(p.docs, documentID))
	if err != nil {
		log.Warnf("[Recognition] 文档 %s 重建索引未能入队: %v", documentID, err)
	}
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
