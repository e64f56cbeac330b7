// Package tasks 定义了投递到 Kafka 或进程内 worker pool 的异步任务。
package tasks

import "context"

// RecognitionTask 是一次 OCR 识别任务的投递载荷。
type RecognitionTask struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
	FileKind   string `json:"file_kind"`
}

// Processor 执行识别任务。Abandon 在多次重试仍失败后调用，用于把任务置为终态。
type Processor interface {
	Process(ctx context.Context, task RecognitionTask) error
	Abandon(ctx context.Context, task RecognitionTask, cause error) error
}

// Dispatcher 把任务交给后台执行，不等待结果。
type Dispatcher interface {
	Dispatch(ctx context.Context, task RecognitionTask) error
}
