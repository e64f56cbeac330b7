// Package errs 定义了整个流水线共享的错误分类。
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat 文件类型不在支持列表中。
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrCorruptFile 文件可识别但无法解析。
	ErrCorruptFile = errors.New("corrupt file")
	// ErrBackendUnavailable OCR / embedding / LLM 后端未配置或不可用。
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrJobFailed 异步任务进入 failed 终态。
	ErrJobFailed = errors.New("job failed")
	// ErrNotFound 文档、任务或会话不存在，或不属于调用方。
	ErrNotFound = errors.New("not found")
	// ErrJobNotProcessing 任务已处于终态，拒绝再次迁移。
	ErrJobNotProcessing = errors.New("job is not processing")
	// ErrJobNotCompleted 只有 completed 的任务允许人工修正文本。
	ErrJobNotCompleted = errors.New("job is not completed")
	// ErrInvalidInput 请求参数不合法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict 并发修改多次重试后仍然冲突。
	ErrConflict = errors.New("concurrent modification")
)

// JobFailedError 携带失败任务的 ID 与原始错误。
type JobFailedError struct {
	JobID string
	Cause error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.JobID, e.Cause)
}

// Unwrap 同时暴露 ErrJobFailed 与原始错误，便于 errors.Is 判断。
func (e *JobFailedError) Unwrap() []error {
	return []error{ErrJobFailed, e.Cause}
}

// JobFailed 构造一个 JobFailedError。
func JobFailed(jobID string, cause error) error {
	return &JobFailedError{JobID: jobID, Cause: cause}
}
