package worker

import (
	"context"
	"fmt"

	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/tasks"
)

// Dispatcher 在未配置 Kafka 时把识别任务直接投递到进程内的 Pool。
type Dispatcher struct {
	pool      *Pool
	processor tasks.Processor
}

var _ tasks.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher 创建进程内分发器。
func NewDispatcher(pool *Pool, processor tasks.Processor) *Dispatcher {
	return &Dispatcher{pool: pool, processor: processor}
}

// Dispatch 投递任务后立即返回。任务失败时调用 Abandon 将其置为终态。
func (d *Dispatcher) Dispatch(ctx context.Context, task tasks.RecognitionTask) error {
	_, err := d.pool.Submit(ctx, "recognize:"+task.JobID, func(ctx context.Context) error {
		err := d.processor.Process(ctx, task)
		if err == nil {
			return nil
		}
		if abandonErr := d.processor.Abandon(ctx, task, err); abandonErr != nil {
			log.Errorf("[Dispatcher] 标记任务 %s 失败时出错: %v", task.JobID, abandonErr)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("dispatch job %s: %w", task.JobID, err)
	}
	return nil
}
