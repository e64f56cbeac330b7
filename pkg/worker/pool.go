// Package worker 提供一个固定数量 worker、有界队列的后台任务池。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nhdandz/SmartDoc/pkg/log"
)

var (
	// ErrPoolClosed 池已停止，不再接受任务。
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrQueueFull 在等待窗口内队列始终满。
	ErrQueueFull = errors.New("worker queue full")
)

// DefaultEnqueueWait 是 Go 在队列满时等待空位的默认时长。
const DefaultEnqueueWait = 3 * time.Second

// Task 是在 worker 上执行的一段工作。ctx 在池被强制停止时取消。
type Task func(ctx context.Context) error

// Handle 用于等待已投递任务的结果。
type Handle struct {
	name string
	done chan struct{}
	err  error
}

// Wait 阻塞直到任务结束或 ctx 结束。ctx 结束不会中断任务本身。
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return fmt.Errorf("wait %s: %w", h.name, ctx.Err())
	}
}

type job struct {
	name   string
	fn     Task
	handle *Handle
}

// Pool 是固定大小的 worker 池。
type Pool struct {
	workers     int
	queue       chan job
	quit        chan struct{}
	enqueueWait time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	started  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool 创建一个任务池，需要调用 Start 才会开始执行。
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:     workers,
		queue:       make(chan job, queueSize),
		quit:        make(chan struct{}),
		enqueueWait: DefaultEnqueueWait,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetEnqueueWait 调整 Go 在队列满时的等待时长，d <= 0 表示不等待。
func (p *Pool) SetEnqueueWait(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d < 0 {
		d = 0
	}
	p.enqueueWait = d
}

// Start 启动所有 worker。重复调用无效。
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	log.Infof("[WorkerPool] 已启动 %d 个 worker", p.workers)
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		j.handle.err = p.run(j)
		if j.handle.err != nil {
			log.Warnf("[WorkerPool] worker %d 任务 %s 失败: %v", id, j.name, j.handle.err)
		}
		close(j.handle.done)
	}
}

func (p *Pool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", j.name, r)
		}
	}()
	return j.fn(p.ctx)
}

// Submit 投递任务，队列满时阻塞直到有空位、ctx 结束或池停止。
func (p *Pool) Submit(ctx context.Context, name string, fn Task) (*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	j := job{name: name, fn: fn, handle: &Handle{name: name, done: make(chan struct{})}}
	select {
	case p.queue <- j:
		return j.handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolClosed
	}
}

// Go 投递任务，不关心结果。队列满时最多等待 enqueueWait，
// 仍无空位才返回 ErrQueueFull，避免瞬时拥塞直接丢任务。
func (p *Pool) Go(name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	j := job{name: name, fn: fn, handle: &Handle{name: name, done: make(chan struct{})}}
	select {
	case p.queue <- j:
		return nil
	default:
	}
	if p.enqueueWait <= 0 {
		return ErrQueueFull
	}

	log.Debugf("[WorkerPool] 队列已满，等待空位投递 %s", name)
	timer := time.NewTimer(p.enqueueWait)
	defer timer.Stop()
	select {
	case p.queue <- j:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Stop 停止接收新任务并等待队列中的任务执行完毕。
// ctx 结束时取消正在运行的任务并返回 ctx.Err()。
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		log.Info("[WorkerPool] 所有任务已完成，worker pool 已停止")
		return nil
	case <-ctx.Done():
		p.cancel()
		log.Warnf("[WorkerPool] 等待任务超时，强制取消")
		return ctx.Err()
	}
}
