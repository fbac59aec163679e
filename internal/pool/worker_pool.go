package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueFull 任务队列已满，投递被拒绝。
var ErrQueueFull = errors.New("worker pool queue is full")

// Task 投递任务，携带调用方的 context。
type Task func(ctx context.Context)

// WorkerPool 投递协程池
//
// 限制同时进行的转发任务数量，避免突发提交打垮上游中继。
// 任务在固定数量的工作协程上执行，panic 会被捕获并记录。
type WorkerPool struct {
	workers   int
	taskQueue chan Task
	log       *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool 创建投递协程池
//
// 参数:
//   - workers: 工作协程数量
//   - queueSize: 等待队列容量
func NewWorkerPool(workers, queueSize int, log *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		log:       log,
	}
}

// Start 启动工作协程，ctx 取消后所有协程退出。
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 投递任务，队列已满时返回 ErrQueueFull 而不是阻塞调用方。
// 池停止后的投递同样返回 ErrQueueFull。
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrQueueFull
	}
	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending 当前排队中的任务数。
func (p *WorkerPool) Pending() int {
	return len(p.taskQueue)
}

// Stop 关闭队列并等待在执行的任务结束。
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.taskQueue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(ctx, task)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("投递任务 panic", zap.Any("panic", r))
		}
	}()
	task(ctx)
}
