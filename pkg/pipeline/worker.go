package pipeline

import (
	"context"
	"sync"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/models"
)

type WorkerPool struct {
	workers    int
	taskQueue  chan *models.PipelineMessage
	workerFunc func(context.Context, *models.PipelineMessage)
	wg         sync.WaitGroup
}

func NewWorkerPool(workers int, workerFunc func(context.Context, *models.PipelineMessage)) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		workers:    workers,
		taskQueue:  make(chan *models.PipelineMessage, workers*2),
		workerFunc: workerFunc,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// Submit queues msg for a worker. It reports false when ctx ends first.
func (wp *WorkerPool) Submit(ctx context.Context, msg *models.PipelineMessage) bool {
	select {
	case wp.taskQueue <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait blocks until every worker has returned.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// drain removes whatever is still queued once the workers are gone.
func (wp *WorkerPool) drain() []*models.PipelineMessage {
	var left []*models.PipelineMessage
	for {
		select {
		case msg := <-wp.taskQueue:
			left = append(left, msg)
		default:
			return left
		}
	}
}

func (wp *WorkerPool) worker(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case msg := <-wp.taskQueue:
			wp.workerFunc(ctx, msg)

		case <-ctx.Done():
			return
		}
	}
}
