package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Task is one unit of upstream work
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a fixed number of workers. The first failing task
// cancels the rest.
type WorkerPool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelCauseFunc
	errOnce sync.Once
	err     error
	started bool
	mu      sync.Mutex
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan Task, workers*2),
	}
}

// Start starts the worker pool
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.parent = ctx
	p.ctx, p.cancel = context.WithCancelCause(ctx)
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		if p.ctx.Err() != nil {
			continue
		}
		if err := p.run(id, task); err != nil {
			p.fail(err)
		}
	}
}

func (p *WorkerPool) run(id int, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panic recovered",
				slog.Int("worker_id", id),
				slog.String("panic", fmt.Sprint(r)),
			)
			err = fmt.Errorf("worker %d panicked: %v", id, r)
		}
	}()
	return task(p.ctx)
}

func (p *WorkerPool) fail(err error) {
	p.errOnce.Do(func() {
		p.err = err
		p.cancel(err)
	})
}

// Submit queues a task. It returns false once the pool has been cancelled.
func (p *WorkerPool) Submit(task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.tasks <- task:
		return true
	}
}

// Wait stops accepting tasks, waits for the workers and returns the first error.
func (p *WorkerPool) Wait() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()
	p.cancel(context.Canceled)

	if p.err != nil {
		return p.err
	}
	return contextError(p.parent)
}

// forEach runs fn for every name on up to workers goroutines.
func forEach(ctx context.Context, workers int, names []string, fn func(ctx context.Context, name string) error) error {
	pool := NewWorkerPool(workers)
	pool.Start(ctx)
	for _, name := range names {
		if !pool.Submit(func(ctx context.Context) error { return fn(ctx, name) }) {
			break
		}
	}
	return pool.Wait()
}
