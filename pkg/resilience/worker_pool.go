package resilience

import (
	"context"
	"errors"
	"sync"
)

var ErrWorkerPoolClosed = errors.New("worker pool is closed")

// WorkerPool runs submitted jobs on a fixed set of goroutines.
type WorkerPool struct {
	jobs chan func()
	done chan struct{}
	mu   sync.RWMutex
	once sync.Once
	wg   sync.WaitGroup
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &WorkerPool{
		jobs: make(chan func(), queueSize),
		done: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				if job != nil {
					job()
				}
			}
		}()
	}

	return p
}

// Submit queues job, blocking while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.done:
		return ErrWorkerPoolClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrWorkerPoolClosed
	case p.jobs <- job:
		return nil
	}
}

// Close stops accepting jobs. Queued jobs still run.
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		close(p.jobs)
		p.mu.Unlock()
	})
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Group returns a batch whose tasks share ctx and are awaited together.
func (p *WorkerPool) Group(ctx context.Context) *TaskGroup {
	ctx, cancel := context.WithCancel(ctx)
	return &TaskGroup{pool: p, ctx: ctx, cancel: cancel}
}

// TaskGroup is a barrier over tasks submitted to a WorkerPool. The first
// task error cancels the group context; Wait returns that error.
type TaskGroup struct {
	pool   *WorkerPool
	ctx    context.Context
	cancel context.CancelFunc

	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

// Go submits fn. A submit failure is recorded as the group error.
func (g *TaskGroup) Go(fn func(ctx context.Context) error) {
	g.wg.Add(1)
	err := g.pool.Submit(g.ctx, func() {
		defer g.wg.Done()
		if err := g.ctx.Err(); err != nil {
			g.fail(err)
			return
		}
		if err := fn(g.ctx); err != nil {
			g.fail(err)
		}
	})
	if err != nil {
		g.wg.Done()
		g.fail(err)
	}
}

// Wait blocks until every submitted task finished.
func (g *TaskGroup) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

func (g *TaskGroup) fail(err error) {
	g.errOnce.Do(func() {
		g.err = err
		g.cancel()
	})
}
