// Package workerpool provides a generic bounded worker pool. Admission is
// slot-gated: Submit blocks while maxWorkers jobs are running, so no more
// than maxWorkers jobs are ever executing at once.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/andrej220/gsh/pkg/lg"
)

// ErrPoolClosed is returned by Submit after Stop has been called.
var ErrPoolClosed = errors.New("worker pool is shutting down")

type JobFunc[T any] func(T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

type Pool[T any] struct {
	slots         chan struct{}
	quit          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
	activeWorkers int32
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool[T]{
		slots: make(chan struct{}, maxWorkers),
		quit:  make(chan struct{}),
	}
}

// Submit hands a job to the pool. It blocks while all slots are busy and
// returns the job context's error if that context ends while waiting, or
// ErrPoolClosed once the pool is stopping.
func (p *Pool[T]) Submit(job Job[T]) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}
	select {
	case p.slots <- struct{}{}:
	case <-job.Ctx.Done():
		return job.Ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
	p.wg.Add(1)
	go p.worker(job)
	return nil
}

// Stop rejects further submissions and waits for running jobs to finish.
// Safe to call more than once.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer func() { <-p.slots }()
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()

	logger := lg.FromContext(job.Ctx)
	workers := atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	logger.Debug("worker started", lg.Int("workers", int(workers)))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", lg.Any("panic", r))
		}
	}()

	if err := job.Fn(job.Payload); err != nil {
		logger.Error("job failed", lg.Err(err))
		return
	}
	logger.Debug("worker finished", lg.Int("workers", int(atomic.LoadInt32(&p.activeWorkers))))
}

// ActiveWorkers reports how many jobs are executing right now.
func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
