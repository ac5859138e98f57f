// Package batch provides the bounded machinery every background write goes
// through: a size and count limited chunker, a bounded-concurrency worker
// pool with a bounded queue, and a writer combining the two.
//
// Submissions block once the queue is full, which is the backpressure that
// keeps producers from outrunning a slow store. Worker errors are collected
// and exposed for cooperative polling between submissions; OnIdle joins all
// outstanding work and returns the first error.
package batch

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("batch: pool closed")

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Concurrency is the number of workers. Values < 1 mean 1.
	Concurrency int
	// QueueSize is the number of submitted tasks that may wait for a worker.
	// Zero makes Submit hand off directly to an idle worker.
	QueueSize int
}

// Task is the handle of one submission.
type Task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan struct{}
	err  error
}

// Wait blocks until the task finished and returns its error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the task finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Pool runs submitted functions on a fixed set of workers.
//
// Lock discipline:
//   - mu guards errs, closed, pending and idle
//   - pending counts submitted but unfinished tasks
//   - idle is closed when pending drops to zero; nil while nobody waits
type Pool struct {
	queue   chan *Task
	workers sync.WaitGroup

	mu      sync.Mutex
	errs    []error
	closed  bool
	pending int
	idle    chan struct{}
}

// NewPool starts a pool.
func NewPool(cfg PoolConfig) *Pool {
	n := max(cfg.Concurrency, 1)
	p := &Pool{
		queue: make(chan *Task, max(cfg.QueueSize, 0)),
	}
	p.workers.Add(n)
	for range n {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.workers.Done()
	for t := range p.queue {
		t.err = t.fn(t.ctx)
		if t.err != nil {
			p.mu.Lock()
			p.errs = append(p.errs, t.err)
			p.mu.Unlock()
		}
		close(t.done)
		p.finished()
	}
}

// finished retires one pending task.
func (p *Pool) finished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 && p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
}

// idleCh returns a channel closed once no task is pending.
func (p *Pool) idleCh() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if p.idle == nil {
		p.idle = make(chan struct{})
	}
	return p.idle
}

// Submit queues fn. It blocks while the queue is full.
// The returned Task reports the outcome of fn alone; pool-wide failures are
// visible through Err and OnIdle.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) (*Task, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	// Registered under mu so Close cannot race the channel send below.
	p.pending++
	p.mu.Unlock()

	t := &Task{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case p.queue <- t:
		return t, nil
	case <-ctx.Done():
		p.finished()
		return nil, ctx.Err()
	}
}

// Err returns the first error any task reported, or nil.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) == 0 {
		return nil
	}
	return p.errs[0]
}

// Errors returns a copy of all task errors so far.
func (p *Pool) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

// OnIdle blocks until no submitted task is pending, then returns the first
// task error. Safe to call while other goroutines submit; tasks submitted
// after the pool went idle are not waited for.
func (p *Pool) OnIdle(ctx context.Context) error {
	select {
	case <-p.idleCh():
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for queued work to finish and stops the workers.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	<-p.idleCh()
	close(p.queue)
	p.workers.Wait()
}
