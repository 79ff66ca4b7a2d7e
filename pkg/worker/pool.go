package worker

import (
	"context"
	"sync"

	"github.com/dfs-io/dfsd/pkg/metrics"
	"github.com/dfs-io/dfsd/pkg/storage"
)

// Task is one chunk persistence job executed by a pool worker.
type Task func(ctx context.Context) (storage.WriteResult, error)

// Future delivers the outcome of a submitted task.
type Future struct {
	done   chan struct{}
	result storage.WriteResult
	err    error
}

// Wait blocks until the task finishes or ctx is cancelled. The task keeps
// running after cancellation; only the wait is abandoned.
func (f *Future) Wait(ctx context.Context) (storage.WriteResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return storage.WriteResult{}, ctx.Err()
	}
}

// Snapshot is the pool state consumed by the autoscaler.
type Snapshot struct {
	Queued   int
	Inflight int
	Workers  int
}

type job struct {
	task   Task
	future *Future
}

// Pool is a bounded worker pool with two admission tiers: a cap on queued
// tasks and a cap on concurrently running tasks. Admission is split from
// submission so callers can take per-upload limits between the two without
// holding a queue slot they might give back.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    []job
	queued   int // reservations not yet finished queueing + queued jobs
	busy     int
	workers  int
	desired  int
	queueMax int
	busyMax  int
	closed   bool

	metrics *metrics.Metrics
}

// NewPool creates a pool with size workers. queueMax bounds waiting tasks,
// busyMax bounds concurrently running ones.
func NewPool(size, queueMax, busyMax int, m *metrics.Metrics) *Pool {
	p := &Pool{
		queueMax: queueMax,
		busyMax:  busyMax,
		desired:  size,
		metrics:  m,
	}
	p.cond = sync.NewCond(&p.mu)
	p.mu.Lock()
	for i := 0; i < size; i++ {
		p.workers++
		go p.work()
	}
	p.publishLocked()
	p.mu.Unlock()
	return p
}

// Reservation is an admitted-but-unsubmitted queue slot.
type Reservation struct {
	pool *Pool
	used bool
}

// Reserve checks the queue and global-inflight tiers and claims a queue
// slot. The caller must either Submit or Cancel the reservation.
func (p *Pool) Reserve() (*Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, &ThrottleError{Reason: ReasonQueueFull}
	}
	if p.queued >= p.queueMax {
		return nil, &ThrottleError{Reason: ReasonQueueFull}
	}
	if p.busy >= p.busyMax {
		return nil, &ThrottleError{Reason: ReasonGlobalInflight}
	}
	p.queued++
	p.publishLocked()
	return &Reservation{pool: p}, nil
}

// Submit hands the task to a worker and returns its future.
func (r *Reservation) Submit(task Task) *Future {
	f := &Future{done: make(chan struct{})}
	p := r.pool
	p.mu.Lock()
	if r.used {
		p.mu.Unlock()
		panic("worker: reservation reused")
	}
	r.used = true
	p.queue = append(p.queue, job{task: task, future: f})
	p.publishLocked()
	p.cond.Signal()
	p.mu.Unlock()
	return f
}

// Cancel releases an unused reservation.
func (r *Reservation) Cancel() {
	p := r.pool
	p.mu.Lock()
	if !r.used {
		r.used = true
		p.queued--
		p.publishLocked()
	}
	p.mu.Unlock()
}

// Resize sets the desired worker count. Shrinking lets surplus workers exit
// after their current task; growing spawns immediately.
func (p *Pool) Resize(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.desired = n
	for p.workers < p.desired {
		p.workers++
		go p.work()
	}
	p.publishLocked()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Snapshot returns current queue depth, running tasks and worker count.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Queued: p.queued, Inflight: p.busy, Workers: p.workers}
}

// Close stops accepting work and lets workers drain the queue and exit.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 {
			if p.closed || p.workers > p.desired {
				p.workers--
				p.publishLocked()
				p.mu.Unlock()
				return
			}
			p.cond.Wait()
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		p.queued--
		p.busy++
		p.publishLocked()
		p.mu.Unlock()

		res, err := j.task(context.Background())
		j.future.result = res
		j.future.err = err
		close(j.future.done)

		p.mu.Lock()
		p.busy--
		p.publishLocked()
		p.mu.Unlock()
	}
}

func (p *Pool) publishLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.TaskQueueDepth.Set(float64(p.queued))
	p.metrics.InflightChunks.Set(float64(p.busy))
	p.metrics.WorkerCount.Set(float64(p.workers))
	p.metrics.WorkerBusy.Set(float64(p.busy))
}
