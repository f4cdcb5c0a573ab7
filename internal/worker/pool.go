// Package worker implements the bounded, dynamically sized pool that executes
// classification, decay, and consolidation jobs. All tier-store mutation in
// the subsystem flows through this pool, so the queue discipline here is the
// queue discipline everywhere.
package worker

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lazypower/stratum/internal/config"
)

// HighPriority marks the boundary between work that may be dropped or
// batched (below) and work that gets backpressure and individual execution.
const HighPriority = 5

var (
	// ErrCapacityExceeded signals backpressure to a high-priority producer
	// after its bounded wait expired.
	ErrCapacityExceeded = errors.New("job queue capacity exceeded")
	// ErrJobDropped reports that a low-priority job was shed on overflow.
	ErrJobDropped = errors.New("low-priority job dropped")
	// ErrPoolClosed is returned for submissions after Close.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Job is one unit of work. Priority runs 1 (lowest) to 10.
type Job struct {
	ID         string
	Kind       string
	RecordID   string
	Priority   int
	Attempts   int
	EnqueuedAt time.Time
	Run        func(ctx context.Context) error
}

// DeadLetterFunc receives jobs that exhausted their attempts.
type DeadLetterFunc func(job *Job, err error)

// Pool is the bounded concurrent executor.
type Pool struct {
	cfg        config.PoolConfig
	deadLetter DeadLetterFunc

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    jobHeap
	closed   bool

	workers      map[int]*workerHandle
	nextWorkerID int

	upStreak   int
	downStreak int
	dropped    int64

	rootCtx    context.Context
	rootCancel context.CancelFunc
	monitorWG  sync.WaitGroup
	workerWG   sync.WaitGroup
}

type workerHandle struct {
	id     int
	cancel context.CancelFunc

	// guarded by Pool.mu
	stopping bool
	current  *Job
	seized   bool // watchdog took ownership of current; skip failure handling

	// unix millis of last observed progress, written by the worker goroutine
	// and read by the monitor, hence atomic
	lastActive atomic.Int64
}

// New creates a pool. Call Start before submitting.
func New(cfg config.PoolConfig, deadLetter DeadLetterFunc) *Pool {
	p := &Pool{
		cfg:        cfg,
		deadLetter: deadLetter,
		workers:    make(map[int]*workerHandle),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// Start launches the minimum worker set and the scaling/watchdog monitor.
func (p *Pool) Start(ctx context.Context) {
	p.rootCtx, p.rootCancel = context.WithCancel(ctx)

	p.mu.Lock()
	for i := 0; i < p.cfg.MinWorkers; i++ {
		p.spawnWorkerLocked()
	}
	p.mu.Unlock()

	p.monitorWG.Add(1)
	go p.monitor()
}

// Close stops the monitor and workers, waiting for in-flight jobs.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.mu.Unlock()

	if p.rootCancel != nil {
		p.rootCancel()
	}
	p.monitorWG.Wait()
	p.workerWG.Wait()
}

// Submit enqueues a job. Behavior on overflow depends on priority: jobs below
// HighPriority are shed with a warning; jobs at or above it block for a
// bounded wait and then receive ErrCapacityExceeded.
func (p *Pool) Submit(job *Job) error {
	if job.Priority < 1 {
		job.Priority = 1
	}
	if job.Priority > 10 {
		job.Priority = 10
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	if len(p.queue) >= p.cfg.QueueCapacity {
		if job.Priority < HighPriority {
			p.dropped++
			log.Printf("pool: queue full, dropping %s job %s (priority %d)", job.Kind, job.ID, job.Priority)
			return ErrJobDropped
		}

		// Bounded wait for space; a timer wakes the cond so the wait
		// cannot hang past the deadline.
		timedOut := false
		timer := time.AfterFunc(time.Duration(p.cfg.HighPrioWaitMS)*time.Millisecond, func() {
			p.mu.Lock()
			timedOut = true
			p.notFull.Broadcast()
			p.mu.Unlock()
		})
		for len(p.queue) >= p.cfg.QueueCapacity && !timedOut && !p.closed {
			p.notFull.Wait()
		}
		timer.Stop()

		if p.closed {
			return ErrPoolClosed
		}
		if len(p.queue) >= p.cfg.QueueCapacity {
			return ErrCapacityExceeded
		}
	}

	p.pushLocked(job)
	return nil
}

// requeueLocked puts a job back regardless of the capacity bound; requeues
// must never be shed or the pool would lose accepted work.
func (p *Pool) requeueLocked(job *Job) {
	p.pushLocked(job)
}

func (p *Pool) pushLocked(job *Job) {
	heap.Push(&p.queue, &queuedJob{
		job:      job,
		priority: effectivePriority(job, time.Now(), p.cfg.AgeBoostMinutes),
	})
	p.notEmpty.Signal()
}

// Requeue puts a failed or preempted job back at its original base priority.
// After MaxJobAttempts the job goes to the dead-letter sink instead.
func (p *Pool) Requeue(job *Job, cause error) {
	job.Attempts++

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if job.Attempts < p.cfg.MaxJobAttempts {
		p.requeueLocked(job)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	log.Printf("pool: %s job %s exhausted %d attempts: %v", job.Kind, job.ID, job.Attempts, cause)
	if p.deadLetter != nil {
		p.deadLetter(job, cause)
	}
}

// Depth returns the current queue depth.
func (p *Pool) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stats is a point-in-time health snapshot.
type Stats struct {
	QueueDepth int   `json:"queue_depth"`
	Workers    int   `json:"workers"`
	Dropped    int64 `json:"dropped"`
}

// Snapshot returns current pool health.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		QueueDepth: len(p.queue),
		Workers:    len(p.workers),
		Dropped:    p.dropped,
	}
}

func (p *Pool) spawnWorkerLocked() {
	id := p.nextWorkerID
	p.nextWorkerID++

	ctx, cancel := context.WithCancel(p.rootCtx)
	h := &workerHandle{
		id:     id,
		cancel: cancel,
	}
	h.touch()
	p.workers[id] = h

	p.workerWG.Add(1)
	go p.runWorker(ctx, h)
}

func (p *Pool) runWorker(ctx context.Context, h *workerHandle) {
	defer p.workerWG.Done()
	defer h.cancel()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed && !h.stopping {
			p.notEmpty.Wait()
		}
		if p.closed || h.stopping {
			delete(p.workers, h.id)
			p.mu.Unlock()
			return
		}

		batch := p.takeBatchLocked(h)
		p.notFull.Broadcast()
		p.mu.Unlock()

		for _, job := range batch {
			p.runJob(ctx, h, job)
		}
	}
}

// takeBatchLocked pops the top job. Low-priority jobs of the same kind are
// coalesced up to the batch size to amortize per-job overhead; anything at
// or above HighPriority always runs alone.
func (p *Pool) takeBatchLocked(h *workerHandle) []*Job {
	top := heap.Pop(&p.queue).(*queuedJob).job
	batch := []*Job{top}

	if top.Priority >= HighPriority {
		return batch
	}
	for len(batch) < p.cfg.BatchSize && len(p.queue) > 0 {
		next := p.queue[0].job
		if next.Priority >= HighPriority || next.Kind != top.Kind {
			break
		}
		heap.Pop(&p.queue)
		batch = append(batch, next)
	}
	return batch
}

func (p *Pool) runJob(ctx context.Context, h *workerHandle, job *Job) {
	p.mu.Lock()
	h.current = job
	h.seized = false
	p.mu.Unlock()
	h.touch()

	err := job.Run(ctx)

	h.touch()
	p.mu.Lock()
	seized := h.seized
	h.current = nil
	h.seized = false
	p.mu.Unlock()

	// The watchdog already requeued a seized job; reporting failure here
	// would double-count it.
	if seized {
		return
	}
	if err != nil {
		p.Requeue(job, err)
	}
}

func (h *workerHandle) touch() {
	h.lastActive.Store(time.Now().UnixMilli())
}

// monitor handles scaling and the stuck-worker watchdog on one ticker.
// Scaling uses two consecutive observations in the same direction before
// acting, which stops the worker count from thrashing around a threshold.
func (p *Pool) monitor() {
	defer p.monitorWG.Done()

	interval := time.Duration(p.cfg.MonitorIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.rootCtx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return
			}
			p.refreshPrioritiesLocked()
			p.scaleLocked()
			p.watchdogLocked()
			p.mu.Unlock()
		}
	}
}

// refreshPrioritiesLocked recomputes effective priorities so aged jobs climb.
func (p *Pool) refreshPrioritiesLocked() {
	now := time.Now()
	changed := false
	for _, qj := range p.queue {
		eff := effectivePriority(qj.job, now, p.cfg.AgeBoostMinutes)
		if eff != qj.priority {
			qj.priority = eff
			changed = true
		}
	}
	if changed {
		heap.Init(&p.queue)
	}
}

func (p *Pool) scaleLocked() {
	depth := len(p.queue)

	if depth >= p.cfg.ScaleUpDepth {
		p.upStreak++
	} else {
		p.upStreak = 0
	}
	if depth <= p.cfg.ScaleDownDepth {
		p.downStreak++
	} else {
		p.downStreak = 0
	}

	if p.upStreak >= 2 && len(p.workers) < p.cfg.MaxWorkers {
		p.spawnWorkerLocked()
		p.upStreak = 0
		log.Printf("pool: scaled up to %d workers (depth %d)", len(p.workers), depth)
	}

	if p.downStreak >= 2 && len(p.workers) > p.cfg.MinWorkers {
		// Prefer stopping an idle worker; it exits on next wakeup.
		for _, h := range p.workers {
			if h.current == nil && !h.stopping {
				h.stopping = true
				p.notEmpty.Broadcast()
				p.downStreak = 0
				log.Printf("pool: scaled down to %d workers (depth %d)", len(p.workers)-1, depth)
				break
			}
		}
	}
}

// watchdogLocked replaces workers that have been silent too long. The stuck
// worker's context is cancelled, its in-flight job is requeued at its
// original priority, and a replacement is spawned immediately.
func (p *Pool) watchdogLocked() {
	timeout := int64(p.cfg.WatchdogTimeoutMS)
	if timeout <= 0 {
		return
	}
	now := time.Now().UnixMilli()

	for _, h := range p.workers {
		if h.current == nil || h.stopping || h.seized {
			continue
		}
		last := h.lastActive.Load()
		if now-last <= timeout {
			continue
		}

		job := h.current
		log.Printf("pool: worker %d stuck on %s job %s for %s, replacing",
			h.id, job.Kind, job.ID, time.Duration(now-last)*time.Millisecond)

		h.seized = true
		h.stopping = true
		h.cancel()
		p.requeueLocked(job)
		p.spawnWorkerLocked()
	}
}

// NewJobID builds a readable job identifier.
func NewJobID(kind, recordID string) string {
	return fmt.Sprintf("%s:%s:%d", kind, recordID, time.Now().UnixNano())
}
