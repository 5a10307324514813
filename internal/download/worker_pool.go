package download

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/melodex/melodex-core/internal/errs"
	"github.com/melodex/melodex-core/internal/store"
)

// jobBuffer sizes the job channel so enqueueing a large album never
// blocks the scheduler.
const jobBuffer = 10000

// Job is one unit of work for the pool: a single track row.
type Job struct {
	ID     string
	Item   *store.QueueItem
	ctx    context.Context
	cancel context.CancelFunc
}

// JobResult reports the outcome of a processed job.
type JobResult struct {
	JobID string
	Err   error
}

// JobHandler processes one job. The context is cancelled when the job or
// the whole pool is cancelled.
type JobHandler func(ctx context.Context, job *Job) error

// WorkerPool runs track downloads on a fixed number of goroutines,
// consuming jobs in submission order.
type WorkerPool struct {
	workers int
	handler JobHandler
	logger  *zap.Logger

	jobs    chan *Job
	results chan *JobResult
	active  sync.Map // job ID -> *Job
	wg      sync.WaitGroup

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewWorkerPool builds a pool with the given concurrency.
func NewWorkerPool(workers int, handler JobHandler, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		workers: workers,
		handler: handler,
		logger:  logger.Named("pool"),
		jobs:    make(chan *Job, jobBuffer),
		results: make(chan *JobResult, workers*10),
	}
}

// Start spawns the workers.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return errs.Validation("worker pool already started")
	}
	if wp.handler == nil {
		return errs.Validation("worker pool has no job handler")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.started = true
	return nil
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.process(job)
		}
	}
}

func (wp *WorkerPool) process(job *Job) {
	wp.active.Store(job.ID, job)
	defer wp.active.Delete(job.ID)

	if job.ctx == nil {
		job.ctx, job.cancel = context.WithCancel(wp.ctx)
	}

	err := wp.handler(job.ctx, job)
	if err != nil {
		wp.logger.Debug("job finished with error", zap.String("job_id", job.ID), zap.Error(err))
	}

	select {
	case wp.results <- &JobResult{JobID: job.ID, Err: err}:
	case <-wp.ctx.Done():
	}
}

// Submit queues a job. The job gets its own cancellable context derived
// from the pool's.
func (wp *WorkerPool) Submit(job *Job) error {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return errs.Validation("worker pool not started")
	}
	ctx := wp.ctx
	wp.mu.Unlock()

	job.ctx, job.cancel = context.WithCancel(ctx)
	select {
	case wp.jobs <- job:
		return nil
	case <-ctx.Done():
		return errs.Validation("worker pool is shutting down")
	}
}

// Stop cancels every active job and waits for the workers to exit.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	wp.mu.Unlock()

	wp.CancelAll()
	wp.cancel()
	close(wp.jobs)
	wp.wg.Wait()
	close(wp.results)
}

// Results exposes the completion channel.
func (wp *WorkerPool) Results() <-chan *JobResult {
	return wp.results
}

// Cancel aborts one active job. Queued jobs that have not started yet
// are not affected.
func (wp *WorkerPool) Cancel(jobID string) bool {
	value, ok := wp.active.Load(jobID)
	if !ok {
		return false
	}
	if job, ok := value.(*Job); ok && job.cancel != nil {
		job.cancel()
		return true
	}
	return false
}

// CancelAll aborts every active job and drains anything still queued.
func (wp *WorkerPool) CancelAll() {
	wp.active.Range(func(_, value interface{}) bool {
		if job, ok := value.(*Job); ok && job.cancel != nil {
			job.cancel()
		}
		return true
	})

	drained := 0
	for {
		select {
		case <-wp.jobs:
			drained++
		default:
			if drained > 0 {
				wp.logger.Info("drained queued jobs", zap.Int("count", drained))
			}
			return
		}
	}
}

// ActiveCount returns the number of jobs being processed right now.
func (wp *WorkerPool) ActiveCount() int {
	count := 0
	wp.active.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// IsActive reports whether a job is currently being processed.
func (wp *WorkerPool) IsActive(jobID string) bool {
	_, ok := wp.active.Load(jobID)
	return ok
}

// QueuedCount returns the number of submitted jobs not yet picked up.
func (wp *WorkerPool) QueuedCount() int {
	return len(wp.jobs)
}
