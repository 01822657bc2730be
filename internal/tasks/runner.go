package tasks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler executes one job. A returned error triggers the retry policy.
type Handler func(ctx context.Context, job *Job) error

// Time limits per job. The soft limit logs a warning; the hard limit cancels
// the job's context. Book OCR batches get extended limits.
const (
	softLimit     = 5 * time.Minute
	hardLimit     = 10 * time.Minute
	bookSoftLimit = 30 * time.Minute
	bookHardLimit = 60 * time.Minute
)

// Retry policy for failed jobs.
const (
	retryBaseDelay = 60 * time.Second
	maxAttempts    = 3
)

// dequeueTimeout bounds each blocking pop so workers notice shutdown.
const dequeueTimeout = 5 * time.Second

// Runner is the worker pool draining the priority queues.
type Runner struct {
	queues    *Queues
	workers   int
	retryBase time.Duration
	mu        sync.RWMutex
	handlers  map[string]Handler
}

// NewRunner creates a runner with the given worker count (minimum 1).
func NewRunner(queues *Queues, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		queues:    queues,
		workers:   workers,
		retryBase: retryBaseDelay,
		handlers:  make(map[string]Handler),
	}
}

// Handle registers the handler for a task type.
func (r *Runner) Handle(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

func (r *Runner) handler(taskType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[taskType]
}

// Run requeues orphaned jobs and then blocks draining the queues until the
// context is canceled. In-flight jobs finish; their hard limits still apply.
func (r *Runner) Run(ctx context.Context) error {
	if n, err := r.queues.RequeueOrphans(ctx); err != nil {
		log.Printf("tasks: orphan requeue failed: %v", err)
	} else if n > 0 {
		log.Printf("tasks: requeued %d orphaned jobs", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		worker := i
		g.Go(func() error {
			r.workLoop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) workLoop(ctx context.Context, worker int) {
	log.Printf("tasks: worker %d started", worker)
	for {
		if ctx.Err() != nil {
			log.Printf("tasks: worker %d stopping", worker)
			return
		}
		job, queue, err := r.queues.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("tasks: worker %d dequeue failed: %v", worker, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		r.execute(ctx, queue, job)
	}
}

// execute runs one job under its time limits and applies the retry policy.
func (r *Runner) execute(ctx context.Context, queue string, job *Job) {
	h := r.handler(job.TaskType)
	if h == nil {
		log.Printf("tasks: no handler for task type %q, burying job %s", job.TaskType, job.ID)
		if err := r.queues.Bury(ctx, queue, job); err != nil {
			log.Printf("tasks: failed to bury job %s: %v", job.ID, err)
		}
		return
	}

	soft, hard := limitsFor(job.TaskType)
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hard)
	defer cancel()

	softTimer := time.AfterFunc(soft, func() {
		log.Printf("tasks: job %s (%s) exceeded soft limit %s", job.ID, job.TaskType, soft)
	})
	defer softTimer.Stop()

	start := time.Now()
	err := runHandler(jobCtx, h, job)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err == nil {
		if ackErr := r.queues.Ack(ctx, queue, job); ackErr != nil {
			log.Printf("tasks: failed to ack job %s: %v", job.ID, ackErr)
		}
		log.Printf("tasks: job %s (%s) done in %s", job.ID, job.TaskType, elapsed)
		return
	}

	log.Printf("tasks: job %s (%s) failed after %s: %v", job.ID, job.TaskType, elapsed, err)
	if job.Attempts+1 >= maxAttempts {
		if buryErr := r.queues.Bury(ctx, queue, job); buryErr != nil {
			log.Printf("tasks: failed to bury job %s: %v", job.ID, buryErr)
		}
		log.Printf("tasks: job %s exhausted %d attempts", job.ID, maxAttempts)
		return
	}

	delay := r.retryBase << job.Attempts
	parked := *job
	if unparkErr := r.queues.removeParked(ctx, queue, &parked); unparkErr != nil {
		log.Printf("tasks: failed to unpark job %s: %v", job.ID, unparkErr)
	}
	job.Attempts++
	log.Printf("tasks: retrying job %s in %s (attempt %d/%d)", job.ID, delay, job.Attempts+1, maxAttempts)
	time.AfterFunc(delay, func() {
		requeueCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if pushErr := r.queues.push(requeueCtx, queue, job); pushErr != nil {
			log.Printf("tasks: failed to requeue job %s: %v", job.ID, pushErr)
		}
	})
}

// runHandler converts a handler panic into an error so one bad job cannot
// take down the worker.
func runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h(ctx, job)
}

func limitsFor(taskType string) (soft, hard time.Duration) {
	if taskType == TaskProcessBook {
		return bookSoftLimit, bookHardLimit
	}
	return softLimit, hardLimit
}
