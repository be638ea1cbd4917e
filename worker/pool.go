// Package worker runs dequeued jobs. A Pool manages concurrent worker
// goroutines that pull from the queue manager, enforce per-job-type
// throttling, and execute registered handlers through the middleware chain.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gameforge/forgeq"
	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
	"github.com/gameforge/forgeq/middleware"
	"github.com/gameforge/forgeq/queue"
)

// Pool manages a set of concurrent worker goroutines that poll the queue
// manager and execute jobs.
type Pool struct {
	manager  *queue.Manager
	registry *job.Registry
	mw       middleware.Middleware
	throttle *Throttle
	workerID id.WorkerID
	logger   *slog.Logger

	concurrency  int
	dequeueWait  time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	wg      sync.WaitGroup

	activeMu   sync.Mutex
	activeJobs map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithDequeueWait sets how long each idle worker blocks waiting for a job
// before re-checking for shutdown.
func WithDequeueWait(d time.Duration) PoolOption {
	return func(p *Pool) { p.dequeueWait = d }
}

// WithPollInterval sets the pause after a dequeue error or a throttled job.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithThrottle enables per-job-type rate and concurrency limits.
func WithThrottle(t *Throttle) PoolOption {
	return func(p *Pool) { p.throttle = t }
}

// WithMiddleware sets the middleware chain wrapped around every handler.
// The first middleware is the outermost wrapper.
func WithMiddleware(mws ...middleware.Middleware) PoolOption {
	return func(p *Pool) { p.mw = middleware.Chain(mws...) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a worker pool pulling from the given manager and
// dispatching to handlers registered in the registry.
func NewPool(manager *queue.Manager, registry *job.Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		manager:      manager,
		registry:     registry,
		mw:           middleware.Chain(),
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
		concurrency:  4,
		dequeueWait:  5 * time.Second,
		pollInterval: time.Second,
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately; workers
// run until Stop is called.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	loopCtx, cancel := context.WithCancel(context.Background())
	p.stop = cancel

	p.logger.Info("worker pool starting",
		"worker_id", p.workerID.String(),
		"concurrency", p.concurrency)

	for range p.concurrency {
		p.wg.Add(1)
		go p.runLoop(loopCtx)
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to finish.
// If ctx expires first, active jobs are cancelled and the wait resumes.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stop()
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", "worker_id", p.workerID.String())

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}
	return nil
}

// runLoop is run by each worker goroutine.
func (p *Pool) runLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		j, err := p.manager.Dequeue(ctx, p.dequeueWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("dequeue failed",
				"worker_id", p.workerID.String(), "error", err)
			p.sleep(ctx)
			continue
		}
		if j == nil {
			continue
		}

		if p.throttle != nil && !p.throttle.Acquire(j.Type) {
			// Over the job type's budget; put it back and back off.
			if reqErr := p.manager.Requeue(context.WithoutCancel(ctx), j); reqErr != nil {
				p.logger.Error("failed to requeue throttled job",
					"job_id", j.ID.String(), "error", reqErr)
			}
			p.sleep(ctx)
			continue
		}

		p.execute(ctx, j)

		if p.throttle != nil {
			p.throttle.Release(j.Type)
		}
	}
}

// execute runs one claimed job through the middleware chain and handler,
// then records the outcome. Bookkeeping calls survive pool shutdown.
func (p *Pool) execute(ctx context.Context, j *job.Job) {
	bookkeep := context.WithoutCancel(ctx)

	handler, ok := p.registry.Get(j.Type)
	if !ok {
		err := fmt.Errorf("worker: job type %q: %w", j.Type, forgeq.ErrNoHandler)
		if failErr := p.manager.Fail(bookkeep, j.ID, err, false); failErr != nil {
			p.logger.Error("failed to record missing-handler failure",
				"job_id", j.ID.String(), "error", failErr)
		}
		return
	}

	// Execution gets its own cancelable context so Stop can abort jobs
	// that outlive the shutdown grace period.
	execCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.trackJob(j.ID.String(), cancel)
	defer p.untrackJob(j.ID.String())

	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(ctx, j)
	}
	result, err := p.mw(execCtx, j, terminal)

	if err != nil {
		if failErr := p.manager.Fail(bookkeep, j.ID, err, !IsPermanent(err)); failErr != nil {
			p.logger.Error("failed to record job failure",
				"job_id", j.ID.String(), "error", failErr)
		}
		return
	}
	if compErr := p.manager.Complete(bookkeep, j.ID, result); compErr != nil {
		p.logger.Error("failed to record job completion",
			"job_id", j.ID.String(), "error", compErr)
	}
}

// sleep pauses for the poll interval or until shutdown.
func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-time.After(p.pollInterval):
	case <-ctx.Done():
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", "job_id", jobID)
		cancel()
	}
}
