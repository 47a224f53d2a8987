package worker

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealgraph.org/common"
	"dealgraph.org/queue"
)

const (
	pollInterval      = 2 * time.Second
	heartbeatInterval = 30 * time.Second
	reapInterval      = time.Minute
	archiveInterval   = time.Hour
	archiveAge        = 7 * 24 * time.Hour
)

// Pool polls the job queue and dispatches claimed jobs to registered
// handlers, bounded by a pool-wide concurrency cap and per-kind caps.
type Pool struct {
	queue    *queue.JobQueue
	registry *Registry
	workerID string
	maxJobs  int

	wg      sync.WaitGroup
	running chan struct{}
}

// NewPool creates a pool. maxConcurrency bounds total in-flight jobs.
func NewPool(q *queue.JobQueue, registry *Registry, maxConcurrency int) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	hostname, _ := os.Hostname()
	return &Pool{
		queue:    q,
		registry: registry,
		workerID: fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		maxJobs:  maxConcurrency,
		running:  make(chan struct{}, maxConcurrency),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight jobs to finish.
// In-flight handlers receive a context that stays alive through shutdown so
// they can complete or checkpoint; the queue's visibility timeout covers the
// case where the process dies outright.
func (p *Pool) Run(ctx context.Context) error {
	log := common.Logger.WithField("worker_id", p.workerID)
	log.WithField("kinds", p.registry.Kinds()).Info("worker pool starting")

	p.wg.Add(1)
	go p.maintenanceLoop(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker pool draining")
			p.wg.Wait()
			log.Info("worker pool stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Pool) pollOnce(ctx context.Context) {
	free := p.maxJobs - len(p.running)
	if free <= 0 {
		return
	}
	jobs, err := p.queue.Fetch(ctx, p.workerID, p.registry.Kinds(), free)
	if err != nil {
		if ctx.Err() == nil {
			common.Logger.WithError(err).Warn("job fetch failed")
		}
		return
	}
	for _, job := range jobs {
		p.dispatch(ctx, job)
	}
}

func (p *Pool) dispatch(ctx context.Context, job *queue.Job) {
	reg, ok := p.registry.lookup(job.Kind)
	if !ok {
		// Fetch only asks for registered kinds; reaching here means a stale
		// claim from a previous deploy. Put it back.
		_ = p.queue.Fail(ctx, job, fmt.Errorf("no handler for kind %s", job.Kind), true)
		return
	}
	if !reg.tryAcquire() {
		// Per-kind cap full; release the claim via retryable failure so
		// another worker (or a later poll) picks it up.
		_ = p.queue.Fail(ctx, job, fmt.Errorf("concurrency cap reached for %s", job.Kind), true)
		return
	}

	p.running <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			reg.release()
			<-p.running
			p.wg.Done()
		}()
		p.execute(ctx, reg, job)
	}()
}

func (p *Pool) execute(ctx context.Context, reg *registration, job *queue.Job) {
	log := common.JobLogger(job.Kind, job.ID, "", "", "")

	// Heartbeats run against the background context: the job must stay
	// claimed while it drains during shutdown.
	hbCtx, stopHB := context.WithCancel(context.Background())
	defer stopHB()
	go p.heartbeatLoop(hbCtx, job)

	// Handlers keep running through pool shutdown; jobs are the unit that
	// must not be half-cancelled.
	jobCtx := context.WithoutCancel(ctx)

	start := time.Now()
	err := p.runHandler(jobCtx, reg.handler, job)
	stopHB()

	elapsed := time.Since(start)
	if err == nil {
		if cerr := p.queue.Complete(jobCtx, job.ID); cerr != nil {
			log.WithError(cerr).Warn("failed to mark job completed")
		}
		log.WithField("elapsed", elapsed.String()).Info("job completed")
		return
	}

	retryable := common.IsRetryable(err)
	log.WithError(err).WithFields(map[string]interface{}{
		"elapsed": elapsed.String(), "retryable": retryable, "attempt": job.Attempt,
	}).Warn("job handler failed")
	if ferr := p.queue.Fail(jobCtx, job, err, retryable); ferr != nil {
		log.WithError(ferr).Error("failed to record job failure")
	}
}

// runHandler isolates panics so one bad job cannot take down the pool.
func (p *Pool) runHandler(ctx context.Context, handler HandlerFunc, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			common.Logger.WithFields(map[string]interface{}{
				"job_id": job.ID, "panic": r,
			}).Error(string(debug.Stack()))
			err = common.Ef(common.KindInternal, "job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Pool) heartbeatLoop(ctx context.Context, job *queue.Job) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx, job.ID, p.workerID); err != nil {
				common.Logger.WithError(err).WithField("job_id", job.ID).
					Warn("heartbeat lost, job may be reclaimed")
				return
			}
		}
	}
}

// maintenanceLoop reaps expired claims and archives old finished jobs.
func (p *Pool) maintenanceLoop(ctx context.Context) {
	defer p.wg.Done()
	reap := time.NewTicker(reapInterval)
	archive := time.NewTicker(archiveInterval)
	defer reap.Stop()
	defer archive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reap.C:
			if _, err := p.queue.ReapExpired(ctx); err != nil && ctx.Err() == nil {
				common.Logger.WithError(err).Warn("reap pass failed")
			}
		case <-archive.C:
			if n, err := p.queue.ArchiveFinished(ctx, archiveAge); err != nil && ctx.Err() == nil {
				common.Logger.WithError(err).Warn("archive pass failed")
			} else if n > 0 {
				common.Logger.WithField("archived", n).Info("archived finished jobs")
			}
		}
	}
}
