package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/participant-enrichment/internal/model"
)

// Job results reported to the Observer.
const (
	ResultCompleted = "completed"
	ResultRetried   = "retried"
	ResultFailed    = "failed"
)

// Handler processes one job. The returned result is stored on completion.
type Handler func(ctx context.Context, job *Job) (any, error)

// Observer receives job outcomes and periodic queue counts.
type Observer interface {
	ObserveJob(queue, result string, elapsed time.Duration)
	SetQueueStats(queue string, st model.QueueStats)
}

// WorkerPool runs a fixed number of concurrent handlers against one queue.
type WorkerPool struct {
	queue        *Queue
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	maintenance  time.Duration
	jobTimeout   time.Duration
	observer     Observer
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithConcurrency sets the number of jobs processed at once.
func WithConcurrency(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithLease sets how long a claimed job is reserved before it counts as stale.
func WithLease(d time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if d > 0 {
			p.lease = d
		}
	}
}

// WithMaintenanceInterval sets how often stale recovery, pruning and stats
// run.
func WithMaintenanceInterval(d time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if d > 0 {
			p.maintenance = d
		}
	}
}

// WithJobTimeout bounds each handler call. Zero leaves it unbounded.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *WorkerPool) { p.jobTimeout = d }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) PoolOption {
	return func(p *WorkerPool) { p.observer = o }
}

// NewWorkerPool creates a pool that feeds q's jobs to h.
func NewWorkerPool(q *Queue, h Handler, opts ...PoolOption) *WorkerPool {
	p := &WorkerPool{
		queue:        q,
		handler:      h,
		concurrency:  1,
		pollInterval: time.Second,
		lease:        5 * time.Minute,
		maintenance:  30 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run processes jobs until ctx is cancelled, then waits for in-flight jobs
// to finish. Running jobs are not interrupted by shutdown.
func (p *WorkerPool) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("queue", p.queue.Name()))
	log.Info("jobqueue: worker pool started", zap.Int("concurrency", p.concurrency))

	var g errgroup.Group
	slots := make(chan struct{}, p.concurrency)
	ticker := time.NewTicker(p.maintenance)
	defer ticker.Stop()

	p.maintain(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("jobqueue: worker pool draining")
			err := g.Wait()
			log.Info("jobqueue: worker pool stopped")
			return err
		case <-ticker.C:
			p.maintain(ctx)
			continue
		case slots <- struct{}{}:
		}

		job, err := p.queue.Claim(ctx, p.lease)
		if err != nil || job == nil {
			<-slots
			if err != nil && ctx.Err() == nil {
				log.Warn("jobqueue: claim failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
			case <-time.After(p.pollInterval):
			}
			continue
		}

		g.Go(func() error {
			defer func() { <-slots }()
			p.process(context.WithoutCancel(ctx), job)
			return nil
		})
	}
}

// Drain processes eligible jobs one at a time until the queue has none ready
// and returns how many ran.
func (p *WorkerPool) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, eris.Wrap(err, "jobqueue: drain")
		}
		job, err := p.queue.Claim(ctx, p.lease)
		if err != nil {
			return n, err
		}
		if job == nil {
			return n, nil
		}
		p.process(ctx, job)
		n++
	}
}

func (p *WorkerPool) process(ctx context.Context, job *Job) {
	log := zap.L().With(
		zap.String("queue", job.Queue),
		zap.String("job_id", job.ID),
		zap.String("job", job.Name),
		zap.Int("attempt", job.Attempts),
	)
	start := time.Now()

	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	result, err := p.safeHandle(ctx, job)
	outcome := ResultCompleted
	if err == nil {
		if cerr := p.queue.Complete(ctx, job, result); cerr != nil {
			log.Error("jobqueue: complete failed", zap.Error(cerr))
		}
		log.Debug("jobqueue: job completed", zap.Duration("elapsed", time.Since(start)))
	} else {
		retried, ferr := p.queue.Fail(ctx, job, err)
		if ferr != nil {
			log.Error("jobqueue: recording failure failed", zap.Error(ferr))
		}
		outcome = ResultFailed
		if retried {
			outcome = ResultRetried
			log.Warn("jobqueue: job failed, will retry", zap.Error(err))
		} else {
			log.Error("jobqueue: job failed", zap.Error(err))
		}
	}

	if p.observer != nil {
		p.observer.ObserveJob(job.Queue, outcome, time.Since(start))
	}
}

func (p *WorkerPool) safeHandle(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.New(fmt.Sprintf("jobqueue: handler panic: %v", r))
		}
	}()
	return p.handler(ctx, job)
}

func (p *WorkerPool) maintain(ctx context.Context) {
	log := zap.L().With(zap.String("queue", p.queue.Name()))
	if n, err := p.queue.RecoverStale(ctx); err != nil {
		log.Warn("jobqueue: recover stale failed", zap.Error(err))
	} else if n > 0 {
		log.Info("jobqueue: recovered stale jobs", zap.Int("count", n))
	}
	if n, err := p.queue.Prune(ctx); err != nil {
		log.Warn("jobqueue: prune failed", zap.Error(err))
	} else if n > 0 {
		log.Debug("jobqueue: pruned jobs", zap.Int("count", n))
	}
	if p.observer != nil {
		if st, err := p.queue.Stats(ctx); err == nil {
			p.observer.SetQueueStats(p.queue.Name(), st)
		}
	}
}
