// Package jobqueue is a durable priority job queue stored alongside the
// participant data, with worker pools and recurring schedules on top.
package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/config"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// Queue names.
const (
	QueueEnrichment = "participant-enrichment"
	QueueAutoMatch  = "auto-match"
	QueueBulk       = "bulk-enrichment"
)

// Names lists every queue in display order.
func Names() []string {
	return []string{QueueEnrichment, QueueAutoMatch, QueueBulk}
}

type (
	// Job is a queued unit of work.
	Job = model.Job
	// Stats counts a queue's jobs by state.
	Stats = model.QueueStats
	// Schedule is a recurring job definition.
	Schedule = model.JobSchedule
)

// Options tunes retry and retention for one queue.
type Options struct {
	Attempts      int
	Backoff       resilience.Backoff
	KeepCompleted int
	KeepFailed    int
	// Now overrides the clock used for run-at and lease times.
	Now func() time.Time
}

// OptionsFromConfig converts queue configuration into Options.
func OptionsFromConfig(c config.QueueConfig) Options {
	return Options{
		Attempts:      c.Attempts,
		Backoff:       resilience.ExponentialBackoff(time.Duration(c.BackoffMs) * time.Millisecond),
		KeepCompleted: c.KeepCompleted,
		KeepFailed:    c.KeepFailed,
	}
}

// JobSpec describes a job to enqueue.
type JobSpec struct {
	Name     string
	Payload  any
	Priority model.Priority
	// RunAt overrides the priority delay when set.
	RunAt time.Time
	// UniqueKey, when set, collapses the enqueue onto a waiting or active job
	// with the same key.
	UniqueKey string
}

// Queue is one named durable queue.
type Queue struct {
	name  string
	store store.JobStore
	opts  Options
	now   func() time.Time
}

// New creates a Queue named name over s.
func New(name string, s store.JobStore, opts Options) *Queue {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{name: name, store: s, opts: opts, now: now}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue stores a job. When spec.UniqueKey matches a live job, that job is
// returned instead of a new one; a waiting match is first raised to the
// request's priority and run time if the request outranks it.
func (q *Queue) Enqueue(ctx context.Context, spec JobSpec) (*Job, error) {
	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, eris.Wrapf(err, "jobqueue: marshal %s payload", spec.Name)
	}
	runAt := spec.RunAt
	if runAt.IsZero() {
		runAt = q.now().Add(spec.Priority.Delay())
	}
	j := &Job{
		Queue:       q.name,
		Name:        spec.Name,
		Payload:     payload,
		Priority:    spec.Priority.Rank(),
		MaxAttempts: q.opts.Attempts,
		RunAt:       runAt.UTC(),
	}
	if spec.UniqueKey != "" {
		j.UniqueKey = model.Ptr(spec.UniqueKey)
	}

	job, inserted, err := q.store.InsertJob(ctx, j)
	if err != nil {
		return nil, eris.Wrapf(err, "jobqueue: enqueue %s", spec.Name)
	}
	if !inserted {
		zap.L().Debug("jobqueue: job already queued",
			zap.String("queue", q.name),
			zap.String("job_id", job.ID),
			zap.String("unique_key", spec.UniqueKey),
		)
		if job.Status == model.JobWaiting && j.Priority < job.Priority {
			return q.promote(ctx, job, j)
		}
	}
	return job, nil
}

// promote carries a higher-priority duplicate request over to the waiting
// job it collapsed onto.
func (q *Queue) promote(ctx context.Context, existing, req *Job) (*Job, error) {
	ok, err := q.store.PromoteJob(ctx, existing.ID, req.Priority, req.RunAt)
	if err != nil {
		return nil, eris.Wrapf(err, "jobqueue: promote %s", existing.ID)
	}
	if !ok {
		return existing, nil
	}
	zap.L().Info("jobqueue: raised priority of queued job",
		zap.String("queue", q.name),
		zap.String("job_id", existing.ID),
		zap.Int("from", existing.Priority),
		zap.Int("to", req.Priority),
	)
	return q.store.GetJob(ctx, existing.ID)
}

// Claim leases the next eligible job, or returns nil when none is ready.
func (q *Queue) Claim(ctx context.Context, lease time.Duration) (*Job, error) {
	j, err := q.store.ClaimJob(ctx, q.name, q.now(), lease)
	return j, eris.Wrapf(err, "jobqueue: claim from %s", q.name)
}

// Complete acknowledges j with an optional JSON-serializable result.
func (q *Queue) Complete(ctx context.Context, j *Job, result any) error {
	var raw []byte
	if result != nil {
		var err error
		if raw, err = json.Marshal(result); err != nil {
			return eris.Wrapf(err, "jobqueue: marshal result of %s", j.ID)
		}
	}
	return eris.Wrapf(q.store.CompleteJob(ctx, j.ID, raw, q.now()), "jobqueue: complete %s", j.ID)
}

// Fail records a handler error. The job is rescheduled with exponential
// backoff while attempts remain and the error is retryable; otherwise it is
// marked failed. It reports whether the job will run again.
func (q *Queue) Fail(ctx context.Context, j *Job, cause error) (bool, error) {
	msg := cause.Error()
	if resilience.IsRetryable(cause) && j.Attempts < j.MaxAttempts {
		runAt := q.now().Add(q.opts.Backoff.Delay(j.Attempts))
		return true, eris.Wrapf(q.store.RetryJob(ctx, j.ID, runAt, msg), "jobqueue: retry %s", j.ID)
	}
	return false, eris.Wrapf(q.store.FailJob(ctx, j.ID, msg, q.now()), "jobqueue: fail %s", j.ID)
}

// Remove cancels a job that has not started.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	ok, err := q.store.RemoveJob(ctx, q.name, id)
	return ok, eris.Wrapf(err, "jobqueue: remove %s", id)
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// Stats counts the queue's jobs by state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	st, err := q.store.QueueStats(ctx, q.name)
	return st, eris.Wrapf(err, "jobqueue: stats for %s", q.name)
}

// Prune trims finished jobs down to the configured retention.
func (q *Queue) Prune(ctx context.Context) (int, error) {
	completed, err := q.store.PruneJobs(ctx, q.name, model.JobCompleted, q.opts.KeepCompleted)
	if err != nil {
		return 0, eris.Wrapf(err, "jobqueue: prune completed in %s", q.name)
	}
	failed, err := q.store.PruneJobs(ctx, q.name, model.JobFailed, q.opts.KeepFailed)
	if err != nil {
		return completed, eris.Wrapf(err, "jobqueue: prune failed in %s", q.name)
	}
	return completed + failed, nil
}

// RecoverStale returns jobs whose lease expired to waiting, or fails them
// when no attempts remain.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	n, err := q.store.RecoverStaleJobs(ctx, q.name, q.now())
	return n, eris.Wrapf(err, "jobqueue: recover stale in %s", q.name)
}

// DecodePayload unmarshals j's payload into v. Malformed payloads are
// permanent failures.
func DecodePayload(j *Job, v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return resilience.Permanent(eris.Wrapf(err, "jobqueue: decode %s payload", j.Name))
	}
	return nil
}
