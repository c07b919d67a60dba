package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// NextRun returns the first activation of spec strictly after from. spec is
// a five-field cron expression or a descriptor such as "@every 6h".
func NextRun(spec string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(strings.TrimSpace(spec))
	if err != nil {
		return time.Time{}, resilience.Permanent(eris.Wrapf(err, "jobqueue: parse schedule %q", spec))
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, resilience.Permanent(eris.Errorf("jobqueue: schedule %q never fires", spec))
	}
	return next, nil
}

// Scheduler materializes recurring schedules into queue jobs.
type Scheduler struct {
	store    store.JobStore
	queues   map[string]*Queue
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a Scheduler that enqueues into the given queues. It
// shares the queues' clock.
func NewScheduler(s store.JobStore, interval time.Duration, queues ...*Queue) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	sc := &Scheduler{store: s, queues: map[string]*Queue{}, interval: interval, now: time.Now}
	for _, q := range queues {
		sc.queues[q.Name()] = q
		sc.now = q.now
	}
	return sc
}

// Schedule creates or replaces the schedule stored under key.
func (s *Scheduler) Schedule(ctx context.Context, key, queue, name, spec string, payload any) (*Schedule, error) {
	if _, ok := s.queues[queue]; !ok {
		return nil, eris.Errorf("jobqueue: unknown queue %q", queue)
	}
	next, err := NextRun(spec, s.now())
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrapf(err, "jobqueue: marshal schedule %s payload", key)
	}
	sc := &Schedule{
		Key:       key,
		Queue:     queue,
		Name:      name,
		Spec:      spec,
		Payload:   raw,
		NextRunAt: next.UTC(),
	}
	if err := s.store.UpsertSchedule(ctx, sc); err != nil {
		return nil, eris.Wrapf(err, "jobqueue: save schedule %s", key)
	}
	zap.L().Info("jobqueue: schedule saved",
		zap.String("key", key),
		zap.String("spec", spec),
		zap.Time("next_run_at", sc.NextRunAt),
	)
	return sc, nil
}

// Unschedule deletes the schedule stored under key.
func (s *Scheduler) Unschedule(ctx context.Context, key string) (bool, error) {
	ok, err := s.store.DeleteSchedule(ctx, key)
	return ok, eris.Wrapf(err, "jobqueue: delete schedule %s", key)
}

// Tick enqueues one job for every due schedule and advances it. Only the
// process that wins the advance enqueues, and the job's unique key is derived
// from the slot so a slot fires at most once.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueSchedules(ctx, now)
	if err != nil {
		return 0, eris.Wrap(err, "jobqueue: list due schedules")
	}

	fired := 0
	for _, sc := range due {
		log := zap.L().With(zap.String("schedule", sc.Key), zap.String("queue", sc.Queue))
		q, ok := s.queues[sc.Queue]
		if !ok {
			log.Warn("jobqueue: schedule targets an unknown queue")
			continue
		}
		next, err := NextRun(sc.Spec, now)
		if err != nil {
			log.Error("jobqueue: invalid schedule", zap.Error(err))
			continue
		}
		won, err := s.store.AdvanceSchedule(ctx, sc.Key, sc.NextRunAt, next.UTC())
		if err != nil {
			return fired, eris.Wrapf(err, "jobqueue: advance schedule %s", sc.Key)
		}
		if !won {
			continue
		}

		_, err = q.Enqueue(ctx, JobSpec{
			Name:      sc.Name,
			Payload:   sc.Payload,
			Priority:  model.PriorityHigh,
			UniqueKey: fmt.Sprintf("%s:%d", sc.Key, sc.NextRunAt.Unix()),
		})
		if err != nil {
			return fired, err
		}
		fired++
		log.Debug("jobqueue: schedule fired", zap.Time("next_run_at", next))
	}
	return fired, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			zap.L().Warn("jobqueue: scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
