package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/participant-enrichment/internal/model"
)

func newJob(queue string, priority int, runAt time.Time) *model.Job {
	return &model.Job{
		Queue:       queue,
		Name:        "enrich-participant",
		Payload:     json.RawMessage(`{"participant_id":"p1"}`),
		Priority:    priority,
		MaxAttempts: 3,
		RunAt:       runAt,
	}
}

func jobStoreTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ClaimOrdersByPriorityThenRunAt", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		low, _, err := s.InsertJob(ctx, newJob("q", 10, now.Add(-3*time.Second)))
		require.NoError(t, err)
		high, _, err := s.InsertJob(ctx, newJob("q", 1, now.Add(-time.Second)))
		require.NoError(t, err)
		_, _, err = s.InsertJob(ctx, newJob("q", 1, now.Add(time.Hour)))
		require.NoError(t, err)
		_, _, err = s.InsertJob(ctx, newJob("other", 1, now.Add(-time.Hour)))
		require.NoError(t, err)

		first, err := s.ClaimJob(ctx, "q", now, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, high.ID, first.ID)
		assert.Equal(t, model.JobActive, first.Status)
		assert.Equal(t, 1, first.Attempts)
		require.NotNil(t, first.LeaseUntil)

		second, err := s.ClaimJob(ctx, "q", now, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, low.ID, second.ID)

		none, err := s.ClaimJob(ctx, "q", now, time.Minute)
		require.NoError(t, err)
		assert.Nil(t, none, "delayed job is not yet eligible")
	})

	t.Run("UniqueKeyDeduplicatesLiveJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := "auto-match-org-1"

		j1 := newJob("auto-match", 5, time.Now())
		j1.UniqueKey = &key
		first, inserted, err := s.InsertJob(ctx, j1)
		require.NoError(t, err)
		assert.True(t, inserted)

		j2 := newJob("auto-match", 5, time.Now())
		j2.UniqueKey = &key
		dup, inserted, err := s.InsertJob(ctx, j2)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, first.ID, dup.ID)

		claimed, err := s.ClaimJob(ctx, "auto-match", time.Now().Add(time.Second), time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.CompleteJob(ctx, claimed.ID, []byte(`{"matched":1}`), time.Now()))

		j3 := newJob("auto-match", 5, time.Now())
		j3.UniqueKey = &key
		_, inserted, err = s.InsertJob(ctx, j3)
		require.NoError(t, err)
		assert.True(t, inserted, "finished jobs do not block a new run")
	})

	t.Run("RetryCompleteFailLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		j, _, err := s.InsertJob(ctx, newJob("q", 5, now.Add(-time.Second)))
		require.NoError(t, err)
		claimed, err := s.ClaimJob(ctx, "q", now, time.Minute)
		require.NoError(t, err)

		require.NoError(t, s.RetryJob(ctx, claimed.ID, now.Add(5*time.Second), "clearbit: 503"))
		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobWaiting, got.Status)
		assert.Equal(t, "clearbit: 503", got.LastError)
		assert.Nil(t, got.LeaseUntil)

		again, err := s.ClaimJob(ctx, "q", now.Add(6*time.Second), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, again.Attempts)

		require.NoError(t, s.FailJob(ctx, again.ID, "giving up", now))
		got, err = s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobFailed, got.Status)
		assert.NotNil(t, got.FinishedAt)

		assert.Error(t, s.CompleteJob(ctx, "missing", nil, now))
	})

	t.Run("RemoveOnlyWaiting", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		waiting, _, err := s.InsertJob(ctx, newJob("q", 5, now.Add(time.Hour)))
		require.NoError(t, err)
		active, _, err := s.InsertJob(ctx, newJob("q", 1, now.Add(-time.Second)))
		require.NoError(t, err)
		_, err = s.ClaimJob(ctx, "q", now, time.Minute)
		require.NoError(t, err)

		ok, err := s.RemoveJob(ctx, "q", waiting.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.RemoveJob(ctx, "q", active.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PromoteOnlyWaitingLowerRank", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		j, _, err := s.InsertJob(ctx, newJob("q", 10, now.Add(time.Minute)))
		require.NoError(t, err)

		ok, err := s.PromoteJob(ctx, j.ID, 1, now)
		require.NoError(t, err)
		assert.True(t, ok)
		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Priority)
		assert.True(t, got.RunAt.Equal(now))

		ok, err = s.PromoteJob(ctx, j.ID, 5, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "equal or lower rank is ignored")

		later, _, err := s.InsertJob(ctx, newJob("q", 10, now.Add(-time.Minute)))
		require.NoError(t, err)
		ok, err = s.PromoteJob(ctx, later.ID, 5, now.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
		got, err = s.GetJob(ctx, later.ID)
		require.NoError(t, err)
		assert.True(t, got.RunAt.Equal(now.Add(-time.Minute)), "run_at never moves later")

		claimed, err := s.ClaimJob(ctx, "q", now, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		ok, err = s.PromoteJob(ctx, claimed.ID, 0, now)
		require.NoError(t, err)
		assert.False(t, ok, "active jobs are not changed")
	})

	t.Run("StatsAndPrune", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		for i := 0; i < 4; i++ {
			_, _, err := s.InsertJob(ctx, newJob("q", 5, now.Add(-time.Minute)))
			require.NoError(t, err)
			j, err := s.ClaimJob(ctx, "q", now, time.Minute)
			require.NoError(t, err)
			require.NoError(t, s.CompleteJob(ctx, j.ID, nil, now.Add(time.Duration(i)*time.Second)))
		}
		_, _, err := s.InsertJob(ctx, newJob("q", 5, now.Add(time.Hour)))
		require.NoError(t, err)

		st, err := s.QueueStats(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, model.QueueStats{Waiting: 1, Completed: 4}, st)

		n, err := s.PruneJobs(ctx, "q", model.JobCompleted, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		st, err = s.QueueStats(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, 2, st.Completed)
		assert.Equal(t, 1, st.Waiting)

		empty, err := s.QueueStats(ctx, "nothing")
		require.NoError(t, err)
		assert.Equal(t, model.QueueStats{}, empty)
	})

	t.Run("RecoverStaleJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		retryable, _, err := s.InsertJob(ctx, newJob("q", 1, now.Add(-time.Minute)))
		require.NoError(t, err)
		exhaustedJob := newJob("q", 5, now.Add(-time.Minute))
		exhaustedJob.MaxAttempts = 1
		exhausted, _, err := s.InsertJob(ctx, exhaustedJob)
		require.NoError(t, err)

		_, err = s.ClaimJob(ctx, "q", now, time.Second)
		require.NoError(t, err)
		_, err = s.ClaimJob(ctx, "q", now, time.Second)
		require.NoError(t, err)

		n, err := s.RecoverStaleJobs(ctx, "q", now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := s.GetJob(ctx, retryable.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobWaiting, got.Status)
		got, err = s.GetJob(ctx, exhausted.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobFailed, got.Status)
	})

	t.Run("Schedules", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		sc := &model.JobSchedule{
			Key: "auto-match-org-1", Queue: "auto-match", Name: "auto-match", Spec: "0 */6 * * *",
			Payload: json.RawMessage(`{"organization_id":"org-1"}`), NextRunAt: now.Add(-time.Minute),
		}
		require.NoError(t, s.UpsertSchedule(ctx, sc))
		sc.Spec = "@every 1h"
		require.NoError(t, s.UpsertSchedule(ctx, sc))

		due, err := s.ListDueSchedules(ctx, now)
		require.NoError(t, err)
		require.Len(t, due, 1, "upsert replaces instead of duplicating")
		assert.Equal(t, "@every 1h", due[0].Spec)

		ok, err := s.AdvanceSchedule(ctx, sc.Key, due[0].NextRunAt, now.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.AdvanceSchedule(ctx, sc.Key, due[0].NextRunAt, now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "second advance from the same slot loses")

		due, err = s.ListDueSchedules(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, due)

		deleted, err := s.DeleteSchedule(ctx, sc.Key)
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = s.DeleteSchedule(ctx, sc.Key)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}
