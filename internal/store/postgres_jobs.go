package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
)

const jobColumns = `id, queue, name, payload, priority, status, attempts, max_attempts, unique_key,
	run_at, lease_until, last_error, result, created_at, updated_at, finished_at`

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var lastErr *string
	var payload, result []byte
	err := row.Scan(&j.ID, &j.Queue, &j.Name, &payload, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.UniqueKey, &j.RunAt, &j.LeaseUntil, &lastErr, &result, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	if len(result) > 0 {
		j.Result = result
	}
	j.LastError = deref(lastErr)
	return &j, nil
}

func (s *PostgresStore) InsertJob(ctx context.Context, j *model.Job) (*model.Job, bool, error) {
	now := time.Now().UTC()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	j.Status = model.JobWaiting
	j.CreatedAt, j.UpdatedAt = now, now

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, queue, name, payload, priority, status, attempts, max_attempts, unique_key,
			run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'waiting', 0, $6, $7, $8, $9, $9)
		 ON CONFLICT DO NOTHING`,
		j.ID, j.Queue, j.Name, []byte(j.Payload), j.Priority, j.MaxAttempts, j.UniqueKey, j.RunAt.UTC(), now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert job")
	}
	if tag.RowsAffected() > 0 {
		return j, true, nil
	}
	if j.UniqueKey == nil {
		return nil, false, eris.Errorf("postgres: job %s was not inserted", j.ID)
	}

	existing, err := scanPgJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE queue = $1 AND unique_key = $2 AND status IN ('waiting', 'active')`,
		j.Queue, *j.UniqueKey,
	))
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: find existing job")
	}
	return existing, false, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, queue string, now time.Time, lease time.Duration) (*model.Job, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'active', attempts = attempts + 1, lease_until = $3, updated_at = $2
		 WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1 AND status = 'waiting' AND run_at <= $2
			ORDER BY priority, run_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		queue, now.UTC(), now.Add(lease).UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim job from %s", queue)
	}
	return j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, resilience.NotFound("job", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result []byte, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', result = $2, lease_until = NULL, updated_at = $3, finished_at = $3
		 WHERE id = $1`,
		id, result, now.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return resilience.NotFound("job", id)
	}
	return nil
}

func (s *PostgresStore) RetryJob(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'waiting', run_at = $2, last_error = $3, lease_until = NULL, updated_at = now()
		 WHERE id = $1`,
		id, runAt.UTC(), lastErr,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: retry job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return resilience.NotFound("job", id)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, lastErr string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', last_error = $2, lease_until = NULL, updated_at = $3, finished_at = $3
		 WHERE id = $1`,
		id, lastErr, now.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return resilience.NotFound("job", id)
	}
	return nil
}

func (s *PostgresStore) RemoveJob(ctx context.Context, queue, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE queue = $1 AND id = $2 AND status = 'waiting'`,
		queue, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: remove job %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) PromoteJob(ctx context.Context, id string, priority int, runAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET priority = $2, run_at = LEAST(run_at, $3), updated_at = now()
		 WHERE id = $1 AND status = 'waiting' AND priority > $2`,
		id, priority, runAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: promote job %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) QueueStats(ctx context.Context, queue string) (model.QueueStats, error) {
	var st model.QueueStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		 FROM jobs WHERE queue = $1`,
		queue,
	).Scan(&st.Waiting, &st.Active, &st.Completed, &st.Failed)
	return st, eris.Wrapf(err, "postgres: queue stats %s", queue)
}

func (s *PostgresStore) PruneJobs(ctx context.Context, queue string, status model.JobStatus, keep int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE queue = $1 AND status = $2 AND id NOT IN (
			SELECT id FROM jobs WHERE queue = $1 AND status = $2
			ORDER BY finished_at DESC NULLS LAST, updated_at DESC
			LIMIT $3
		 )`,
		queue, string(status), max(keep, 0),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: prune %s jobs in %s", status, queue)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecoverStaleJobs(ctx context.Context, queue string, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
			status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'waiting' END,
			finished_at = CASE WHEN attempts >= max_attempts THEN $2 ELSE NULL END,
			last_error = COALESCE(last_error, 'lease expired'),
			lease_until = NULL, updated_at = $2
		 WHERE queue = $1 AND status = 'active' AND lease_until < $2`,
		queue, now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: recover stale jobs in %s", queue)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) UpsertSchedule(ctx context.Context, sc *model.JobSchedule) error {
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_schedules (key, queue, name, spec, payload, next_run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (key) DO UPDATE SET
			queue = EXCLUDED.queue, name = EXCLUDED.name, spec = EXCLUDED.spec, payload = EXCLUDED.payload,
			next_run_at = EXCLUDED.next_run_at, updated_at = EXCLUDED.updated_at`,
		sc.Key, sc.Queue, sc.Name, sc.Spec, []byte(sc.Payload), sc.NextRunAt.UTC(), now,
	)
	return eris.Wrapf(err, "postgres: upsert schedule %s", sc.Key)
}

func (s *PostgresStore) DeleteSchedule(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_schedules WHERE key = $1`, key)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete schedule %s", key)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListDueSchedules(ctx context.Context, now time.Time) ([]model.JobSchedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, queue, name, spec, payload, next_run_at, last_run_at, created_at, updated_at
		 FROM job_schedules WHERE next_run_at <= $1 ORDER BY next_run_at`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due schedules")
	}
	defer rows.Close()

	var out []model.JobSchedule
	for rows.Next() {
		var sc model.JobSchedule
		var payload []byte
		if err := rows.Scan(&sc.Key, &sc.Queue, &sc.Name, &sc.Spec, &payload, &sc.NextRunAt, &sc.LastRunAt,
			&sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan schedule")
		}
		sc.Payload = payload
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list due schedules iterate")
}

func (s *PostgresStore) AdvanceSchedule(ctx context.Context, key string, prev, next time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_schedules SET next_run_at = $3, last_run_at = $2, updated_at = now()
		 WHERE key = $1 AND next_run_at = $2`,
		key, prev.UTC(), next.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: advance schedule %s", key)
	}
	return tag.RowsAffected() > 0, nil
}
