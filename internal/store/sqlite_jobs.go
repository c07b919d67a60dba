package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
)

func scanSQLiteJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var uniqueKey, leaseUntil, lastErr, result, finishedAt sql.NullString
	var payload, runAt, createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.Queue, &j.Name, &payload, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
		&uniqueKey, &runAt, &leaseUntil, &lastErr, &result, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = []byte(payload)
	if uniqueKey.Valid {
		j.UniqueKey = &uniqueKey.String
	}
	j.LastError = lastErr.String
	if result.Valid && result.String != "" {
		j.Result = []byte(result.String)
	}
	if j.RunAt, err = parseTS(runAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse run_at")
	}
	if j.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	if j.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse updated_at")
	}
	if j.LeaseUntil, err = parseNullTS(leaseUntil); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse lease_until")
	}
	if j.FinishedAt, err = parseNullTS(finishedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse finished_at")
	}
	return &j, nil
}

func (s *SQLiteStore) InsertJob(ctx context.Context, j *model.Job) (*model.Job, bool, error) {
	now := time.Now().UTC()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	j.Status = model.JobWaiting
	j.CreatedAt, j.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, queue, name, payload, priority, status, attempts, max_attempts, unique_key,
			run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'waiting', 0, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		j.ID, j.Queue, j.Name, string(j.Payload), j.Priority, j.MaxAttempts, j.UniqueKey, ts(j.RunAt), ts(now), ts(now),
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert job")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return j, true, nil
	}
	if j.UniqueKey == nil {
		return nil, false, eris.Errorf("sqlite: job %s was not inserted", j.ID)
	}

	existing, err := scanSQLiteJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE queue = ? AND unique_key = ? AND status IN ('waiting', 'active')`,
		j.Queue, *j.UniqueKey,
	))
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: find existing job")
	}
	return existing, false, nil
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, queue string, now time.Time, lease time.Duration) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = 'active', attempts = attempts + 1, lease_until = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND status = 'waiting' AND run_at <= ?
			ORDER BY priority, run_at, created_at
			LIMIT 1
		 )
		 RETURNING `+jobColumns,
		ts(now.Add(lease)), ts(now), queue, ts(now),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim job from %s", queue)
	}
	return j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resilience.NotFound("job", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) execJob(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s %s", op, id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, result []byte, now time.Time) error {
	var resultText *string
	if len(result) > 0 {
		r := string(result)
		resultText = &r
	}
	return s.execJob(ctx, "complete job", id,
		`UPDATE jobs SET status = 'completed', result = ?, lease_until = NULL, updated_at = ?, finished_at = ?
		 WHERE id = ?`,
		resultText, ts(now), ts(now), id,
	)
}

func (s *SQLiteStore) RetryJob(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	return s.execJob(ctx, "retry job", id,
		`UPDATE jobs SET status = 'waiting', run_at = ?, last_error = ?, lease_until = NULL, updated_at = ?
		 WHERE id = ?`,
		ts(runAt), lastErr, ts(time.Now()), id,
	)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, lastErr string, now time.Time) error {
	return s.execJob(ctx, "fail job", id,
		`UPDATE jobs SET status = 'failed', last_error = ?, lease_until = NULL, updated_at = ?, finished_at = ?
		 WHERE id = ?`,
		lastErr, ts(now), ts(now), id,
	)
}

func (s *SQLiteStore) RemoveJob(ctx context.Context, queue, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE queue = ? AND id = ? AND status = 'waiting'`,
		queue, id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: remove job %s", id)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) PromoteJob(ctx context.Context, id string, priority int, runAt time.Time) (bool, error) {
	at := ts(runAt)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET priority = ?, run_at = MIN(run_at, ?), updated_at = ?
		 WHERE id = ? AND status = 'waiting' AND priority > ?`,
		priority, at, ts(time.Now()), id, priority,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: promote job %s", id)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) QueueStats(ctx context.Context, queue string) (model.QueueStats, error) {
	var st model.QueueStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(status = 'waiting'), 0),
			COALESCE(SUM(status = 'active'), 0),
			COALESCE(SUM(status = 'completed'), 0),
			COALESCE(SUM(status = 'failed'), 0)
		 FROM jobs WHERE queue = ?`,
		queue,
	).Scan(&st.Waiting, &st.Active, &st.Completed, &st.Failed)
	return st, eris.Wrapf(err, "sqlite: queue stats %s", queue)
}

func (s *SQLiteStore) PruneJobs(ctx context.Context, queue string, status model.JobStatus, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE queue = ? AND status = ? AND id NOT IN (
			SELECT id FROM jobs WHERE queue = ? AND status = ?
			ORDER BY finished_at DESC, updated_at DESC
			LIMIT ?
		 )`,
		queue, string(status), queue, string(status), max(keep, 0),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prune %s jobs in %s", status, queue)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) RecoverStaleJobs(ctx context.Context, queue string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET
			status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'waiting' END,
			finished_at = CASE WHEN attempts >= max_attempts THEN ? ELSE NULL END,
			last_error = COALESCE(last_error, 'lease expired'),
			lease_until = NULL, updated_at = ?
		 WHERE queue = ? AND status = 'active' AND lease_until < ?`,
		ts(now), ts(now), queue, ts(now),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: recover stale jobs in %s", queue)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) UpsertSchedule(ctx context.Context, sc *model.JobSchedule) error {
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_schedules (key, queue, name, spec, payload, next_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
			queue = excluded.queue, name = excluded.name, spec = excluded.spec, payload = excluded.payload,
			next_run_at = excluded.next_run_at, updated_at = excluded.updated_at`,
		sc.Key, sc.Queue, sc.Name, sc.Spec, string(sc.Payload), ts(sc.NextRunAt), ts(now), ts(now),
	)
	return eris.Wrapf(err, "sqlite: upsert schedule %s", sc.Key)
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_schedules WHERE key = ?`, key)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete schedule %s", key)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListDueSchedules(ctx context.Context, now time.Time) ([]model.JobSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, queue, name, spec, payload, next_run_at, last_run_at, created_at, updated_at
		 FROM job_schedules WHERE next_run_at <= ? ORDER BY next_run_at`,
		ts(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list due schedules")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.JobSchedule
	for rows.Next() {
		var sc model.JobSchedule
		var payload, nextRun, createdAt, updatedAt string
		var lastRun sql.NullString
		if err := rows.Scan(&sc.Key, &sc.Queue, &sc.Name, &sc.Spec, &payload, &nextRun, &lastRun,
			&createdAt, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan schedule")
		}
		sc.Payload = []byte(payload)
		if sc.NextRunAt, err = parseTS(nextRun); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse next_run_at")
		}
		if sc.LastRunAt, err = parseNullTS(lastRun); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse last_run_at")
		}
		if sc.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse created_at")
		}
		if sc.UpdatedAt, err = parseTS(updatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse updated_at")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list due schedules iterate")
}

func (s *SQLiteStore) AdvanceSchedule(ctx context.Context, key string, prev, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_schedules SET next_run_at = ?, last_run_at = ?, updated_at = ?
		 WHERE key = ? AND next_run_at = ?`,
		ts(next), ts(prev), ts(time.Now()), key, ts(prev),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: advance schedule %s", key)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

// checkRowsAffected returns a NotFoundError when an update touched no rows.
func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return resilience.NotFound(entity, id)
	}
	return nil
}
