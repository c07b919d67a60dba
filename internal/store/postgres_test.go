package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS companies").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetParticipantNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT .+ FROM participants WHERE organization_id").
		WithArgs("org-1", "p-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetParticipant(context.Background(), "org-1", "p-1")
	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountByStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT enrichment_status, COUNT").
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows([]string{"enrichment_status", "count"}).
			AddRow("pending", 3).
			AddRow("enriched", 2))

	counts, err := s.CountByStatus(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.StatusPending])
	assert.Equal(t, 2, counts[model.StatusEnriched])
	assert.Zero(t, counts[model.StatusUnknown])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TransitionParticipantUsesPredecessors(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	contactID := "c-1"
	source := "clearbit"
	confidence := 0.9

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE participants SET enrichment_status").
		WithArgs("enriched", &contactID, &source, &confidence, pgxmock.AnyArg(), "org-1", "p-1", []string{"pending", "unknown"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	var moved bool
	err := s.WithTx(context.Background(), func(tx Tx) error {
		var err error
		moved, err = tx.TransitionParticipant(context.Background(), model.ParticipantUpdate{
			ParticipantID:  "p-1",
			OrganizationID: "org-1",
			Status:         model.StatusEnriched,
			ContactID:      &contactID,
			Source:         &source,
			Confidence:     &confidence,
		})
		return err
	})
	require.NoError(t, err)
	assert.False(t, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrichment_history").
		WithArgs(pgxmock.AnyArg(), "p-1", "org-1", "api_lookup", "clearbit", "failed", pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.InsertHistory(context.Background(), &model.HistoryEntry{
			ParticipantID: "p-1", OrganizationID: "org-1",
			Type: model.HistoryAPILookup, Source: "clearbit", Status: model.HistoryFailed,
		})
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(pgxmock.AnyArg(), "participant-enrichment", "enrich-participant", []byte(`{}`), 1, 3,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	j, inserted, err := s.InsertJob(context.Background(), &model.Job{
		Queue: "participant-enrichment", Name: "enrich-participant", Payload: []byte(`{}`), Priority: 1, MaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, model.JobWaiting, j.Status)
	assert.False(t, j.RunAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertJobConflictWithoutKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(pgxmock.AnyArg(), "q", "n", []byte(`{}`), 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, inserted, err := s.InsertJob(context.Background(), &model.Job{Queue: "q", Name: "n", Payload: []byte(`{}`)})
	require.Error(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClaimJobEmptyQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	mock.ExpectQuery("UPDATE jobs SET status = 'active'").
		WithArgs("auto-match", now.UTC(), now.Add(time.Minute).UTC()).
		WillReturnError(pgx.ErrNoRows)

	j, err := s.ClaimJob(context.Background(), "auto-match", now, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteJobMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	mock.ExpectExec("UPDATE jobs SET status = 'completed'").
		WithArgs("j-1", []byte(nil), now.UTC()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteJob(context.Background(), "j-1", nil, now)
	assert.True(t, resilience.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueueStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("COUNT\\(\\*\\) FILTER").
		WithArgs("bulk-enrichment").
		WillReturnRows(pgxmock.NewRows([]string{"waiting", "active", "completed", "failed"}).AddRow(4, 1, 10, 2))

	st, err := s.QueueStats(context.Background(), "bulk-enrichment")
	require.NoError(t, err)
	assert.Equal(t, model.QueueStats{Waiting: 4, Active: 1, Completed: 10, Failed: 2}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AdvanceScheduleLosesRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	prev := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	next := prev.Add(6 * time.Hour)
	mock.ExpectExec("UPDATE job_schedules SET next_run_at").
		WithArgs("auto-match-org-1", prev, next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.AdvanceSchedule(context.Background(), "auto-match-org-1", prev, next)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PromoteJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	runAt := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE jobs SET priority = \\$2, run_at = LEAST").
		WithArgs("j-1", 1, runAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.PromoteJob(context.Background(), "j-1", 1, runAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
