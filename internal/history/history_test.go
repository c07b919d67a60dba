package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func participant() *model.Participant {
	return &model.Participant{ID: "p-1", OrganizationID: "org-1", Email: "jane@acme.com"}
}

func TestLookupSucceeded(t *testing.T) {
	rec := &model.EnrichedRecord{FullName: "Jane Doe", Confidence: 0.9, CostCents: 100}
	e, err := LookupSucceeded(participant(), model.SourceClearbit, rec, "c-1")
	require.NoError(t, err)

	assert.Equal(t, model.HistoryAPILookup, e.Type)
	assert.Equal(t, model.HistorySuccess, e.Status)
	assert.Equal(t, "clearbit", e.Source)
	assert.Equal(t, 0.9, *e.Confidence)
	assert.Equal(t, 100, *e.CostCents)
	assert.Equal(t, "c-1", *e.MatchedContactID)

	var snap model.EnrichedRecord
	require.NoError(t, json.Unmarshal(e.DataFound, &snap))
	assert.Equal(t, "Jane Doe", snap.FullName)
}

func TestLookupFailedAndContactMatched(t *testing.T) {
	f := LookupFailed(participant(), "clearbit,apollo", "clearbit: 503")
	assert.Equal(t, model.HistoryFailed, f.Status)
	assert.Equal(t, "clearbit,apollo", f.Source)
	assert.Nil(t, f.MatchedContactID)

	m := ContactMatched(participant(), model.SourceAuto, "c-2", 0.8)
	assert.Equal(t, model.HistoryContactMatch, m.Type)
	assert.Equal(t, "auto", m.Source)
	assert.Equal(t, 0, *m.CostCents)
}

func TestRecordStandalone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := &model.Participant{OrganizationID: "org-1", MeetingID: "m-1", Email: "jane@acme.com", MeetingDateTime: time.Now()}
	_, err := s.UpsertParticipant(ctx, p)
	require.NoError(t, err)

	require.NoError(t, RecordStandalone(ctx, s, LookupFailed(p, "clearbit", "no data")))

	entries, err := s.ListHistory(ctx, "org-1", p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.HistoryFailed, entries[0].Status)
	assert.False(t, entries[0].PerformedAt.IsZero())
}

func TestSummarize(t *testing.T) {
	entries := []model.HistoryEntry{
		{Source: "clearbit", Status: model.HistorySuccess, CostCents: model.Ptr(100)},
		{Source: "clearbit", Status: model.HistorySuccess, CostCents: model.Ptr(100)},
		{Source: "clearbit", Status: model.HistoryFailed},
		{Source: "clearbit", Status: model.HistoryFailed},
		{Source: "apollo", Status: model.HistorySuccess, CostCents: model.Ptr(50)},
	}
	stats := Summarize(entries)
	require.Len(t, stats, 2)

	assert.Equal(t, "apollo", stats[0].Source)
	assert.Equal(t, 100.0, stats[0].SuccessRate)

	cb := stats[1]
	assert.Equal(t, 4, cb.Attempts)
	assert.Equal(t, 2, cb.Successes)
	assert.Equal(t, 2, cb.Failures)
	assert.Equal(t, 50.0, cb.SuccessRate)
	assert.Equal(t, 200, cb.TotalCostCents)
	assert.Equal(t, 100.0, cb.AvgCostCents)
}

func TestBuild(t *testing.T) {
	entries := []model.HistoryEntry{
		{Type: model.HistoryContactMatch, Source: "auto", Status: model.HistorySuccess, CostCents: model.Ptr(0)},
		{Type: model.HistoryContactMatch, Source: "manual", Status: model.HistorySuccess, CostCents: model.Ptr(0)},
		{Type: model.HistoryAPILookup, Source: "apollo", Status: model.HistorySuccess, CostCents: model.Ptr(50)},
		{Type: model.HistoryAPILookup, Source: "apollo", Status: model.HistorySuccess, CostCents: model.Ptr(50)},
		{Type: model.HistoryAPILookup, Source: "clearbit,apollo", Status: model.HistoryFailed},
	}
	counts := map[model.EnrichmentStatus]int{
		model.StatusMatched:  2,
		model.StatusEnriched: 2,
		model.StatusPending:  3,
		model.StatusUnknown:  1,
	}
	s := Build("org-1", time.Time{}, entries, counts)

	assert.Equal(t, 8, s.Participants)
	assert.Equal(t, 50.0, s.MatchRate)
	assert.Equal(t, 25.0, s.AutoMatchRate)
	assert.Equal(t, 25.0, s.ManualMatchRate)
	assert.Equal(t, 50.0, s.APIRate)
	assert.Equal(t, 100, s.TotalCostCents)
	assert.Equal(t, 25.0, s.AvgCostCents)
	assert.Len(t, s.Sources, 4)
}

func TestBuild_Empty(t *testing.T) {
	s := Build("org-1", time.Time{}, nil, nil)
	assert.Zero(t, s.Participants)
	assert.Zero(t, s.MatchRate)
	assert.Len(t, s.StatusCounts, 4)
	assert.Empty(t, s.Sources)
}

func TestLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := &model.Participant{OrganizationID: "org-1", MeetingID: "m-1", Email: "jane@acme.com", MeetingDateTime: time.Now()}
	_, err := s.UpsertParticipant(ctx, p)
	require.NoError(t, err)
	require.NoError(t, RecordStandalone(ctx, s, LookupFailed(p, "apollo", "x")))

	sum, err := Load(ctx, s, "org-1", 0, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Participants)
	assert.Equal(t, 1, sum.StatusCounts[model.StatusPending])
	require.Len(t, sum.Sources, 1)
	assert.Equal(t, 1, sum.Sources[0].Failures)
}
