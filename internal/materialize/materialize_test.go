package materialize

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "materialize.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedParticipant(t *testing.T, s store.Store) *model.Participant {
	t.Helper()
	p := &model.Participant{
		OrganizationID:  "org-1",
		MeetingID:       "m-1",
		MeetingDateTime: time.Now(),
		Email:           "jane@acme.com",
		DisplayName:     "Jane",
	}
	_, err := s.UpsertParticipant(context.Background(), p)
	require.NoError(t, err)
	return p
}

func record() *model.EnrichedRecord {
	return &model.EnrichedRecord{
		FullName:    "Jane Doe",
		Email:       "jane@acme.com",
		Phone:       "(650) 253-0000",
		RoleTitle:   "VP Sales",
		Location:    "Austin, TX",
		CompanyName: "Acme",
		LinkedInURL: "https://linkedin.com/in/janedoe",
		Confidence:  0.9,
		CostCents:   100,
	}
}

func TestMaterialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedParticipant(t, s)
	m := New(s, "")

	res, err := m.Materialize(ctx, Input{Participant: p, Source: model.SourceClearbit, Record: record()})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.NotNil(t, res.Company)
	assert.Equal(t, "Acme", res.Company.Name)

	c, err := s.GetContact(ctx, "org-1", res.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", c.FullName)
	assert.Equal(t, "+16502530000", c.Phone)
	assert.Equal(t, model.ContactStatusWarm, c.Status)
	assert.Equal(t, model.EnrichedContactScore, c.Score)
	assert.Equal(t, "participant_enrichment_clearbit", c.Source)
	assert.Equal(t, "https://linkedin.com/in/janedoe", c.SocialProfiles["linkedin"])
	require.NotNil(t, c.CompanyID)
	assert.Equal(t, res.Company.ID, *c.CompanyID)

	got, err := s.GetParticipant(ctx, "org-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnriched, got.EnrichmentStatus)
	assert.Equal(t, c.ID, *got.ContactID)
	assert.Equal(t, "clearbit", *got.EnrichmentSource)
	assert.Equal(t, 0.9, *got.AutoMatchConfidence)

	hist, err := s.ListHistory(ctx, "org-1", p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.HistorySuccess, hist[0].Status)
	assert.Equal(t, model.HistoryAPILookup, hist[0].Type)
	assert.Equal(t, 100, *hist[0].CostCents)
}

func TestMaterialize_ReusesCompanyCaseInsensitively(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := New(s, "US")

	p1 := seedParticipant(t, s)
	r1, err := m.Materialize(ctx, Input{Participant: p1, Source: model.SourceApollo, Record: record()})
	require.NoError(t, err)

	p2 := &model.Participant{OrganizationID: "org-1", MeetingID: "m-2", MeetingDateTime: time.Now(), Email: "bob@acme.com"}
	_, err = s.UpsertParticipant(ctx, p2)
	require.NoError(t, err)
	rec := record()
	rec.CompanyName = "ACME"
	r2, err := m.Materialize(ctx, Input{Participant: p2, Source: model.SourceApollo, Record: rec})
	require.NoError(t, err)

	assert.Equal(t, r1.Company.ID, r2.Company.ID)
}

func TestMaterialize_NoCompanyAndNameFallback(t *testing.T) {
	s := newTestStore(t)
	p := seedParticipant(t, s)

	rec := &model.EnrichedRecord{Confidence: 0.7, CostCents: 200}
	res, err := New(s, "US").Materialize(context.Background(), Input{Participant: p, Source: model.SourceLinkedIn, Record: rec})
	require.NoError(t, err)
	assert.Nil(t, res.Company)
	assert.Nil(t, res.Contact.CompanyID)
	assert.Equal(t, "Jane", res.Contact.FullName)
	assert.Equal(t, "jane@acme.com", res.Contact.Email)
	assert.Empty(t, res.Contact.SocialProfiles)
}

func TestMaterialize_AlreadyResolvedWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedParticipant(t, s)
	m := New(s, "US")

	_, err := m.Materialize(ctx, Input{Participant: p, Source: model.SourceClearbit, Record: record()})
	require.NoError(t, err)

	res, err := m.Materialize(ctx, Input{Participant: p, Source: model.SourceApollo, Record: record()})
	require.NoError(t, err)
	assert.False(t, res.Applied)

	hist, err := s.ListHistory(ctx, "org-1", p.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestMaterialize_WriteFailureIsDataIntegrity(t *testing.T) {
	s := newTestStore(t)
	p := seedParticipant(t, s)
	require.NoError(t, s.Close())

	_, err := New(s, "US").Materialize(context.Background(), Input{Participant: p, Source: model.SourceClearbit, Record: record()})
	require.Error(t, err)
	var die *resilience.DataIntegrityError
	assert.ErrorAs(t, err, &die)
	assert.True(t, resilience.IsRetryable(err))
}

func TestMarkUnknown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedParticipant(t, s)
	m := New(s, "US")

	moved, err := m.MarkUnknown(ctx, p, "clearbit,apollo,linkedin", "no provider returned data")
	require.NoError(t, err)
	assert.True(t, moved)

	got, err := s.GetParticipant(ctx, "org-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, got.EnrichmentStatus)

	hist, err := s.ListHistory(ctx, "org-1", p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.HistoryFailed, hist[0].Status)
	assert.Equal(t, "clearbit,apollo,linkedin", hist[0].Source)

	_, err = m.Materialize(ctx, Input{Participant: got, Source: model.SourceApollo, Record: record()})
	require.NoError(t, err)
	moved, err = m.MarkUnknown(ctx, got, "clearbit", "late failure")
	require.NoError(t, err)
	assert.False(t, moved, "linked participants are never downgraded")
}

func TestManualEnrich(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedParticipant(t, s)
	m := New(s, "US")

	_, err := m.Materialize(ctx, Input{Participant: p, Source: model.SourceClearbit, Record: record()})
	require.NoError(t, err)

	res, err := m.ManualEnrich(ctx, "org-1", p.ID, ManualData{FullName: "Janet Doe", CompanyName: "Initech", PerformedBy: "ops@acme.com"})
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, "participant_enrichment_manual", res.Contact.Source)

	got, err := s.GetParticipant(ctx, "org-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual", *got.EnrichmentSource)
	assert.Equal(t, 1.0, *got.AutoMatchConfidence)
	assert.Equal(t, res.Contact.ID, *got.ContactID)
	assert.Equal(t, 0, *res.History.CostCents)
}

func TestManualEnrich_Validation(t *testing.T) {
	s := newTestStore(t)
	m := New(s, "US")

	_, err := m.ManualEnrich(context.Background(), "org-1", "p-1", ManualData{})
	require.Error(t, err)
	assert.False(t, resilience.IsRetryable(err))

	_, err = m.ManualEnrich(context.Background(), "org-1", "missing", ManualData{FullName: "X"})
	assert.True(t, resilience.IsNotFound(err))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw, region, want string
	}{
		{"(650) 253-0000", "US", "+16502530000"},
		{"+44 20 7031 3000", "US", "+442070313000"},
		{"  ", "US", ""},
		{"call me", "US", "call me"},
		{"12", "US", "12"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw, tt.region))
		})
	}
}
