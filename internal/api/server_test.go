package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/participant-enrichment/internal/config"
	"github.com/sells-group/participant-enrichment/internal/enrichment"
	"github.com/sells-group/participant-enrichment/internal/metrics"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/provider"
	"github.com/sells-group/participant-enrichment/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))

	q := config.QueueConfig{Concurrency: 1, Attempts: 3, BackoffMs: 5000, KeepCompleted: 10, KeepFailed: 10}
	cfg := &config.Config{
		Queues:    config.QueuesConfig{Enrichment: q, AutoMatch: q, Bulk: q},
		AutoMatch: config.AutoMatchConfig{LookbackDays: 7, Schedule: "@every 6h", FuzzyThreshold: 0.8},
	}
	m := metrics.NewManager()
	mgr := enrichment.New(s, provider.NewRegistry(), cfg, enrichment.WithMetrics(m))

	srv := httptest.NewServer(NewHandler(mgr, s, m.Handler()).Router())
	t.Cleanup(srv.Close)
	return srv, s
}

func do(t *testing.T, srv *httptest.Server, method, path, org, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if org != "" {
		req.Header.Set(OrgHeader, org)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

const syncBody = `{"events":[{"id":"evt-1","title":"Kickoff","start":"2026-03-02T15:00:00Z",
	"attendees":[{"email":"Jane@Acme.com","display_name":"Jane Doe"},{"email":"bob@acme.com"},{"email":""}]}]}`

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = do(t, srv, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequiresOrganizationHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := do(t, srv, http.MethodGet, "/participants", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], OrgHeader)
}

func TestSyncListAndEnqueue(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, srv, http.MethodPost, "/participants/sync", "org-1", syncBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["created"])

	resp, body = do(t, srv, http.MethodGet, "/participants?email=jane&limit=10", "org-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := body["participants"].([]any)
	require.Len(t, rows, 1)
	id := rows[0].(map[string]any)["id"].(string)
	assert.Equal(t, false, body["has_more"])

	resp, body = do(t, srv, http.MethodPost, "/participants/"+id+"/enrich", "org-1", `{"priority":"high"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "participant-enrichment", body["queue"])
	assert.EqualValues(t, model.PriorityHigh.Rank(), body["priority"])

	resp, body = do(t, srv, http.MethodGet, "/queues/stats", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	enrich := body["participant-enrichment"].(map[string]any)
	assert.EqualValues(t, 1, enrich["waiting"])
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/participants/sync", "org-1", syncBody)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "unknown participant", method: http.MethodPost, path: "/participants/missing/enrich", want: http.StatusNotFound},
		{name: "bad priority", method: http.MethodPost, path: "/participants/missing/enrich", body: `{"priority":"urgent"}`, want: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, path: "/participants/sync", body: `{"events":`, want: http.StatusBadRequest},
		{name: "link unknown", method: http.MethodPost, path: "/participants/missing/link", body: `{"contact_id":"c-1"}`, want: http.StatusNotFound},
		{name: "manual without name", method: http.MethodPost, path: "/participants/missing/manual", body: `{"email":"x@y.com"}`, want: http.StatusBadRequest},
		{name: "empty bulk", method: http.MethodPost, path: "/bulk", body: `{"participant_ids":[]}`, want: http.StatusBadRequest},
		{name: "bad status filter", method: http.MethodGet, path: "/participants?status=lost", want: http.StatusBadRequest},
		{name: "bad days", method: http.MethodGet, path: "/summary?days=abc", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, tt.method, tt.path, "org-1", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAutoMatchScheduleLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, srv, http.MethodPost, "/automatch", "org-1", `{"lookback_days":3}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "auto-match-org-1", body["key"])
	next, err := time.Parse(time.RFC3339Nano, body["next_run_at"].(string))
	require.NoError(t, err)
	assert.True(t, next.After(time.Now()))

	resp, _ = do(t, srv, http.MethodDelete, "/automatch", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = do(t, srv, http.MethodDelete, "/automatch", "org-2", "")
	assert.Equal(t, false, body["removed"], "another org cannot remove the schedule")

	resp, body = do(t, srv, http.MethodDelete, "/automatch", "org-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["removed"])

	_, body = do(t, srv, http.MethodDelete, "/automatch", "org-1", "")
	assert.Equal(t, false, body["removed"])
}

func TestLinkAndSummary(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	do(t, srv, http.MethodPost, "/participants/sync", "org-1", syncBody)
	page, err := s.ListParticipants(ctx, store.ParticipantFilter{OrganizationID: "org-1", Email: "jane"})
	require.NoError(t, err)
	require.Len(t, page, 1)

	c := &model.Contact{OrganizationID: "org-1", FullName: "Jane Doe", Email: "jane@acme.com", Status: model.ContactStatusWarm, Source: "import"}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateContact(ctx, c) }))

	resp, body := do(t, srv, http.MethodPost, "/participants/"+page[0].ID+"/link", "org-1", `{"contact_id":"`+c.ID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "matched", body["enrichment_status"])
	assert.Equal(t, "manual", body["enrichment_source"])

	resp, body = do(t, srv, http.MethodGet, "/summary?days=7", "org-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["participants"])
	assert.InDelta(t, 50.0, body["match_rate"].(float64), 0.001)
}
