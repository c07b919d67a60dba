package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/participant-enrichment/internal/history"
	"github.com/sells-group/participant-enrichment/internal/jobqueue"
	"github.com/sells-group/participant-enrichment/internal/model"
)

func TestFormatQueueStats(t *testing.T) {
	var buf bytes.Buffer
	formatQueueStats(&buf, map[string]jobqueue.Stats{
		jobqueue.QueueEnrichment: {Waiting: 4, Active: 1, Completed: 10, Failed: 2},
		jobqueue.QueueAutoMatch:  {Completed: 3},
	})
	out := buf.String()
	assert.Contains(t, out, "QUEUE")
	assert.Contains(t, out, "participant-enrichment")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("auto-match")), bytes.Index(buf.Bytes(), []byte("participant-enrichment")))
}

func TestFormatSummary(t *testing.T) {
	var buf bytes.Buffer
	formatSummary(&buf, &history.Summary{
		OrganizationID: "org-1",
		Since:          time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Participants:   4,
		StatusCounts:   map[model.EnrichmentStatus]int{model.StatusEnriched: 1, model.StatusPending: 3},
		MatchRate:      25,
		TotalCostCents: 3,
		AvgCostCents:   3,
		Sources: []history.SourceStats{
			{Source: "apollo", Attempts: 1, Successes: 1, SuccessRate: 100, TotalCostCents: 3, AvgCostCents: 3},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Organization: org-1 (since 2026-02-01)")
	assert.Contains(t, out, "enriched=1")
	assert.Contains(t, out, "Match rate: 25.0%")
	assert.Contains(t, out, "apollo")
}
