package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/automatch"
	"github.com/sells-group/participant-enrichment/internal/jobqueue"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
)

// EnrichRequest asks for one participant to be looked up.
type EnrichRequest struct {
	ParticipantID  string         `json:"participant_id"`
	OrganizationID string         `json:"organization_id"`
	Email          string         `json:"email,omitempty"`
	DisplayName    string         `json:"display_name,omitempty"`
	Sources        []model.Source `json:"sources,omitempty"`
	Priority       model.Priority `json:"priority,omitempty"`
}

// EnrichPayload is the stored payload of an enrichment job.
type EnrichPayload struct {
	ParticipantID  string         `json:"participant_id"`
	OrganizationID string         `json:"organization_id"`
	Email          string         `json:"email"`
	DisplayName    string         `json:"display_name,omitempty"`
	Sources        []model.Source `json:"sources"`
	Priority       model.Priority `json:"priority"`
}

// AutoMatchPayload is the stored payload of an auto-match job.
type AutoMatchPayload struct {
	OrganizationID string `json:"organization_id"`
	LookbackDays   int    `json:"lookback_days"`
}

// BulkRequest asks for many participants to be enriched through one source.
type BulkRequest struct {
	OrganizationID string       `json:"organization_id"`
	ParticipantIDs []string     `json:"participant_ids"`
	Source         model.Source `json:"source,omitempty"`
	BatchSize      int          `json:"batch_size,omitempty"`
}

// EnrichJobKey is the unique key that keeps one live enrichment job per
// participant.
func EnrichJobKey(participantID string) string {
	return "enrich-" + participantID
}

// AutoMatchKey is the schedule and unique job key for an organization's
// auto-match.
func AutoMatchKey(orgID string) string {
	return "auto-match-" + orgID
}

func (m *Manager) validateSources(sources []model.Source) ([]model.Source, error) {
	if len(sources) == 0 {
		return append([]model.Source(nil), m.chain...), nil
	}
	seen := map[model.Source]bool{}
	out := make([]model.Source, 0, len(sources))
	for _, src := range sources {
		if !src.IsProvider() {
			return nil, resilience.Invalid("sources", fmt.Sprintf("unknown source %q", src))
		}
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out, nil
}

// EnqueueEnrichment queues a provider lookup for one participant. A live job
// for the same participant is returned instead of queueing a second one.
func (m *Manager) EnqueueEnrichment(ctx context.Context, req EnrichRequest) (*jobqueue.Job, error) {
	if req.OrganizationID == "" {
		return nil, resilience.Invalid("organization_id", "required")
	}
	if req.ParticipantID == "" {
		return nil, resilience.Invalid("participant_id", "required")
	}
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, resilience.Invalid("priority", "must be high, medium or low")
	}
	sources, err := m.validateSources(req.Sources)
	if err != nil {
		return nil, err
	}

	p, err := m.store.GetParticipant(ctx, req.OrganizationID, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		email = p.Email
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = p.DisplayName
	}

	job, err := m.enrichQ.Enqueue(ctx, jobqueue.JobSpec{
		Name: JobEnrichParticipant,
		Payload: EnrichPayload{
			ParticipantID:  p.ID,
			OrganizationID: p.OrganizationID,
			Email:          email,
			DisplayName:    displayName,
			Sources:        sources,
			Priority:       req.Priority,
		},
		Priority:  req.Priority,
		UniqueKey: EnrichJobKey(p.ID),
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("enrichment: queued participant",
		zap.String("participant_id", p.ID),
		zap.String("org_id", p.OrganizationID),
		zap.String("job_id", job.ID),
		zap.String("priority", string(req.Priority)),
	)
	return job, nil
}

// EnqueueAutoMatch replaces the organization's recurring auto-match schedule
// and queues one immediate run. Repeated calls never duplicate either.
func (m *Manager) EnqueueAutoMatch(ctx context.Context, orgID string, lookbackDays int) (*jobqueue.Schedule, error) {
	if orgID == "" {
		return nil, resilience.Invalid("organization_id", "required")
	}
	if lookbackDays <= 0 {
		lookbackDays = m.cfg.AutoMatch.LookbackDays
	}
	if lookbackDays <= 0 {
		lookbackDays = automatch.DefaultLookbackDays
	}
	payload := AutoMatchPayload{OrganizationID: orgID, LookbackDays: lookbackDays}
	key := AutoMatchKey(orgID)

	spec := m.cfg.AutoMatch.Schedule
	if spec == "" {
		spec = "0 */6 * * *"
	}
	sched, err := m.scheduler.Schedule(ctx, key, jobqueue.QueueAutoMatch, JobAutoMatch, spec, payload)
	if err != nil {
		return nil, err
	}
	if _, err := m.autoMatchQ.Enqueue(ctx, jobqueue.JobSpec{
		Name:      JobAutoMatch,
		Payload:   payload,
		Priority:  model.PriorityHigh,
		UniqueKey: key,
	}); err != nil {
		return nil, err
	}
	return sched, nil
}

// RemoveAutoMatch deletes the organization's recurring auto-match schedule.
func (m *Manager) RemoveAutoMatch(ctx context.Context, orgID string) (bool, error) {
	if orgID == "" {
		return false, resilience.Invalid("organization_id", "required")
	}
	return m.scheduler.Unschedule(ctx, AutoMatchKey(orgID))
}

// EnqueueBulkEnrichment queues a fan-out job that enqueues one low priority
// enrichment job per participant, in batches.
func (m *Manager) EnqueueBulkEnrichment(ctx context.Context, req BulkRequest) (*jobqueue.Job, error) {
	if req.OrganizationID == "" {
		return nil, resilience.Invalid("organization_id", "required")
	}
	if len(req.ParticipantIDs) == 0 {
		return nil, resilience.Invalid("participant_ids", "at least one participant is required")
	}
	if req.Source != "" && !req.Source.IsProvider() {
		return nil, resilience.Invalid("source", fmt.Sprintf("unknown source %q", req.Source))
	}
	if req.BatchSize <= 0 {
		req.BatchSize = m.cfg.Queues.BulkBatchSize
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultBulkBatchSize
	}

	job, err := m.bulkQ.Enqueue(ctx, jobqueue.JobSpec{
		Name:     JobBulkEnrichment,
		Payload:  req,
		Priority: model.PriorityMedium,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("enrichment: queued bulk enrichment",
		zap.String("org_id", req.OrganizationID),
		zap.Int("participants", len(req.ParticipantIDs)),
		zap.String("job_id", job.ID),
	)
	return job, nil
}

// GetQueueStats returns job counts for every queue.
func (m *Manager) GetQueueStats(ctx context.Context) (map[string]jobqueue.Stats, error) {
	out := make(map[string]jobqueue.Stats, 3)
	for _, q := range []*jobqueue.Queue{m.enrichQ, m.autoMatchQ, m.bulkQ} {
		st, err := q.Stats(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "enrichment: queue stats")
		}
		out[q.Name()] = st
		m.metrics.SetQueueStats(q.Name(), st)
	}
	return out, nil
}

// RemoveJob cancels a queued job that has not started.
func (m *Manager) RemoveJob(ctx context.Context, queue, id string) (bool, error) {
	for _, q := range []*jobqueue.Queue{m.enrichQ, m.autoMatchQ, m.bulkQ} {
		if q.Name() == queue {
			return q.Remove(ctx, id)
		}
	}
	return false, resilience.Invalid("queue", fmt.Sprintf("unknown queue %q", queue))
}
