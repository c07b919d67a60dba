package enrichment

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/automatch"
	"github.com/sells-group/participant-enrichment/internal/history"
	"github.com/sells-group/participant-enrichment/internal/jobqueue"
	"github.com/sells-group/participant-enrichment/internal/materialize"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resolver"
)

const noDataReason = "no enrichment data found"

// EnrichResult is stored on a completed enrichment job.
type EnrichResult struct {
	Status    model.EnrichmentStatus `json:"status"`
	Source    model.Source           `json:"source,omitempty"`
	ContactID string                 `json:"contact_id,omitempty"`
	CostCents int                    `json:"cost_cents"`
	Attempted string                 `json:"attempted,omitempty"`
	Skipped   bool                   `json:"skipped,omitempty"`
}

// BulkResult is stored on a completed bulk job.
type BulkResult struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
	Missing int `json:"missing"`
	Batches int `json:"batches"`
}

func (m *Manager) handleEnrich(ctx context.Context, job *jobqueue.Job) (any, error) {
	var pl EnrichPayload
	if err := jobqueue.DecodePayload(job, &pl); err != nil {
		return nil, err
	}
	log := zap.L().With(
		zap.String("participant_id", pl.ParticipantID),
		zap.String("org_id", pl.OrganizationID),
		zap.String("job_id", job.ID),
	)

	p, err := m.store.GetParticipant(ctx, pl.OrganizationID, pl.ParticipantID)
	if err != nil {
		return nil, err
	}
	if p.EnrichmentStatus.Linked() {
		log.Info("enrichment: participant already linked, skipping",
			zap.String("status", string(p.EnrichmentStatus)))
		return EnrichResult{Status: p.EnrichmentStatus, Skipped: true}, nil
	}

	email := pl.Email
	if email == "" {
		email = p.Email
	}
	sources := pl.Sources
	if len(sources) == 0 {
		sources = m.chain
	}

	out, err := m.resolver.Resolve(ctx, resolver.Request{
		ParticipantID:  p.ID,
		OrganizationID: p.OrganizationID,
		Email:          email,
		DisplayName:    pl.DisplayName,
		Sources:        sources,
		Priority:       pl.Priority,
	})
	if err != nil {
		return nil, m.recordJobFailure(ctx, p, sources, err)
	}

	if !out.Found() {
		reason := out.Errors()
		if reason == "" {
			reason = noDataReason
		}
		moved, err := m.materializer.MarkUnknown(ctx, p, out.AttemptedSources(), reason)
		if err != nil {
			return nil, m.recordJobFailure(ctx, p, sources, err)
		}
		if moved {
			m.metrics.ObserveEnrichment("none", model.StatusUnknown, 0)
		}
		log.Info("enrichment: no provider had data", zap.String("attempted", out.AttemptedSources()))
		return EnrichResult{Status: model.StatusUnknown, Attempted: out.AttemptedSources()}, nil
	}

	res, err := m.materializer.Materialize(ctx, materialize.Input{
		Participant: p,
		Source:      out.Source,
		Record:      out.Record,
	})
	if err != nil {
		return nil, m.recordJobFailure(ctx, p, sources, err)
	}
	if !res.Applied {
		return EnrichResult{Status: model.StatusEnriched, Skipped: true}, nil
	}
	m.metrics.ObserveEnrichment(out.Source, model.StatusEnriched, out.CostCents)
	log.Info("enrichment: participant enriched",
		zap.String("source", string(out.Source)),
		zap.String("contact_id", res.Contact.ID),
		zap.Int("cost_cents", out.CostCents),
	)
	return EnrichResult{
		Status:    model.StatusEnriched,
		Source:    out.Source,
		ContactID: res.Contact.ID,
		CostCents: out.CostCents,
		Attempted: out.AttemptedSources(),
	}, nil
}

// recordJobFailure appends a failed lookup entry for a job-level error and
// returns cause so the queue can retry the job.
func (m *Manager) recordJobFailure(ctx context.Context, p *model.Participant, sources []model.Source, cause error) error {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	entry := history.LookupFailed(p, strings.Join(names, ","), cause.Error())
	if err := history.RecordStandalone(ctx, m.store, entry); err != nil {
		zap.L().Error("enrichment: record failure history",
			zap.String("participant_id", p.ID),
			zap.Error(err),
		)
	}
	return cause
}

func (m *Manager) handleAutoMatch(ctx context.Context, job *jobqueue.Job) (any, error) {
	var pl AutoMatchPayload
	if err := jobqueue.DecodePayload(job, &pl); err != nil {
		return nil, err
	}
	lookback := pl.LookbackDays
	if lookback <= 0 {
		lookback = m.cfg.AutoMatch.LookbackDays
	}
	if lookback <= 0 {
		lookback = automatch.DefaultLookbackDays
	}
	res, err := m.sweeper.Sweep(ctx, pl.OrganizationID, lookback)
	if err != nil {
		return nil, eris.Wrapf(err, "enrichment: auto-match %s", pl.OrganizationID)
	}
	return res, nil
}

func (m *Manager) handleBulk(ctx context.Context, job *jobqueue.Job) (any, error) {
	var req BulkRequest
	if err := jobqueue.DecodePayload(job, &req); err != nil {
		return nil, err
	}
	batch := req.BatchSize
	if batch <= 0 {
		batch = defaultBulkBatchSize
	}
	var sources []model.Source
	if req.Source != "" {
		sources = []model.Source{req.Source}
	}
	log := zap.L().With(zap.String("org_id", req.OrganizationID), zap.String("job_id", job.ID))

	res := BulkResult{}
	for start := 0; start < len(req.ParticipantIDs); start += batch {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "enrichment: bulk cancelled")
		}
		end := min(start+batch, len(req.ParticipantIDs))
		ids := req.ParticipantIDs[start:end]
		res.Batches++

		found, err := m.store.ListParticipantsByIDs(ctx, req.OrganizationID, ids)
		if err != nil {
			return nil, eris.Wrapf(err, "enrichment: load bulk batch %d", res.Batches)
		}
		res.Missing += len(ids) - len(found)

		for i := range found {
			p := &found[i]
			if p.EnrichmentStatus.Linked() {
				res.Skipped++
				continue
			}
			if _, err := m.enrichQ.Enqueue(ctx, jobqueue.JobSpec{
				Name: JobEnrichParticipant,
				Payload: EnrichPayload{
					ParticipantID:  p.ID,
					OrganizationID: p.OrganizationID,
					Email:          p.Email,
					DisplayName:    p.DisplayName,
					Sources:        sources,
					Priority:       model.PriorityLow,
				},
				Priority:  model.PriorityLow,
				UniqueKey: EnrichJobKey(p.ID),
			}); err != nil {
				return nil, err
			}
			res.Queued++
		}
		log.Debug("enrichment: bulk batch queued", zap.Int("batch", res.Batches), zap.Int("size", len(ids)))
	}
	log.Info("enrichment: bulk enrichment fanned out",
		zap.Int("queued", res.Queued),
		zap.Int("skipped", res.Skipped),
		zap.Int("missing", res.Missing),
	)
	return res, nil
}
