// Package history builds and records the append-only enrichment audit trail
// and summarizes it per source.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// LookupSucceeded builds the success entry for a provider (or manual) lookup
// that produced contactID.
func LookupSucceeded(p *model.Participant, src model.Source, rec *model.EnrichedRecord, contactID string) (*model.HistoryEntry, error) {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "history: marshal snapshot")
	}
	return &model.HistoryEntry{
		ParticipantID:    p.ID,
		OrganizationID:   p.OrganizationID,
		Type:             model.HistoryAPILookup,
		Source:           string(src),
		Status:           model.HistorySuccess,
		Confidence:       model.Ptr(rec.Confidence),
		DataFound:        snapshot,
		MatchedContactID: model.Ptr(contactID),
		CostCents:        model.Ptr(rec.CostCents),
	}, nil
}

// LookupFailed builds the single failure entry written when no provider had
// data. sources is the comma-joined list of attempted providers.
func LookupFailed(p *model.Participant, sources, reason string) *model.HistoryEntry {
	return &model.HistoryEntry{
		ParticipantID:  p.ID,
		OrganizationID: p.OrganizationID,
		Type:           model.HistoryAPILookup,
		Source:         sources,
		Status:         model.HistoryFailed,
		Error:          reason,
	}
}

// ContactMatched builds the entry for an automatic or manual contact link.
func ContactMatched(p *model.Participant, src model.Source, contactID string, confidence float64) *model.HistoryEntry {
	return &model.HistoryEntry{
		ParticipantID:    p.ID,
		OrganizationID:   p.OrganizationID,
		Type:             model.HistoryContactMatch,
		Source:           string(src),
		Status:           model.HistorySuccess,
		Confidence:       model.Ptr(confidence),
		MatchedContactID: model.Ptr(contactID),
		CostCents:        model.Ptr(0),
	}
}

// Record appends e inside tx.
func Record(ctx context.Context, tx store.Tx, e *model.HistoryEntry) error {
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now().UTC()
	}
	return eris.Wrapf(tx.InsertHistory(ctx, e), "history: record %s for participant %s", e.Type, e.ParticipantID)
}

// RecordStandalone appends e in its own transaction.
func RecordStandalone(ctx context.Context, s store.Store, e *model.HistoryEntry) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		return Record(ctx, tx, e)
	})
}
