package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/history"
	"github.com/sells-group/participant-enrichment/internal/materialize"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// LinkParticipantToContact attaches a participant to an existing contact as
// a manual match with full confidence. It bypasses the queues and applies
// from any status.
func (m *Manager) LinkParticipantToContact(ctx context.Context, orgID, participantID, contactID string) (*model.Participant, error) {
	if orgID == "" || participantID == "" || contactID == "" {
		return nil, resilience.Invalid("link", "organization, participant and contact ids are required")
	}
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetParticipant(ctx, orgID, participantID)
		if err != nil {
			return err
		}
		if _, err := tx.GetContact(ctx, orgID, contactID); err != nil {
			return err
		}
		if _, err := tx.TransitionParticipant(ctx, model.ParticipantUpdate{
			ParticipantID:  p.ID,
			OrganizationID: orgID,
			Status:         model.StatusMatched,
			ContactID:      model.Ptr(contactID),
			Source:         model.Ptr(string(model.SourceManual)),
			Confidence:     model.Ptr(1.0),
			From:           model.AllStatuses(),
		}); err != nil {
			return err
		}
		return history.Record(ctx, tx, history.ContactMatched(p, model.SourceManual, contactID, 1.0))
	})
	if err != nil {
		if resilience.IsNotFound(err) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "enrichment: link participant %s", participantID)
	}
	m.metrics.IncMatch(string(model.SourceManual))
	zap.L().Info("enrichment: participant linked manually",
		zap.String("participant_id", participantID),
		zap.String("org_id", orgID),
		zap.String("contact_id", contactID),
	)
	return m.store.GetParticipant(ctx, orgID, participantID)
}

// ManualEnrich creates a contact from operator-supplied data and links the
// participant to it.
func (m *Manager) ManualEnrich(ctx context.Context, orgID, participantID string, data materialize.ManualData) (*materialize.Result, error) {
	res, err := m.materializer.ManualEnrich(ctx, orgID, participantID, data)
	if err != nil {
		return nil, err
	}
	if res.Applied {
		m.metrics.ObserveEnrichment(model.SourceManual, model.StatusEnriched, 0)
		zap.L().Info("enrichment: participant enriched manually",
			zap.String("participant_id", participantID),
			zap.String("org_id", orgID),
			zap.String("performed_by", data.PerformedBy),
		)
	}
	return res, nil
}

// Attendee is one invitee on a calendar event.
type Attendee struct {
	Email          string               `json:"email" yaml:"email"`
	DisplayName    string               `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	ResponseStatus model.ResponseStatus `json:"response_status,omitempty" yaml:"response_status,omitempty"`
	Organizer      bool                 `json:"organizer,omitempty" yaml:"organizer,omitempty"`
	Optional       bool                 `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// CalendarEvent is a meeting pulled from a calendar.
type CalendarEvent struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Start     time.Time  `json:"start" yaml:"start"`
	Platform  string     `json:"platform,omitempty" yaml:"platform,omitempty"`
	Attendees []Attendee `json:"attendees" yaml:"attendees"`
}

// SyncResult counts participants written by a sync.
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// SyncParticipants upserts one participant per distinct attendee email per
// event. Attendees without an email are skipped.
func (m *Manager) SyncParticipants(ctx context.Context, orgID string, events []CalendarEvent) (*SyncResult, error) {
	if orgID == "" {
		return nil, resilience.Invalid("organization_id", "required")
	}
	res := &SyncResult{}
	for _, ev := range events {
		if ev.ID == "" {
			return nil, resilience.Invalid("events", "event id is required")
		}
		seen := map[string]bool{}
		for _, a := range ev.Attendees {
			email := strings.ToLower(strings.TrimSpace(a.Email))
			if email == "" || seen[email] {
				continue
			}
			seen[email] = true

			p := &model.Participant{
				OrganizationID:  orgID,
				MeetingID:       ev.ID,
				MeetingTitle:    ev.Title,
				MeetingDateTime: ev.Start,
				Email:           email,
				DisplayName:     strings.TrimSpace(a.DisplayName),
				ResponseStatus:  a.ResponseStatus,
				IsOrganizer:     a.Organizer,
				IsOptional:      a.Optional,
				MeetingPlatform: ev.Platform,
			}
			created, err := m.store.UpsertParticipant(ctx, p)
			if err != nil {
				return nil, eris.Wrapf(err, "enrichment: sync %s in meeting %s", email, ev.ID)
			}
			if created {
				res.Created++
			} else {
				res.Updated++
			}
		}
	}
	zap.L().Info("enrichment: participants synced",
		zap.String("org_id", orgID),
		zap.Int("events", len(events)),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
	)
	return res, nil
}

// ParticipantPage is one page of participants plus per-status counts for
// the organization.
type ParticipantPage struct {
	Participants []model.Participant            `json:"participants"`
	Stats        map[model.EnrichmentStatus]int `json:"stats"`
	Limit        int                            `json:"limit"`
	Offset       int                            `json:"offset"`
	HasMore      bool                           `json:"has_more"`
}

// ListParticipants returns a filtered page of participants.
func (m *Manager) ListParticipants(ctx context.Context, filter store.ParticipantFilter) (*ParticipantPage, error) {
	if filter.OrganizationID == "" {
		return nil, resilience.Invalid("organization_id", "required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, resilience.Invalid("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	filter.Limit = store.ClampLimit(filter.Limit)
	filter.Offset = max(filter.Offset, 0)

	rows, err := m.store.ListParticipants(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: list participants")
	}
	page := &ParticipantPage{
		Participants: rows,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}
	if len(rows) == filter.Limit {
		peek := filter
		peek.Offset += filter.Limit
		peek.Limit = 1
		next, err := m.store.ListParticipants(ctx, peek)
		if err != nil {
			return nil, eris.Wrap(err, "enrichment: peek next page")
		}
		page.HasMore = len(next) > 0
	}
	if page.Participants == nil {
		page.Participants = []model.Participant{}
	}

	page.Stats, err = m.store.CountByStatus(ctx, filter.OrganizationID)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: participant stats")
	}
	return page, nil
}

// Summary reports enrichment activity for the last days of history.
func (m *Manager) Summary(ctx context.Context, orgID string, days int) (*history.Summary, error) {
	if orgID == "" {
		return nil, resilience.Invalid("organization_id", "required")
	}
	return history.Load(ctx, m.store, orgID, days, m.now())
}

// Store exposes the underlying store for health checks.
func (m *Manager) Store() store.Store { return m.store }
