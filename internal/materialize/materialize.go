// Package materialize turns an enriched record into company, contact,
// participant and history rows inside one transaction.
package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/history"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// DefaultPhoneRegion is used to parse numbers without a country prefix.
const DefaultPhoneRegion = "US"

// errAlreadyResolved aborts a unit of work whose participant moved on
// concurrently, so no orphan contact is committed.
var errAlreadyResolved = eris.New("materialize: participant already resolved")

// Materializer writes enrichment results.
type Materializer struct {
	store  store.Store
	region string
}

// New creates a Materializer. An empty region falls back to DefaultPhoneRegion.
func New(s store.Store, phoneRegion string) *Materializer {
	if phoneRegion == "" {
		phoneRegion = DefaultPhoneRegion
	}
	return &Materializer{store: s, region: strings.ToUpper(phoneRegion)}
}

// Input is one successful lookup to persist.
type Input struct {
	Participant *model.Participant
	Source      model.Source
	Record      *model.EnrichedRecord
}

// Result describes what Materialize wrote. Applied is false when the
// participant was already matched or enriched and nothing was committed.
type Result struct {
	Applied bool
	Contact *model.Contact
	Company *model.Company
	History *model.HistoryEntry
}

// Materialize creates the company (when named) and contact, links the
// participant as enriched and appends the success history entry. Any write
// failure rolls everything back and surfaces as a DataIntegrityError.
func (m *Materializer) Materialize(ctx context.Context, in Input) (*Result, error) {
	return m.apply(ctx, in, nil)
}

func (m *Materializer) apply(ctx context.Context, in Input, from []model.EnrichmentStatus) (*Result, error) {
	if in.Participant == nil || in.Record == nil {
		return nil, eris.New("materialize: participant and record are required")
	}
	p := in.Participant
	rec := in.Record
	log := zap.L().With(
		zap.String("participant_id", p.ID),
		zap.String("org_id", p.OrganizationID),
		zap.String("source", string(in.Source)),
	)

	res := &Result{}
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		if name := strings.TrimSpace(rec.CompanyName); name != "" {
			co, err := tx.FindOrCreateCompany(ctx, p.OrganizationID, name)
			if err != nil {
				return err
			}
			res.Company = co
		}

		c := m.buildContact(p, in.Source, rec)
		if res.Company != nil {
			c.CompanyID = model.Ptr(res.Company.ID)
		}
		if err := tx.CreateContact(ctx, c); err != nil {
			return err
		}
		res.Contact = c

		moved, err := tx.TransitionParticipant(ctx, model.ParticipantUpdate{
			ParticipantID:  p.ID,
			OrganizationID: p.OrganizationID,
			Status:         model.StatusEnriched,
			ContactID:      model.Ptr(c.ID),
			Source:         model.Ptr(string(in.Source)),
			Confidence:     model.Ptr(rec.Confidence),
			From:           from,
		})
		if err != nil {
			return err
		}
		if !moved {
			return errAlreadyResolved
		}

		entry, err := history.LookupSucceeded(p, in.Source, rec, c.ID)
		if err != nil {
			return err
		}
		if err := history.Record(ctx, tx, entry); err != nil {
			return err
		}
		res.History = entry
		return nil
	})
	if errors.Is(err, errAlreadyResolved) {
		log.Info("materialize: participant already resolved, nothing written")
		return &Result{}, nil
	}
	if err != nil {
		return nil, resilience.NewDataIntegrityError("materialize participant "+p.ID, err)
	}

	res.Applied = true
	log.Info("materialize: participant enriched", zap.String("contact_id", res.Contact.ID))
	return res, nil
}

func (m *Materializer) buildContact(p *model.Participant, src model.Source, rec *model.EnrichedRecord) *model.Contact {
	email := rec.Email
	if email == "" {
		email = p.Email
	}
	name := rec.FullName
	if name == "" {
		name = p.DisplayName
	}
	c := &model.Contact{
		OrganizationID: p.OrganizationID,
		FullName:       name,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		Phone:          NormalizePhone(rec.Phone, m.region),
		RoleTitle:      rec.RoleTitle,
		Location:       rec.Location,
		AvatarURL:      rec.AvatarURL,
		Status:         model.ContactStatusWarm,
		Score:          model.EnrichedContactScore,
		Source:         model.ContactSource(src),
	}
	if rec.LinkedInURL != "" {
		c.SocialProfiles = map[string]string{"linkedin": rec.LinkedInURL}
	}
	return c
}

// MarkUnknown records that no provider had data: the participant moves to
// unknown and one failed history entry lists the attempted sources. It
// reports false, writing nothing, when the participant is already linked.
func (m *Materializer) MarkUnknown(ctx context.Context, p *model.Participant, sources, reason string) (bool, error) {
	var moved bool
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		moved, err = tx.TransitionParticipant(ctx, model.ParticipantUpdate{
			ParticipantID:  p.ID,
			OrganizationID: p.OrganizationID,
			Status:         model.StatusUnknown,
			From:           []model.EnrichmentStatus{model.StatusPending, model.StatusUnknown},
		})
		if err != nil || !moved {
			return err
		}
		return history.Record(ctx, tx, history.LookupFailed(p, sources, reason))
	})
	if err != nil {
		return false, resilience.NewDataIntegrityError("mark participant unknown "+p.ID, err)
	}
	return moved, nil
}

// ManualData is contact data supplied by an operator.
type ManualData struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	RoleTitle   string `json:"role_title,omitempty"`
	Location    string `json:"location,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	PerformedBy string `json:"performed_by,omitempty"`
}

// ManualEnrich materializes operator-supplied data with source manual,
// confidence 1.0 and no cost. It applies from any status.
func (m *Materializer) ManualEnrich(ctx context.Context, orgID, participantID string, data ManualData) (*Result, error) {
	if strings.TrimSpace(data.FullName) == "" {
		return nil, resilience.Permanent(eris.New("materialize: manual enrichment needs a full name"))
	}
	p, err := m.store.GetParticipant(ctx, orgID, participantID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "materialize: marshal manual data")
	}
	rec := &model.EnrichedRecord{
		FullName:    data.FullName,
		Email:       data.Email,
		Phone:       data.Phone,
		RoleTitle:   data.RoleTitle,
		Location:    data.Location,
		CompanyName: data.CompanyName,
		LinkedInURL: data.LinkedInURL,
		Confidence:  1.0,
		Raw:         raw,
	}
	return m.apply(ctx, Input{Participant: p, Source: model.SourceManual, Record: rec}, model.AllStatuses())
}

// NormalizePhone formats raw as E.164 when it parses as a valid number in
// region. Anything else is returned trimmed but otherwise verbatim.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
