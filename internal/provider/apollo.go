package provider

import (
	"context"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/pkg/apollo"
)

const (
	apolloConfidence = 0.85
	apolloCostCents  = 50
)

type apolloAdapter struct {
	client apollo.Client
}

// NewApollo adapts an Apollo client.
func NewApollo(c apollo.Client) Adapter {
	return &apolloAdapter{client: c}
}

func (a *apolloAdapter) Name() model.Source { return model.SourceApollo }

func (a *apolloAdapter) Lookup(ctx context.Context, email, displayName string) (*model.EnrichedRecord, error) {
	res, err := a.client.MatchPerson(ctx, apollo.MatchRequest{Email: email, RevealPersonalEmails: true})
	if err != nil {
		return nil, err
	}
	if res.Person == nil {
		return nil, nil
	}

	p := res.Person
	rec := &model.EnrichedRecord{
		FullName:    firstNonEmpty(p.Name, displayName),
		Email:       email,
		RoleTitle:   p.Title,
		Location:    joinLocation(p.City, p.State),
		AvatarURL:   p.PhotoURL,
		LinkedInURL: p.LinkedInURL,
		Confidence:  apolloConfidence,
		CostCents:   apolloCostCents,
		Raw:         res.Raw,
	}
	if p.Organization != nil {
		rec.CompanyName = p.Organization.Name
	}
	if len(p.PhoneNumbers) > 0 {
		rec.Phone = p.PhoneNumbers[0].RawNumber
	}
	return rec, nil
}
