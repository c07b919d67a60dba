package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/pkg/clearbit"
)

const (
	clearbitConfidence = 0.9
	clearbitCostCents  = 100
)

type clearbitAdapter struct {
	client clearbit.Client
}

// NewClearbit adapts a Clearbit client.
func NewClearbit(c clearbit.Client) Adapter {
	return &clearbitAdapter{client: c}
}

func (a *clearbitAdapter) Name() model.Source { return model.SourceClearbit }

func (a *clearbitAdapter) Lookup(ctx context.Context, email, displayName string) (*model.EnrichedRecord, error) {
	res, err := a.client.FindCombined(ctx, email)
	if errors.Is(err, clearbit.ErrQueued) || errors.Is(err, clearbit.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if res.Person == nil {
		return nil, nil
	}

	p := res.Person
	rec := &model.EnrichedRecord{
		FullName:   firstNonEmpty(p.Name.FullName, displayName),
		Email:      email,
		Phone:      p.Phone,
		RoleTitle:  p.Employment.Title,
		Location:   joinLocation(p.Location.City, p.Location.State),
		AvatarURL:  p.Avatar,
		Confidence: clearbitConfidence,
		CostCents:  clearbitCostCents,
		Raw:        res.Raw,
	}
	if res.Company != nil {
		rec.CompanyName = res.Company.Name
	}
	rec.CompanyName = firstNonEmpty(rec.CompanyName, p.Employment.Name)
	if h := strings.TrimPrefix(strings.TrimSpace(p.LinkedIn.Handle), "in/"); h != "" {
		rec.LinkedInURL = "https://linkedin.com/in/" + h
	}
	return rec, nil
}
