package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/pkg/anthropic"
	"github.com/sells-group/participant-enrichment/pkg/perplexity"
)

const (
	linkedInConfidence = 0.7
	linkedInCostCents  = 200
)

const linkedInExtractPrompt = `Extract the person described in the research notes below.
Return a valid JSON object with these fields:
- full_name: string
- role_title: string
- company_name: string
- location: string
- linkedin_url: string (must be a linkedin.com URL)

If the notes do not identify a specific person, return empty strings for every field.

Research notes:
%s`

type linkedInProfile struct {
	FullName    string `json:"full_name"`
	RoleTitle   string `json:"role_title"`
	CompanyName string `json:"company_name"`
	Location    string `json:"location"`
	LinkedInURL string `json:"linkedin_url"`
}

type linkedInAdapter struct {
	search perplexity.Client
	ai     anthropic.Client
	model  string
}

// NewLinkedIn builds the professional-network adapter: a Perplexity search
// for the person's profile followed by Haiku extraction into a record.
func NewLinkedIn(search perplexity.Client, ai anthropic.Client, haikuModel string) Adapter {
	return &linkedInAdapter{search: search, ai: ai, model: haikuModel}
}

func (a *linkedInAdapter) Name() model.Source { return model.SourceLinkedIn }

func (a *linkedInAdapter) Lookup(ctx context.Context, email, displayName string) (*model.EnrichedRecord, error) {
	prof, err := a.search.FindProfile(ctx, perplexity.ProfileQuery{Email: email, DisplayName: displayName})
	if err != nil {
		return nil, err
	}
	if !prof.Found() {
		return nil, nil
	}

	aiResp, err := a.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: 512,
		Messages:  []anthropic.Message{{Role: "user", Content: fmt.Sprintf(linkedInExtractPrompt, prof.Notes)}},
	})
	if err != nil {
		return nil, err
	}
	aiResp.Usage.LogCost(a.model, "linkedin")

	var ext linkedInProfile
	if err := json.Unmarshal([]byte(cleanJSON(aiResp.Text())), &ext); err != nil {
		zap.L().Warn("linkedin: failed to parse extraction", zap.String("email", email), zap.Error(err))
		return nil, eris.Wrap(err, "linkedin: parse extraction")
	}
	if strings.TrimSpace(ext.FullName) == "" && strings.TrimSpace(ext.CompanyName) == "" {
		return nil, nil
	}
	if !strings.Contains(strings.ToLower(ext.LinkedInURL), "linkedin.com/") {
		ext.LinkedInURL = prof.URL
	}

	raw, _ := json.Marshal(ext)
	return &model.EnrichedRecord{
		FullName:    firstNonEmpty(ext.FullName, displayName),
		Email:       email,
		RoleTitle:   strings.TrimSpace(ext.RoleTitle),
		CompanyName: strings.TrimSpace(ext.CompanyName),
		Location:    strings.TrimSpace(ext.Location),
		LinkedInURL: strings.TrimSpace(ext.LinkedInURL),
		Confidence:  linkedInConfidence,
		CostCents:   linkedInCostCents,
		Raw:         raw,
	}, nil
}

// cleanJSON strips markdown fences and returns the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
