package model

import (
	"encoding/json"
	"time"
)

// Source names where an identification came from.
type Source string

// Provider sources, in default fallback order.
const (
	SourceClearbit Source = "clearbit"
	SourceApollo   Source = "apollo"
	SourceLinkedIn Source = "linkedin"
)

// Non-provider sources.
const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// ProviderSources returns the closed set of lookup providers in default order.
func ProviderSources() []Source {
	return []Source{SourceClearbit, SourceApollo, SourceLinkedIn}
}

// IsProvider reports whether s names a lookup provider.
func (s Source) IsProvider() bool {
	switch s {
	case SourceClearbit, SourceApollo, SourceLinkedIn:
		return true
	}
	return false
}

// EnrichedRecord is the normalized person/company data a provider returns.
type EnrichedRecord struct {
	FullName    string          `json:"full_name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone,omitempty"`
	RoleTitle   string          `json:"role_title,omitempty"`
	Location    string          `json:"location,omitempty"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	CompanyName string          `json:"company_name,omitempty"`
	LinkedInURL string          `json:"linkedin_url,omitempty"`
	Confidence  float64         `json:"confidence"`
	CostCents   int             `json:"cost_cents"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// HistoryType classifies an audit entry.
type HistoryType string

const (
	HistoryAPILookup    HistoryType = "api_lookup"
	HistoryContactMatch HistoryType = "contact_match"
)

// HistoryStatus is the outcome recorded in an audit entry.
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryFailed  HistoryStatus = "failed"
)

// HistoryEntry is an immutable record of one identification attempt.
type HistoryEntry struct {
	ID               string          `json:"id"`
	ParticipantID    string          `json:"participant_id"`
	OrganizationID   string          `json:"organization_id"`
	Type             HistoryType     `json:"enrichment_type"`
	Source           string          `json:"source"`
	Status           HistoryStatus   `json:"status"`
	Confidence       *float64        `json:"confidence_score,omitempty"`
	DataFound        json.RawMessage `json:"data_found,omitempty"`
	MatchedContactID *string         `json:"matched_contact_id,omitempty"`
	CostCents        *int            `json:"api_cost_cents,omitempty"`
	Error            string          `json:"error,omitempty"`
	PerformedAt      time.Time       `json:"performed_at"`
}

// Priority is the caller-facing urgency of an enrichment request.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the queue priority rank; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 10
	default:
		return 5
	}
}

// Delay returns how long a job of this priority waits before it is eligible.
func (p Priority) Delay() time.Duration {
	if p == PriorityHigh {
		return 0
	}
	return 5 * time.Second
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
