package model

import "time"

// Company is an organization-scoped company record. Names are matched
// case-insensitively within an organization before a new row is created.
type Company struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Contact status and score assigned to contacts created from enrichment.
const (
	ContactStatusWarm    = "warm"
	EnrichedContactScore = 65
)

// Contact is a person record owned by an organization.
type Contact struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	CompanyID      *string           `json:"company_id,omitempty"`
	FullName       string            `json:"full_name"`
	Email          string            `json:"email"`
	Phone          string            `json:"phone,omitempty"`
	RoleTitle      string            `json:"role_title,omitempty"`
	Location       string            `json:"location,omitempty"`
	AvatarURL      string            `json:"avatar_url,omitempty"`
	Status         string            `json:"status"`
	Score          int               `json:"score"`
	Source         string            `json:"source"`
	SocialProfiles map[string]string `json:"social_profiles,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ContactRef is the slim projection the auto-matcher compares against.
type ContactRef struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// ContactSource returns the contact source tag for a provider.
func ContactSource(src Source) string {
	return "participant_enrichment_" + string(src)
}
