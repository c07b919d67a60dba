package model

import "time"

// EnrichmentStatus is the identification state of a participant.
type EnrichmentStatus string

const (
	StatusPending  EnrichmentStatus = "pending"
	StatusMatched  EnrichmentStatus = "matched"
	StatusEnriched EnrichmentStatus = "enriched"
	StatusUnknown  EnrichmentStatus = "unknown"
)

// AllStatuses lists every enrichment status.
func AllStatuses() []EnrichmentStatus {
	return []EnrichmentStatus{StatusPending, StatusMatched, StatusEnriched, StatusUnknown}
}

// Valid reports whether s is a known status.
func (s EnrichmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusMatched, StatusEnriched, StatusUnknown:
		return true
	}
	return false
}

// Linked reports whether the status requires a contact link.
func (s EnrichmentStatus) Linked() bool {
	return s == StatusMatched || s == StatusEnriched
}

// CanTransition reports whether a participant in status s may move to status
// to. Status only moves forward: pending resolves to any terminal state,
// unknown may still be upgraded to matched or enriched, and linked statuses
// are final.
func (s EnrichmentStatus) CanTransition(to EnrichmentStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusMatched || to == StatusEnriched || to == StatusUnknown
	case StatusUnknown:
		return to == StatusMatched || to == StatusEnriched
	default:
		return false
	}
}

// PredecessorsOf returns the statuses from which a participant may move to
// status to.
func PredecessorsOf(to EnrichmentStatus) []EnrichmentStatus {
	var out []EnrichmentStatus
	for _, s := range AllStatuses() {
		if s.CanTransition(to) {
			out = append(out, s)
		}
	}
	return out
}

// ResponseStatus is the calendar response of an attendee.
type ResponseStatus string

const (
	ResponseAccepted    ResponseStatus = "accepted"
	ResponseDeclined    ResponseStatus = "declined"
	ResponseTentative   ResponseStatus = "tentative"
	ResponseNeedsAction ResponseStatus = "needsAction"
)

// DefaultMeetingPlatform is used when a synced event carries no platform.
const DefaultMeetingPlatform = "google-meet"

// Participant is one attendee email observed in one meeting.
type Participant struct {
	ID                  string           `json:"id"`
	OrganizationID      string           `json:"organization_id"`
	MeetingID           string           `json:"meeting_id"`
	MeetingTitle        string           `json:"meeting_title"`
	MeetingDateTime     time.Time        `json:"meeting_date_time"`
	Email               string           `json:"email"`
	DisplayName         string           `json:"display_name,omitempty"`
	ResponseStatus      ResponseStatus   `json:"response_status"`
	IsOrganizer         bool             `json:"is_organizer"`
	IsOptional          bool             `json:"is_optional"`
	MeetingPlatform     string           `json:"meeting_platform"`
	ContactID           *string          `json:"contact_id,omitempty"`
	EnrichmentStatus    EnrichmentStatus `json:"enrichment_status"`
	EnrichmentSource    *string          `json:"enrichment_source,omitempty"`
	AutoMatchConfidence *float64         `json:"auto_match_confidence,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	LastSeenAt          time.Time        `json:"last_seen_at"`
}

// ParticipantUpdate is a status transition applied to a participant.
type ParticipantUpdate struct {
	ParticipantID  string
	OrganizationID string
	Status         EnrichmentStatus
	ContactID      *string
	Source         *string
	Confidence     *float64
	// From restricts the statuses the update may apply to. Empty means any
	// legal predecessor of Status.
	From []EnrichmentStatus
}
