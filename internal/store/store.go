package store

import (
	"context"
	"time"

	"github.com/sells-group/participant-enrichment/internal/model"
)

// ParticipantFilter specifies criteria for listing participants.
type ParticipantFilter struct {
	OrganizationID string                 `json:"organization_id"`
	MeetingID      string                 `json:"meeting_id,omitempty"`
	Email          string                 `json:"email,omitempty"`
	ContactID      string                 `json:"contact_id,omitempty"`
	Status         model.EnrichmentStatus `json:"enrichment_status,omitempty"`
	Limit          int                    `json:"limit,omitempty"`
	Offset         int                    `json:"offset,omitempty"`
}

// Store defines persistence for participants, contacts, audit history and
// the job queue.
type Store interface {
	// Participants
	UpsertParticipant(ctx context.Context, p *model.Participant) (created bool, err error)
	GetParticipant(ctx context.Context, orgID, id string) (*model.Participant, error)
	ListParticipants(ctx context.Context, filter ParticipantFilter) ([]model.Participant, error)
	ListParticipantsByIDs(ctx context.Context, orgID string, ids []string) ([]model.Participant, error)
	ListPendingSince(ctx context.Context, orgID string, since time.Time) ([]model.Participant, error)
	CountByStatus(ctx context.Context, orgID string) (map[model.EnrichmentStatus]int, error)

	// Contacts
	GetContact(ctx context.Context, orgID, id string) (*model.Contact, error)
	ListContactRefs(ctx context.Context, orgID string) ([]model.ContactRef, error)

	// History
	ListHistory(ctx context.Context, orgID, participantID string) ([]model.HistoryEntry, error)
	ListHistorySince(ctx context.Context, orgID string, since time.Time) ([]model.HistoryEntry, error)

	// WithTx runs fn as one atomic unit of work.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	JobStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write surface available inside a unit of work. Nothing here can
// update or delete history.
type Tx interface {
	GetParticipant(ctx context.Context, orgID, id string) (*model.Participant, error)
	GetContact(ctx context.Context, orgID, id string) (*model.Contact, error)
	FindOrCreateCompany(ctx context.Context, orgID, name string) (*model.Company, error)
	CreateContact(ctx context.Context, c *model.Contact) error
	// TransitionParticipant applies u only when the participant's current
	// status is one of u.From (or a legal predecessor of u.Status when From
	// is empty). It reports whether the row changed.
	TransitionParticipant(ctx context.Context, u model.ParticipantUpdate) (bool, error)
	InsertHistory(ctx context.Context, e *model.HistoryEntry) error
}

// JobStore persists queued jobs and recurring schedules.
type JobStore interface {
	// InsertJob stores j. When j.UniqueKey collides with a waiting or active
	// job in the same queue, the existing job is returned and inserted is false.
	InsertJob(ctx context.Context, j *model.Job) (job *model.Job, inserted bool, err error)
	// ClaimJob leases the next eligible waiting job, or returns nil.
	ClaimJob(ctx context.Context, queue string, now time.Time, lease time.Duration) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	CompleteJob(ctx context.Context, id string, result []byte, now time.Time) error
	RetryJob(ctx context.Context, id string, runAt time.Time, lastErr string) error
	FailJob(ctx context.Context, id string, lastErr string, now time.Time) error
	// RemoveJob deletes a job that has not started. It reports false when the
	// job is missing or already running.
	RemoveJob(ctx context.Context, queue, id string) (bool, error)
	// PromoteJob raises a waiting job to priority and moves its run_at no
	// later than runAt. It reports false when the job is not waiting or
	// already ranks at least as high.
	PromoteJob(ctx context.Context, id string, priority int, runAt time.Time) (bool, error)
	QueueStats(ctx context.Context, queue string) (model.QueueStats, error)
	// PruneJobs keeps the newest keep finished jobs of status and deletes the rest.
	PruneJobs(ctx context.Context, queue string, status model.JobStatus, keep int) (int, error)
	// RecoverStaleJobs releases active jobs whose lease expired.
	RecoverStaleJobs(ctx context.Context, queue string, now time.Time) (int, error)

	UpsertSchedule(ctx context.Context, s *model.JobSchedule) error
	DeleteSchedule(ctx context.Context, key string) (bool, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]model.JobSchedule, error)
	// AdvanceSchedule moves a schedule from prev to next. It reports false if
	// another worker already advanced it.
	AdvanceSchedule(ctx context.Context, key string, prev, next time.Time) (bool, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// ClampLimit normalizes a list limit into [1, 100], defaulting to 50.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func transitionFrom(u model.ParticipantUpdate) []string {
	from := u.From
	if len(from) == 0 {
		from = model.PredecessorsOf(u.Status)
	}
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}
