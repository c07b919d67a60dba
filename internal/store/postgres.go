package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/participant-enrichment/internal/db"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_org_name ON companies(organization_id, lower(name));

CREATE TABLE IF NOT EXISTS contacts (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	company_id      TEXT REFERENCES companies(id),
	full_name       TEXT NOT NULL,
	email           TEXT NOT NULL,
	phone           TEXT,
	role_title      TEXT,
	location        TEXT,
	avatar_url      TEXT,
	status          TEXT NOT NULL,
	score           INTEGER NOT NULL DEFAULT 0,
	source          TEXT NOT NULL,
	social_profiles JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_contacts_org ON contacts(organization_id);

CREATE TABLE IF NOT EXISTS participants (
	id                    TEXT PRIMARY KEY,
	organization_id       TEXT NOT NULL,
	meeting_id            TEXT NOT NULL,
	meeting_title         TEXT NOT NULL DEFAULT '',
	meeting_date_time     TIMESTAMPTZ NOT NULL,
	email                 TEXT NOT NULL,
	display_name          TEXT,
	response_status       TEXT NOT NULL DEFAULT 'needsAction',
	is_organizer          BOOLEAN NOT NULL DEFAULT false,
	is_optional           BOOLEAN NOT NULL DEFAULT false,
	meeting_platform      TEXT NOT NULL DEFAULT 'google-meet',
	contact_id            TEXT REFERENCES contacts(id),
	enrichment_status     TEXT NOT NULL DEFAULT 'pending'
		CHECK (enrichment_status IN ('pending', 'matched', 'enriched', 'unknown')),
	enrichment_source     TEXT,
	auto_match_confidence DOUBLE PRECISION,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (organization_id, meeting_id, email),
	CHECK (enrichment_status NOT IN ('matched', 'enriched') OR contact_id IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS idx_participants_org_status ON participants(organization_id, enrichment_status, meeting_date_time);

CREATE TABLE IF NOT EXISTS enrichment_history (
	id                 TEXT PRIMARY KEY,
	participant_id     TEXT NOT NULL REFERENCES participants(id),
	organization_id    TEXT NOT NULL,
	enrichment_type    TEXT NOT NULL,
	source             TEXT NOT NULL,
	status             TEXT NOT NULL,
	confidence_score   DOUBLE PRECISION,
	data_found         JSONB,
	matched_contact_id TEXT,
	api_cost_cents     INTEGER,
	error              TEXT,
	performed_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_history_participant ON enrichment_history(participant_id);
CREATE INDEX IF NOT EXISTS idx_history_org_time ON enrichment_history(organization_id, performed_at);
CREATE OR REPLACE RULE enrichment_history_no_update AS ON UPDATE TO enrichment_history DO INSTEAD NOTHING;
CREATE OR REPLACE RULE enrichment_history_no_delete AS ON DELETE TO enrichment_history DO INSTEAD NOTHING;

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	queue        TEXT NOT NULL,
	name         TEXT NOT NULL,
	payload      JSONB NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 5,
	status       TEXT NOT NULL DEFAULT 'waiting',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 1,
	unique_key   TEXT,
	run_at       TIMESTAMPTZ NOT NULL,
	lease_until  TIMESTAMPTZ,
	last_error   TEXT,
	result       JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(queue, status, priority, run_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_unique_live ON jobs(queue, unique_key)
	WHERE unique_key IS NOT NULL AND status IN ('waiting', 'active');

CREATE TABLE IF NOT EXISTS job_schedules (
	key         TEXT PRIMARY KEY,
	queue       TEXT NOT NULL,
	name        TEXT NOT NULL,
	spec        TEXT NOT NULL,
	payload     JSONB NOT NULL,
	next_run_at TIMESTAMPTZ NOT NULL,
	last_run_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// WithTx runs fn in a single Postgres transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

const participantColumns = `id, organization_id, meeting_id, meeting_title, meeting_date_time, email,
	display_name, response_status, is_organizer, is_optional, meeting_platform, contact_id,
	enrichment_status, enrichment_source, auto_match_confidence, created_at, updated_at, last_seen_at`

func (s *PostgresStore) UpsertParticipant(ctx context.Context, p *model.Participant) (bool, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.MeetingPlatform == "" {
		p.MeetingPlatform = model.DefaultMeetingPlatform
	}
	if p.ResponseStatus == "" {
		p.ResponseStatus = model.ResponseNeedsAction
	}

	var inserted bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO participants (id, organization_id, meeting_id, meeting_title, meeting_date_time, email,
			display_name, response_status, is_organizer, is_optional, meeting_platform,
			enrichment_status, created_at, updated_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', $12, $12, $12)
		 ON CONFLICT (organization_id, meeting_id, email) DO UPDATE SET
			meeting_title = EXCLUDED.meeting_title,
			meeting_date_time = EXCLUDED.meeting_date_time,
			display_name = COALESCE(EXCLUDED.display_name, participants.display_name),
			response_status = EXCLUDED.response_status,
			is_organizer = EXCLUDED.is_organizer,
			is_optional = EXCLUDED.is_optional,
			meeting_platform = EXCLUDED.meeting_platform,
			updated_at = EXCLUDED.updated_at,
			last_seen_at = EXCLUDED.last_seen_at
		 RETURNING id, enrichment_status, (xmax = 0)`,
		p.ID, p.OrganizationID, p.MeetingID, p.MeetingTitle, p.MeetingDateTime.UTC(), p.Email,
		nullString(p.DisplayName), string(p.ResponseStatus), p.IsOrganizer, p.IsOptional, p.MeetingPlatform,
		now,
	).Scan(&p.ID, &p.EnrichmentStatus, &inserted)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upsert participant")
	}
	p.LastSeenAt = now
	p.UpdatedAt = now
	return inserted, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, orgID, id string) (*model.Participant, error) {
	return pgGetParticipant(ctx, s.pool, orgID, id, false)
}

func pgGetParticipant(ctx context.Context, q db.Querier, orgID, id string, forUpdate bool) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE organization_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPgParticipant(q.QueryRow(ctx, query, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, resilience.NotFound("participant", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get participant %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, filter ParticipantFilter) ([]model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE organization_id = $1`
	args := []any{filter.OrganizationID}
	argIdx := 2

	if filter.MeetingID != "" {
		query += fmt.Sprintf(` AND meeting_id = $%d`, argIdx)
		args = append(args, filter.MeetingID)
		argIdx++
	}
	if filter.Email != "" {
		query += fmt.Sprintf(` AND email ILIKE $%d`, argIdx)
		args = append(args, "%"+filter.Email+"%")
		argIdx++
	}
	if filter.ContactID != "" {
		query += fmt.Sprintf(` AND contact_id = $%d`, argIdx)
		args = append(args, filter.ContactID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND enrichment_status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY meeting_date_time DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, ClampLimit(filter.Limit), max(filter.Offset, 0))

	return s.queryParticipants(ctx, "list participants", query, args...)
}

func (s *PostgresStore) ListParticipantsByIDs(ctx context.Context, orgID string, ids []string) ([]model.Participant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryParticipants(ctx, "list participants by id",
		`SELECT `+participantColumns+` FROM participants WHERE organization_id = $1 AND id = ANY($2) ORDER BY created_at`,
		orgID, ids,
	)
}

func (s *PostgresStore) ListPendingSince(ctx context.Context, orgID string, since time.Time) ([]model.Participant, error) {
	return s.queryParticipants(ctx, "list pending participants",
		`SELECT `+participantColumns+` FROM participants
		 WHERE organization_id = $1 AND enrichment_status = 'pending' AND meeting_date_time >= $2
		 ORDER BY meeting_date_time`,
		orgID, since.UTC(),
	)
}

func (s *PostgresStore) queryParticipants(ctx context.Context, op, query string, args ...any) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: "+op)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		p, err := scanPgParticipant(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan participant")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: "+op+" iterate")
}

func scanPgParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var displayName *string
	err := row.Scan(&p.ID, &p.OrganizationID, &p.MeetingID, &p.MeetingTitle, &p.MeetingDateTime, &p.Email,
		&displayName, &p.ResponseStatus, &p.IsOrganizer, &p.IsOptional, &p.MeetingPlatform, &p.ContactID,
		&p.EnrichmentStatus, &p.EnrichmentSource, &p.AutoMatchConfidence, &p.CreatedAt, &p.UpdatedAt, &p.LastSeenAt)
	if err != nil {
		return nil, err
	}
	if displayName != nil {
		p.DisplayName = *displayName
	}
	return &p, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, orgID string) (map[model.EnrichmentStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT enrichment_status, COUNT(*) FROM participants WHERE organization_id = $1 GROUP BY enrichment_status`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.EnrichmentStatus]int, 4)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.EnrichmentStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

func (s *PostgresStore) GetContact(ctx context.Context, orgID, id string) (*model.Contact, error) {
	return pgGetContact(ctx, s.pool, orgID, id)
}

func pgGetContact(ctx context.Context, q db.Querier, orgID, id string) (*model.Contact, error) {
	var c model.Contact
	var phone, role, location, avatar *string
	var social []byte
	err := q.QueryRow(ctx,
		`SELECT id, organization_id, company_id, full_name, email, phone, role_title, location, avatar_url,
			status, score, source, social_profiles, created_at
		 FROM contacts WHERE organization_id = $1 AND id = $2`,
		orgID, id,
	).Scan(&c.ID, &c.OrganizationID, &c.CompanyID, &c.FullName, &c.Email, &phone, &role, &location, &avatar,
		&c.Status, &c.Score, &c.Source, &social, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, resilience.NotFound("contact", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contact %s", id)
	}
	c.Phone, c.RoleTitle, c.Location, c.AvatarURL = deref(phone), deref(role), deref(location), deref(avatar)
	if len(social) > 0 {
		if err := json.Unmarshal(social, &c.SocialProfiles); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal social profiles")
		}
	}
	return &c, nil
}

func (s *PostgresStore) ListContactRefs(ctx context.Context, orgID string) ([]model.ContactRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, full_name FROM contacts WHERE organization_id = $1 ORDER BY created_at`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var out []model.ContactRef
	for rows.Next() {
		var c model.ContactRef
		if err := rows.Scan(&c.ID, &c.Email, &c.FullName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

const historyColumns = `id, participant_id, organization_id, enrichment_type, source, status, confidence_score,
	data_found, matched_contact_id, api_cost_cents, error, performed_at`

func (s *PostgresStore) ListHistory(ctx context.Context, orgID, participantID string) ([]model.HistoryEntry, error) {
	return s.queryHistory(ctx,
		`SELECT `+historyColumns+` FROM enrichment_history
		 WHERE organization_id = $1 AND participant_id = $2 ORDER BY performed_at`,
		orgID, participantID,
	)
}

func (s *PostgresStore) ListHistorySince(ctx context.Context, orgID string, since time.Time) ([]model.HistoryEntry, error) {
	return s.queryHistory(ctx,
		`SELECT `+historyColumns+` FROM enrichment_history
		 WHERE organization_id = $1 AND performed_at >= $2 ORDER BY performed_at`,
		orgID, since.UTC(),
	)
}

func (s *PostgresStore) queryHistory(ctx context.Context, query string, args ...any) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list history")
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var data []byte
		var errText *string
		if err := rows.Scan(&e.ID, &e.ParticipantID, &e.OrganizationID, &e.Type, &e.Source, &e.Status,
			&e.Confidence, &data, &e.MatchedContactID, &e.CostCents, &errText, &e.PerformedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		if len(data) > 0 {
			e.DataFound = data
		}
		e.Error = deref(errText)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list history iterate")
}

// pgTx implements Tx on a pgx transaction.
type pgTx struct {
	q db.Querier
}

func (t *pgTx) GetParticipant(ctx context.Context, orgID, id string) (*model.Participant, error) {
	return pgGetParticipant(ctx, t.q, orgID, id, true)
}

func (t *pgTx) GetContact(ctx context.Context, orgID, id string) (*model.Contact, error) {
	return pgGetContact(ctx, t.q, orgID, id)
}

func (t *pgTx) FindOrCreateCompany(ctx context.Context, orgID, name string) (*model.Company, error) {
	_, err := t.q.Exec(ctx,
		`INSERT INTO companies (id, organization_id, name, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		uuid.New().String(), orgID, name, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert company")
	}

	var c model.Company
	err = t.q.QueryRow(ctx,
		`SELECT id, organization_id, name, created_at FROM companies
		 WHERE organization_id = $1 AND lower(name) = lower($2)`,
		orgID, name,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find company %q", name)
	}
	return &c, nil
}

func (t *pgTx) CreateContact(ctx context.Context, c *model.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	social, err := marshalSocial(c.SocialProfiles)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal social profiles")
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO contacts (id, organization_id, company_id, full_name, email, phone, role_title, location,
			avatar_url, status, score, source, social_profiles, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.OrganizationID, c.CompanyID, c.FullName, c.Email, nullString(c.Phone), nullString(c.RoleTitle),
		nullString(c.Location), nullString(c.AvatarURL), c.Status, c.Score, c.Source, social, c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert contact")
}

func (t *pgTx) TransitionParticipant(ctx context.Context, u model.ParticipantUpdate) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE participants SET enrichment_status = $1, contact_id = COALESCE($2, contact_id),
			enrichment_source = $3, auto_match_confidence = $4, updated_at = $5
		 WHERE organization_id = $6 AND id = $7 AND enrichment_status = ANY($8)`,
		string(u.Status), u.ContactID, u.Source, u.Confidence, time.Now().UTC(),
		u.OrganizationID, u.ParticipantID, transitionFrom(u),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition participant %s", u.ParticipantID)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) InsertHistory(ctx context.Context, e *model.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now().UTC()
	}
	var data []byte
	if len(e.DataFound) > 0 {
		data = e.DataFound
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO enrichment_history (`+historyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.ParticipantID, e.OrganizationID, string(e.Type), e.Source, string(e.Status), e.Confidence,
		data, e.MatchedContactID, e.CostCents, nullString(e.Error), e.PerformedAt,
	)
	return eris.Wrap(err, "postgres: insert history")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func marshalSocial(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
