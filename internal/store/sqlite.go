package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteQuerier is the query surface shared by *sql.DB and *sql.Tx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// A single connection serializes writers so units of work never hit
// SQLITE_BUSY upgrade deadlocks.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC text so they compare lexically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

func ts(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
}

func parseNullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	created_at      TEXT NOT NULL
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
	social_profiles TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_org ON contacts(organization_id);

CREATE TABLE IF NOT EXISTS participants (
	id                    TEXT PRIMARY KEY,
	organization_id       TEXT NOT NULL,
	meeting_id            TEXT NOT NULL,
	meeting_title         TEXT NOT NULL DEFAULT '',
	meeting_date_time     TEXT NOT NULL,
	email                 TEXT NOT NULL,
	display_name          TEXT,
	response_status       TEXT NOT NULL DEFAULT 'needsAction',
	is_organizer          INTEGER NOT NULL DEFAULT 0,
	is_optional           INTEGER NOT NULL DEFAULT 0,
	meeting_platform      TEXT NOT NULL DEFAULT 'google-meet',
	contact_id            TEXT REFERENCES contacts(id),
	enrichment_status     TEXT NOT NULL DEFAULT 'pending'
		CHECK (enrichment_status IN ('pending', 'matched', 'enriched', 'unknown')),
	enrichment_source     TEXT,
	auto_match_confidence REAL,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	last_seen_at          TEXT NOT NULL,
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
	confidence_score   REAL,
	data_found         TEXT,
	matched_contact_id TEXT,
	api_cost_cents     INTEGER,
	error              TEXT,
	performed_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_participant ON enrichment_history(participant_id);
CREATE INDEX IF NOT EXISTS idx_history_org_time ON enrichment_history(organization_id, performed_at);
CREATE TRIGGER IF NOT EXISTS enrichment_history_no_update BEFORE UPDATE ON enrichment_history
BEGIN
	SELECT RAISE(ABORT, 'enrichment_history is append-only');
END;
CREATE TRIGGER IF NOT EXISTS enrichment_history_no_delete BEFORE DELETE ON enrichment_history
BEGIN
	SELECT RAISE(ABORT, 'enrichment_history is append-only');
END;

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	queue        TEXT NOT NULL,
	name         TEXT NOT NULL,
	payload      TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 5,
	status       TEXT NOT NULL DEFAULT 'waiting',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 1,
	unique_key   TEXT,
	run_at       TEXT NOT NULL,
	lease_until  TEXT,
	last_error   TEXT,
	result       TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	finished_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(queue, status, priority, run_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_unique_live ON jobs(queue, unique_key)
	WHERE unique_key IS NOT NULL AND status IN ('waiting', 'active');

CREATE TABLE IF NOT EXISTS job_schedules (
	key         TEXT PRIMARY KEY,
	queue       TEXT NOT NULL,
	name        TEXT NOT NULL,
	spec        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	next_run_at TEXT NOT NULL,
	last_run_at TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a single SQLite transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) UpsertParticipant(ctx context.Context, p *model.Participant) (bool, error) {
	now := ts(time.Now())
	newID := p.ID
	if newID == "" {
		newID = uuid.New().String()
	}
	if p.MeetingPlatform == "" {
		p.MeetingPlatform = model.DefaultMeetingPlatform
	}
	if p.ResponseStatus == "" {
		p.ResponseStatus = model.ResponseNeedsAction
	}

	var id, status string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO participants (id, organization_id, meeting_id, meeting_title, meeting_date_time, email,
			display_name, response_status, is_organizer, is_optional, meeting_platform,
			enrichment_status, created_at, updated_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
		 ON CONFLICT (organization_id, meeting_id, email) DO UPDATE SET
			meeting_title = excluded.meeting_title,
			meeting_date_time = excluded.meeting_date_time,
			display_name = COALESCE(excluded.display_name, participants.display_name),
			response_status = excluded.response_status,
			is_organizer = excluded.is_organizer,
			is_optional = excluded.is_optional,
			meeting_platform = excluded.meeting_platform,
			updated_at = excluded.updated_at,
			last_seen_at = excluded.last_seen_at
		 RETURNING id, enrichment_status`,
		newID, p.OrganizationID, p.MeetingID, p.MeetingTitle, ts(p.MeetingDateTime), p.Email,
		nullString(p.DisplayName), string(p.ResponseStatus), p.IsOrganizer, p.IsOptional, p.MeetingPlatform,
		now, now, now,
	).Scan(&id, &status)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upsert participant")
	}
	p.ID = id
	p.EnrichmentStatus = model.EnrichmentStatus(status)
	return id == newID, nil
}

const sqliteParticipantColumns = `id, organization_id, meeting_id, meeting_title, meeting_date_time, email,
	display_name, response_status, is_organizer, is_optional, meeting_platform, contact_id,
	enrichment_status, enrichment_source, auto_match_confidence, created_at, updated_at, last_seen_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteParticipant(row rowScanner) (*model.Participant, error) {
	var p model.Participant
	var meetingAt, createdAt, updatedAt, seenAt string
	var displayName, contactID, source sql.NullString
	var confidence sql.NullFloat64
	err := row.Scan(&p.ID, &p.OrganizationID, &p.MeetingID, &p.MeetingTitle, &meetingAt, &p.Email,
		&displayName, &p.ResponseStatus, &p.IsOrganizer, &p.IsOptional, &p.MeetingPlatform, &contactID,
		&p.EnrichmentStatus, &source, &confidence, &createdAt, &updatedAt, &seenAt)
	if err != nil {
		return nil, err
	}
	p.DisplayName = displayName.String
	if contactID.Valid {
		p.ContactID = &contactID.String
	}
	if source.Valid {
		p.EnrichmentSource = &source.String
	}
	if confidence.Valid {
		p.AutoMatchConfidence = &confidence.Float64
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&p.MeetingDateTime, meetingAt}, {&p.CreatedAt, createdAt}, {&p.UpdatedAt, updatedAt}, {&p.LastSeenAt, seenAt}} {
		t, err := parseTS(f.src)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse participant timestamp")
		}
		*f.dst = t
	}
	return &p, nil
}

func (s *SQLiteStore) GetParticipant(ctx context.Context, orgID, id string) (*model.Participant, error) {
	return sqliteGetParticipant(ctx, s.db, orgID, id)
}

func sqliteGetParticipant(ctx context.Context, q sqliteQuerier, orgID, id string) (*model.Participant, error) {
	p, err := scanSQLiteParticipant(q.QueryRowContext(ctx,
		`SELECT `+sqliteParticipantColumns+` FROM participants WHERE organization_id = ? AND id = ?`,
		orgID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resilience.NotFound("participant", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get participant %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListParticipants(ctx context.Context, filter ParticipantFilter) ([]model.Participant, error) {
	query := `SELECT ` + sqliteParticipantColumns + ` FROM participants WHERE organization_id = ?`
	args := []any{filter.OrganizationID}

	if filter.MeetingID != "" {
		query += ` AND meeting_id = ?`
		args = append(args, filter.MeetingID)
	}
	if filter.Email != "" {
		query += ` AND email LIKE ?`
		args = append(args, "%"+filter.Email+"%")
	}
	if filter.ContactID != "" {
		query += ` AND contact_id = ?`
		args = append(args, filter.ContactID)
	}
	if filter.Status != "" {
		query += ` AND enrichment_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY meeting_date_time DESC LIMIT ? OFFSET ?`
	args = append(args, ClampLimit(filter.Limit), max(filter.Offset, 0))

	return s.queryParticipants(ctx, "list participants", query, args...)
}

func (s *SQLiteStore) ListParticipantsByIDs(ctx context.Context, orgID string, ids []string) ([]model.Participant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, orgID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	return s.queryParticipants(ctx, "list participants by id",
		`SELECT `+sqliteParticipantColumns+` FROM participants
		 WHERE organization_id = ? AND id IN (`+placeholders+`) ORDER BY created_at`,
		args...,
	)
}

func (s *SQLiteStore) ListPendingSince(ctx context.Context, orgID string, since time.Time) ([]model.Participant, error) {
	return s.queryParticipants(ctx, "list pending participants",
		`SELECT `+sqliteParticipantColumns+` FROM participants
		 WHERE organization_id = ? AND enrichment_status = 'pending' AND meeting_date_time >= ?
		 ORDER BY meeting_date_time`,
		orgID, ts(since),
	)
}

func (s *SQLiteStore) queryParticipants(ctx context.Context, op, query string, args ...any) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: "+op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Participant
	for rows.Next() {
		p, err := scanSQLiteParticipant(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan participant")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: "+op+" iterate")
}

func (s *SQLiteStore) CountByStatus(ctx context.Context, orgID string) (map[model.EnrichmentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT enrichment_status, COUNT(*) FROM participants WHERE organization_id = ? GROUP BY enrichment_status`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.EnrichmentStatus]int, 4)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.EnrichmentStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

func (s *SQLiteStore) GetContact(ctx context.Context, orgID, id string) (*model.Contact, error) {
	return sqliteGetContact(ctx, s.db, orgID, id)
}

func sqliteGetContact(ctx context.Context, q sqliteQuerier, orgID, id string) (*model.Contact, error) {
	var c model.Contact
	var companyID, phone, role, location, avatar, social sql.NullString
	var createdAt string
	err := q.QueryRowContext(ctx,
		`SELECT id, organization_id, company_id, full_name, email, phone, role_title, location, avatar_url,
			status, score, source, social_profiles, created_at
		 FROM contacts WHERE organization_id = ? AND id = ?`,
		orgID, id,
	).Scan(&c.ID, &c.OrganizationID, &companyID, &c.FullName, &c.Email, &phone, &role, &location, &avatar,
		&c.Status, &c.Score, &c.Source, &social, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resilience.NotFound("contact", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contact %s", id)
	}
	if companyID.Valid {
		c.CompanyID = &companyID.String
	}
	c.Phone, c.RoleTitle, c.Location, c.AvatarURL = phone.String, role.String, location.String, avatar.String
	if social.Valid && social.String != "" {
		if err := json.Unmarshal([]byte(social.String), &c.SocialProfiles); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal social profiles")
		}
	}
	if c.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse contact created_at")
	}
	return &c, nil
}

func (s *SQLiteStore) ListContactRefs(ctx context.Context, orgID string) ([]model.ContactRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, full_name FROM contacts WHERE organization_id = ? ORDER BY created_at`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ContactRef
	for rows.Next() {
		var c model.ContactRef
		if err := rows.Scan(&c.ID, &c.Email, &c.FullName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

func (s *SQLiteStore) ListHistory(ctx context.Context, orgID, participantID string) ([]model.HistoryEntry, error) {
	return s.queryHistory(ctx,
		`SELECT `+historyColumns+` FROM enrichment_history
		 WHERE organization_id = ? AND participant_id = ? ORDER BY performed_at`,
		orgID, participantID,
	)
}

func (s *SQLiteStore) ListHistorySince(ctx context.Context, orgID string, since time.Time) ([]model.HistoryEntry, error) {
	return s.queryHistory(ctx,
		`SELECT `+historyColumns+` FROM enrichment_history
		 WHERE organization_id = ? AND performed_at >= ? ORDER BY performed_at`,
		orgID, ts(since),
	)
}

func (s *SQLiteStore) queryHistory(ctx context.Context, query string, args ...any) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list history")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var confidence sql.NullFloat64
		var data, matched, errText sql.NullString
		var cost sql.NullInt64
		var performedAt string
		if err := rows.Scan(&e.ID, &e.ParticipantID, &e.OrganizationID, &e.Type, &e.Source, &e.Status,
			&confidence, &data, &matched, &cost, &errText, &performedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		if confidence.Valid {
			e.Confidence = &confidence.Float64
		}
		if data.Valid && data.String != "" {
			e.DataFound = json.RawMessage(data.String)
		}
		if matched.Valid {
			e.MatchedContactID = &matched.String
		}
		if cost.Valid {
			c := int(cost.Int64)
			e.CostCents = &c
		}
		e.Error = errText.String
		t, err := parseTS(performedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse performed_at")
		}
		e.PerformedAt = t
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list history iterate")
}

// sqliteTx implements Tx on a database/sql transaction.
type sqliteTx struct {
	q sqliteQuerier
}

func (t *sqliteTx) GetParticipant(ctx context.Context, orgID, id string) (*model.Participant, error) {
	return sqliteGetParticipant(ctx, t.q, orgID, id)
}

func (t *sqliteTx) GetContact(ctx context.Context, orgID, id string) (*model.Contact, error) {
	return sqliteGetContact(ctx, t.q, orgID, id)
}

func (t *sqliteTx) FindOrCreateCompany(ctx context.Context, orgID, name string) (*model.Company, error) {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO companies (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		uuid.New().String(), orgID, name, ts(time.Now()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert company")
	}

	var c model.Company
	var createdAt string
	err = t.q.QueryRowContext(ctx,
		`SELECT id, organization_id, name, created_at FROM companies
		 WHERE organization_id = ? AND lower(name) = lower(?)`,
		orgID, name,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find company %q", name)
	}
	if c.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse company created_at")
	}
	return &c, nil
}

func (t *sqliteTx) CreateContact(ctx context.Context, c *model.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	social, err := marshalSocial(c.SocialProfiles)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal social profiles")
	}
	var socialText *string
	if social != nil {
		st := string(social)
		socialText = &st
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO contacts (id, organization_id, company_id, full_name, email, phone, role_title, location,
			avatar_url, status, score, source, social_profiles, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.CompanyID, c.FullName, c.Email, nullString(c.Phone), nullString(c.RoleTitle),
		nullString(c.Location), nullString(c.AvatarURL), c.Status, c.Score, c.Source, socialText, ts(c.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert contact")
}

func (t *sqliteTx) TransitionParticipant(ctx context.Context, u model.ParticipantUpdate) (bool, error) {
	from := transitionFrom(u)
	args := []any{string(u.Status), u.ContactID, u.Source, u.Confidence, ts(time.Now()), u.OrganizationID, u.ParticipantID}
	for _, f := range from {
		args = append(args, f)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	if placeholders == "" {
		return false, nil
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE participants SET enrichment_status = ?, contact_id = COALESCE(?, contact_id),
			enrichment_source = ?, auto_match_confidence = ?, updated_at = ?
		 WHERE organization_id = ? AND id = ? AND enrichment_status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition participant %s", u.ParticipantID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (t *sqliteTx) InsertHistory(ctx context.Context, e *model.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now().UTC()
	}
	var data *string
	if len(e.DataFound) > 0 {
		d := string(e.DataFound)
		data = &d
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO enrichment_history (`+historyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ParticipantID, e.OrganizationID, string(e.Type), e.Source, string(e.Status), e.Confidence,
		data, e.MatchedContactID, e.CostCents, nullString(e.Error), ts(e.PerformedAt),
	)
	return eris.Wrap(err, "sqlite: insert history")
}
