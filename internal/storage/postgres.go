// Package storage provides the Postgres-backed persistence for the audit
// archive and the per-profile artifact store. The database is opened once
// at startup with the pgx stdlib driver and shared by both stores.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kidsgate.org/internal/audit"
	"kidsgate.org/internal/capability"
	"kidsgate.org/internal/ids"
	"kidsgate.org/internal/profile"
)

var schema = []string{
	`create table if not exists audit_archive(
		id          text primary key,
		occurred_at timestamptz not null,
		profile     text not null,
		event_type  text not null,
		operation   text not null,
		resource    text not null default '',
		success     boolean not null,
		details     text not null default '',
		session_id  text not null default '',
		severity    text not null
	)`,
	`create index if not exists audit_archive_profile_time
		on audit_archive(profile, occurred_at)`,
	`create table if not exists artifacts(
		id         text primary key,
		profile_id text not null,
		key        text not null,
		body       text not null default '',
		created_at timestamptz not null,
		updated_at timestamptz not null,
		unique(profile_id, key)
	)`,
}

// EnsureSchema creates the tables the stores need. Statements are
// idempotent, so repeated startups are safe.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: ensure schema: %w", err)
		}
	}
	return nil
}

var _ audit.Sink = (*AuditArchive)(nil)

// AuditArchive persists every audit entry. The in-memory log stays
// authoritative for trail queries; the archive survives restarts.
type AuditArchive struct {
	db *sql.DB
}

// NewAuditArchive wraps the shared database handle.
func NewAuditArchive(db *sql.DB) *AuditArchive {
	return &AuditArchive{db: db}
}

// Archive inserts one entry. Replayed ids are ignored so a retried append
// never duplicates a row.
func (a *AuditArchive) Archive(ctx context.Context, entry audit.Entry) error {
	_, err := a.db.ExecContext(ctx,
		`insert into audit_archive(id, occurred_at, profile, event_type, operation, resource, success, details, session_id, severity)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) on conflict (id) do nothing`,
		entry.ID, entry.Timestamp, entry.Profile, string(entry.EventType), entry.Operation,
		entry.Resource, entry.Success, entry.Details, entry.SessionID, string(entry.Severity),
	)
	return err
}

// Trail returns the archived entries for profile in [from, to], oldest
// first.
func (a *AuditArchive) Trail(ctx context.Context, profileName string, from, to time.Time) ([]audit.Entry, error) {
	rows, err := a.db.QueryContext(ctx,
		`select id, occurred_at, profile, event_type, operation, resource, success, details, session_id, severity
		 from audit_archive where profile=$1 and occurred_at between $2 and $3 order by occurred_at asc`,
		profileName, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e         audit.Entry
			eventType string
			severity  string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Profile, &eventType, &e.Operation,
			&e.Resource, &e.Success, &e.Details, &e.SessionID, &severity); err != nil {
			return nil, err
		}
		e.EventType = audit.EventType(eventType)
		e.Severity = audit.Severity(severity)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ capability.DataClient = (*ArtifactStore)(nil)

// ArtifactStore implements the artifact data client over Postgres.
// Every statement filters on profile_id, so one profile's rows are
// unreachable from another profile's calls.
type ArtifactStore struct {
	db *sql.DB
}

// NewArtifactStore wraps the shared database handle.
func NewArtifactStore(db *sql.DB) *ArtifactStore {
	return &ArtifactStore{db: db}
}

func (s *ArtifactStore) Read(ctx context.Context, p profile.Profile, key string) (capability.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, profile_id, key, body, created_at, updated_at from artifacts where profile_id=$1 and key=$2`,
		p.ID, key,
	)
	var a capability.Artifact
	if err := row.Scan(&a.ID, &a.ProfileID, &a.Key, &a.Body, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return capability.Artifact{}, fmt.Errorf("%w: artifact %s", capability.ErrNotFound, key)
		}
		return capability.Artifact{}, err
	}
	return a, nil
}

func (s *ArtifactStore) Write(ctx context.Context, p profile.Profile, key, body string) (capability.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`insert into artifacts(id, profile_id, key, body, created_at, updated_at)
		 values($1,$2,$3,$4,now(),now())
		 on conflict (profile_id, key) do update set body=excluded.body, updated_at=now()
		 returning id, profile_id, key, body, created_at, updated_at`,
		ids.New(), p.ID, key, body,
	)
	var a capability.Artifact
	if err := row.Scan(&a.ID, &a.ProfileID, &a.Key, &a.Body, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return capability.Artifact{}, err
	}
	return a, nil
}

func (s *ArtifactStore) Delete(ctx context.Context, p profile.Profile, key string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from artifacts where profile_id=$1 and key=$2`, p.ID, key)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: artifact %s", capability.ErrNotFound, key)
	}
	return nil
}
