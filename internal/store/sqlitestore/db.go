// Package sqlitestore persists every ledger table in a single SQLite
// database using the pure Go modernc.org/sqlite driver. Every row is keyed
// by tenant id. audit_events is write-once: triggers abort any UPDATE or
// DELETE.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/yourorg/compliance-ledger/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	tenant_id   TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	id          TEXT    NOT NULL UNIQUE,
	action      TEXT    NOT NULL,
	actor_id    TEXT    NOT NULL,
	ts          TEXT    NOT NULL,
	metadata    BLOB    NOT NULL,
	digest      TEXT    NOT NULL,
	prev_digest TEXT    NOT NULL,
	PRIMARY KEY (tenant_id, seq)
);

CREATE TRIGGER IF NOT EXISTS audit_events_no_update
BEFORE UPDATE ON audit_events
BEGIN
	SELECT RAISE(ABORT, 'audit_events is append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_events_no_delete
BEFORE DELETE ON audit_events
BEGIN
	SELECT RAISE(ABORT, 'audit_events is append-only');
END;

CREATE TABLE IF NOT EXISTS organizations (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	tax_id       TEXT NOT NULL DEFAULT '',
	risk_score   INTEGER,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
	tenant_id TEXT NOT NULL REFERENCES organizations(id),
	actor_id  TEXT NOT NULL,
	PRIMARY KEY (tenant_id, actor_id)
);
CREATE INDEX IF NOT EXISTS memberships_actor ON memberships(actor_id);

CREATE TABLE IF NOT EXISTS litigation_holds (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT    NOT NULL,
	active            INTEGER NOT NULL,
	reason            TEXT    NOT NULL,
	scope             TEXT    NOT NULL,
	activated_by      TEXT    NOT NULL,
	activated_by_role TEXT    NOT NULL,
	activated_at      TEXT    NOT NULL,
	lifted_by         TEXT,
	lifted_at         TEXT,
	cosigner          TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS litigation_holds_one_active
	ON litigation_holds(tenant_id) WHERE active = 1;

CREATE TABLE IF NOT EXISTS findings (
	tenant_id    TEXT NOT NULL,
	id           TEXT NOT NULL,
	category     TEXT NOT NULL,
	description  TEXT NOT NULL,
	severity     TEXT NOT NULL,
	status       TEXT NOT NULL,
	verification TEXT NOT NULL,
	verified_by  TEXT,
	verified_at  TEXT,
	source       TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS report_artifacts (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT    NOT NULL,
	type           TEXT    NOT NULL,
	status         TEXT    NOT NULL,
	requested_by   TEXT    NOT NULL,
	created_at     TEXT    NOT NULL,
	started_at     TEXT,
	completed_at   TEXT,
	size           INTEGER NOT NULL DEFAULT 0,
	content_digest TEXT    NOT NULL,
	failure_reason TEXT    NOT NULL DEFAULT '',
	purged_at      TEXT
);
CREATE INDEX IF NOT EXISTS report_artifacts_tenant ON report_artifacts(tenant_id, created_at);
`

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Config struct {
	Path string
}

func LoadConfig() Config {
	return Config{Path: config.String("SQLITE_PATH", "data/ledger.db")}
}

// DB is an open ledger database. The typed stores share its connection.
type DB struct {
	db *sql.DB
}

func Open(ctx context.Context, cfg Config) (*DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps the
	// conditional appends race free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Events() *EventStore       { return &EventStore{db: d.db} }
func (d *DB) Orgs() *OrgStore           { return &OrgStore{db: d.db} }
func (d *DB) Holds() *HoldStore         { return &HoldStore{db: d.db} }
func (d *DB) Findings() *FindingStore   { return &FindingStore{db: d.db} }
func (d *DB) Artifacts() *ArtifactStore { return &ArtifactStore{db: d.db} }

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

type scanner interface {
	Scan(dest ...any) error
}
