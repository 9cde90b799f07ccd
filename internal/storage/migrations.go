package storage

import (
	"database/sql"
	"fmt"
)

// step is one forward schema change. Steps run in order, each in its own
// transaction, and are recorded in schema_version.
type step struct {
	version int
	sql     string
}

// Table names follow the original Postgres deployment so an existing
// database can be pointed at without renames.
var steps = []step{
	{1, `
CREATE TABLE IF NOT EXISTS keywords (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	search_string  TEXT    NOT NULL,
	date_added     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS primo_urls (
	id             TEXT    PRIMARY KEY,
	domain_prefix  TEXT    NOT NULL,
	inst           TEXT    NOT NULL,
	vid            TEXT    NOT NULL,
	scope          TEXT    NOT NULL,
	tab            TEXT    NOT NULL,
	date_added     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS response_times (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	primo_id    TEXT    NOT NULL REFERENCES primo_urls(id),
	search_key  INTEGER REFERENCES keywords(id),
	duration    REAL    NOT NULL DEFAULT 0,
	timed_out   INTEGER NOT NULL DEFAULT 0,
	test_date   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_response_times_primo_id ON response_times(primo_id, test_date);

CREATE TABLE IF NOT EXISTS response_time_data (
	response_id      INTEGER NOT NULL REFERENCES response_times(id) ON DELETE CASCADE,
	response_timelog TEXT    NOT NULL DEFAULT '{}'
);`},
	{2, `
CREATE INDEX IF NOT EXISTS idx_response_times_test_date ON response_times(test_date);
CREATE INDEX IF NOT EXISTS idx_response_time_data_response_id ON response_time_data(response_id);
CREATE INDEX IF NOT EXISTS idx_keywords_search_string ON keywords(search_string);`},
}

// schemaVersion is the version a fully migrated database reports.
var schemaVersion = steps[len(steps)-1].version

// migrate brings db up to schemaVersion. A database newer than this build
// is refused rather than written to.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", current, schemaVersion)
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := applyStep(db, s); err != nil {
			return fmt.Errorf("schema v%d: %w", s.version, err)
		}
		current = s.version
	}
	return nil
}

func applyStep(db *sql.DB, s step) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, s.version); err != nil {
		return err
	}
	return tx.Commit()
}
