package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL, using the table layout of
// the original deployment.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects, pings and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{db: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS keywords (
	id             SERIAL PRIMARY KEY,
	search_string  TEXT,
	date_added     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS primo_urls (
	domain_prefix  TEXT,
	inst           TEXT,
	vid            TEXT,
	scope          TEXT,
	tab            TEXT,
	date_added     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	id             TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS response_times (
	id          SERIAL PRIMARY KEY,
	primo_id    TEXT REFERENCES primo_urls (id),
	search_key  INTEGER REFERENCES keywords (id),
	duration    DOUBLE PRECISION,
	timed_out   BOOLEAN,
	test_date   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_response_times_primo_id ON response_times (primo_id, test_date);
CREATE INDEX IF NOT EXISTS idx_response_times_test_date ON response_times (test_date);
CREATE TABLE IF NOT EXISTS response_time_data (
	response_id       INTEGER REFERENCES response_times (id) ON DELETE CASCADE,
	response_timelog  JSONB
);
CREATE INDEX IF NOT EXISTS idx_response_time_data_response_id ON response_time_data (response_id);
`

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, pgSchema)
	return err
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) UpsertTarget(ctx context.Context, t *Target) (bool, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO primo_urls (id, domain_prefix, inst, vid, scope, tab, date_added)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT DO NOTHING`,
		t.ID, t.DomainPrefix, t.Inst, t.Vid, t.Scope, t.Tab, t.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert target: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	var t Target
	err := s.db.QueryRow(ctx,
		`SELECT id, domain_prefix, inst, vid, scope, tab, date_added FROM primo_urls WHERE id=$1`, id).
		Scan(&t.ID, &t.DomainPrefix, &t.Inst, &t.Vid, &t.Scope, &t.Tab, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListTargets(ctx context.Context) ([]*Target, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, domain_prefix, inst, vid, scope, tab, date_added FROM primo_urls ORDER BY date_added, id`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	targets := []*Target{}
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.DomainPrefix, &t.Inst, &t.Vid, &t.Scope, &t.Tab, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, &t)
	}
	return targets, rows.Err()
}

func (s *PostgresStore) InsertKeywords(ctx context.Context, texts []string) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var inserted int64
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO keywords (search_string, date_added)
			 SELECT $1::text, $2 WHERE NOT EXISTS (SELECT 1 FROM keywords WHERE search_string = $1::text)`,
			text, now)
		if err != nil {
			return 0, fmt.Errorf("insert keyword %q: %w", text, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *PostgresStore) ListKeywords(ctx context.Context) ([]*Keyword, error) {
	rows, err := s.db.Query(ctx, `SELECT id, COALESCE(search_string, ''), date_added FROM keywords ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	keywords := []*Keyword{}
	for rows.Next() {
		var k Keyword
		var id int32
		if err := rows.Scan(&id, &k.Text, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		k.ID = int64(id)
		keywords = append(keywords, &k)
	}
	return keywords, rows.Err()
}

func (s *PostgresStore) CountKeywords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM keywords`).Scan(&n)
	return n, err
}

func (s *PostgresStore) RecordMeasurement(ctx context.Context, m *Measurement) (int64, error) {
	var id int32
	err := s.db.QueryRow(ctx,
		`INSERT INTO response_times (primo_id, search_key, test_date, duration, timed_out)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		m.TargetID, m.KeywordID, m.TestedAt.UTC(), m.Duration, m.TimedOut).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert measurement: %w", err)
	}
	m.ID = int64(id)
	return m.ID, nil
}

func (s *PostgresStore) RecordDiagnostics(ctx context.Context, measurementID int64, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO response_time_data (response_id, response_timelog) VALUES ($1, $2::jsonb)`,
		measurementID, string(payload))
	if err != nil {
		return fmt.Errorf("insert diagnostics: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDiagnostics(ctx context.Context, measurementID int64) (json.RawMessage, error) {
	var payload string
	err := s.db.QueryRow(ctx,
		`SELECT response_timelog::text FROM response_time_data WHERE response_id=$1 LIMIT 1`, measurementID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

func (s *PostgresStore) ListMeasurements(ctx context.Context, f MeasurementFilter) ([]*MeasurementRow, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.TargetID != "" {
		where = append(where, "r.primo_id = "+arg(f.TargetID))
	}
	if !f.From.IsZero() {
		where = append(where, "r.test_date >= "+arg(f.From.UTC()))
	}
	if !f.To.IsZero() {
		where = append(where, "r.test_date < "+arg(f.To.UTC()))
	}

	q := `SELECT r.id, r.primo_id, r.search_key, r.test_date, COALESCE(r.duration, 0), COALESCE(r.timed_out, false),
	             u.domain_prefix, u.inst, u.scope, COALESCE(k.search_string, '')
	      FROM response_times r
	      JOIN primo_urls u ON u.id = r.primo_id
	      LEFT JOIN keywords k ON k.id = r.search_key`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.test_date ASC, r.id ASC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	out := []*MeasurementRow{}
	for rows.Next() {
		var r MeasurementRow
		var id int32
		var keywordID *int32
		if err := rows.Scan(&id, &r.TargetID, &keywordID, &r.TestedAt, &r.Duration, &r.TimedOut,
			&r.DomainPrefix, &r.Inst, &r.Scope, &r.Keyword); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		r.ID = int64(id)
		if keywordID != nil {
			kid := int64(*keywordID)
			r.KeywordID = &kid
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate measurements: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PurgeMeasurementsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM response_time_data WHERE response_id IN (SELECT id FROM response_times WHERE test_date < $1)`,
		before.UTC()); err != nil {
		return 0, fmt.Errorf("purge diagnostics: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM response_times WHERE test_date < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge measurements: %w", err)
	}
	return tag.RowsAffected(), tx.Commit(ctx)
}
