package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func (s *SQLiteStore) UpsertTarget(ctx context.Context, t *Target) (bool, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO primo_urls (id, domain_prefix, inst, vid, scope, tab, date_added)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		t.ID, t.DomainPrefix, t.Inst, t.Vid, t.Scope, t.Tab, formatTime(t.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert target: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	t, err := scanTarget(s.readDB.QueryRowContext(ctx,
		`SELECT id, domain_prefix, inst, vid, scope, tab, date_added FROM primo_urls WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) ListTargets(ctx context.Context) ([]*Target, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, domain_prefix, inst, vid, scope, tab, date_added FROM primo_urls ORDER BY date_added, id`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var targets []*Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if targets == nil {
		targets = []*Target{}
	}
	return targets, nil
}

// InsertKeywords adds search strings not already present and returns how
// many were inserted.
func (s *SQLiteStore) InsertKeywords(ctx context.Context, texts []string) (int64, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO keywords (search_string, date_added)
		 SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM keywords WHERE search_string = ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	var inserted int64
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, text, now, text)
		if err != nil {
			return 0, fmt.Errorf("insert keyword %q: %w", text, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLiteStore) ListKeywords(ctx context.Context) ([]*Keyword, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT id, search_string, date_added FROM keywords ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	var keywords []*Keyword
	for rows.Next() {
		var k Keyword
		var createdAt string
		if err := rows.Scan(&k.ID, &k.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		k.CreatedAt = parseTime(createdAt)
		keywords = append(keywords, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if keywords == nil {
		keywords = []*Keyword{}
	}
	return keywords, nil
}

func (s *SQLiteStore) CountKeywords(ctx context.Context) (int64, error) {
	var n int64
	err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM keywords`).Scan(&n)
	return n, err
}
