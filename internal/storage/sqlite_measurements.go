package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

func (s *SQLiteStore) RecordMeasurement(ctx context.Context, m *Measurement) (int64, error) {
	var keywordID any
	if m.KeywordID != nil {
		keywordID = *m.KeywordID
	}
	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO response_times (primo_id, search_key, test_date, duration, timed_out)
		 VALUES (?, ?, ?, ?, ?)`,
		m.TargetID, keywordID, formatTime(m.TestedAt), m.Duration, boolToInt(m.TimedOut))
	if err != nil {
		return 0, fmt.Errorf("insert measurement: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("measurement id: %w", err)
	}
	m.ID = id
	return id, nil
}

func (s *SQLiteStore) RecordDiagnostics(ctx context.Context, measurementID int64, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO response_time_data (response_id, response_timelog) VALUES (?, ?)`,
		measurementID, string(payload))
	if err != nil {
		return fmt.Errorf("insert diagnostics: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDiagnostics(ctx context.Context, measurementID int64) (json.RawMessage, error) {
	var payload string
	err := s.readDB.QueryRowContext(ctx,
		`SELECT response_timelog FROM response_time_data WHERE response_id=? LIMIT 1`, measurementID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

func (s *SQLiteStore) ListMeasurements(ctx context.Context, f MeasurementFilter) ([]*MeasurementRow, error) {
	var where []string
	var args []any
	if f.TargetID != "" {
		where = append(where, "r.primo_id = ?")
		args = append(args, f.TargetID)
	}
	if !f.From.IsZero() {
		where = append(where, "r.test_date >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "r.test_date < ?")
		args = append(args, formatTime(f.To))
	}

	q := `SELECT r.id, r.primo_id, r.search_key, r.test_date, r.duration, r.timed_out,
	             u.domain_prefix, u.inst, u.scope, COALESCE(k.search_string, '')
	      FROM response_times r
	      JOIN primo_urls u ON u.id = r.primo_id
	      LEFT JOIN keywords k ON k.id = r.search_key`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.test_date ASC, r.id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.readDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var out []*MeasurementRow
	for rows.Next() {
		var r MeasurementRow
		var keywordID sql.NullInt64
		var testDate string
		if err := rows.Scan(&r.ID, &r.TargetID, &keywordID, &testDate, &r.Duration, &r.TimedOut,
			&r.DomainPrefix, &r.Inst, &r.Scope, &r.Keyword); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		if keywordID.Valid {
			id := keywordID.Int64
			r.KeywordID = &id
		}
		r.TestedAt = parseTime(testDate)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate measurements: %w", err)
	}
	if out == nil {
		out = []*MeasurementRow{}
	}
	return out, nil
}

func (s *SQLiteStore) PurgeMeasurementsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff := formatTime(before)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM response_time_data WHERE response_id IN (SELECT id FROM response_times WHERE test_date < ?)`,
		cutoff); err != nil {
		return 0, fmt.Errorf("purge diagnostics: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM response_times WHERE test_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge measurements: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
