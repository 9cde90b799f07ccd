package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file in WAL mode. Writes
// go through one connection; reads use a separate pool.
type SQLiteStore struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

func sqliteDSN(path string) string {
	return path + "?_pragma=" + strings.Join(sqlitePragmas, "&_pragma=")
}

func openPool(path string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

// NewSQLiteStore opens path, migrating the schema before the read pool is
// created. maxReadConns defaults to the CPU count.
func NewSQLiteStore(path string, maxReadConns int) (*SQLiteStore, error) {
	if maxReadConns <= 0 {
		maxReadConns = runtime.NumCPU()
	}

	writeDB, err := openPool(path, 1)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	if err := migrate(writeDB); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	readDB, err := openPool(path, maxReadConns)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	return &SQLiteStore{readDB: readDB, writeDB: writeDB}, nil
}

// Close checkpoints the WAL into the main file and closes both pools.
func (s *SQLiteStore) Close() error {
	readErr := s.readDB.Close()
	if _, err := s.writeDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		readErr = errors.Join(readErr, fmt.Errorf("checkpoint: %w", err))
	}
	return errors.Join(readErr, s.writeDB.Close())
}

// timeFormat is the format used for storing timestamps in SQLite. It is
// fixed width so lexical order matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// rows written by SQL defaults or older tools
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (*Target, error) {
	var t Target
	var createdAt string
	if err := row.Scan(&t.ID, &t.DomainPrefix, &t.Inst, &t.Vid, &t.Scope, &t.Tab, &createdAt); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}
