package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a single-row lookup finds nothing.
var ErrNotFound = errors.New("not found")

// Store defines the complete storage interface.
type Store interface {
	// Targets
	UpsertTarget(ctx context.Context, t *Target) (created bool, err error)
	GetTarget(ctx context.Context, id string) (*Target, error)
	ListTargets(ctx context.Context) ([]*Target, error)

	// Keywords
	InsertKeywords(ctx context.Context, texts []string) (int64, error)
	ListKeywords(ctx context.Context) ([]*Keyword, error)
	CountKeywords(ctx context.Context) (int64, error)

	// Measurements. RecordMeasurement and RecordDiagnostics are separate
	// writes: a failed diagnostics insert leaves the measurement in place.
	RecordMeasurement(ctx context.Context, m *Measurement) (int64, error)
	RecordDiagnostics(ctx context.Context, measurementID int64, payload json.RawMessage) error
	GetDiagnostics(ctx context.Context, measurementID int64) (json.RawMessage, error)
	ListMeasurements(ctx context.Context, f MeasurementFilter) ([]*MeasurementRow, error)

	// Data retention
	PurgeMeasurementsBefore(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Close() error
}
