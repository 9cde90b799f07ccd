package storage

import (
	"encoding/json"
	"time"
)

// Target is one monitored Primo search endpoint.
type Target struct {
	ID           string    `json:"id"`
	DomainPrefix string    `json:"domain_prefix"`
	Inst         string    `json:"inst"`
	Vid          string    `json:"vid"`
	Scope        string    `json:"scope"`
	Tab          string    `json:"tab"`
	CreatedAt    time.Time `json:"date_added"`
}

// Field returns the target attribute addressed by a search parameter name.
// The second return value is false for names the target does not carry.
func (t *Target) Field(name string) (string, bool) {
	switch name {
	case "domain_prefix":
		return t.DomainPrefix, true
	case "inst":
		return t.Inst, true
	case "vid":
		return t.Vid, true
	case "scope":
		return t.Scope, true
	case "tab":
		return t.Tab, true
	}
	return "", false
}

// Keyword is a search string used as test input.
type Keyword struct {
	ID        int64     `json:"id"`
	Text      string    `json:"search_string"`
	CreatedAt time.Time `json:"date_added"`
}

// Measurement is one latency observation of a target. Duration is in
// seconds and is zero when the request timed out.
type Measurement struct {
	ID          int64           `json:"id"`
	TargetID    string          `json:"primo_id"`
	KeywordID   *int64          `json:"search_key"`
	TestedAt    time.Time       `json:"test_date"`
	Duration    float64         `json:"duration"`
	TimedOut    bool            `json:"timed_out"`
	Diagnostics json.RawMessage `json:"timelog,omitempty"`
}

// MeasurementFilter narrows ListMeasurements. Zero values mean no bound.
type MeasurementFilter struct {
	TargetID string
	From     time.Time
	To       time.Time
	Limit    int
}

// MeasurementRow is a measurement joined with its target and keyword text,
// as shown by the display page.
type MeasurementRow struct {
	Measurement
	DomainPrefix string `json:"domain_prefix"`
	Inst         string `json:"inst"`
	Scope        string `json:"scope"`
	Keyword      string `json:"keyword"`
}
