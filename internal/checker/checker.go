// Package checker performs the timed search requests against Primo targets.
package checker

import (
	"encoding/json"
	"fmt"
)

// Result holds the outcome of one timed search request.
type Result struct {
	Duration    float64 // seconds, 0 when timed out
	TimedOut    bool
	StatusCode  int
	Diagnostics json.RawMessage // timelog object returned by Primo, {} when absent
	URL         string
}

// emptyDiagnostics is stored for timeouts and for responses without a timelog.
var emptyDiagnostics = json.RawMessage("{}")

// StatusError reports a response with a non-2xx status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}
