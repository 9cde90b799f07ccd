// Package analytics computes latency summaries over recorded measurements.
package analytics

import (
	"context"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/y0f/primotiming/internal/storage"
)

// Summary holds latency statistics for one target. Duration statistics are
// in seconds and only cover measurements that did not time out.
type Summary struct {
	TargetID     string    `json:"target_id"`
	DomainPrefix string    `json:"domain_prefix"`
	Inst         string    `json:"inst"`
	Scope        string    `json:"scope"`
	Count        int       `json:"count"`
	TimedOut     int       `json:"timed_out"`
	TimeoutRate  float64   `json:"timeout_rate"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"stdev"`
	P50          float64   `json:"p50"`
	P95          float64   `json:"p95"`
	Max          float64   `json:"max"`
	LastTestedAt time.Time `json:"last_tested_at"`
}

// MeasurementLister is the part of storage.Store the summaries read from.
type MeasurementLister interface {
	ListMeasurements(ctx context.Context, f storage.MeasurementFilter) ([]*storage.MeasurementRow, error)
}

// Compute summarizes every target measured in [from, to).
func Compute(ctx context.Context, store MeasurementLister, from, to time.Time) ([]*Summary, error) {
	rows, err := store.ListMeasurements(ctx, storage.MeasurementFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	return Summarize(rows), nil
}

// Summarize groups rows by target. The result is ordered by domain prefix,
// then scope.
func Summarize(rows []*storage.MeasurementRow) []*Summary {
	byTarget := make(map[string]*Summary)
	durations := make(map[string][]float64)

	for _, r := range rows {
		s, ok := byTarget[r.TargetID]
		if !ok {
			s = &Summary{TargetID: r.TargetID, DomainPrefix: r.DomainPrefix, Inst: r.Inst, Scope: r.Scope}
			byTarget[r.TargetID] = s
		}
		s.Count++
		if r.TestedAt.After(s.LastTestedAt) {
			s.LastTestedAt = r.TestedAt
		}
		if r.TimedOut {
			s.TimedOut++
			continue
		}
		durations[r.TargetID] = append(durations[r.TargetID], r.Duration)
	}

	out := make([]*Summary, 0, len(byTarget))
	for id, s := range byTarget {
		s.TimeoutRate = float64(s.TimedOut) / float64(s.Count)
		fillDurations(s, durations[id])
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DomainPrefix != out[j].DomainPrefix {
			return out[i].DomainPrefix < out[j].DomainPrefix
		}
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

func fillDurations(s *Summary, d []float64) {
	if len(d) == 0 {
		return
	}
	slices.Sort(d)

	var sum float64
	for _, v := range d {
		sum += v
	}
	s.Mean = sum / float64(len(d))

	if len(d) > 1 {
		var sq float64
		for _, v := range d {
			sq += (v - s.Mean) * (v - s.Mean)
		}
		s.StdDev = math.Sqrt(sq / float64(len(d)-1))
	}

	s.P50 = Percentile(d, 0.50)
	s.P95 = Percentile(d, 0.95)
	s.Max = d[len(d)-1]
}

// Percentile returns the nearest-rank percentile of sorted: the smallest
// value whose rank is at least n*p.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(float64(n) * p))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
