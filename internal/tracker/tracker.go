// Package tracker runs the measurement loop: each cycle reads the targets,
// draws one keyword, times a search against every target in turn, persists
// the results and then sleeps for a random delay before the next cycle.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/y0f/primotiming/internal/checker"
	"github.com/y0f/primotiming/internal/storage"
)

// persistGrace bounds how long a cancelled cycle may spend writing the
// measurements it already collected.
const persistGrace = 10 * time.Second

type TargetSource interface {
	ListTargets(ctx context.Context) ([]*storage.Target, error)
}

type KeywordSource interface {
	ListKeywords(ctx context.Context) ([]*storage.Keyword, error)
}

// Sink persists measurements. The two calls are independent writes; a failed
// RecordDiagnostics leaves the measurement row in place.
type Sink interface {
	RecordMeasurement(ctx context.Context, m *storage.Measurement) (int64, error)
	RecordDiagnostics(ctx context.Context, measurementID int64, payload json.RawMessage) error
}

// Store is everything the tracker reads from and writes to.
type Store interface {
	TargetSource
	KeywordSource
	Sink
}

// Measurer times one search against a target. Timeouts are reported through
// Result.TimedOut, not as errors.
type Measurer interface {
	Measure(ctx context.Context, t *storage.Target, keyword *storage.Keyword) (*checker.Result, error)
}

// Config holds the pacing between cycles. Both bounds are whole seconds.
type Config struct {
	DelayMin time.Duration
	DelayMax time.Duration
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	CycleID   string           `json:"cycle_id"`
	Keyword   *storage.Keyword `json:"keyword"`
	StartedAt time.Time        `json:"started_at"`
	Elapsed   time.Duration    `json:"elapsed"`
	Targets   int              `json:"targets"`
	Measured  int              `json:"measured"`
	TimedOut  int              `json:"timed_out"`
	Failed    int              `json:"failed"`
	Persisted int              `json:"persisted"`
}

type Tracker struct {
	cfg      Config
	store    Store
	measurer Measurer
	logger   *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	publisher Publisher

	last   atomic.Pointer[CycleReport]
	cycles atomic.Int64
}

type Option func(*Tracker)

// WithRand sets the random source used for keyword selection and delays.
func WithRand(r *rand.Rand) Option {
	return func(t *Tracker) { t.rng = r }
}

// WithSleep replaces the wait between cycles. The function must return
// ctx.Err() when ctx is cancelled.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Tracker) { t.sleep = sleep }
}

// WithPublisher receives every persisted measurement.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

func New(cfg Config, store Store, measurer Measurer, logger *slog.Logger, opts ...Option) (*Tracker, error) {
	if cfg.DelayMin < 0 || cfg.DelayMax < cfg.DelayMin {
		return nil, fmt.Errorf("invalid delay bounds [%s, %s]", cfg.DelayMin, cfg.DelayMax)
	}
	t := &Tracker{
		cfg:      cfg,
		store:    store,
		measurer: measurer,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Preflight checks that the target store answers. The loop must not start
// when it fails.
func (t *Tracker) Preflight(ctx context.Context) error {
	targets, err := t.store.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("preflight: list targets: %w", err)
	}
	t.logger.Info("tracker ready", "targets", len(targets))
	return nil
}

// Run repeats RunCycle until ctx is cancelled. Cycle errors are logged and
// the next cycle is scheduled as usual. The delay starts once the previous
// cycle has finished.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		if _, err := t.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Error("cycle failed", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := t.NextDelay()
		t.logger.Info("next cycle scheduled", "delay", delay)
		if err := t.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// RunCycle tests every target once with a single randomly drawn keyword and
// persists the results in target order. A target that fails with anything
// other than a timeout is logged and left out of the batch.
func (t *Tracker) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{CycleID: uuid.NewString(), StartedAt: t.now()}
	log := t.logger.With("cycle_id", report.CycleID)

	targets, err := t.store.ListTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	report.Targets = len(targets)

	keyword := t.pickKeyword(ctx, log)
	report.Keyword = keyword
	var keywordID *int64
	if keyword != nil {
		id := keyword.ID
		keywordID = &id
	}

	batch := make([]*storage.Measurement, 0, len(targets))
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		res, err := t.measurer.Measure(ctx, target, keyword)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			report.Failed++
			log.Error("measure failed", "target_id", target.ID, "domain_prefix", target.DomainPrefix, "error", err)
			continue
		}

		m := &storage.Measurement{
			TargetID:    target.ID,
			KeywordID:   keywordID,
			TestedAt:    t.now(),
			Duration:    res.Duration,
			TimedOut:    res.TimedOut,
			Diagnostics: res.Diagnostics,
		}
		if res.TimedOut {
			m.Duration = 0
			report.TimedOut++
			log.Debug("measure timed out", "target_id", target.ID, "domain_prefix", target.DomainPrefix)
		} else {
			log.Debug("measured", "target_id", target.ID, "domain_prefix", target.DomainPrefix, "duration", res.Duration)
		}
		batch = append(batch, m)
	}
	report.Measured = len(batch)

	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), persistGrace)
		defer cancel()
	}
	t.persist(persistCtx, log, report, targets, batch)

	report.Elapsed = time.Since(report.StartedAt)
	t.last.Store(report)
	t.cycles.Add(1)

	log.Info("cycle complete",
		"targets", report.Targets,
		"measured", report.Measured,
		"timed_out", report.TimedOut,
		"failed", report.Failed,
		"persisted", report.Persisted,
		"elapsed", report.Elapsed,
	)
	return report, ctx.Err()
}

func (t *Tracker) pickKeyword(ctx context.Context, log *slog.Logger) *storage.Keyword {
	keywords, err := t.store.ListKeywords(ctx)
	if err != nil {
		log.Warn("keyword read failed, searching without keyword", "error", err)
		return nil
	}
	if len(keywords) == 0 {
		log.Warn("no keywords available, searching without keyword")
		return nil
	}
	t.rngMu.Lock()
	i := t.rng.IntN(len(keywords))
	t.rngMu.Unlock()
	return keywords[i]
}

func (t *Tracker) persist(ctx context.Context, log *slog.Logger, report *CycleReport, targets []*storage.Target, batch []*storage.Measurement) {
	prefixes := make(map[string]string, len(targets))
	for _, tg := range targets {
		prefixes[tg.ID] = tg.DomainPrefix
	}

	for _, m := range batch {
		id, err := t.store.RecordMeasurement(ctx, m)
		if err != nil {
			log.Error("record measurement failed", "target_id", m.TargetID, "error", err)
			continue
		}
		report.Persisted++

		if err := t.store.RecordDiagnostics(ctx, id, m.Diagnostics); err != nil {
			log.Error("record diagnostics failed", "target_id", m.TargetID, "measurement_id", id, "error", err)
		}

		if t.publisher != nil {
			ev := Event{CycleID: report.CycleID, DomainPrefix: prefixes[m.TargetID], Measurement: m}
			if report.Keyword != nil {
				ev.Keyword = report.Keyword.Text
			}
			t.publisher.Publish(ev)
		}
	}
}

// NextDelay draws a whole number of seconds uniformly from
// [DelayMin, DelayMax], both inclusive.
func (t *Tracker) NextDelay() time.Duration {
	lo := int64(t.cfg.DelayMin / time.Second)
	hi := int64(t.cfg.DelayMax / time.Second)
	t.rngMu.Lock()
	n := lo + t.rng.Int64N(hi-lo+1)
	t.rngMu.Unlock()
	return time.Duration(n) * time.Second
}

// LastCycle returns the report of the most recent cycle, or nil.
func (t *Tracker) LastCycle() *CycleReport {
	return t.last.Load()
}

// Cycles returns how many cycles have completed.
func (t *Tracker) Cycles() int64 {
	return t.cycles.Load()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
