package storage

import (
	"context"
	"log/slog"
	"time"
)

const defaultRetentionPeriod = 6 * time.Hour

// Purger is the part of Store the retention worker needs.
type Purger interface {
	PurgeMeasurementsBefore(ctx context.Context, before time.Time) (int64, error)
}

// RetentionWorker deletes measurements older than a fixed number of days.
type RetentionWorker struct {
	store  Purger
	keep   time.Duration
	period time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRetentionWorker returns a worker keeping retentionDays of history and
// purging every period. retentionDays <= 0 keeps everything.
func NewRetentionWorker(store Purger, retentionDays int, period time.Duration, logger *slog.Logger) *RetentionWorker {
	if period <= 0 {
		period = defaultRetentionPeriod
	}
	return &RetentionWorker{
		store:  store,
		keep:   time.Duration(retentionDays) * 24 * time.Hour,
		period: period,
		logger: logger,
		now:    time.Now,
	}
}

// Run purges immediately, then once per period until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) error {
	if w.keep <= 0 {
		w.logger.Debug("retention disabled")
		return nil
	}

	w.purgeOnce(ctx)

	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.purgeOnce(ctx)
		}
	}
}

func (w *RetentionWorker) purgeOnce(ctx context.Context) {
	cutoff := w.now().Add(-w.keep)
	n, err := w.store.PurgeMeasurementsBefore(ctx, cutoff)
	switch {
	case err != nil:
		w.logger.Error("retention purge failed", "cutoff", cutoff, "error", err)
	case n > 0:
		w.logger.Info("old measurements purged", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}
