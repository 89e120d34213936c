package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/ledger"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/storage"
)

const workerBatch = 50

// Worker picks up what the request path left behind: records whose
// confirmation outlived the poll window, records that never got a ledger
// reference, complaints whose last attempt failed and complaints whose
// first attempt never started.
type Worker struct {
	anchorer     *Anchorer
	interval     time.Duration
	maxAttempts  int
	staleAfter   time.Duration
	abandonAfter time.Duration
	log         logger.Logger
	now         func() time.Time
}

func NewWorker(a *Anchorer, interval time.Duration, maxAttempts int, log logger.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxAnchorAttempts
	}
	return &Worker{
		anchorer:     a,
		interval:     interval,
		maxAttempts:  maxAttempts,
		staleAfter:   config.StalePendingAfter,
		abandonAfter: config.AbandonPendingAfter,
		log:          log.With(logger.String("component", "verification_worker")),
		now:          time.Now,
	}
}

// TickStats counts what one pass did.
type TickStats struct {
	Confirmed int
	Failed    int
	Pending   int
	Retried   int
	// Recovered counts complaints anchored for the first time by the worker.
	Recovered int
}

// Run ticks until ctx ends and then waits for the retries it started.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer w.anchorer.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats, err := w.Tick(ctx)
			if err != nil {
				w.log.Error("verification tick", logger.Error(err))
				continue
			}
			if stats != (TickStats{}) {
				w.log.Info("verification tick",
					logger.Int("confirmed", stats.Confirmed),
					logger.Int("failed", stats.Failed),
					logger.Int("pending", stats.Pending),
					logger.Int("retried", stats.Retried),
					logger.Int("recovered", stats.Recovered))
			}
		}
	}
}

// Tick resolves pending records and starts background anchoring of failed
// complaints and of complaints that never got a record.
func (w *Worker) Tick(ctx context.Context) (TickStats, error) {
	stats, err := w.resolvePending(ctx)
	if err != nil {
		return stats, err
	}

	retry, err := w.anchorer.store.RetryableComplaints(ctx, w.maxAttempts, workerBatch)
	if err != nil {
		return stats, err
	}
	for _, c := range retry {
		w.anchorer.AnchorAsync(c.ID)
		stats.Retried++
	}

	orphans, err := w.anchorer.store.UnanchoredComplaints(ctx, w.now().Add(-w.staleAfter), workerBatch)
	if err != nil {
		return stats, err
	}
	for _, c := range orphans {
		if w.anchorer.busy(c.ID) {
			continue
		}
		w.anchorer.AnchorAsync(c.ID)
		stats.Recovered++
	}
	return stats, nil
}

// RetryFailed re-anchors every retryable complaint and waits for each. It
// returns how many attempts ended confirmed.
func (w *Worker) RetryFailed(ctx context.Context) (int, error) {
	retry, err := w.anchorer.store.RetryableComplaints(ctx, w.maxAttempts, 0)
	if err != nil {
		return 0, err
	}
	confirmed := 0
	for _, c := range retry {
		rec, err := w.anchorer.Anchor(ctx, c.ID)
		if err != nil {
			w.log.Warn("retry failed", logger.String("complaint_id", c.ID), logger.Error(err))
			continue
		}
		if rec.Status == models.RecordConfirmed {
			confirmed++
		}
	}
	return confirmed, nil
}

func (w *Worker) resolvePending(ctx context.Context) (TickStats, error) {
	var stats TickStats
	pending, err := w.anchorer.store.PendingVerifications(ctx, workerBatch)
	if err != nil {
		return stats, err
	}

	for i := range pending {
		rec := &pending[i]
		if w.anchorer.busy(rec.ComplaintID) {
			continue
		}

		if rec.ExternalRef == "" {
			if w.now().Sub(rec.CreatedAt) > w.staleAfter {
				w.anchorer.fail(ctx, rec, "submission never completed")
				stats.Failed++
			} else {
				stats.Pending++
			}
			continue
		}

		if w.now().Sub(rec.CreatedAt) > w.abandonAfter {
			w.anchorer.fail(ctx, rec, fmt.Sprintf("no confirmation within %s", w.abandonAfter))
			stats.Failed++
			continue
		}

		conf, err := w.anchorer.client.Confirm(ctx, rec.ExternalRef)
		if errors.Is(err, ledger.ErrNotFound) && w.now().Sub(rec.CreatedAt) > w.staleAfter {
			w.anchorer.fail(ctx, rec, "transaction dropped by the ledger")
			stats.Failed++
			continue
		}
		if err != nil {
			if !ledger.IsRetryable(err) && !errors.Is(err, ledger.ErrNotFound) {
				w.log.Warn("confirm pending record", logger.String("record_id", rec.ID), logger.Error(err))
			}
			stats.Pending++
			continue
		}
		switch conf.State {
		case ledger.StatePending:
			stats.Pending++
			continue
		case ledger.StateIncluded:
			stats.Confirmed++
		case ledger.StateRejected:
			stats.Failed++
		}
		w.anchorer.finalize(ctx, rec, conf)
	}
	return stats, nil
}

var _ Store = (*storage.Service)(nil)
