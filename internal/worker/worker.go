// Package worker runs the reconciliation loop that settles purchases left
// pending by the synchronous verify path.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/railverify/internal/metrics"
	"github.com/roach88/railverify/internal/purchase"
	"github.com/roach88/railverify/internal/store"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultInterval   = 15 * time.Second
	DefaultBatchSize  = 50
	DefaultRowTimeout = 30 * time.Second
)

// PendingQueue is the pending-purchase queue the worker drains.
// *store.Store implements it.
type PendingQueue interface {
	// ListPendingPurchases returns pending purchases, least recently
	// attempted first.
	ListPendingPurchases(ctx context.Context, limit int) ([]store.Purchase, error)
	// TouchPurchase marks an attempt on a purchase that is still pending,
	// moving it to the back of the queue.
	TouchPurchase(ctx context.Context, id string) (bool, error)
}

// Reconciler settles one pending purchase. *purchase.Service implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, p store.Purchase) (purchase.Result, error)
}

// Config tunes the loop.
type Config struct {
	Interval   time.Duration
	BatchSize  int
	RowTimeout time.Duration
}

// CycleStats summarises one batch.
type CycleStats struct {
	Scanned   int
	Completed int
	Failed    int
	Pending   int
	Skipped   int
	Errors    int
}

// Worker periodically reconciles pending purchases.
type Worker struct {
	pending PendingQueue
	rec     Reconciler
	cfg     Config
	logger  *slog.Logger
}

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New creates a Worker.
func New(pending PendingQueue, rec Reconciler, cfg Config, opts ...Option) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RowTimeout <= 0 {
		cfg.RowTimeout = DefaultRowTimeout
	}
	w := &Worker{
		pending: pending,
		rec:     rec,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes a batch immediately and then once per interval until ctx
// is cancelled. Cycle errors are logged; Run only returns on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("reconciliation worker started",
		"interval", w.cfg.Interval,
		"batch_size", w.cfg.BatchSize,
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("reconciliation cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("reconciliation worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles one batch of pending purchases sequentially. A failing
// row is counted and logged; the rest of the batch still runs. The returned
// error is non-nil only when the batch could not be listed.
func (w *Worker) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	batch, err := w.pending.ListPendingPurchases(ctx, w.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("list pending purchases: %w", err)
	}
	metrics.WorkerCyclesTotal.Inc()
	metrics.WorkerBatchSize.Observe(float64(len(batch)))
	stats.Scanned = len(batch)

	for _, p := range batch {
		if ctx.Err() != nil {
			break
		}

		res, err := w.reconcileRow(ctx, p)
		if err != nil {
			stats.Errors++
			metrics.WorkerRowErrorsTotal.Inc()
			w.logger.Warn("reconcile purchase failed",
				"purchase_id", p.ID,
				"rail", p.Key(),
				"error", err,
			)
		}

		w.touch(ctx, p, res)

		switch res.Disposition {
		case purchase.DispositionCompleted:
			stats.Completed++
		case purchase.DispositionFailed:
			stats.Failed++
		case purchase.DispositionSkipped:
			stats.Skipped++
		case purchase.DispositionPending:
			if err == nil {
				stats.Pending++
			}
		}
	}

	w.logger.Info("reconciliation cycle",
		"scanned", stats.Scanned,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"pending", stats.Pending,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	return stats, nil
}

// touch records the attempt on a row that is still pending so the next
// batch starts with rows that have waited longest.
func (w *Worker) touch(ctx context.Context, p store.Purchase, res purchase.Result) {
	switch res.Disposition {
	case purchase.DispositionCompleted, purchase.DispositionFailed, purchase.DispositionAlreadyFinal:
		return
	}
	if ctx.Err() != nil {
		return
	}
	if _, err := w.pending.TouchPurchase(ctx, p.ID); err != nil {
		w.logger.Warn("touch pending purchase failed", "purchase_id", p.ID, "error", err)
	}
}

// reconcileRow runs one row under its own timeout. A panic is converted to
// an error so one malformed row cannot stop the loop.
func (w *Worker) reconcileRow(ctx context.Context, p store.Purchase) (res purchase.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RowTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = purchase.Result{Purchase: p}
			err = fmt.Errorf("panic reconciling %s: %v", p.ID, r)
		}
	}()

	return w.rec.Reconcile(ctx, p)
}
