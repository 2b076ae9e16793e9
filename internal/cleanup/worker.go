// Package cleanup expires finished runs and the objects mirrored for them.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/storage"
)

// RunStore is the part of the run repository the cleanup worker needs
type RunStore interface {
	ListExpired(ctx context.Context, limit int) ([]*models.Run, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ObjectRemover deletes mirrored objects by key prefix
type ObjectRemover interface {
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

// Worker handles periodic cleanup of expired runs and their mirrored files
type Worker struct {
	runs      RunStore
	objects   ObjectRemover
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// Config holds cleanup worker configuration
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// NewWorker creates a new cleanup worker. objects may be nil when nothing is
// mirrored.
func NewWorker(runs RunStore, objects ObjectRemover, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	return &Worker{
		runs:      runs,
		objects:   objects,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Start runs cleanup cycles until ctx is canceled
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("cleanup worker started", "interval", w.interval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("cleanup failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single cleanup cycle and returns how many runs were removed
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	startTime := time.Now()

	runs, err := w.runs.ListExpired(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	if len(runs) == 0 {
		w.logger.Debug("no runs to cleanup")
		return 0, nil
	}

	cleaned := 0
	errorCount := 0
	for _, run := range runs {
		if err := w.cleanupRun(ctx, run); err != nil {
			w.logger.Error("failed to cleanup run", "run_id", run.ID, "error", err)
			errorCount++
			continue
		}
		cleaned++
	}

	w.logger.Info("cleanup cycle completed",
		"duration_ms", time.Since(startTime).Milliseconds(),
		"cleaned", cleaned,
		"errors", errorCount,
		"total", len(runs),
	)
	return cleaned, nil
}

// cleanupRun removes the mirrored objects of a run, then its row. The row
// is kept when the objects could not be removed so the next cycle retries.
func (w *Worker) cleanupRun(ctx context.Context, run *models.Run) error {
	logger := w.logger.With("run_id", run.ID)

	if w.objects != nil && run.Kind == models.RunKindProcess {
		prefix := storage.RunPrefix(run.ID)
		removed, err := w.objects.RemovePrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("deleted mirrored files", "prefix", prefix, "count", removed)
		}
	}

	if err := w.runs.Delete(ctx, run.ID); err != nil {
		return err
	}
	logger.Debug("run cleaned up")
	return nil
}
