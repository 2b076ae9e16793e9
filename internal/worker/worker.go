// Package worker executes queued batch runs and records their outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-shrink/internal/batch"
	"github.com/timkrebs/image-shrink/internal/database"
	"github.com/timkrebs/image-shrink/internal/metrics"
	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/processor"
	"github.com/timkrebs/image-shrink/internal/queue"
	"github.com/timkrebs/image-shrink/internal/storage"
)

// RunStore is the part of the run repository the worker needs
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	StartProcessing(ctx context.Context, id uuid.UUID, workerID string) error
	Complete(ctx context.Context, id uuid.UUID, summary string, processed int, retention time.Duration) error
	Fail(ctx context.Context, id uuid.UUID, errorMsg string, retention time.Duration) error
}

// Source delivers queued runs
type Source interface {
	Consume(ctx context.Context) (*queue.Message, error)
	Acknowledge(ctx context.Context, messageID string) error
	MarkFailed()
}

// Uploader copies a local file into object storage
type Uploader interface {
	UploadFile(ctx context.Context, key, filePath, contentType string) error
}

// Config holds worker settings
type Config struct {
	ID        string
	Retention time.Duration
}

// Worker consumes runs one at a time
type Worker struct {
	id        string
	retention time.Duration
	runs      RunStore
	source    Source
	runner    *batch.Runner
	uploader  Uploader
	logger    *slog.Logger
	metrics   *metrics.BatchMetrics
}

// New creates a worker. uploader and m may be nil.
func New(cfg Config, runs RunStore, source Source, runner *batch.Runner, uploader Uploader, logger *slog.Logger, m *metrics.BatchMetrics) *Worker {
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if cfg.Retention == 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &Worker{
		id:        cfg.ID,
		retention: cfg.Retention,
		runs:      runs,
		source:    source,
		runner:    runner,
		uploader:  uploader,
		logger:    logger,
		metrics:   m,
	}
}

// ID returns the worker ID recorded on the runs it executes
func (w *Worker) ID() string {
	return w.id
}

// Run consumes and executes runs until ctx is canceled
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker loop stopping")
			return
		default:
		}

		msg, err := w.source.Consume(ctx)
		if errors.Is(err, queue.ErrMalformedMessage) && msg != nil {
			w.logger.Warn("dropping malformed message", "message_id", msg.ID, "error", err)
			w.source.MarkFailed()
			w.ack(ctx, msg.ID)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("failed to consume message", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		if err := w.Handle(ctx, msg.Run); err != nil {
			w.source.MarkFailed()
			w.logger.Error("failed to process run", "run_id", msg.Run.RunID, "error", err)
		}
		w.ack(ctx, msg.ID)
	}
}

func (w *Worker) ack(ctx context.Context, messageID string) {
	if err := w.source.Acknowledge(context.WithoutCancel(ctx), messageID); err != nil {
		w.logger.Error("failed to acknowledge message", "message_id", messageID, "error", err)
	}
}

// Handle executes one queued run and stores its summary. A run that fails
// is recorded as failed and its error returned.
func (w *Worker) Handle(ctx context.Context, msg *models.RunMessage) error {
	logger := w.logger.With("run_id", msg.RunID, "kind", msg.Kind)
	// Status writes must land even while shutting down.
	storeCtx := context.WithoutCancel(ctx)

	run, err := w.runs.GetByID(ctx, msg.RunID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("run not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if run.Status == models.RunStatusCompleted || run.Status == models.RunStatusFailed {
		logger.Info("run already finished, skipping", "status", run.Status)
		return nil
	}

	if err := w.runs.StartProcessing(storeCtx, run.ID, w.id); err != nil {
		return fmt.Errorf("failed to start processing: %w", err)
	}
	logger.Info("starting run", "source_dir", run.SourceDir, "dest_dir", run.DestDir)
	finish := w.metrics.StartRun(string(run.Kind))

	summary, processed, err := w.execute(ctx, run)
	if err != nil {
		finish(string(models.RunStatusFailed))
		if fErr := w.runs.Fail(storeCtx, run.ID, err.Error(), w.retention); fErr != nil {
			logger.Error("failed to record run failure", "error", fErr)
		}
		return err
	}

	finish(string(models.RunStatusCompleted))
	if err := w.runs.Complete(storeCtx, run.ID, summary, processed, w.retention); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	logger.Info("run completed", "summary", summary, "processed", processed)
	return nil
}

// execute dispatches on the run kind and returns the summary line together
// with the number of files the operation produced.
func (w *Worker) execute(ctx context.Context, run *models.Run) (string, int, error) {
	switch run.Kind {
	case models.RunKindProcess:
		summary, err := w.runner.Process(ctx, run.SourceDir, run.DestDir)
		if err != nil {
			return "", 0, err
		}
		if err := w.mirror(ctx, run.ID, run.DestDir); err != nil {
			return "", 0, err
		}
		return summary.Message(), summary.Processed, nil

	case models.RunKindReconcile:
		results, err := w.runner.Reconcile(ctx, run.SourceDir, run.DestDir)
		if err != nil {
			return "", 0, err
		}
		replaced := 0
		for _, r := range results {
			if r.Outcome == batch.OutcomeReplaced {
				replaced++
			}
		}
		return "process complete", replaced, nil

	case models.RunKindReport:
		records, err := w.runner.Report(run.SourceDir, run.DestDir)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("%d records processed", len(records)), len(records), nil

	case models.RunKindByteReport:
		records, err := w.runner.ByteReport(ctx, run.SourceDir)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("%d records processed", len(records)), len(records), nil
	}
	return "", 0, fmt.Errorf("%w: %q", models.ErrInvalidRunKind, run.Kind)
}

// mirror uploads every image of dir under the run's object prefix
func (w *Worker) mirror(ctx context.Context, runID uuid.UUID, dir string) error {
	if w.uploader == nil {
		return nil
	}

	files, err := batch.ListImages(dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		contentType := "application/octet-stream"
		if format, err := processor.FormatFromPath(file.Name, 0); err == nil {
			contentType = format.ContentType()
		}
		if err := w.uploader.UploadFile(ctx, storage.RunObjectKey(runID, file.Name), file.Path, contentType); err != nil {
			return err
		}
	}
	w.logger.Debug("destination mirrored", "run_id", runID, "files", len(files))
	return nil
}
