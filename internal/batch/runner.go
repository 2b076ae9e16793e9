// Package batch runs the directory-level operations: thumbnailing a folder,
// reconciling the thumbnails against their originals, shrinking single files
// in place and writing size reports.
//
// Files are handled one at a time. A failure on one file is recorded in its
// FileResult and never stops the rest of the run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/timkrebs/image-shrink/internal/decision"
	"github.com/timkrebs/image-shrink/internal/metrics"
	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/processor"
)

// Outcome is what happened to a single file
type Outcome string

// Per-file outcomes. Kept and Replaced only come from reconciliation.
const (
	OutcomeWritten  Outcome = "written"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeKept     Outcome = "kept"
	OutcomeReplaced Outcome = "replaced"
)

// FileResult is the per-file result of a batch operation
type FileResult struct {
	Name          string
	Outcome       Outcome
	OriginalSize  int64
	ThumbnailSize int64
	Err           error
}

// Summary aggregates a process run
type Summary struct {
	Processed  int
	Files      []FileResult
	Reconciled []FileResult
}

// Message renders the summary line shown to users
func (s *Summary) Message() string {
	return fmt.Sprintf("Processing complete : %d images was processed", s.Processed)
}

// Runner executes batch operations with one thumbnail configuration
type Runner struct {
	processor *processor.Processor
	spec      processor.Spec
	quality   int
	logger    *slog.Logger
	metrics   *metrics.BatchMetrics
}

// NewRunner creates a batch runner. metrics may be nil.
func NewRunner(proc *processor.Processor, spec processor.Spec, quality int, logger *slog.Logger, m *metrics.BatchMetrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		processor: proc,
		spec:      spec,
		quality:   quality,
		logger:    logger,
		metrics:   m,
	}
}

// ProcessImages thumbnails every image of srcDir into destDir, then
// reconciles destDir against srcDir. It always returns a summary line; errors
// outside the per-file scope are returned as their message.
func (r *Runner) ProcessImages(srcDir, destDir string) string {
	summary, err := r.Process(context.Background(), srcDir, destDir)
	if err != nil {
		return err.Error()
	}
	return summary.Message()
}

// Process is ProcessImages with the structured result. ctx is checked
// between files.
func (r *Runner) Process(ctx context.Context, srcDir, destDir string) (*Summary, error) {
	files, err := ListImages(srcDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create %s: %v", models.ErrIOFailure, destDir, err)
	}

	logger := r.logger.With("source_dir", srcDir, "dest_dir", destDir)
	logger.Info("processing images", "candidates", len(files))

	summary := &Summary{Files: make([]FileResult, 0, len(files))}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result := r.thumbnailInto(file, filepath.Join(destDir, file.Name))
		summary.Files = append(summary.Files, result)

		switch result.Outcome {
		case OutcomeWritten:
			summary.Processed++
			logger.Debug("thumbnail written", "file", file.Name,
				"original_size", result.OriginalSize, "thumbnail_size", result.ThumbnailSize)
		case OutcomeSkipped:
			logger.Debug("file skipped", "file", file.Name, "error", result.Err)
		default:
			logger.Warn("file failed", "file", file.Name, "error", result.Err)
		}
	}

	reconciled, err := r.Reconcile(ctx, srcDir, destDir)
	summary.Reconciled = reconciled
	if err != nil {
		return summary, err
	}

	logger.Info("processing complete", "processed", summary.Processed)
	return summary, nil
}

// thumbnailInto renders file and writes the encoded thumbnail to destPath.
// The thumbnail is written even when it is larger; reconciliation fixes that
// up afterwards.
func (r *Runner) thumbnailInto(file File, destPath string) FileResult {
	start := time.Now()
	result := FileResult{Name: file.Name, OriginalSize: file.Size}

	format, err := processor.FormatFromPath(file.Name, r.quality)
	if err != nil {
		result.Outcome, result.Err = OutcomeSkipped, err
		r.metrics.ObserveFile("process", string(result.Outcome), start)
		return result
	}

	rendered, err := r.render(file.Path, format)
	if err == nil {
		err = os.WriteFile(destPath, rendered.Data, 0o644)
		if err != nil {
			err = fmt.Errorf("%w: failed to write %s: %v", models.ErrIOFailure, destPath, err)
		}
	}
	if err != nil {
		result.Outcome, result.Err = OutcomeFailed, err
	} else {
		result.Outcome = OutcomeWritten
		result.ThumbnailSize = int64(len(rendered.Data))
		r.metrics.AddBytesSaved(result.OriginalSize - result.ThumbnailSize)
	}

	r.metrics.ObserveFile("process", string(result.Outcome), start)
	return result
}

// render loads path and encodes its thumbnail. Both the source buffer and
// the canvas are released before it returns.
func (r *Runner) render(path string, format processor.Format) (*processor.ProcessResult, error) {
	src, err := r.processor.Loader().LoadFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Release()

	return r.processor.Render(src, format, r.spec)
}

// PostProcess reconciles destDir against srcDir and returns "process
// complete", or the error message if reconciliation failed.
func (r *Runner) PostProcess(srcDir, destDir string) string {
	if _, err := r.Reconcile(context.Background(), srcDir, destDir); err != nil {
		return err.Error()
	}
	return "process complete"
}

// Reconcile walks the image files of srcDir and destDir pairwise by position
// and replaces every destination file that is not smaller than its original
// with a copy of the original. Only the overlapping prefix of the two
// listings is visited; differing counts are not an error. The first I/O
// failure stops the walk.
func (r *Runner) Reconcile(ctx context.Context, srcDir, destDir string) ([]FileResult, error) {
	originals, err := ListImages(srcDir)
	if err != nil {
		return nil, err
	}
	thumbs, err := ListImages(destDir)
	if err != nil {
		return nil, err
	}

	n := min(len(originals), len(thumbs))
	if len(originals) != len(thumbs) {
		r.logger.Warn("reconciling directories with different image counts",
			"source_count", len(originals), "dest_count", len(thumbs), "pairs", n)
	}

	results := make([]FileResult, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		orig, thumb := originals[i], thumbs[i]
		result := FileResult{Name: thumb.Name, OriginalSize: orig.Size, ThumbnailSize: thumb.Size}

		if orig.Name != thumb.Name {
			r.logger.Warn("reconciling files with different names",
				"position", i, "original", orig.Name, "file", thumb.Name)
		}

		if decision.Reconcile(orig.Size, thumb.Size) == decision.Skip {
			result.Outcome = OutcomeKept
		} else {
			if err := copyFile(orig.Path, thumb.Path); err != nil {
				result.Outcome, result.Err = OutcomeFailed, err
				results = append(results, result)
				r.metrics.ObserveFile("reconcile", string(result.Outcome), start)
				return results, err
			}
			result.Outcome = OutcomeReplaced
			r.logger.Debug("thumbnail replaced by original", "file", thumb.Name, "original", orig.Name)
		}

		results = append(results, result)
		r.metrics.ObserveFile("reconcile", string(result.Outcome), start)
	}
	return results, nil
}

// ShrinkFile thumbnails path and overwrites it only when the encoded
// thumbnail is strictly smaller than the file on disk. Unsupported formats
// yield OutcomeSkipped and ErrUnsupportedFormat.
func (r *Runner) ShrinkFile(ctx context.Context, path string) (FileResult, error) {
	start := time.Now()
	result := FileResult{Name: filepath.Base(path)}

	finish := func(outcome Outcome, err error) (FileResult, error) {
		result.Outcome, result.Err = outcome, err
		r.metrics.ObserveFile("shrink", string(outcome), start)
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return finish(OutcomeFailed, err)
	}

	format, err := processor.FormatFromPath(path, r.quality)
	if err != nil {
		return finish(OutcomeSkipped, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return finish(OutcomeFailed, fmt.Errorf("%w: failed to stat %s: %v", models.ErrIOFailure, path, err))
	}
	result.OriginalSize = info.Size()

	rendered, err := r.render(path, format)
	if err != nil {
		return finish(OutcomeFailed, err)
	}
	result.ThumbnailSize = int64(len(rendered.Data))

	if !decision.AcceptThumbnail(result.ThumbnailSize, result.OriginalSize) {
		r.logger.Debug("thumbnail not smaller, original kept", "file", path,
			"original_size", result.OriginalSize, "thumbnail_size", result.ThumbnailSize)
		return finish(OutcomeKept, nil)
	}

	if err := writeFileAtomic(path, rendered.Data); err != nil {
		return finish(OutcomeFailed, err)
	}
	r.metrics.AddBytesSaved(result.OriginalSize - result.ThumbnailSize)
	r.logger.Debug("file shrunk", "file", path,
		"original_size", result.OriginalSize, "thumbnail_size", result.ThumbnailSize)
	return finish(OutcomeWritten, nil)
}

// IsSkipped reports whether err only means the file was not an image format
// the runner can encode.
func IsSkipped(err error) bool {
	return errors.Is(err, models.ErrUnsupportedFormat)
}
