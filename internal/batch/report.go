package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/timkrebs/image-shrink/internal/geometry"
	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/processor"
)

const (
	// ReportFileName is written into the source directory by GenerateReport.
	ReportFileName = "Image.csv"
	// ByteReportFileName is written by GenerateByteArrayReport.
	ByteReportFileName = "ImageByte.csv"
)

// ErrOutOfSync is returned by Report when the two directories hold a
// different number of images.
var ErrOutOfSync = errors.New("folders does not seem to be in sync")

var reportHeader = []string{"OriginalFileName", "OrgSize", "ThumbFileName", "ThumbSize", "PercentageDiff"}

// Record is one row of a size report
type Record struct {
	OriginalFileName string
	OrgSize          int64
	ThumbFileName    string
	ThumbSize        int64
	PercentageDiff   string
}

func (r Record) row() []string {
	return []string{
		r.OriginalFileName,
		strconv.FormatInt(r.OrgSize, 10),
		r.ThumbFileName,
		strconv.FormatInt(r.ThumbSize, 10),
		r.PercentageDiff,
	}
}

// Percentage formats how much smaller portion is than total, e.g. "75 %".
func Percentage(portion, total int64) string {
	if total == 0 {
		return "0 %"
	}
	p := float64(total-portion) / float64(total) * 100
	return strconv.FormatFloat(p, 'f', -1, 64) + " %"
}

// GenerateReport compares the file sizes of srcDir and destDir pairwise,
// writes srcDir/Image.csv and returns "<n> records processed".
func (r *Runner) GenerateReport(srcDir, destDir string) string {
	records, err := r.Report(srcDir, destDir)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%d records processed", len(records))
}

// Report builds and writes the file size report. Sizes are in KB; the
// percentage is computed on exact byte counts.
func (r *Runner) Report(srcDir, destDir string) ([]Record, error) {
	originals, err := ListImages(srcDir)
	if err != nil {
		return nil, err
	}
	thumbs, err := ListImages(destDir)
	if err != nil {
		return nil, err
	}
	if len(originals) != len(thumbs) {
		return nil, ErrOutOfSync
	}

	records := make([]Record, 0, len(thumbs))
	for i := range thumbs {
		orig, thumb := originals[i], thumbs[i]
		records = append(records, Record{
			OriginalFileName: orig.Name,
			OrgSize:          orig.Size / 1024,
			ThumbFileName:    thumb.Name,
			ThumbSize:        thumb.Size / 1024,
			PercentageDiff:   Percentage(thumb.Size, orig.Size),
		})
	}

	if err := WriteCSV(filepath.Join(srcDir, ReportFileName), records); err != nil {
		return records, err
	}
	r.logger.Info("report written", "dir", srcDir, "records", len(records))
	return records, nil
}

// GenerateByteArrayReport compares the decoded pixel size of every image in
// dir with that of its thumbnail, writes dir/ImageByte.csv and returns
// "<n> records processed".
func (r *Runner) GenerateByteArrayReport(dir string) string {
	records, err := r.ByteReport(context.Background(), dir)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%d records processed", len(records))
}

// ByteReport builds and writes the packed pixel size report. Files without a
// supported extension are ignored and files that fail to decode are skipped.
func (r *Runner) ByteReport(ctx context.Context, dir string) ([]Record, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if _, err := processor.FormatFromPath(file.Name, r.quality); err != nil {
			continue
		}

		start := time.Now()
		orig, thumb, err := r.packedSizes(file.Path)
		if err != nil {
			r.logger.Warn("file failed", "file", file.Name, "error", err)
			r.metrics.ObserveFile("byte_report", string(OutcomeFailed), start)
			continue
		}
		r.metrics.ObserveFile("byte_report", string(OutcomeWritten), start)

		records = append(records, Record{
			OriginalFileName: file.Name,
			OrgSize:          orig,
			ThumbFileName:    "thumb_" + file.Name,
			ThumbSize:        thumb,
			PercentageDiff:   Percentage(thumb, orig),
		})
	}

	if err := WriteCSV(filepath.Join(dir, ByteReportFileName), records); err != nil {
		return records, err
	}
	r.logger.Info("byte report written", "dir", dir, "records", len(records))
	return records, nil
}

func (r *Runner) packedSizes(path string) (int64, int64, error) {
	src, err := r.processor.Loader().LoadFile(path)
	if err != nil {
		return 0, 0, err
	}
	defer src.Release()

	// The byte report always measures a Fit thumbnail.
	spec := r.spec
	spec.Strategy = geometry.Fit
	return r.processor.PackedSizes(src, spec)
}

// WriteCSV writes records with a header row to path. Nothing is written when
// there are no records.
func WriteCSV(path string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", models.ErrIOFailure, path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(reportHeader); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to write %s: %v", models.ErrIOFailure, path, err)
	}
	for _, rec := range records {
		if err := w.Write(rec.row()); err != nil {
			f.Close()
			return fmt.Errorf("%w: failed to write %s: %v", models.ErrIOFailure, path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to write %s: %v", models.ErrIOFailure, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %v", models.ErrIOFailure, path, err)
	}
	return nil
}
