package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/timkrebs/image-shrink/internal/metrics"
	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/processor"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(processor.New(nil), processor.DefaultSpec(), 75, logger, nil)
}

// writeFile creates dir/name holding size bytes of filler
func writeFile(t *testing.T, dir, name string, size int, fill byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bytes.Repeat([]byte{fill}, size), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// writeImage encodes a gradient of the given size to dir/name
func writeImage(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 3), B: uint8(x ^ y), A: 255})
		}
	}
	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		t.Fatalf("FormatFromFilename(%s) error = %v", name, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat(%s) error = %v", path, err)
	}
	return info.Size()
}

func TestIsImageName(t *testing.T) {
	tests := map[string]bool{
		"poster.jpg":    true,
		"POSTER.JPEG":   true,
		"icon.png":      true,
		"anim.gif":      true,
		"scan.bmp":      true,
		"readme.md":     false,
		"Image.csv":     false,
		"notes.jpg.txt": true, // substring match, not suffix
		"png-notes.txt": true,
	}
	for name, want := range tests {
		if got := IsImageName(name); got != want {
			t.Errorf("IsImageName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.png", 10, 1)
	writeFile(t, dir, "a.jpg", 20, 1)
	writeFile(t, dir, "readme.md", 5, 1)
	if err := os.Mkdir(filepath.Join(dir, "c.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}
	if files[0].Name != "a.jpg" || files[0].Size != 20 || files[1].Name != "b.png" {
		t.Errorf("files = %+v, want a.jpg(20) then b.png", files)
	}

	if _, err := ListImages(filepath.Join(dir, "missing")); !errors.Is(err, models.ErrIOFailure) {
		t.Errorf("missing dir: error = %v, want ErrIOFailure", err)
	}
}

func TestReconcile_PositionalPairing(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeFile(t, src, "a.jpg", 100, 'a')
	writeFile(t, src, "b.jpg", 300, 'b')
	writeFile(t, src, "c.jpg", 50, 'c')
	writeFile(t, dest, "a.jpg", 200, 'x')
	writeFile(t, dest, "b.jpg", 100, 'y')

	r := newTestRunner(t)
	results, err := r.Reconcile(context.Background(), src, dest)
	if err != nil {
		t.Fatalf("Reconcile() with 3 vs 2 files error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want only the 2 overlapping pairs", len(results))
	}

	if results[0].Outcome != OutcomeReplaced {
		t.Errorf("a.jpg outcome = %v, want replaced (original 100 <= thumb 200)", results[0].Outcome)
	}
	if results[1].Outcome != OutcomeKept {
		t.Errorf("b.jpg outcome = %v, want kept (original 300 > thumb 100)", results[1].Outcome)
	}

	got, _ := os.ReadFile(filepath.Join(dest, "a.jpg"))
	if !bytes.Equal(got, bytes.Repeat([]byte{'a'}, 100)) {
		t.Error("dest a.jpg should now be a copy of the original")
	}
	if fileSize(t, filepath.Join(dest, "b.jpg")) != 100 {
		t.Error("dest b.jpg should be untouched")
	}
	if _, err := os.Stat(filepath.Join(dest, "c.jpg")); !os.IsNotExist(err) {
		t.Error("c.jpg has no counterpart and must not be created in dest")
	}
}

func TestReconcile_PairsByPositionNotName(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeFile(t, src, "original.jpg", 10, 'o')
	writeFile(t, dest, "thumb.jpg", 10, 't')

	r := newTestRunner(t)
	results, err := r.Reconcile(context.Background(), src, dest)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeReplaced {
		t.Fatalf("results = %+v, want one replaced pair (equal sizes)", results)
	}

	got, _ := os.ReadFile(filepath.Join(dest, "thumb.jpg"))
	if !bytes.Equal(got, bytes.Repeat([]byte{'o'}, 10)) {
		t.Error("thumb.jpg should hold the content of original.jpg")
	}
}

func TestReconcile_WarnsOnNameMismatch(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeFile(t, src, "a.jpg", 10, 'a')
	writeFile(t, src, "c.jpg", 10, 'c')
	writeFile(t, dest, "a.jpg", 20, 'x')
	writeFile(t, dest, "b.jpg", 20, 'y')

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	r := NewRunner(processor.New(nil), processor.DefaultSpec(), 75, logger, nil)

	if _, err := r.Reconcile(context.Background(), src, dest); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	out := logs.String()
	if strings.Count(out, "reconciling files with different names") != 1 {
		t.Fatalf("logs = %q, want one name mismatch warning", out)
	}
	if !strings.Contains(out, "original=c.jpg") || !strings.Contains(out, "file=b.jpg") {
		t.Errorf("warning should name both files, got %q", out)
	}
}

func TestBytesSaved_CountedOnlyForWrittenThumbnails(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "thumbs")
	writeImage(t, src, "a.png", 1000, 500)

	m := metrics.NewBatchMetrics("imageshrink_batch_test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(processor.New(nil), processor.DefaultSpec(), 75, logger, m)

	summary, err := r.Process(context.Background(), src, dest)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	file := summary.Files[0]
	want := float64(file.OriginalSize - file.ThumbnailSize)
	if want <= 0 {
		t.Fatalf("thumbnail %d bytes is not smaller than original %d", file.ThumbnailSize, file.OriginalSize)
	}
	if got := testutil.ToFloat64(m.BytesSaved); got != want {
		t.Errorf("bytes saved after process = %v, want %v", got, want)
	}

	for i := 0; i < 2; i++ {
		if _, err := r.Reconcile(context.Background(), src, dest); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
	}
	if got := testutil.ToFloat64(m.BytesSaved); got != want {
		t.Errorf("bytes saved after repeated reconcile = %v, want %v", got, want)
	}
}

func TestPostProcess(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeFile(t, src, "a.png", 10, 1)
	writeFile(t, dest, "a.png", 20, 2)

	r := newTestRunner(t)
	if got := r.PostProcess(src, dest); got != "process complete" {
		t.Errorf("PostProcess() = %q, want %q", got, "process complete")
	}

	missing := filepath.Join(src, "missing")
	got := r.PostProcess(src, missing)
	if got == "process complete" || !strings.Contains(got, "missing") {
		t.Errorf("PostProcess() on missing dir = %q, want the error message", got)
	}
}

func TestProcessImages(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "thumbs")

	large := writeImage(t, src, "a_large.png", 1000, 500)
	small := writeImage(t, src, "b_small.png", 10, 10)
	writeFile(t, src, "c_broken.jpg", 64, 0)
	writeFile(t, src, "d_notes.jpg.txt", 32, 0)
	writeFile(t, src, "readme.md", 16, 0)

	r := newTestRunner(t)
	got := r.ProcessImages(src, dest)
	if got != "Processing complete : 2 images was processed" {
		t.Fatalf("ProcessImages() = %q", got)
	}

	largeThumb := filepath.Join(dest, "a_large.png")
	if fileSize(t, largeThumb) >= fileSize(t, large) {
		t.Error("large image thumbnail should be kept smaller than the original")
	}
	img, err := imaging.Open(largeThumb)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if img.Bounds().Dx() != 293 || img.Bounds().Dy() != 146 {
		t.Errorf("thumbnail bounds = %v, want 293x146", img.Bounds())
	}

	// A 10x10 source is upscaled, so the original replaces it.
	smallDest, _ := os.ReadFile(filepath.Join(dest, "b_small.png"))
	smallOrig, _ := os.ReadFile(small)
	if !bytes.Equal(smallDest, smallOrig) {
		t.Error("small image should have been replaced by its original")
	}

	for _, name := range []string{"c_broken.jpg", "d_notes.jpg.txt", "readme.md"} {
		if _, err := os.Stat(filepath.Join(dest, name)); !os.IsNotExist(err) {
			t.Errorf("%s should not be written to dest", name)
		}
	}
}

func TestProcess_Summary(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeImage(t, src, "a.png", 200, 100)
	writeFile(t, src, "b.jpg", 64, 0)
	writeFile(t, src, "c.jpg.txt", 8, 0)

	r := newTestRunner(t)
	summary, err := r.Process(context.Background(), src, dest)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}

	outcomes := map[string]Outcome{}
	for _, f := range summary.Files {
		outcomes[f.Name] = f.Outcome
	}
	want := map[string]Outcome{"a.png": OutcomeWritten, "b.jpg": OutcomeFailed, "c.jpg.txt": OutcomeSkipped}
	for name, outcome := range want {
		if outcomes[name] != outcome {
			t.Errorf("%s outcome = %v, want %v", name, outcomes[name], outcome)
		}
	}
	for _, f := range summary.Files {
		if f.Name == "b.jpg" && !errors.Is(f.Err, models.ErrDecodeFailure) {
			t.Errorf("b.jpg error = %v, want ErrDecodeFailure", f.Err)
		}
		if f.Name == "c.jpg.txt" && !IsSkipped(f.Err) {
			t.Errorf("c.jpg.txt error = %v, want unsupported format", f.Err)
		}
	}
}

func TestProcess_Cancelled(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeImage(t, src, "a.png", 20, 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(t)
	if _, err := r.Process(ctx, src, dest); !errors.Is(err, context.Canceled) {
		t.Errorf("Process() error = %v, want context.Canceled", err)
	}
}

func TestProcessImages_MissingSource(t *testing.T) {
	r := newTestRunner(t)
	missing := filepath.Join(t.TempDir(), "nope")

	got := r.ProcessImages(missing, t.TempDir())
	if strings.HasPrefix(got, "Processing complete") {
		t.Errorf("ProcessImages() = %q, want an error message", got)
	}
}

func TestShrinkFile(t *testing.T) {
	t.Run("smaller thumbnail replaces file", func(t *testing.T) {
		dir := t.TempDir()
		path := writeImage(t, dir, "poster.png", 1000, 500)
		before := fileSize(t, path)

		r := newTestRunner(t)
		result, err := r.ShrinkFile(context.Background(), path)
		if err != nil {
			t.Fatalf("ShrinkFile() error = %v", err)
		}
		if result.Outcome != OutcomeWritten {
			t.Fatalf("Outcome = %v, want written", result.Outcome)
		}
		if after := fileSize(t, path); after >= before || after != result.ThumbnailSize {
			t.Errorf("size after = %d, before = %d, thumbnail = %d", after, before, result.ThumbnailSize)
		}
	})

	t.Run("larger thumbnail keeps original", func(t *testing.T) {
		dir := t.TempDir()
		path := writeImage(t, dir, "tiny.png", 8, 8)
		before, _ := os.ReadFile(path)

		r := newTestRunner(t)
		result, err := r.ShrinkFile(context.Background(), path)
		if err != nil {
			t.Fatalf("ShrinkFile() error = %v", err)
		}
		if result.Outcome != OutcomeKept {
			t.Errorf("Outcome = %v, want kept", result.Outcome)
		}
		after, _ := os.ReadFile(path)
		if !bytes.Equal(before, after) {
			t.Error("original file should be untouched")
		}
	})

	t.Run("unsupported format is skipped", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "scan.tiff", 10, 0)

		r := newTestRunner(t)
		result, err := r.ShrinkFile(context.Background(), path)
		if !errors.Is(err, models.ErrUnsupportedFormat) {
			t.Errorf("ShrinkFile() error = %v, want ErrUnsupportedFormat", err)
		}
		if result.Outcome != OutcomeSkipped {
			t.Errorf("Outcome = %v, want skipped", result.Outcome)
		}
	})
}
