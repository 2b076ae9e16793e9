package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func saveImage(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x * y), A: 255})
		}
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("Save(%s) error = %v", path, err)
	}
}

func TestProcessCommand(t *testing.T) {
	src, dest := t.TempDir(), filepath.Join(t.TempDir(), "thumbs")
	saveImage(t, filepath.Join(src, "a.png"), 600, 300)
	saveImage(t, filepath.Join(src, "b.jpg"), 300, 600)

	out, err := runCLI(t, "process", src, dest)
	if err != nil {
		t.Fatalf("process error = %v", err)
	}
	if !strings.Contains(out, "Processing complete : 2 images was processed") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dest, "a.png")); err != nil {
		t.Errorf("thumbnail missing: %v", err)
	}
}

func TestReportCommands(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	saveImage(t, filepath.Join(src, "a.png"), 100, 50)
	saveImage(t, filepath.Join(dest, "a.png"), 20, 10)

	out, err := runCLI(t, "report", src, dest)
	if err != nil {
		t.Fatalf("report error = %v", err)
	}
	if strings.TrimSpace(out) != "1 records processed" {
		t.Errorf("report output = %q", out)
	}

	out, err = runCLI(t, "bytereport", src)
	if err != nil {
		t.Fatalf("bytereport error = %v", err)
	}
	if strings.TrimSpace(out) != "1 records processed" {
		t.Errorf("bytereport output = %q", out)
	}

	saveImage(t, filepath.Join(src, "b.png"), 10, 10)
	if _, err := runCLI(t, "report", src, dest); err == nil || err.Error() != "folders does not seem to be in sync" {
		t.Errorf("report error = %v, want out of sync", err)
	}
}

func TestReconcileCommand(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	saveImage(t, filepath.Join(src, "a.png"), 10, 10)
	saveImage(t, filepath.Join(dest, "a.png"), 200, 200)

	out, err := runCLI(t, "reconcile", src, dest)
	if err != nil {
		t.Fatalf("reconcile error = %v", err)
	}
	if !strings.Contains(out, "a.png: replaced by original") || !strings.Contains(out, "process complete") {
		t.Errorf("output = %q", out)
	}
}

func TestThumbCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	saveImage(t, in, 400, 200)
	out := filepath.Join(dir, "nested", "out.jpg")

	stdout, err := runCLI(t, "thumb", in, out, "--width", "100", "--height", "100", "--strategy", "pad", "--background", "#000")
	if err != nil {
		t.Fatalf("thumb error = %v", err)
	}
	if !strings.Contains(stdout, "100x100") {
		t.Errorf("output = %q", stdout)
	}

	img, err := imaging.Open(out)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", out, err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Errorf("thumbnail = %dx%d, want 100x100", b.Dx(), b.Dy())
	}
}

func TestThumbCommand_Watermark(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	saveImage(t, in, 400, 200)
	mark := filepath.Join(dir, "mark.png")
	if err := imaging.Save(imaging.New(8, 8, color.NRGBA{B: 255, A: 255}), mark); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.png")

	if _, err := runCLI(t, "thumb", in, out, "--width", "50", "--height", "50", "--strategy", "crop", "--watermark", mark); err != nil {
		t.Fatalf("thumb error = %v", err)
	}

	img, err := imaging.Open(out)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", out, err)
	}
	if got := color.NRGBAModel.Convert(img.At(49, 49)).(color.NRGBA); got != (color.NRGBA{B: 255, A: 255}) {
		t.Errorf("corner pixel = %v, want watermark blue", got)
	}

	if _, err := runCLI(t, "thumb", in, out, "--watermark", filepath.Join(dir, "missing.png")); err == nil {
		t.Error("expected an error for a missing watermark")
	}
}

func TestShrinkCommand(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.png")
	saveImage(t, big, 1200, 1200)
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "shrink", big, notes)
	if err != nil {
		t.Fatalf("shrink error = %v", err)
	}
	if !strings.Contains(out, "big.png: ") || !strings.Contains(out, "bytes") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "notes.txt: skipped") {
		t.Errorf("output = %q, want notes.txt skipped", out)
	}
}

func TestInvalidFlags(t *testing.T) {
	tests := [][]string{
		{"thumb", "a.png", "b.png", "--strategy", "stretch"},
		{"thumb", "a.png", "b.png", "--width", "0"},
		{"thumb", "a.png", "b.png", "--width", "4194304", "--height", "4194304"},
		{"thumb", "a.png", "b.png", "--quality", "101"},
		{"thumb", "a.png", "b.png", "--edge", "smear"},
		{"process", "only-one-arg"},
	}

	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if _, err := runCLI(t, args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLogFormat(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		args       []string
		wantPrefix string
	}{
		{"environment json", "json", nil, "{"},
		{"environment text", "text", nil, "time="},
		{"flag overrides environment", "json", []string{"--log-format", "text"}, "time="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_FORMAT", tt.env)
			src, dest := t.TempDir(), t.TempDir()
			saveImage(t, filepath.Join(src, "a.png"), 40, 20)

			var out, errOut bytes.Buffer
			cmd := newRootCmd(&out, &errOut)
			cmd.SetArgs(append([]string{"process", src, dest, "--log-level", "info"}, tt.args...))
			if err := cmd.ExecuteContext(context.Background()); err != nil {
				t.Fatalf("process error = %v", err)
			}
			if !strings.HasPrefix(errOut.String(), tt.wantPrefix) {
				t.Errorf("log output = %q, want prefix %q", errOut.String(), tt.wantPrefix)
			}
		})
	}
}
