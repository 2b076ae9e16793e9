package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/timkrebs/image-shrink/internal/models"
)

// imageExtensions are matched anywhere in the lower-cased file name, so
// "notes.jpg.txt" is listed too. Encoding still requires a real extension.
var imageExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp"}

// File is one directory entry taking part in a batch run
type File struct {
	Name string
	Path string
	Size int64
}

// IsImageName reports whether name looks like an image file.
func IsImageName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range imageExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// ListImages returns the image files directly inside dir, ordered by name.
func ListImages(dir string) ([]File, error) {
	return listFiles(dir, IsImageName)
}

// ListFiles returns every regular file directly inside dir, ordered by name.
func ListFiles(dir string) ([]File, error) {
	return listFiles(dir, func(string) bool { return true })
}

func listFiles(dir string, keep func(name string) bool) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %v", models.ErrIOFailure, dir, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !keep(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to stat %s: %v", models.ErrIOFailure, entry.Name(), err)
		}
		files = append(files, File{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// copyFile replaces dst with a copy of src.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", models.ErrIOFailure, src, err)
	}
	defer in.Close()

	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove %s: %v", models.ErrIOFailure, dst, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", models.ErrIOFailure, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: failed to copy %s: %v", models.ErrIOFailure, src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %v", models.ErrIOFailure, dst, err)
	}
	return nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".shrink-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", models.ErrIOFailure, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write %s: %v", models.ErrIOFailure, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write %s: %v", models.ErrIOFailure, path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to chmod %s: %v", models.ErrIOFailure, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to replace %s: %v", models.ErrIOFailure, path, err)
	}
	return nil
}
