package processor

import (
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/timkrebs/image-shrink/internal/models"
)

// DefaultJPEGQuality is used when a JPEG format carries no quality.
const DefaultJPEGQuality = 75

// FormatKind is the closed set of output codecs.
type FormatKind int

const (
	// JPEG is lossy and the only kind that takes a quality.
	JPEG FormatKind = iota + 1
	// PNG is lossless.
	PNG
	// GIF is paletted; the encoder quantizes to 256 colors.
	GIF
	// BMP is uncompressed.
	BMP
)

// String returns the lower-case codec name.
func (k FormatKind) String() string {
	switch k {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case GIF:
		return "gif"
	case BMP:
		return "bmp"
	default:
		return "unknown"
	}
}

// Format is an output codec. Quality only applies to JPEG (0-100).
type Format struct {
	Kind    FormatKind
	Quality int
}

// FormatFromPath maps a file extension to an output format. The match is on
// the final extension only, case-insensitive.
func FormatFromPath(path string, quality int) (Format, error) {
	return FormatFromExtension(filepath.Ext(path), quality)
}

// FormatFromExtension maps ".jpg", "png", etc. to an output format.
func FormatFromExtension(ext string, quality int) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "jpg", "jpeg":
		if quality < 0 || quality > 100 {
			return Format{}, fmt.Errorf("%w: jpeg quality %d out of range 0-100", models.ErrInvalidArgument, quality)
		}
		if quality == 0 {
			quality = DefaultJPEGQuality
		}
		return Format{Kind: JPEG, Quality: quality}, nil
	case "png":
		return Format{Kind: PNG}, nil
	case "gif":
		return Format{Kind: GIF}, nil
	case "bmp":
		return Format{Kind: BMP}, nil
	default:
		return Format{}, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f.Kind {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case GIF:
		return "image/gif"
	case BMP:
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the canonical file extension, including the dot.
func (f Format) Extension() string {
	if f.Kind == JPEG {
		return ".jpg"
	}
	return "." + f.Kind.String()
}

// Encode writes img to w in this format.
func (f Format) Encode(w io.Writer, img image.Image) error {
	var err error
	switch f.Kind {
	case JPEG:
		quality := f.Quality
		if quality == 0 {
			quality = DefaultJPEGQuality
		}
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case PNG:
		err = imaging.Encode(w, img, imaging.PNG)
	case GIF:
		err = imaging.Encode(w, img, imaging.GIF)
	case BMP:
		err = imaging.Encode(w, img, imaging.BMP)
	default:
		return fmt.Errorf("%w: format %v", models.ErrUnsupportedFormat, f.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.Kind, err)
	}
	return nil
}
