package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"

	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/pixbuf"
)

const (
	// DefaultMaxImageDimension is the largest source width or height decoded
	// unless SetLimits says otherwise.
	DefaultMaxImageDimension = 16384
	// DefaultMaxImagePixels caps the source area (about 200MB as NRGBA).
	DefaultMaxImagePixels = 50_000_000
)

// Loader decodes images from disk, raw streams and HTTP(S) URLs.
type Loader struct {
	client       *http.Client
	maxFetchSize int64
	maxDimension int
	maxPixels    int
}

// NewLoader creates a loader whose URL fetches time out after timeout and
// refuse bodies larger than maxFetchSize bytes.
func NewLoader(timeout time.Duration, maxFetchSize int64) *Loader {
	return &Loader{
		client:       &http.Client{Timeout: timeout},
		maxFetchSize: maxFetchSize,
		maxDimension: DefaultMaxImageDimension,
		maxPixels:    DefaultMaxImagePixels,
	}
}

// SetLimits changes the largest source side and area the loader decodes.
// Values above the pixel buffer maximums are capped to them.
func (l *Loader) SetLimits(maxDimension, maxPixels int) {
	if maxDimension <= 0 || maxDimension > pixbuf.MaxDimension {
		maxDimension = pixbuf.MaxDimension
	}
	if maxPixels <= 0 || maxPixels > pixbuf.MaxPixels {
		maxPixels = pixbuf.MaxPixels
	}
	l.maxDimension = maxDimension
	l.maxPixels = maxPixels
}

// IsURL reports whether location names an HTTP(S) resource.
func IsURL(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Load decodes the image at location, which is either a local path or an
// HTTP(S) URL.
func (l *Loader) Load(ctx context.Context, location string) (*pixbuf.Buffer, error) {
	if IsURL(location) {
		return l.LoadURL(ctx, location)
	}
	return l.LoadFile(location)
}

// LoadFile decodes an image from the local filesystem
func (l *Loader) LoadFile(path string) (*pixbuf.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", models.ErrIOFailure, path, err)
	}
	defer f.Close()

	return l.LoadReader(f)
}

// LoadBytes decodes an in-memory image
func (l *Loader) LoadBytes(data []byte) (*pixbuf.Buffer, error) {
	return l.LoadReader(bytes.NewReader(data))
}

// LoadReader decodes an image from r. The header is checked against the
// loader limits before any pixel memory is allocated. Paletted and gray
// sources are converted to NRGBA.
func (l *Loader) LoadReader(r io.Reader) (*pixbuf.Buffer, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecodeFailure, err)
	}
	if err := pixbuf.CheckDimensions(cfg.Width, cfg.Height, l.maxDimension, l.maxPixels); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecodeFailure, err)
	}
	buf, err := pixbuf.FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecodeFailure, err)
	}
	return buf, nil
}

// LoadURL fetches the whole body into memory and then decodes it.
func (l *Loader) LoadURL(ctx context.Context, url string) (*pixbuf.Buffer, error) {
	data, err := l.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return l.LoadBytes(data)
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %v", models.ErrIOFailure, url, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch %s: %v", models.ErrIOFailure, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s returned status %d", models.ErrIOFailure, url, resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if l.maxFetchSize > 0 {
		body = io.LimitReader(resp.Body, l.maxFetchSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", models.ErrIOFailure, url, err)
	}
	if l.maxFetchSize > 0 && int64(len(data)) > l.maxFetchSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", models.ErrIOFailure, url, l.maxFetchSize)
	}
	return data, nil
}
