// Package processor turns decoded images into encoded thumbnails: codec
// selection, loading from disk or HTTP, Catmull-Rom blitting and canvas
// composition.
package processor

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/timkrebs/image-shrink/internal/geometry"
	"github.com/timkrebs/image-shrink/internal/pixbuf"
)

// Processor renders and encodes thumbnails
type Processor struct {
	loader *Loader
}

// New creates a processor. A nil loader gets a 30s / 50MB URL fetch limit.
func New(loader *Loader) *Processor {
	if loader == nil {
		loader = NewLoader(30*time.Second, 50<<20)
	}
	return &Processor{loader: loader}
}

// Loader returns the loader used for decoding
func (p *Processor) Loader() *Loader {
	return p.loader
}

// ProcessResult contains the encoded thumbnail and metadata
type ProcessResult struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	// PackedSize is the canvas length as packed pixels (width*height*4).
	PackedSize int64
	Placement  geometry.Placement
}

// Process decodes an image from reader, renders it per spec and encodes the
// canvas in format.
func (p *Processor) Process(reader io.Reader, format Format, spec Spec) (*ProcessResult, error) {
	src, err := p.loader.LoadReader(reader)
	if err != nil {
		return nil, err
	}
	defer src.Release()

	return p.Render(src, format, spec)
}

// Render builds the thumbnail of an already decoded source. The canvas is
// released before Render returns; only the encoded bytes survive.
func (p *Processor) Render(src *pixbuf.Buffer, format Format, spec Spec) (*ProcessResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	canvas, placement, err := Thumbnail(src, spec)
	if err != nil {
		return nil, err
	}
	defer canvas.Release()

	view, err := canvas.View()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := format.Encode(&buf, view); err != nil {
		return nil, err
	}

	return &ProcessResult{
		Data:        buf.Bytes(),
		ContentType: format.ContentType(),
		Width:       canvas.Width(),
		Height:      canvas.Height(),
		PackedSize:  canvas.Len(),
		Placement:   placement,
	}, nil
}

// PackedSizes renders the thumbnail of src and reports the packed pixel
// lengths of the original and of the thumbnail.
func (p *Processor) PackedSizes(src *pixbuf.Buffer, spec Spec) (original, thumbnail int64, err error) {
	canvas, _, err := Thumbnail(src, spec)
	if err != nil {
		return 0, 0, err
	}
	defer canvas.Release()

	origBytes, err := src.ReadPacked()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read source pixels: %w", err)
	}
	thumbBytes, err := canvas.ReadPacked()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read thumbnail pixels: %w", err)
	}
	return int64(len(origBytes)), int64(len(thumbBytes)), nil
}
