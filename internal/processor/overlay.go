package processor

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/pixbuf"
)

// Overlay draws src unscaled with its top-left corner at (x, y) of dst,
// alpha-compositing it over what is already there. Whatever falls outside
// dst is clipped.
func Overlay(dst, src *pixbuf.Buffer, x, y int) error {
	src, done, err := distinctSource(dst, src)
	if err != nil {
		return err
	}
	defer done()

	srcImg, err := src.View()
	if err != nil {
		return fmt.Errorf("failed to read overlay source: %w", err)
	}
	canvas, release, err := dst.Borrow()
	if err != nil {
		return fmt.Errorf("failed to borrow canvas: %w", err)
	}
	defer release()

	r := image.Rect(x, y, x+src.Width(), y+src.Height()).Intersect(canvas.Bounds())
	if r.Empty() {
		return nil
	}
	draw.Draw(canvas, r, srcImg, image.Pt(r.Min.X-x, r.Min.Y-y), draw.Over)
	return nil
}

// TileFill covers all of dst with unscaled copies of tile, starting at the
// top-left corner.
func TileFill(dst, tile *pixbuf.Buffer) error {
	tile, done, err := distinctSource(dst, tile)
	if err != nil {
		return err
	}
	defer done()

	tileImg, err := tile.View()
	if err != nil {
		return fmt.Errorf("failed to read tile: %w", err)
	}
	canvas, release, err := dst.Borrow()
	if err != nil {
		return fmt.Errorf("failed to borrow canvas: %w", err)
	}
	defer release()

	bounds := canvas.Bounds()
	tw, th := tile.Width(), tile.Height()
	for y := bounds.Min.Y; y < bounds.Max.Y; y += th {
		for x := bounds.Min.X; x < bounds.Max.X; x += tw {
			r := image.Rect(x, y, x+tw, y+th).Intersect(bounds)
			draw.Draw(canvas, r, tileImg, image.Point{}, draw.Src)
		}
	}
	return nil
}

// distinctSource returns a copy of src when it is dst itself, since dst is
// borrowed for writing while src is read.
func distinctSource(dst, src *pixbuf.Buffer) (*pixbuf.Buffer, func(), error) {
	if dst == nil || src == nil {
		return nil, nil, fmt.Errorf("%w: nil pixel buffer", models.ErrInvalidArgument)
	}
	if dst != src {
		return src, func() {}, nil
	}
	clone, err := src.Clone()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to copy source: %w", err)
	}
	return clone, clone.Release, nil
}
