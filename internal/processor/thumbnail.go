package processor

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/timkrebs/image-shrink/internal/geometry"
	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/pixbuf"
)

// MaxThumbnailDimension is the largest thumbnail width or height accepted.
const MaxThumbnailDimension = 4096

// Spec describes one thumbnail request. Background and Pattern are only
// used by Pad.
type Spec struct {
	Width      int
	Height     int
	Strategy   geometry.Strategy
	Background color.NRGBA
	Edge       EdgeMode
	// Pattern, when set, is tiled over the Pad canvas instead of Background.
	Pattern *pixbuf.Buffer
	// Watermark, when set, is drawn unscaled in the bottom-right corner.
	Watermark *pixbuf.Buffer
}

// DefaultSpec is the 293x454 fit thumbnail on white.
func DefaultSpec() Spec {
	return Spec{
		Width:      293,
		Height:     454,
		Strategy:   geometry.Fit,
		Background: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		Edge:       EdgeMirror,
	}
}

// Validate checks the target dimensions and strategy
func (s Spec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: thumbnail size %dx%d", models.ErrInvalidArgument, s.Width, s.Height)
	}
	if s.Width > MaxThumbnailDimension || s.Height > MaxThumbnailDimension {
		return fmt.Errorf("%w: thumbnail size %dx%d exceeds %d pixels per side",
			models.ErrInvalidArgument, s.Width, s.Height, MaxThumbnailDimension)
	}
	switch s.Strategy {
	case geometry.Fit, geometry.Pad, geometry.Crop:
		return nil
	}
	return fmt.Errorf("%w: unknown thumbnail strategy %q", models.ErrInvalidArgument, s.Strategy)
}

// Thumbnail renders src into a new canvas according to spec. The caller owns
// the returned canvas and must release it.
func Thumbnail(src *pixbuf.Buffer, spec Spec) (*pixbuf.Buffer, geometry.Placement, error) {
	placement, err := geometry.ComputePlacement(src.Width(), src.Height(), spec.Width, spec.Height, spec.Strategy)
	if err != nil {
		return nil, geometry.Placement{}, err
	}

	canvas, err := pixbuf.New(placement.CanvasWidth, placement.CanvasHeight)
	if err != nil {
		return nil, geometry.Placement{}, err
	}

	if spec.Strategy == geometry.Pad {
		if spec.Pattern != nil {
			err = TileFill(canvas, spec.Pattern)
		} else {
			err = canvas.Fill(spec.Background)
		}
		if err != nil {
			canvas.Release()
			return nil, geometry.Placement{}, err
		}
	}

	if err := Blit(canvas, src, placement.OffsetX, placement.OffsetY, placement.ScaledWidth, placement.ScaledHeight, spec.Edge); err != nil {
		canvas.Release()
		return nil, geometry.Placement{}, fmt.Errorf("failed to draw thumbnail: %w", err)
	}

	if spec.Watermark != nil {
		x := canvas.Width() - spec.Watermark.Width()
		y := canvas.Height() - spec.Watermark.Height()
		if err := Overlay(canvas, spec.Watermark, x, y); err != nil {
			canvas.Release()
			return nil, geometry.Placement{}, fmt.Errorf("failed to draw watermark: %w", err)
		}
	}
	return canvas, placement, nil
}

// ParseHexColor parses "#rgb", "#rrggbb" or "#rrggbbaa" (the '#' is optional).
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")

	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}) + "ff"
	case 6:
		hex += "ff"
	case 8:
	default:
		return color.NRGBA{}, fmt.Errorf("%w: invalid color %q", models.ErrInvalidArgument, s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: invalid color %q", models.ErrInvalidArgument, s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
