package processor

import (
	"fmt"
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/pixbuf"
)

// EdgeMode controls how the resampling kernel reads past the source edges.
type EdgeMode int

const (
	// EdgeMirror reflects the source at its borders (tile-flip-XY).
	EdgeMirror EdgeMode = iota
	// EdgeTile repeats the source periodically.
	EdgeTile
	// EdgeClamp only samples real source pixels.
	EdgeClamp
)

// String returns the config name of the mode.
func (m EdgeMode) String() string {
	switch m {
	case EdgeTile:
		return "tile"
	case EdgeClamp:
		return "clamp"
	default:
		return "mirror"
	}
}

// ParseEdgeMode converts a config or request value to an EdgeMode. Empty
// means mirror.
func ParseEdgeMode(s string) (EdgeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mirror":
		return EdgeMirror, nil
	case "tile":
		return EdgeTile, nil
	case "clamp":
		return EdgeClamp, nil
	default:
		return 0, fmt.Errorf("%w: unknown edge mode %q", models.ErrInvalidArgument, s)
	}
}

// Blit resamples all of src into the width x height rectangle at (x, y) of
// dst using a Catmull-Rom kernel. The rectangle may extend past the canvas;
// only the part inside dst is written and everything else in dst is left
// untouched.
func Blit(dst, src *pixbuf.Buffer, x, y, width, height int, edge EdgeMode) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: blit rectangle %dx%d", models.ErrInvalidArgument, width, height)
	}
	if dst == src {
		return fmt.Errorf("%w: blit source and destination are the same buffer", models.ErrInvalidArgument)
	}

	srcImg, err := src.View()
	if err != nil {
		return fmt.Errorf("failed to read blit source: %w", err)
	}
	canvas, release, err := dst.Borrow()
	if err != nil {
		return fmt.Errorf("failed to borrow canvas: %w", err)
	}
	defer release()

	target := image.Rect(x, y, x+width, y+height)
	clip := target.Intersect(canvas.Bounds())
	if clip.Empty() {
		return nil
	}

	if edge == EdgeClamp {
		draw.CatmullRom.Scale(canvas, target, srcImg, srcImg.Bounds(), draw.Src, nil)
		return nil
	}

	sw, sh := src.Width(), src.Height()
	border := edgeBorder(sw, sh, width, height)
	padded, err := padSource(srcImg, border, edge)
	if err != nil {
		return err
	}
	defer padded.Release()

	paddedImg, err := padded.View()
	if err != nil {
		return err
	}

	sx := float64(width) / float64(sw)
	sy := float64(height) / float64(sh)
	s2d := f64.Aff3{
		sx, 0, float64(x) - float64(border)*sx,
		0, sy, float64(y) - float64(border)*sy,
	}
	draw.CatmullRom.Transform(canvas.SubImage(clip).(*image.NRGBA), s2d, paddedImg, paddedImg.Bounds(), draw.Src, nil)
	return nil
}

// edgeBorder is the number of wrapped pixels the kernel can reach past a
// source edge. Catmull-Rom has a support of 2, widened by the downscale
// factor.
func edgeBorder(sw, sh, width, height int) int {
	scale := math.Max(1, math.Max(float64(sw)/float64(width), float64(sh)/float64(height)))
	return int(math.Ceil(2*scale)) + 1
}

// padSource copies src into a pooled buffer surrounded by border pixels of
// mirrored or tiled source content.
func padSource(src image.Image, border int, edge EdgeMode) (*pixbuf.Buffer, error) {
	nrgba, ok := src.(*image.NRGBA)
	if !ok {
		return nil, fmt.Errorf("%w: blit source is %T, want *image.NRGBA", models.ErrInvalidArgument, src)
	}
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()

	padded, err := pixbuf.New(w+2*border, h+2*border)
	if err != nil {
		return nil, err
	}
	out, release, err := padded.Borrow()
	if err != nil {
		padded.Release()
		return nil, err
	}
	defer release()

	cols := make([]int, w+2*border)
	for i := range cols {
		cols[i] = wrapIndex(i-border, w, edge) * pixbuf.BytesPerPixel
	}

	for py := 0; py < out.Rect.Dy(); py++ {
		sy := wrapIndex(py-border, h, edge)
		srow := nrgba.Pix[nrgba.PixOffset(nrgba.Rect.Min.X, nrgba.Rect.Min.Y+sy):]
		drow := out.Pix[py*out.Stride:]
		for px, off := range cols {
			copy(drow[px*4:px*4+4], srow[off:off+4])
		}
	}
	return padded, nil
}

// wrapIndex maps an out-of-range coordinate back into [0, n).
func wrapIndex(i, n int, edge EdgeMode) int {
	if edge == EdgeTile {
		return ((i % n) + n) % n
	}
	period := 2 * n
	m := ((i % period) + period) % period
	if m >= n {
		m = period - 1 - m
	}
	return m
}
