// Package geometry computes where a scaled source image lands on a thumbnail
// canvas for each of the three thumbnail strategies.
//
// Ratio comparisons use exact integer cross-multiplication and every
// dimension is derived with truncating integer division in int64, so results
// are deterministic across platforms. Derived dimensions are clamped to at
// least one pixel.
package geometry

import (
	"fmt"
	"strings"

	"github.com/timkrebs/image-shrink/internal/models"
)

// Strategy selects how a source is fitted into the requested thumbnail box
type Strategy string

const (
	// Fit shrinks the canvas itself so the whole image fits with its aspect ratio intact.
	Fit Strategy = "fit"
	// Pad keeps the requested canvas size and centers the scaled image on a background.
	Pad Strategy = "pad"
	// Crop keeps the requested canvas size and fills it, cutting off the overflow.
	Crop Strategy = "crop"
)

// ParseStrategy parses a strategy name case-insensitively
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Fit:
		return Fit, nil
	case Pad:
		return Pad, nil
	case Crop:
		return Crop, nil
	}
	return "", fmt.Errorf("%w: unknown thumbnail strategy %q", models.ErrInvalidArgument, s)
}

// Placement describes the canvas and the rectangle the scaled source occupies on it.
// Offsets may be negative for Crop; the excess is clipped by the blit.
type Placement struct {
	CanvasWidth  int
	CanvasHeight int
	ScaledWidth  int
	ScaledHeight int
	OffsetX      int
	OffsetY      int
}

// ComputePlacement derives the placement for a sourceW x sourceH image and a
// targetW x targetH thumbnail box.
func ComputePlacement(sourceW, sourceH, targetW, targetH int, strategy Strategy) (Placement, error) {
	if sourceW <= 0 || sourceH <= 0 {
		return Placement{}, fmt.Errorf("%w: source dimensions %dx%d", models.ErrInvalidArgument, sourceW, sourceH)
	}
	if targetW <= 0 || targetH <= 0 {
		return Placement{}, fmt.Errorf("%w: target dimensions %dx%d", models.ErrInvalidArgument, targetW, targetH)
	}

	sw, sh := int64(sourceW), int64(sourceH)
	tw, th := int64(targetW), int64(targetH)

	switch strategy {
	case Crop:
		return crop(sw, sh, tw, th), nil
	case Pad:
		return pad(sw, sh, tw, th), nil
	case Fit:
		return fit(sw, sh, tw, th), nil
	}
	return Placement{}, fmt.Errorf("%w: unknown thumbnail strategy %q", models.ErrInvalidArgument, strategy)
}

// crop covers the whole canvas; the axis that would leave a gap is stretched
// to the target and the other one overflows.
func crop(sw, sh, tw, th int64) Placement {
	scaledW, scaledH := tw, th
	// sw/sh < tw/th: the source is proportionally taller than the box
	if sw*th < tw*sh {
		scaledH = atLeastOne(sh * tw / sw)
	} else {
		scaledW = atLeastOne(sw * th / sh)
	}
	return Placement{
		CanvasWidth:  int(tw),
		CanvasHeight: int(th),
		ScaledWidth:  int(scaledW),
		ScaledHeight: int(scaledH),
		OffsetX:      int((tw - scaledW) / 2),
		OffsetY:      int((th - scaledH) / 2),
	}
}

// pad divides both source dimensions by max(sh/th, sw/tw) so neither exceeds the box.
func pad(sw, sh, tw, th int64) Placement {
	var scaledW, scaledH int64
	// sh/th > sw/tw: height is the limiting ratio
	if sh*tw > sw*th {
		scaledH = th
		scaledW = atLeastOne(sw * th / sh)
	} else {
		scaledW = tw
		scaledH = atLeastOne(sh * tw / sw)
	}
	return Placement{
		CanvasWidth:  int(tw),
		CanvasHeight: int(th),
		ScaledWidth:  int(scaledW),
		ScaledHeight: int(scaledH),
		OffsetX:      int((tw - scaledW) / 2),
		OffsetY:      int((th - scaledH) / 2),
	}
}

// fit sizes the canvas to the scaled image, constrained by whichever target axis binds first.
func fit(sw, sh, tw, th int64) Placement {
	width, height := tw, th
	// sw/sh > tw/th: the source is proportionally wider, so width binds
	if sw*th > tw*sh {
		height = atLeastOne(sh * tw / sw)
	} else {
		width = atLeastOne(sw * th / sh)
	}
	return Placement{
		CanvasWidth:  int(width),
		CanvasHeight: int(height),
		ScaledWidth:  int(width),
		ScaledHeight: int(height),
	}
}

func atLeastOne(v int64) int64 {
	if v < 1 {
		return 1
	}
	return v
}
