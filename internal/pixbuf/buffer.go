// Package pixbuf owns the pixel memory of a decoded image or a thumbnail
// canvas and exposes it as a tightly packed byte sequence of 4 bytes per
// pixel (R, G, B, A), whatever the row stride of the underlying memory.
//
// A Buffer is exclusively owned by the code that created it. It is not safe
// for concurrent use, and it must be released with Release once the owner is
// done with it, on every exit path.
package pixbuf

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/timkrebs/image-shrink/internal/models"
)

const (
	// BytesPerPixel is the size of one packed NRGBA pixel.
	BytesPerPixel = 4

	// MaxDimension is the largest width or height a buffer may have.
	MaxDimension = 1 << 16
	// MaxPixels is the largest width*height a buffer may hold (1GiB packed).
	MaxPixels = 1 << 28

	maxBytes = 2 * MaxPixels * BytesPerPixel
)

var (
	// ErrBorrowed is returned when the buffer is checked out for writing.
	ErrBorrowed = errors.New("pixel buffer is borrowed for writing")
	// ErrReleased is returned when the buffer memory was already released.
	ErrReleased = errors.New("pixel buffer has been released")
)

// pixPool holds canvas pixel memory between thumbnails so a batch run keeps
// reusing one allocation instead of growing the heap per file.
var pixPool = sync.Pool{
	New: func() any {
		// 512KB holds the default 293x454 canvas.
		b := make([]byte, 0, 512*1024)
		return &b
	},
}

// Buffer is a width x height NRGBA pixel store with an arbitrary stride.
type Buffer struct {
	img      *image.NRGBA
	pooled   *[]byte
	packed   []byte
	borrowed bool
	released bool
}

// New allocates a zeroed buffer with a tight stride of width*4 bytes.
func New(width, height int) (*Buffer, error) {
	return NewWithStride(width, height, width*BytesPerPixel)
}

// NewWithStride allocates a zeroed buffer whose rows are stride bytes apart.
// stride must be at least width*4; no particular alignment is assumed.
func NewWithStride(width, height, stride int) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: buffer dimensions %dx%d", models.ErrInvalidArgument, width, height)
	}
	if err := CheckDimensions(width, height, MaxDimension, MaxPixels); err != nil {
		return nil, err
	}
	if stride < width*BytesPerPixel {
		return nil, fmt.Errorf("%w: stride %d is smaller than row length %d", models.ErrInvalidArgument, stride, width*BytesPerPixel)
	}
	if int64(height)*int64(stride) > maxBytes {
		return nil, fmt.Errorf("%w: %d rows of %d bytes exceed %d bytes", models.ErrInvalidArgument, height, stride, int64(maxBytes))
	}

	size := height * stride
	bufPtr := pixPool.Get().(*[]byte)
	if cap(*bufPtr) < size {
		*bufPtr = make([]byte, size)
	}
	pix := (*bufPtr)[:size]
	clear(pix)

	return &Buffer{
		img: &image.NRGBA{
			Pix:    pix,
			Stride: stride,
			Rect:   image.Rect(0, 0, width, height),
		},
		pooled: bufPtr,
	}, nil
}

// CheckDimensions rejects a width x height image whose sides exceed
// maxDimension or whose area exceeds maxPixels. Non-positive limits are
// not enforced.
func CheckDimensions(width, height, maxDimension, maxPixels int) error {
	if maxDimension > 0 && (width > maxDimension || height > maxDimension) {
		return fmt.Errorf("%w: image %dx%d exceeds %d pixels per side", models.ErrInvalidArgument, width, height, maxDimension)
	}
	if maxPixels > 0 && int64(width)*int64(height) > int64(maxPixels) {
		return fmt.Errorf("%w: image %dx%d exceeds %d pixels", models.ErrInvalidArgument, width, height, maxPixels)
	}
	return nil
}

// FromImage takes ownership of a decoded image. NRGBA images anchored at the
// origin are adopted as is; anything else (paletted, gray, RGBA, sub-images)
// is converted to NRGBA first.
func FromImage(img image.Image) (*Buffer, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", models.ErrInvalidArgument)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image bounds %v", models.ErrInvalidArgument, bounds)
	}

	if err := CheckDimensions(bounds.Dx(), bounds.Dy(), MaxDimension, MaxPixels); err != nil {
		return nil, err
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok || !bounds.Min.Eq(image.Point{}) {
		nrgba = imaging.Clone(img)
	}
	return &Buffer{img: nrgba}, nil
}

// Width returns the width in pixels
func (b *Buffer) Width() int { return b.img.Rect.Dx() }

// Height returns the height in pixels
func (b *Buffer) Height() int { return b.img.Rect.Dy() }

// Stride returns the distance in bytes between the starts of two rows
func (b *Buffer) Stride() int { return b.img.Stride }

// Len returns the packed length, width*height*4.
func (b *Buffer) Len() int64 {
	return int64(b.Width()) * int64(b.Height()) * BytesPerPixel
}

// IsPortrait reports whether the image is taller than it is wide.
func (b *Buffer) IsPortrait() bool { return b.Width() < b.Height() }

// IsLandscape reports whether the image is wider than it is tall.
func (b *Buffer) IsLandscape() bool { return b.Width() > b.Height() }

// IsSquare reports whether width and height are equal.
func (b *Buffer) IsSquare() bool { return b.Width() == b.Height() }

func (b *Buffer) usable() error {
	if b.released {
		return ErrReleased
	}
	if b.borrowed {
		return ErrBorrowed
	}
	return nil
}

// ReadPacked returns the pixels as width*height*4 bytes with row padding
// removed. The result is cached until the next write; callers must not
// modify it.
func (b *Buffer) ReadPacked() ([]byte, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if b.packed != nil {
		return b.packed, nil
	}

	rowLen := b.Width() * BytesPerPixel
	height := b.Height()
	out := make([]byte, rowLen*height)

	if b.img.Stride == rowLen {
		copy(out, b.img.Pix[:rowLen*height])
	} else {
		for y := 0; y < height; y++ {
			src := b.img.Pix[y*b.img.Stride : y*b.img.Stride+rowLen]
			copy(out[y*rowLen:(y+1)*rowLen], src)
		}
	}

	b.packed = out
	return out, nil
}

// WritePacked replaces the pixels with data, which must hold exactly
// width*height*4 bytes. Row padding bytes are never touched.
func (b *Buffer) WritePacked(data []byte) error {
	if err := b.usable(); err != nil {
		return err
	}
	if int64(len(data)) != b.Len() {
		return fmt.Errorf("%w: packed data is %d bytes, want %d", models.ErrInvalidArgument, len(data), b.Len())
	}

	rowLen := b.Width() * BytesPerPixel
	height := b.Height()
	b.packed = nil

	if b.img.Stride == rowLen {
		copy(b.img.Pix[:rowLen*height], data)
		return nil
	}
	for y := 0; y < height; y++ {
		copy(b.img.Pix[y*b.img.Stride:y*b.img.Stride+rowLen], data[y*rowLen:(y+1)*rowLen])
	}
	return nil
}

// Borrow checks the buffer out for writing. Until the returned release func
// is called, reads and further borrows fail with ErrBorrowed.
func (b *Buffer) Borrow() (*image.NRGBA, func(), error) {
	if err := b.usable(); err != nil {
		return nil, nil, err
	}
	b.borrowed = true
	b.packed = nil

	returned := false
	release := func() {
		if returned {
			return
		}
		returned = true
		b.borrowed = false
	}
	return b.img, release, nil
}

// View returns the pixels as an image for sampling or encoding. The view is
// only valid until the buffer is borrowed or released.
func (b *Buffer) View() (image.Image, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	return b.img, nil
}

// Fill paints every pixel with c.
func (b *Buffer) Fill(c color.Color) error {
	img, release, err := b.Borrow()
	if err != nil {
		return err
	}
	defer release()

	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return nil
}

// Clone copies the pixels into a new buffer with a tight stride. The caller
// owns the copy.
func (b *Buffer) Clone() (*Buffer, error) {
	packed, err := b.ReadPacked()
	if err != nil {
		return nil, err
	}
	c, err := New(b.Width(), b.Height())
	if err != nil {
		return nil, err
	}
	if err := c.WritePacked(packed); err != nil {
		c.Release()
		return nil, err
	}
	return c, nil
}

// Release frees the pixel memory. It is safe to call more than once.
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.borrowed = false
	b.packed = nil
	if b.pooled != nil {
		pixPool.Put(b.pooled)
		b.pooled = nil
	}
	b.img = &image.NRGBA{Rect: b.img.Rect}
}
