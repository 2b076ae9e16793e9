package pixbuf

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/timkrebs/image-shrink/internal/models"
)

// patternBytes returns a deterministic packed pixel sequence
func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i*7 + 3) % 251)
	}
	return data
}

func TestNew(t *testing.T) {
	b, err := New(3, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Release()

	if b.Width() != 3 || b.Height() != 2 {
		t.Errorf("dimensions = %dx%d, want 3x2", b.Width(), b.Height())
	}
	if b.Stride() != 12 {
		t.Errorf("Stride() = %d, want 12", b.Stride())
	}
	if b.Len() != 24 {
		t.Errorf("Len() = %d, want 24", b.Len())
	}

	packed, err := b.ReadPacked()
	if err != nil {
		t.Fatalf("ReadPacked() error = %v", err)
	}
	if !bytes.Equal(packed, make([]byte, 24)) {
		t.Error("new buffer should be zeroed")
	}
}

func TestNewWithStride_Invalid(t *testing.T) {
	tests := []struct {
		name                  string
		width, height, stride int
	}{
		{"stride below row length", 4, 4, 15},
		{"zero width", 0, 4, 16},
		{"negative height", 4, -1, 16},
		{"side above maximum", MaxDimension + 1, 1, (MaxDimension + 1) * BytesPerPixel},
		{"area above maximum", MaxDimension, MaxDimension, MaxDimension * BytesPerPixel},
		{"oversized stride", 16, 1 << 15, 1 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithStride(tt.width, tt.height, tt.stride)
			if !errors.Is(err, models.ErrInvalidArgument) {
				t.Errorf("NewWithStride() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestCheckDimensions(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxDim, maxPx int
		wantErr       bool
	}{
		{"within limits", 100, 50, 200, 10000, false},
		{"width above side limit", 201, 10, 200, 0, true},
		{"height above side limit", 10, 201, 200, 0, true},
		{"area above pixel limit", 100, 101, 0, 10000, true},
		{"area at pixel limit", 100, 100, 0, 10000, false},
		{"no limits", 1 << 20, 1 << 20, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDimensions(tt.width, tt.height, tt.maxDim, tt.maxPx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckDimensions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, models.ErrInvalidArgument) {
				t.Errorf("CheckDimensions() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestPackedRoundTrip(t *testing.T) {
	for _, width := range []int{1, 3, 16, 33} {
		for _, height := range []int{1, 2, 7} {
			for pad := 0; pad < 9; pad++ {
				stride := width*BytesPerPixel + pad
				b, err := NewWithStride(width, height, stride)
				if err != nil {
					t.Fatalf("NewWithStride(%d, %d, %d) error = %v", width, height, stride, err)
				}

				data := patternBytes(width * height * BytesPerPixel)
				if err := b.WritePacked(data); err != nil {
					t.Fatalf("WritePacked() error = %v", err)
				}
				got, err := b.ReadPacked()
				if err != nil {
					t.Fatalf("ReadPacked() error = %v", err)
				}
				if !bytes.Equal(got, data) {
					t.Errorf("round trip mismatch for %dx%d stride %d", width, height, stride)
				}
				b.Release()
			}
		}
	}
}

func TestWritePacked_LeavesPaddingAlone(t *testing.T) {
	b, err := NewWithStride(2, 3, 12)
	if err != nil {
		t.Fatalf("NewWithStride() error = %v", err)
	}
	defer b.Release()

	for y := 0; y < 3; y++ {
		for i := 8; i < 12; i++ {
			b.img.Pix[y*12+i] = 0xEE
		}
	}

	if err := b.WritePacked(patternBytes(24)); err != nil {
		t.Fatalf("WritePacked() error = %v", err)
	}

	for y := 0; y < 3; y++ {
		for i := 8; i < 12; i++ {
			if b.img.Pix[y*12+i] != 0xEE {
				t.Fatalf("padding byte row %d offset %d = %#x, want 0xee", y, i, b.img.Pix[y*12+i])
			}
		}
	}
}

func TestWritePacked_WrongLength(t *testing.T) {
	b, err := New(4, 4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Release()

	for _, n := range []int{0, 63, 65} {
		if err := b.WritePacked(make([]byte, n)); !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("WritePacked(%d bytes) error = %v, want ErrInvalidArgument", n, err)
		}
	}
}

func TestReadPacked_CacheInvalidation(t *testing.T) {
	b, err := New(2, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Release()

	first, _ := b.ReadPacked()
	second, _ := b.ReadPacked()
	if &first[0] != &second[0] {
		t.Error("repeated reads without writes should return the cached sequence")
	}

	data := patternBytes(16)
	if err := b.WritePacked(data); err != nil {
		t.Fatalf("WritePacked() error = %v", err)
	}
	third, _ := b.ReadPacked()
	if !bytes.Equal(third, data) {
		t.Error("read after write should reflect the new pixels")
	}

	img, release, err := b.Borrow()
	if err != nil {
		t.Fatalf("Borrow() error = %v", err)
	}
	img.SetNRGBA(1, 1, color.NRGBA{R: 9, G: 8, B: 7, A: 6})
	release()

	fourth, _ := b.ReadPacked()
	if !bytes.Equal(fourth[12:16], []byte{9, 8, 7, 6}) {
		t.Errorf("pixel (1,1) = %v, want [9 8 7 6]", fourth[12:16])
	}
}

func TestBorrow_Exclusive(t *testing.T) {
	b, err := New(2, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Release()

	_, release, err := b.Borrow()
	if err != nil {
		t.Fatalf("Borrow() error = %v", err)
	}

	if _, _, err := b.Borrow(); !errors.Is(err, ErrBorrowed) {
		t.Errorf("second Borrow() error = %v, want ErrBorrowed", err)
	}
	if _, err := b.ReadPacked(); !errors.Is(err, ErrBorrowed) {
		t.Errorf("ReadPacked() while borrowed error = %v, want ErrBorrowed", err)
	}
	if err := b.WritePacked(make([]byte, 16)); !errors.Is(err, ErrBorrowed) {
		t.Errorf("WritePacked() while borrowed error = %v, want ErrBorrowed", err)
	}
	if _, err := b.View(); !errors.Is(err, ErrBorrowed) {
		t.Errorf("View() while borrowed error = %v, want ErrBorrowed", err)
	}

	release()
	release()

	if _, err := b.ReadPacked(); err != nil {
		t.Errorf("ReadPacked() after release error = %v", err)
	}
}

func TestFill(t *testing.T) {
	b, err := NewWithStride(3, 2, 20)
	if err != nil {
		t.Fatalf("NewWithStride() error = %v", err)
	}
	defer b.Release()

	if err := b.Fill(color.NRGBA{R: 255, G: 128, B: 0, A: 255}); err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	packed, _ := b.ReadPacked()
	for i := 0; i < len(packed); i += 4 {
		if !bytes.Equal(packed[i:i+4], []byte{255, 128, 0, 255}) {
			t.Fatalf("pixel %d = %v, want [255 128 0 255]", i/4, packed[i:i+4])
		}
	}
}

func TestFromImage(t *testing.T) {
	t.Run("rgba is converted to straight alpha", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 2, 1))
		src.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		src.SetRGBA(1, 0, color.RGBA{R: 40, G: 50, B: 60, A: 255})

		b, err := FromImage(src)
		if err != nil {
			t.Fatalf("FromImage() error = %v", err)
		}
		defer b.Release()

		packed, _ := b.ReadPacked()
		want := []byte{10, 20, 30, 255, 40, 50, 60, 255}
		if !bytes.Equal(packed, want) {
			t.Errorf("packed = %v, want %v", packed, want)
		}
	})

	t.Run("sub image is rebased to origin", func(t *testing.T) {
		full := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		full.SetNRGBA(2, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 4})
		sub := full.SubImage(image.Rect(2, 2, 4, 4))

		b, err := FromImage(sub)
		if err != nil {
			t.Fatalf("FromImage() error = %v", err)
		}
		defer b.Release()

		if b.Width() != 2 || b.Height() != 2 {
			t.Fatalf("dimensions = %dx%d, want 2x2", b.Width(), b.Height())
		}
		packed, _ := b.ReadPacked()
		if !bytes.Equal(packed[:4], []byte{1, 2, 3, 4}) {
			t.Errorf("first pixel = %v, want [1 2 3 4]", packed[:4])
		}
	})

	t.Run("nil and empty images are rejected", func(t *testing.T) {
		if _, err := FromImage(nil); !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("FromImage(nil) error = %v, want ErrInvalidArgument", err)
		}
		empty := image.NewNRGBA(image.Rect(0, 0, 0, 5))
		if _, err := FromImage(empty); !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("FromImage(empty) error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestOrientation(t *testing.T) {
	tests := []struct {
		w, h                          int
		portrait, landscape, isSquare bool
	}{
		{100, 200, true, false, false},
		{200, 100, false, true, false},
		{150, 150, false, false, true},
	}

	for _, tt := range tests {
		b, err := New(tt.w, tt.h)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if b.IsPortrait() != tt.portrait || b.IsLandscape() != tt.landscape || b.IsSquare() != tt.isSquare {
			t.Errorf("%dx%d orientation = (%v, %v, %v), want (%v, %v, %v)",
				tt.w, tt.h, b.IsPortrait(), b.IsLandscape(), b.IsSquare(),
				tt.portrait, tt.landscape, tt.isSquare)
		}
		b.Release()
	}
}

func TestRelease(t *testing.T) {
	b, err := New(2, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b.Release()
	b.Release()

	if _, err := b.ReadPacked(); !errors.Is(err, ErrReleased) {
		t.Errorf("ReadPacked() after Release error = %v, want ErrReleased", err)
	}
	if b.Width() != 2 {
		t.Errorf("Width() after Release = %d, want 2", b.Width())
	}
}
