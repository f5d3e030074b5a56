package gpu

import (
	"image"

	"github.com/anthonynsimon/bild/clone"
	"github.com/pkg/errors"
)

// ErrInvalidBitmap is returned for bitmaps that cannot back an image.
var ErrInvalidBitmap = errors.New("gpu: invalid bitmap")

// Bitmap is a host pixel buffer, tightly or loosely packed by Stride.
type Bitmap struct {
	Width  int
	Height int
	Stride int
	Format Format
	Pix    []byte
}

// NewBitmap allocates a zeroed RGBA8 bitmap.
func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{
		Width:  width,
		Height: height,
		Stride: width * 4,
		Format: FormatRGBA8Unorm,
		Pix:    make([]byte, width*height*4),
	}
}

// BitmapFromImage converts any image into an RGBA8 bitmap with its origin at (0, 0).
// An *image.RGBA already at the origin is shared, not copied.
func BitmapFromImage(img image.Image) *Bitmap {
	rgba := clone.AsShallowRGBA(img)
	if rgba.Rect.Min != (image.Point{}) {
		rgba = clone.Pad(rgba, 0, 0, clone.NoFill)
	}
	return &Bitmap{
		Width:  rgba.Rect.Dx(),
		Height: rgba.Rect.Dy(),
		Stride: rgba.Stride,
		Format: FormatRGBA8Unorm,
		Pix:    rgba.Pix,
	}
}

// Validate checks the bitmap describes a non-empty RGBA8 image fully backed by Pix.
func (b *Bitmap) Validate() error {
	if b == nil {
		return errors.Wrap(ErrInvalidBitmap, "nil bitmap")
	}
	if b.Format != FormatRGBA8Unorm {
		return errors.Wrapf(ErrInvalidBitmap, "unsupported format %s", b.Format)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return errors.Wrapf(ErrInvalidBitmap, "empty extent %dx%d", b.Width, b.Height)
	}
	if b.Stride < b.Width*4 {
		return errors.Wrapf(ErrInvalidBitmap, "stride %d shorter than row", b.Stride)
	}
	if len(b.Pix) < (b.Height-1)*b.Stride+b.Width*4 {
		return errors.Wrapf(ErrInvalidBitmap, "%d bytes cannot hold %dx%d", len(b.Pix), b.Width, b.Height)
	}
	return nil
}

// RGBA returns an *image.RGBA view sharing the bitmap pixels.
func (b *Bitmap) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Pix,
		Stride: b.Stride,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Packed returns the pixels with rows laid out back to back.
func (b *Bitmap) Packed() []byte {
	row := b.Width * 4
	if b.Stride == row {
		return b.Pix[:row*b.Height]
	}
	out := make([]byte, row*b.Height)
	for y := 0; y < b.Height; y++ {
		copy(out[y*row:(y+1)*row], b.Pix[y*b.Stride:y*b.Stride+row])
	}
	return out
}
