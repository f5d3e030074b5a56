package gpu

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapFromImageSharesRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(1, 1, color.RGBA{10, 20, 30, 255})

	bm := BitmapFromImage(src)
	require.NoError(t, bm.Validate())
	assert.Equal(t, 3, bm.Width)
	assert.Equal(t, 2, bm.Height)
	assert.Equal(t, FormatRGBA8Unorm, bm.Format)

	bm.Pix[0] = 99
	assert.Equal(t, uint8(99), src.Pix[0], "pixels are shared")
}

func TestBitmapFromImageMovesOrigin(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.Set(5, 5, color.NRGBA{255, 0, 0, 255})
	src.Set(6, 5, color.NRGBA{0, 0, 255, 255})

	bm := BitmapFromImage(src)
	require.NoError(t, bm.Validate())
	assert.Equal(t, 2, bm.Width)
	assert.Equal(t, 1, bm.Height)
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, bm.RGBA().RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, bm.RGBA().RGBAAt(1, 0))
}

func TestBitmapValidate(t *testing.T) {
	var nilBitmap *Bitmap
	cases := map[string]*Bitmap{
		"nil":    nilBitmap,
		"empty":  NewBitmap(0, 4),
		"format": {Width: 1, Height: 1, Stride: 4, Format: FormatUndefined, Pix: make([]byte, 4)},
		"stride": {Width: 2, Height: 1, Stride: 4, Format: FormatRGBA8Unorm, Pix: make([]byte, 8)},
		"short":  {Width: 2, Height: 2, Stride: 8, Format: FormatRGBA8Unorm, Pix: make([]byte, 12)},
	}
	for name, bm := range cases {
		t.Run(name, func(t *testing.T) {
			err := bm.Validate()
			assert.True(t, errors.Is(err, ErrInvalidBitmap), "got %v", err)
		})
	}
	assert.NoError(t, NewBitmap(4, 4).Validate())
}

func TestBitmapPacked(t *testing.T) {
	bm := &Bitmap{Width: 1, Height: 2, Stride: 8, Format: FormatRGBA8Unorm,
		Pix: []byte{1, 2, 3, 4, 0, 0, 0, 0, 5, 6, 7, 8}}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, bm.Packed())
}

func TestRegistry(t *testing.T) {
	const name = "registry-test"
	var got Options
	Register(name, func(opts Options) (Context, error) {
		got = opts
		return nil, errors.New("no device")
	})
	defer Unregister(name)

	assert.Contains(t, Available(), name)

	_, err := Open(name, Options{Debug: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open registry-test backend")
	assert.True(t, got.Debug)

	_, err = Open("missing", Options{})
	assert.True(t, errors.Is(err, ErrBackendNotAvailable))
}

func TestLayoutAndFormatStrings(t *testing.T) {
	assert.Equal(t, "TransferSrc", LayoutTransferSrc.String())
	assert.Equal(t, "Layout(42)", Layout(42).String())
	assert.Equal(t, "RGBA8Unorm", FormatRGBA8Unorm.String())
	assert.Equal(t, 4, FormatRGBA8Unorm.BytesPerPixel())
	assert.True(t, (ImageUsageStorage | ImageUsageSampled).Has(ImageUsageSampled))
	assert.False(t, SharedUsageGPUSampledImage.CPUAccessible())
	assert.Equal(t, 24, SharedDesc{Width: 2, Height: 3, Layers: 1, Format: FormatRGBA8Unorm}.Size())
	assert.Equal(t, uint32(3), CeilDiv(9, 4))
}

func TestWorkGroupSize(t *testing.T) {
	cases := []struct {
		name        string
		maxSize     [3]uint32
		invocations uint32
		want        uint32
	}{
		{"desktop", [3]uint32{1024, 1024, 64}, 1024, 32},
		{"large", [3]uint32{1024, 1024, 64}, 65536, 64},
		{"narrow x", [3]uint32{30, 1024, 64}, 4096, 28},
		{"mobile", [3]uint32{128, 128, 64}, 128, 8},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, WorkGroupSize(c.maxSize, c.invocations))
		})
	}
}
