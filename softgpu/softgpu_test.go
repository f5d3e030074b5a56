package softgpu

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"
	"testing/fstest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vlur/gpu"
)

var assets = fstest.MapFS{
	"shaders/BlurHorizontal.comp.spv": {Data: []byte{0x03, 0x02, 0x23, 0x07}},
	"shaders/BlurVertical.comp":       {Data: []byte("void main() {}")},
}

func pipeline(t *testing.T, c *Context, shader string) gpu.Pipeline {
	t.Helper()
	p, err := c.NewComputePipeline(gpu.PipelineDesc{
		Name:             shader,
		Assets:           assets,
		ShaderPath:       "shaders/" + shader + ".comp.spv",
		PushConstantSize: 4,
		UseUniformBuffer: true,
	})
	require.NoError(t, err)
	return p
}

func radiusBytes(r int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(r))
	return b
}

// box returns a uniform buffer holding a normalized box kernel.
func box(t *testing.T, c *Context, radius int) gpu.Buffer {
	t.Helper()
	buf, err := c.NewBuffer(208, gpu.BufferUsageUniform, gpu.MemoryHostVisible|gpu.MemoryHostCoherent)
	require.NoError(t, err)
	data := make([]byte, 208)
	n := 2*radius + 1
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(1/float32(n)))
	}
	require.NoError(t, buf.CopyFrom(data))
	return buf
}

func gradient(w, h int) *gpu.Bitmap {
	bm := gpu.NewBitmap(w, h)
	img := bm.RGBA()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 40), uint8(y * 30), uint8((x * y) % 256), 255})
		}
	}
	return bm
}

func TestRegisteredBackend(t *testing.T) {
	ctx, err := gpu.Open(gpu.BackendSoftware, gpu.Options{})
	require.NoError(t, err)
	assert.Equal(t, gpu.BackendSoftware, ctx.Name())
	assert.Equal(t, uint32(32), ctx.WorkGroupSize())
	ctx.Destroy()
}

func TestImageFromBitmap(t *testing.T) {
	c := New(gpu.Options{})
	bm := gradient(3, 2)

	img, err := c.NewImageFromBitmap(bm)
	require.NoError(t, err)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	assert.True(t, img.Usage().Has(gpu.ImageUsageSampled|gpu.ImageUsageTransferDst))

	got, err := c.ReadImage(img)
	require.NoError(t, err)
	assert.Equal(t, bm.Pix, got.Pix)

	img.Destroy()
	img.Destroy()
	assert.Zero(t, c.Live().Images)

	_, err = c.NewImageFromBitmap(&gpu.Bitmap{})
	assert.True(t, errors.Is(err, gpu.ErrInvalidBitmap))
}

func TestTransitionValidation(t *testing.T) {
	c := New(gpu.Options{Debug: true})
	cmdBuf, err := c.NewCommandBuffer()
	require.NoError(t, err)
	img, err := c.NewDeviceLocalImage(4, 4, gpu.ImageUsageStorage|gpu.ImageUsageSampled)
	require.NoError(t, err)

	err = img.RecordLayoutTransition(cmdBuf, gpu.LayoutGeneral, false)
	assert.True(t, errors.Is(err, gpu.ErrNotRecording))

	require.NoError(t, cmdBuf.Begin())
	err = img.RecordLayoutTransition(cmdBuf, gpu.LayoutTransferSrc, true)
	assert.True(t, errors.Is(err, ErrValidation), "TransferSrc without usage")
	require.NoError(t, img.RecordLayoutTransition(cmdBuf, gpu.LayoutGeneral, false))
	require.NoError(t, img.RecordLayoutTransition(cmdBuf, gpu.LayoutGeneral, true), "same layout is a no-op")
	require.NoError(t, img.RecordLayoutTransition(cmdBuf, gpu.LayoutShaderReadOnly, true))
	require.NoError(t, cmdBuf.End())

	cb := cmdBuf.(*CommandBuffer)
	assert.Equal(t, []string{
		"transition image1 Undefined->General discard",
		"transition image1 General->ShaderReadOnly preserve",
	}, cb.Trace())
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())

	require.NoError(t, c.Submit(cmdBuf))
	err = c.Submit(cmdBuf)
	assert.True(t, errors.Is(err, ErrValidation), "one-time buffer resubmitted")
}

func TestDiscardPoisonsContents(t *testing.T) {
	c := New(gpu.Options{})
	cmdBuf, _ := c.NewCommandBuffer()
	img, err := c.NewImageFromBitmap(gradient(2, 2))
	require.NoError(t, err)

	require.NoError(t, cmdBuf.Begin())
	require.NoError(t, img.RecordLayoutTransition(cmdBuf, gpu.LayoutTransferDst, false))
	require.NoError(t, cmdBuf.End())
	require.NoError(t, c.Submit(cmdBuf))

	got, err := c.ReadImage(img)
	require.NoError(t, err)
	for _, b := range got.Pix {
		require.Equal(t, uint8(poisonByte), b)
	}
}

func TestDispatchValidation(t *testing.T) {
	c := New(gpu.Options{})
	h := pipeline(t, c, "BlurHorizontal")
	ubo := box(t, c, 1)
	cmdBuf, _ := c.NewCommandBuffer()
	src, _ := c.NewImageFromBitmap(gradient(4, 4))
	dst, _ := c.NewDeviceLocalImage(4, 4, gpu.ImageUsageStorage|gpu.ImageUsageSampled)
	small, _ := c.NewDeviceLocalImage(2, 2, gpu.ImageUsageStorage)

	require.NoError(t, cmdBuf.Begin())
	err := h.RecordDispatch(cmdBuf, radiusBytes(1), src, dst, ubo)
	assert.True(t, errors.Is(err, ErrValidation), "destination still Undefined")

	require.NoError(t, dst.RecordLayoutTransition(cmdBuf, gpu.LayoutGeneral, false))
	require.NoError(t, small.RecordLayoutTransition(cmdBuf, gpu.LayoutGeneral, false))
	assert.Error(t, h.RecordDispatch(cmdBuf, radiusBytes(1), src, small, ubo), "extent mismatch")
	assert.Error(t, h.RecordDispatch(cmdBuf, []byte{1}, src, dst, ubo), "push constant size")
	assert.Error(t, h.RecordDispatch(cmdBuf, radiusBytes(26), src, dst, ubo), "radius bound")
	assert.Error(t, h.RecordDispatch(cmdBuf, radiusBytes(1), dst, dst, ubo), "source not sampled layout")
	require.NoError(t, h.RecordDispatch(cmdBuf, radiusBytes(1), src, dst, ubo))
	require.NoError(t, cmdBuf.End())
	require.NoError(t, c.Submit(cmdBuf))
}

func TestPipelineAssets(t *testing.T) {
	c := New(gpu.Options{})
	_, err := c.NewComputePipeline(gpu.PipelineDesc{Assets: assets, ShaderPath: "shaders/Missing.comp.spv", PushConstantSize: 4})
	assert.Error(t, err)

	unknown := fstest.MapFS{"shaders/Sharpen.comp.spv": {Data: []byte{1, 2, 3, 4}}}
	_, err = c.NewComputePipeline(gpu.PipelineDesc{Assets: unknown, ShaderPath: "shaders/Sharpen.comp.spv", PushConstantSize: 4})
	assert.ErrorContains(t, err, "no software pass")

	_, err = c.NewComputePipeline(gpu.PipelineDesc{ShaderPath: "shaders/BlurVertical.comp.spv"})
	assert.Error(t, err)
	assert.Zero(t, c.Live().Pipelines)
}

// direct2D convolves with the outer product kernel and clamp-to-edge sampling,
// rounding once at the end.
func direct2D(src *image.RGBA, radius int, w []float32) *image.RGBA {
	b := src.Rect
	out := image.NewRGBA(b)
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v >= hi {
			return hi - 1
		}
		return v
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var acc [4]float64
			for j := -radius; j <= radius; j++ {
				for i := -radius; i <= radius; i++ {
					p := src.RGBAAt(clamp(x+i, b.Dx()), clamp(y+j, b.Dy()))
					wk := float64(w[i+radius]) * float64(w[j+radius])
					acc[0] += wk * float64(p.R)
					acc[1] += wk * float64(p.G)
					acc[2] += wk * float64(p.B)
					acc[3] += wk * float64(p.A)
				}
			}
			out.SetRGBA(x, y, color.RGBA{
				uint8(math.Round(acc[0])), uint8(math.Round(acc[1])),
				uint8(math.Round(acc[2])), uint8(math.Round(acc[3]))})
		}
	}
	return out
}

func TestSeparablePassesMatchDirectConvolution(t *testing.T) {
	src := gradient(7, 6).RGBA()
	const radius = 2
	weights := []float32{0.1, 0.2, 0.4, 0.2, 0.1}

	tmp := image.NewRGBA(src.Rect)
	out := image.NewRGBA(src.Rect)
	blurHorizontal(src, tmp, radius, weights)
	blurVertical(tmp, out, radius, weights)

	want := direct2D(src, radius, weights)
	for i := range want.Pix {
		diff := int(out.Pix[i]) - int(want.Pix[i])
		require.LessOrEqual(t, diff, 1, "byte %d", i)
		require.GreaterOrEqual(t, diff, -1, "byte %d", i)
	}
}

func TestUniformFieldIsPreserved(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 9, 5))
	for i := 0; i < len(src.Pix); i += 4 {
		copy(src.Pix[i:], []byte{200, 100, 50, 255})
	}
	weights := []float32{0.05, 0.25, 0.4, 0.25, 0.05}
	dst := image.NewRGBA(src.Rect)
	blurVertical(src, dst, 2, weights)
	assert.Equal(t, src.Pix, dst.Pix)
}

func TestCopyAndSharedLifetime(t *testing.T) {
	c := New(gpu.Options{})
	mem, err := c.AllocateShared(gpu.SharedDesc{Width: 3, Height: 2, Layers: 1,
		Format: gpu.FormatRGBA8Unorm, Usage: gpu.SharedUsageGPUSampledImage})
	require.NoError(t, err)
	h := mem.Handle()
	assert.NotEqual(t, gpu.InvalidHandle, h)

	out, err := c.NewImageFromShared(mem)
	require.NoError(t, err)
	assert.Equal(t, gpu.LayoutTransferDst, out.Layout())
	mem.Release()

	sh, ok := LookupShared(h)
	require.True(t, ok, "image keeps the region alive")
	assert.Equal(t, 1, sh.Refs())

	src, _ := c.NewImageFromBitmap(gradient(3, 2))
	staging, _ := c.NewDeviceLocalImage(3, 2, gpu.ImageUsageStorage|gpu.ImageUsageTransferSrc)
	cmdBuf, _ := c.NewCommandBuffer()
	require.NoError(t, cmdBuf.Begin())
	assert.Error(t, cmdBuf.CopyImage(src, out), "source lacks TransferSrc")
	require.NoError(t, staging.RecordLayoutTransition(cmdBuf, gpu.LayoutTransferSrc, false))
	require.NoError(t, cmdBuf.CopyImage(staging, out))
	require.NoError(t, cmdBuf.End())
	require.NoError(t, c.Submit(cmdBuf))

	for _, b := range sh.Image().Pix {
		require.Equal(t, uint8(poisonByte), b)
	}

	out.Destroy()
	_, ok = LookupShared(h)
	assert.False(t, ok)
	assert.Zero(t, c.Live().Shared)
}

func TestFailAfter(t *testing.T) {
	c := New(gpu.Options{})
	c.FailAfter(1)
	a, err := c.NewDeviceLocalImage(1, 1, gpu.ImageUsageStorage)
	require.NoError(t, err)
	_, err = c.NewDeviceLocalImage(1, 1, gpu.ImageUsageStorage)
	assert.True(t, errors.Is(err, ErrOutOfDeviceMemory))
	_, err = c.NewBuffer(4, gpu.BufferUsageUniform, gpu.MemoryHostVisible)
	assert.True(t, errors.Is(err, ErrOutOfDeviceMemory))

	c.FailAfter(-1)
	b, err := c.NewDeviceLocalImage(1, 1, gpu.ImageUsageStorage)
	require.NoError(t, err)
	assert.Equal(t, Counts{Images: 2}, c.Live())
	a.Destroy()
	b.Destroy()
	assert.Zero(t, c.Live().Total())
}

func TestBufferCopyFrom(t *testing.T) {
	c := New(gpu.Options{})
	local, err := c.NewBuffer(8, gpu.BufferUsageUniform, gpu.MemoryDeviceLocal)
	require.NoError(t, err)
	assert.Error(t, local.CopyFrom([]byte{1}), "device local memory is not mappable")

	host, err := c.NewBuffer(4, gpu.BufferUsageUniform, gpu.MemoryHostVisible|gpu.MemoryHostCoherent)
	require.NoError(t, err)
	assert.Error(t, host.CopyFrom(make([]byte, 5)))
	require.NoError(t, host.CopyFrom([]byte{1, 2}))
	assert.Equal(t, []byte{1, 2, 0, 0}, host.(*Buffer).Bytes())
}

func TestFailNextSubmit(t *testing.T) {
	c := New(gpu.Options{})
	cmdBuf, err := c.NewCommandBuffer()
	require.NoError(t, err)
	img, err := c.NewImageFromBitmap(gradient(3, 3))
	require.NoError(t, err)

	c.FailNextSubmit(nil)
	require.NoError(t, cmdBuf.Begin())
	require.NoError(t, img.RecordLayoutTransition(cmdBuf, gpu.LayoutTransferDst, false))
	require.NoError(t, cmdBuf.End())
	err = c.Submit(cmdBuf)
	assert.True(t, errors.Is(err, ErrDeviceLost), "got %v", err)
	assert.Zero(t, c.Submits())

	got, err := c.ReadImage(img)
	require.NoError(t, err)
	assert.Equal(t, gradient(3, 3).Pix, got.Pix, "nothing executed")

	require.NoError(t, cmdBuf.Begin())
	require.NoError(t, cmdBuf.End())
	assert.NoError(t, c.Submit(cmdBuf))
	assert.Equal(t, 1, c.Submits())
}

func TestDiscardInPlace(t *testing.T) {
	c := New(gpu.Options{})
	cmdBuf, _ := c.NewCommandBuffer()
	img, err := c.NewImageFromBitmap(gradient(2, 2))
	require.NoError(t, err)
	require.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())

	require.NoError(t, cmdBuf.Begin())
	require.NoError(t, img.RecordLayoutTransition(cmdBuf, gpu.LayoutShaderReadOnly, true))
	assert.Empty(t, cmdBuf.(*CommandBuffer).Trace())
	require.NoError(t, img.RecordLayoutTransition(cmdBuf, gpu.LayoutShaderReadOnly, false))
	require.Len(t, cmdBuf.(*CommandBuffer).Trace(), 1)
	assert.Contains(t, cmdBuf.(*CommandBuffer).Trace()[0], "ShaderReadOnly->ShaderReadOnly discard")
	require.NoError(t, cmdBuf.End())
	require.NoError(t, c.Submit(cmdBuf))

	got, err := c.ReadImage(img)
	require.NoError(t, err)
	for _, b := range got.Pix {
		require.Equal(t, uint8(poisonByte), b)
	}
}
