package vkgpu_test

import (
	"io/fs"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andewx/vlur"
	"github.com/andewx/vlur/gpu"
	"github.com/andewx/vlur/softgpu"
	"github.com/andewx/vlur/vkgpu"
)

func init() {
	runtime.LockOSThread()
}

var loaderErr error

func TestMain(m *testing.M) {
	loaderErr = vkgpu.Init()
	code := m.Run()
	if loaderErr == nil {
		vkgpu.Terminate()
	}
	os.Exit(code)
}

// device opens a Vulkan context or skips when the machine has none, or
// when the shaders have not been compiled.
func device(t *testing.T) (*vkgpu.Context, fs.FS) {
	t.Helper()
	if loaderErr != nil {
		t.Skipf("no vulkan loader: %v", loaderErr)
	}
	assets := os.DirFS("..")
	for _, path := range []string{vlur.DefaultHorizontalShader, vlur.DefaultVerticalShader} {
		if _, err := fs.Stat(assets, path); err != nil {
			t.Skipf("%s missing, run go generate", path)
		}
	}
	ctx, err := vkgpu.New(gpu.Options{AppName: "vlur-test", Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Skipf("no vulkan device: %v", err)
	}
	return ctx, assets
}

func pattern(w, h int) *gpu.Bitmap {
	bm := gpu.NewBitmap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*bm.Stride + 4*x
			bm.Pix[i] = byte(x * 255 / w)
			bm.Pix[i+1] = byte(y * 255 / h)
			if (x/3+y/5)%2 == 0 {
				bm.Pix[i+2] = 255
			}
			bm.Pix[i+3] = 255
		}
	}
	return bm
}

func TestBlurMatchesSoftware(t *testing.T) {
	vkctx, assets := device(t)
	cfg := vlur.DefaultConfig()

	hw, err := vlur.New(cfg, assets, vlur.WithContext(vkctx))
	require.NoError(t, err)
	defer hw.Close()

	cfg.Backend = gpu.BackendSoftware
	sw, err := vlur.New(cfg, assets, vlur.WithContext(softgpu.New(gpu.Options{})))
	require.NoError(t, err)
	defer sw.Close()

	bm := pattern(37, 23)
	for _, p := range []*vlur.Processor{hw, sw} {
		require.NoError(t, p.Configure(bm, 1))
	}
	for _, radius := range []float32{1, 3.5, 25} {
		require.NoError(t, hw.Blur(radius, 1))
		require.NoError(t, sw.Blur(radius, 1))

		got, err := hw.Snapshot(1)
		require.NoError(t, err)
		want, err := sw.Snapshot(1)
		require.NoError(t, err)
		require.Equal(t, want.Rect, got.Rect)
		for i := range want.Pix {
			d := int(want.Pix[i]) - int(got.Pix[i])
			if d < -1 || d > 1 {
				assert.Failf(t, "pixel mismatch", "radius %v byte %d: want %d got %d", radius, i, want.Pix[i], got.Pix[i])
				break
			}
		}
	}

	h, err := hw.OutputHandle(1)
	require.NoError(t, err)
	sh, ok := vkgpu.LookupShared(h)
	require.True(t, ok)
	assert.Equal(t, uint32(37), sh.Desc().Width)
}

func TestContextObjects(t *testing.T) {
	ctx, _ := device(t)
	defer ctx.Destroy()

	assert.Equal(t, gpu.BackendVulkan, ctx.Name())
	wg := ctx.WorkGroupSize()
	assert.NotZero(t, wg)
	assert.Zero(t, wg%4)

	bm := pattern(5, 4)
	img, err := ctx.NewImageFromBitmap(bm)
	require.NoError(t, err)
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	img.Destroy()
	img.Destroy()

	mem, err := ctx.AllocateShared(gpu.SharedDesc{Width: 5, Height: 4, Layers: 1, Format: gpu.FormatRGBA8Unorm,
		Usage: gpu.SharedUsageGPUSampledImage})
	require.NoError(t, err)
	out, err := ctx.NewImageFromShared(mem)
	require.NoError(t, err)
	mem.Release()
	_, ok := vkgpu.LookupShared(mem.Handle())
	assert.True(t, ok, "image keeps the region alive")
	out.Destroy()
	_, ok = vkgpu.LookupShared(mem.Handle())
	assert.False(t, ok)
}

func TestBeginAfterAbortedRecording(t *testing.T) {
	ctx, _ := device(t)
	defer ctx.Destroy()

	cmd, err := ctx.NewCommandBuffer()
	require.NoError(t, err)
	defer cmd.Destroy()
	img, err := ctx.NewDeviceLocalImage(8, 8, gpu.ImageUsageStorage|gpu.ImageUsageTransferSrc)
	require.NoError(t, err)
	defer img.Destroy()

	require.NoError(t, cmd.Begin())
	require.NoError(t, img.RecordLayoutTransition(cmd, gpu.LayoutGeneral, false))

	// never ended or submitted, the image is still Undefined on the device
	require.NoError(t, cmd.Begin())
	require.NoError(t, img.RecordLayoutTransition(cmd, gpu.LayoutGeneral, false))
	require.NoError(t, img.RecordLayoutTransition(cmd, gpu.LayoutTransferSrc, true))
	require.NoError(t, cmd.End())
	require.NoError(t, ctx.Submit(cmd))
	assert.Equal(t, gpu.LayoutTransferSrc, img.Layout())
}
