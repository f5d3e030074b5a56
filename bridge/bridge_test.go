package bridge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andewx/vlur"
	"github.com/andewx/vlur/gpu"
	"github.com/andewx/vlur/softgpu"
)

func setup(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	cfg := vlur.DefaultConfig()
	cfg.Backend = gpu.BackendSoftware
	SetConfig(cfg)
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() {
		SetConfig(vlur.DefaultConfig())
		SetLogger(nil)
	})
	return logs
}

func bitmap(w, h int) *gpu.Bitmap {
	bm := gpu.NewBitmap(w, h)
	for i := range bm.Pix {
		bm.Pix[i] = byte(i * 7)
	}
	return bm
}

func TestLifecycle(t *testing.T) {
	setup(t)
	h := Create(true, vlur.ShaderSources())
	require.NotEqual(t, Invalid, h)
	defer Destroy(h)

	require.True(t, Configure(h, bitmap(12, 9), 1))
	out := GetOutputHandle(h, 1)
	require.NotEqual(t, gpu.InvalidHandle, out)
	_, ok := softgpu.LookupShared(out)
	assert.True(t, ok)

	assert.True(t, Blur(h, 4, 1))
	assert.True(t, Blur(h, 4, 1))
	assert.Equal(t, out, GetOutputHandle(h, 1))
}

func TestInvalidHandles(t *testing.T) {
	logs := setup(t)
	for _, h := range []Handle{Invalid, 9999} {
		assert.False(t, Configure(h, bitmap(2, 2), 1))
		assert.Equal(t, gpu.InvalidHandle, GetOutputHandle(h, 1))
		assert.False(t, Blur(h, 2, 1))
		assert.NotPanics(t, func() { Destroy(h) })
	}
	assert.Equal(t, 2, logs.FilterMessage("blur on unknown handle").Len())
}

func TestDestroyedHandle(t *testing.T) {
	setup(t)
	before := Live()
	h := Create(false, vlur.ShaderSources())
	require.NotEqual(t, Invalid, h)
	require.True(t, Configure(h, bitmap(4, 4), 1))
	out := GetOutputHandle(h, 1)
	assert.Equal(t, before+1, Live())

	Destroy(h)
	Destroy(h)
	assert.Equal(t, before, Live())
	assert.False(t, Blur(h, 2, 1))
	assert.Equal(t, gpu.InvalidHandle, GetOutputHandle(h, 1))
	_, ok := softgpu.LookupShared(out)
	assert.False(t, ok)
}

func TestFailuresAreReportedAsFalse(t *testing.T) {
	logs := setup(t)
	h := Create(false, vlur.ShaderSources())
	require.NotEqual(t, Invalid, h)
	defer Destroy(h)

	assert.False(t, Blur(h, 2, 1))
	assert.Equal(t, gpu.InvalidHandle, GetOutputHandle(h, 1))
	assert.False(t, Configure(h, nil, 1))

	require.True(t, Configure(h, bitmap(4, 4), 1))
	assert.False(t, Blur(h, float32(math.NaN()), 1))
	assert.False(t, Blur(h, 26, 1))
	assert.True(t, Blur(h, 25, 1))

	failed := logs.FilterMessage("blur failed").All()
	require.NotEmpty(t, failed)
	assert.Equal(t, true, failed[len(failed)-1].ContextMap()["recoverable"])
}

func TestCreateFailure(t *testing.T) {
	setup(t)
	cfg := vlur.DefaultConfig()
	cfg.Backend = "metal"
	SetConfig(cfg)
	assert.Equal(t, Invalid, Create(false, vlur.ShaderSources()))
}

func TestHandlesAreDistinct(t *testing.T) {
	setup(t)
	a := Create(false, vlur.ShaderSources())
	b := Create(false, vlur.ShaderSources())
	defer Destroy(a)
	defer Destroy(b)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, Invalid, a)
	assert.NotEqual(t, Invalid, b)
}
