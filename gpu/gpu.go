// Package gpu defines the device objects the blur processor records work
// against. Backends (Vulkan, software) implement these interfaces and
// register themselves by name.
package gpu

import (
	"image"
	"io/fs"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrBackendNotAvailable is returned when no backend is registered under a name.
	ErrBackendNotAvailable = errors.New("gpu: backend not available")
	// ErrNotRecording is returned when a command is recorded outside Begin/End.
	ErrNotRecording = errors.New("gpu: command buffer is not recording")
	// ErrDestroyed is returned when a destroyed object is used.
	ErrDestroyed = errors.New("gpu: object destroyed")
)

// Options configure a backend context.
type Options struct {
	// AppName is reported to the driver.
	AppName string
	// Debug enables validation layers where the backend has them.
	Debug bool
	// Logger receives backend diagnostics. A nil logger discards them.
	Logger *zap.Logger
}

func (o Options) Log() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Context owns a device, its queue and command pool, and creates every other object.
type Context interface {
	// Name returns the backend identifier.
	Name() string
	// NewCommandBuffer allocates a primary command buffer from the context pool.
	NewCommandBuffer() (CommandBuffer, error)
	// Submit submits a finished command buffer and blocks until the queue is idle.
	Submit(cmd CommandBuffer) error
	// NewBuffer creates a buffer and binds memory with the given properties.
	NewBuffer(size int, usage BufferUsage, props MemoryProperty) (Buffer, error)
	// NewImageFromBitmap uploads a host bitmap into a sampled image left in ShaderReadOnly layout.
	NewImageFromBitmap(bm *Bitmap) (Image, error)
	// NewDeviceLocalImage creates an RGBA8 image in Undefined layout.
	NewDeviceLocalImage(width, height uint32, usage ImageUsage) (Image, error)
	// AllocateShared allocates a shareable memory region. The caller holds one reference.
	AllocateShared(desc SharedDesc) (SharedMemory, error)
	// NewImageFromShared wraps a shareable region as a TransferDst image left in
	// TransferDst layout. The image holds its own reference to the region.
	NewImageFromShared(mem SharedMemory) (Image, error)
	// NewComputePipeline builds a compute pipeline from a shader asset.
	NewComputePipeline(desc PipelineDesc) (Pipeline, error)
	// ReadImage copies an image back to host memory. It is a consumer helper
	// and is never part of the blur command stream.
	ReadImage(img Image) (*image.RGBA, error)
	// WorkGroupSize is the square compute workgroup edge used for dispatches.
	WorkGroupSize() uint32
	// Destroy releases the device. Every object created from the context must be destroyed first.
	Destroy()
}

// CommandBuffer records GPU work for a single submission.
type CommandBuffer interface {
	// Begin starts recording for one-time submission, discarding earlier contents.
	Begin() error
	// End finishes recording.
	End() error
	// CopyImage records a full-extent copy. src must be in TransferSrc and
	// dst in TransferDst layout with identical extents and formats.
	CopyImage(src, dst Image) error
	Destroy()
}

// Image is a 2D RGBA8 GPU image with tracked layout.
type Image interface {
	Width() uint32
	Height() uint32
	Format() Format
	Usage() ImageUsage
	// Layout is the layout the image will be in once recorded work executes.
	Layout() Layout
	// RecordLayoutTransition records a barrier into cmd. When preserve is
	// false the old contents are discarded.
	RecordLayoutTransition(cmd CommandBuffer, layout Layout, preserve bool) error
	// Shared returns the shareable memory backing the image, or nil.
	Shared() SharedMemory
	Destroy()
}

// Buffer is a linear GPU buffer.
type Buffer interface {
	Size() int
	Usage() BufferUsage
	// CopyFrom synchronously writes host data at offset 0.
	CopyFrom(data []byte) error
	Destroy()
}

// SharedMemory is a reference counted memory region that can be handed to
// consumers outside the processor.
type SharedMemory interface {
	Handle() SharedHandle
	Desc() SharedDesc
	Acquire()
	// Release drops one reference. The region is freed with the last one.
	Release()
}

// PipelineDesc describes a compute pipeline.
type PipelineDesc struct {
	// Name identifies the pass in logs and traces.
	Name string
	// Assets is the asset source the SPIR-V binary is read from.
	Assets fs.FS
	// ShaderPath locates the SPIR-V binary within Assets.
	ShaderPath string
	// PushConstantSize is the size in bytes of the push constant block, 0 for none.
	PushConstantSize uint32
	// UseUniformBuffer binds a uniform buffer at binding 2.
	UseUniformBuffer bool
}

// Pipeline is a compute pipeline reading one image and writing another.
type Pipeline interface {
	// RecordDispatch binds src at binding 0 (sampled), dst at binding 1
	// (storage) and uniform at binding 2, pushes constants and dispatches
	// one invocation per destination texel.
	RecordDispatch(cmd CommandBuffer, pushConstants []byte, src, dst Image, uniform Buffer) error
	Destroy()
}

// CeilDiv divides rounding up.
func CeilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// WorkGroupSize picks a square compute workgroup edge: 64 clamped to the
// device limits, then rounded down to a multiple of 4.
func WorkGroupSize(maxSize [3]uint32, maxInvocations uint32) uint32 {
	size := uint32(64)
	size = min(size, maxSize[0], maxSize[1])
	size = min(size, uint32(math.Sqrt(float64(maxInvocations))))
	return size &^ 3
}
