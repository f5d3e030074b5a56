package gpu

import "fmt"

// Layout is the access layout an image is currently in.
type Layout int32

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutGeneral:
		return "General"
	case LayoutShaderReadOnly:
		return "ShaderReadOnly"
	case LayoutTransferSrc:
		return "TransferSrc"
	case LayoutTransferDst:
		return "TransferDst"
	}
	return fmt.Sprintf("Layout(%d)", int32(l))
}

// ImageUsage is a set of ways an image may be used by GPU commands.
type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
)

func (u ImageUsage) Has(flags ImageUsage) bool {
	return u&flags == flags
}

// BufferUsage is a set of ways a buffer may be bound.
type BufferUsage uint32

const (
	BufferUsageUniform BufferUsage = 1 << iota
	BufferUsageStorage
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

func (u BufferUsage) Has(flags BufferUsage) bool {
	return u&flags == flags
}

// MemoryProperty describes where memory lives and how the host sees it.
type MemoryProperty uint32

const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
)

func (p MemoryProperty) Has(flags MemoryProperty) bool {
	return p&flags == flags
}

// Format is a pixel format. Only 8-bit RGBA is used by the blur passes.
type Format int32

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "RGBA8Unorm"
	case FormatUndefined:
		return "Undefined"
	}
	return fmt.Sprintf("Format(%d)", int32(f))
}

// BytesPerPixel returns the texel size, or 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	if f == FormatRGBA8Unorm {
		return 4
	}
	return 0
}

// SharedUsage mirrors the usage bits of platform hardware buffers.
// CPU access is never requested when neither CPU bit is set.
type SharedUsage uint64

const (
	SharedUsageCPUReadOften    SharedUsage = 3
	SharedUsageCPUWriteOften   SharedUsage = 3 << 4
	SharedUsageGPUSampledImage SharedUsage = 1 << 8
)

func (u SharedUsage) CPUAccessible() bool {
	return u&(SharedUsageCPUReadOften|SharedUsageCPUWriteOften) != 0
}

// SharedHandle is an opaque token naming a shareable memory region.
// The zero value never names a region.
type SharedHandle uint64

// InvalidHandle is returned wherever a handle could not be produced.
const InvalidHandle SharedHandle = 0

// SharedDesc describes a shareable memory region.
type SharedDesc struct {
	Width  uint32
	Height uint32
	Layers uint32
	Format Format
	Usage  SharedUsage
}

// Size is the number of bytes needed for the texels of the region.
func (d SharedDesc) Size() int {
	return int(d.Width) * int(d.Height) * int(d.Layers) * d.Format.BytesPerPixel()
}
