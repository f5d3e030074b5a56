package vkgpu

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vlur/gpu"
)

// memoryTypes extracts the property flags of each memory type.
func memoryTypes(props vk.PhysicalDeviceMemoryProperties) []vk.MemoryPropertyFlags {
	types := make([]vk.MemoryPropertyFlags, props.MemoryTypeCount)
	for i := range types {
		props.MemoryTypes[i].Deref()
		types[i] = props.MemoryTypes[i].PropertyFlags
	}
	return types
}

// findMemoryType returns the first type allowed by typeBits that has all
// of the wanted properties.
func findMemoryType(types []vk.MemoryPropertyFlags, typeBits uint32, want vk.MemoryPropertyFlags) (uint32, bool) {
	for i, flags := range types {
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		if flags&want == want {
			return uint32(i), true
		}
	}
	return 0, false
}

func memoryFlags(p gpu.MemoryProperty) vk.MemoryPropertyFlags {
	var f vk.MemoryPropertyFlagBits
	if p.Has(gpu.MemoryDeviceLocal) {
		f |= vk.MemoryPropertyDeviceLocalBit
	}
	if p.Has(gpu.MemoryHostVisible) {
		f |= vk.MemoryPropertyHostVisibleBit
	}
	if p.Has(gpu.MemoryHostCoherent) {
		f |= vk.MemoryPropertyHostCoherentBit
	}
	return vk.MemoryPropertyFlags(f)
}

func bufferUsageFlags(u gpu.BufferUsage) vk.BufferUsageFlags {
	var f vk.BufferUsageFlagBits
	if u.Has(gpu.BufferUsageUniform) {
		f |= vk.BufferUsageUniformBufferBit
	}
	if u.Has(gpu.BufferUsageStorage) {
		f |= vk.BufferUsageStorageBufferBit
	}
	if u.Has(gpu.BufferUsageTransferSrc) {
		f |= vk.BufferUsageTransferSrcBit
	}
	if u.Has(gpu.BufferUsageTransferDst) {
		f |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(f)
}

// allocate allocates memory for reqs with the wanted properties.
func (c *Context) allocate(reqs vk.MemoryRequirements, want vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	reqs.Deref()
	typ, ok := findMemoryType(c.platform.memoryTypes, reqs.MemoryTypeBits, want)
	if !ok {
		return vk.NullDeviceMemory, errors.Errorf("vulkan: no memory type with flags %#x in mask %#b", want, reqs.MemoryTypeBits)
	}
	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(c.device(), &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typ,
	}, nil, &memory)
	if isError(ret) {
		return vk.NullDeviceMemory, newError(ret)
	}
	return memory, nil
}

// Buffer is a vk.Buffer with its own memory.
type Buffer struct {
	ctx    *Context
	buffer vk.Buffer
	memory vk.DeviceMemory
	size   int
	usage  gpu.BufferUsage
	props  gpu.MemoryProperty
}

func (c *Context) NewBuffer(size int, usage gpu.BufferUsage, props gpu.MemoryProperty) (gpu.Buffer, error) {
	return c.newBuffer(size, usage, props)
}

func (c *Context) newBuffer(size int, usage gpu.BufferUsage, props gpu.MemoryProperty) (b *Buffer, err error) {
	if size <= 0 {
		return nil, errors.Errorf("vulkan: buffer size %d", size)
	}
	device := c.device()
	var buffer vk.Buffer
	ret := vk.CreateBuffer(device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       bufferUsageFlags(usage),
		Size:        vk.DeviceSize(size),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer)
	if isError(ret) {
		return nil, newError(ret)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &reqs)
	memory, err := c.allocate(reqs, memoryFlags(props))
	if err != nil {
		vk.DestroyBuffer(device, buffer, nil)
		return nil, err
	}
	if ret := vk.BindBufferMemory(device, buffer, memory, 0); isError(ret) {
		vk.FreeMemory(device, memory, nil)
		vk.DestroyBuffer(device, buffer, nil)
		return nil, newError(ret)
	}
	return &Buffer{ctx: c, buffer: buffer, memory: memory, size: size, usage: usage, props: props}, nil
}

func (b *Buffer) Size() int              { return b.size }
func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }

// CopyFrom maps the buffer and copies data to offset 0.
func (b *Buffer) CopyFrom(data []byte) error {
	if b.buffer == vk.NullBuffer {
		return gpu.ErrDestroyed
	}
	if !b.props.Has(gpu.MemoryHostVisible) {
		return errors.New("vulkan: buffer memory is not host visible")
	}
	if len(data) > b.size {
		return errors.Errorf("vulkan: %d bytes into %d byte buffer", len(data), b.size)
	}
	if len(data) == 0 {
		return nil
	}
	device := b.ctx.device()
	var p unsafe.Pointer
	ret := vk.MapMemory(device, b.memory, 0, vk.DeviceSize(len(data)), 0, &p)
	if isError(ret) {
		return newError(ret)
	}
	defer vk.UnmapMemory(device, b.memory)
	if n := vk.Memcopy(p, data); n != len(data) {
		return errors.Errorf("vulkan: copied %d of %d bytes", n, len(data))
	}
	return nil
}

// read maps the buffer and copies its first len(out) bytes into out.
func (b *Buffer) read(out []byte) error {
	device := b.ctx.device()
	var p unsafe.Pointer
	ret := vk.MapMemory(device, b.memory, 0, vk.DeviceSize(len(out)), 0, &p)
	if isError(ret) {
		return newError(ret)
	}
	copy(out, unsafe.Slice((*byte)(p), len(out)))
	vk.UnmapMemory(device, b.memory)
	return nil
}

func (b *Buffer) Destroy() {
	if b.buffer == vk.NullBuffer {
		return
	}
	device := b.ctx.device()
	vk.DestroyBuffer(device, b.buffer, nil)
	vk.FreeMemory(device, b.memory, nil)
	b.buffer = vk.NullBuffer
	b.memory = vk.NullDeviceMemory
}
