package vkgpu

import (
	"sync"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vlur/gpu"
)

// shared regions are resolvable by handle anywhere in the process
var (
	sharedMu   sync.Mutex
	sharedNext gpu.SharedHandle
	sharedByID = make(map[gpu.SharedHandle]*Shared)
)

// Shared is a dedicated device-local allocation sized for an image of its
// descriptor. Exporting it to another API is left to the host platform,
// which resolves the handle with LookupShared and exports Memory.
type Shared struct {
	ctx    *Context
	handle gpu.SharedHandle
	desc   gpu.SharedDesc
	memory vk.DeviceMemory
	usage  gpu.ImageUsage
	refs   int
}

// LookupShared resolves a handle produced by this backend.
func LookupShared(h gpu.SharedHandle) (*Shared, bool) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sh, ok := sharedByID[h]
	return sh, ok
}

// sharedUsage is the image usage a shared region supports: written by
// transfers, read by transfers and by sampling consumers.
func sharedUsage(desc gpu.SharedDesc) gpu.ImageUsage {
	u := gpu.ImageUsageTransferDst | gpu.ImageUsageTransferSrc
	if desc.Usage&gpu.SharedUsageGPUSampledImage != 0 {
		u |= gpu.ImageUsageSampled
	}
	return u
}

func (c *Context) AllocateShared(desc gpu.SharedDesc) (gpu.SharedMemory, error) {
	if desc.Width == 0 || desc.Height == 0 || desc.Layers != 1 {
		return nil, errors.Errorf("vulkan: shared extent %dx%dx%d", desc.Width, desc.Height, desc.Layers)
	}
	if desc.Format != gpu.FormatRGBA8Unorm {
		return nil, errors.Errorf("vulkan: shared format %s", desc.Format)
	}
	want := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.Usage.CPUAccessible() {
		want |= vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	}

	// a probe image gives the size and memory types images of this
	// descriptor need
	usage := sharedUsage(desc)
	probe, err := c.createImage(desc.Width, desc.Height, usage)
	if err != nil {
		return nil, err
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(c.device(), probe, &reqs)
	vk.DestroyImage(c.device(), probe, nil)

	memory, err := c.allocate(reqs, want)
	if err != nil {
		return nil, err
	}
	sh := &Shared{ctx: c, desc: desc, memory: memory, usage: usage, refs: 1}

	sharedMu.Lock()
	sharedNext++
	sh.handle = sharedNext
	sharedByID[sh.handle] = sh
	sharedMu.Unlock()
	return sh, nil
}

func (c *Context) NewImageFromShared(mem gpu.SharedMemory) (gpu.Image, error) {
	sh, ok := mem.(*Shared)
	if !ok || sh.ctx != c {
		return nil, errors.Errorf("vulkan: shared memory %T not from this device", mem)
	}
	if sh.refs <= 0 {
		return nil, gpu.ErrDestroyed
	}
	img, err := c.newImage(sh.desc.Width, sh.desc.Height, sh.usage, sh)
	if err != nil {
		return nil, err
	}
	// leave it ready to receive the copy
	if err := c.oneShot(func(cmd vk.CommandBuffer) {
		transition(gpu.LayoutUndefined, gpu.LayoutTransferDst, false).record(cmd, img.image)
	}); err != nil {
		img.Destroy()
		return nil, err
	}
	img.layout = gpu.LayoutTransferDst
	return img, nil
}

func (s *Shared) Handle() gpu.SharedHandle { return s.handle }
func (s *Shared) Desc() gpu.SharedDesc     { return s.desc }

// Memory is the device memory backing the region.
func (s *Shared) Memory() vk.DeviceMemory { return s.memory }

func (s *Shared) Acquire() { s.refs++ }

func (s *Shared) Release() {
	if s.refs <= 0 {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	sharedMu.Lock()
	delete(sharedByID, s.handle)
	sharedMu.Unlock()
	vk.FreeMemory(s.ctx.device(), s.memory, nil)
	s.memory = vk.NullDeviceMemory
}
