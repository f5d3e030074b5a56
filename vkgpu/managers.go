package vkgpu

import vk "github.com/vulkan-go/vulkan"

// FenceManager keeps track of fences which in turn are used to keep track of GPU progress.
// The manager is not thread-safe.
type FenceManager struct {
	device vk.Device
	fences []vk.Fence
	count  uint32
}

func NewFenceManager(device vk.Device) *FenceManager {
	return &FenceManager{
		device: device,
	}
}

// Reset waits for every outstanding fence and makes them reusable.
func (f *FenceManager) Reset() error {
	if f.count > 0 {
		ret := vk.WaitForFences(f.device, f.count, f.fences[:f.count], vk.True, vk.MaxUint64)
		if isError(ret) {
			return newError(ret)
		}
		ret = vk.ResetFences(f.device, f.count, f.fences[:f.count])
		if isError(ret) {
			return newError(ret)
		}
	}
	f.count = 0
	return nil
}

// NewFence returns an unsignaled fence, recycled when possible.
func (f *FenceManager) NewFence() (vk.Fence, error) {
	if f.count < uint32(len(f.fences)) {
		fence := f.fences[f.count]
		f.count++
		return fence, nil
	}
	var fence vk.Fence
	ret := vk.CreateFence(f.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence)
	if isError(ret) {
		return vk.NullFence, newError(ret)
	}
	f.fences = append(f.fences, fence)
	f.count++
	return fence, nil
}

func (f *FenceManager) Destroy() {
	f.Reset()
	for i := range f.fences {
		vk.DestroyFence(f.device, f.fences[i], nil)
	}
	f.fences = nil
}

// CommandBufferManager allocates primary command buffers from one pool and
// hands back released ones before allocating new ones.
// The manager is not thread-safe.
type CommandBufferManager struct {
	device vk.Device
	pool   vk.CommandPool
	all    []vk.CommandBuffer
	free   []vk.CommandBuffer
}

// NewCommandBufferManager creates a pool on the given queue family.
func NewCommandBufferManager(device vk.Device, queueFamily uint32) (*CommandBufferManager, error) {
	pool, err := newCommandPool(device, queueFamily)
	if err != nil {
		return nil, err
	}
	return &CommandBufferManager{
		device: device,
		pool:   pool,
	}, nil
}

// NewCommandBuffer returns a fresh or recycled command buffer in the reset state.
func (c *CommandBufferManager) NewCommandBuffer() (vk.CommandBuffer, error) {
	if n := len(c.free); n > 0 {
		buf := c.free[n-1]
		c.free = c.free[:n-1]
		ret := vk.ResetCommandBuffer(buf,
			vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))
		if isError(ret) {
			c.free = append(c.free, buf)
			return nil, newError(ret)
		}
		return buf, nil
	}
	bufs := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(c.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	if isError(ret) {
		return nil, newError(ret)
	}
	c.all = append(c.all, bufs[0])
	return bufs[0], nil
}

// Release returns buf for reuse.
func (c *CommandBufferManager) Release(buf vk.CommandBuffer) {
	c.free = append(c.free, buf)
}

// Live is the number of buffers handed out and not released.
func (c *CommandBufferManager) Live() int {
	return len(c.all) - len(c.free)
}

func (c *CommandBufferManager) Destroy() {
	if len(c.all) > 0 {
		vk.FreeCommandBuffers(c.device, c.pool, uint32(len(c.all)), c.all)
	}
	vk.DestroyCommandPool(c.device, c.pool, nil)
	c.all, c.free = nil, nil
}
