// Package vkgpu implements the gpu interfaces on Vulkan.
//
// Importing the package registers the "vulkan" backend. The loader is
// initialized on first use through GLFW, with the system loader as a
// fallback, so callers should open the backend from the main thread.
package vkgpu

import (
	"image"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"github.com/andewx/vlur/gpu"
)

// Context is a Vulkan device with one compute queue. It is not safe for
// concurrent use.
type Context struct {
	log      *zap.Logger
	platform *platform
	cmds     *CommandBufferManager
	fences   *FenceManager
	descPool vk.DescriptorPool
	sampler  vk.Sampler
	wg       uint32
}

// New creates the instance, device, pools and the clamp-to-edge sampler
// shared by every pipeline.
func New(opts gpu.Options) (c *Context, err error) {
	c = &Context{log: opts.Log().Named("vkgpu")}
	c.platform, err = newPlatform(Application{
		Name:       opts.AppName,
		AppVersion: DefaultAppVersion,
		APIVersion: DefaultAPIVersion,
		Debug:      opts.Debug,
	}, c.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			c.Destroy()
			c = nil
		}
	}()

	device := c.device()
	if c.cmds, err = NewCommandBufferManager(device, c.platform.queueFamily); err != nil {
		return c, errors.Wrap(err, "command pool")
	}
	c.fences = NewFenceManager(device)
	if c.descPool, err = newDescriptorPool(device); err != nil {
		return c, errors.Wrap(err, "descriptor pool")
	}

	var sampler vk.Sampler
	ret := vk.CreateSampler(device, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterNearest,
		MinFilter:               vk.FilterNearest,
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.False,
		CompareEnable:           vk.False,
		BorderColor:             vk.BorderColorFloatTransparentBlack,
		UnnormalizedCoordinates: vk.True,
	}, nil, &sampler)
	if isError(ret) {
		return c, newError(ret)
	}
	c.sampler = sampler

	c.wg = gpu.WorkGroupSize(c.platform.maxGroupSize, c.platform.maxGroupCalls)
	c.log.Debug("context ready", zap.Uint32("workGroupSize", c.wg))
	return c, nil
}

func (c *Context) device() vk.Device { return c.platform.device }

func (c *Context) Name() string { return gpu.BackendVulkan }

func (c *Context) WorkGroupSize() uint32 { return c.wg }

// Submit submits cmd and waits until the queue is idle.
func (c *Context) Submit(cmd gpu.CommandBuffer) error {
	cb, ok := cmd.(*CommandBuffer)
	if !ok || cb.ctx != c {
		return errors.Errorf("vulkan: command buffer %T not from this device", cmd)
	}
	if cb.buf == nil {
		return gpu.ErrDestroyed
	}
	if !cb.executable {
		return errors.New("vulkan: command buffer submitted without End")
	}
	cb.executable = false
	return c.submit(cb.buf)
}

func (c *Context) submit(buf vk.CommandBuffer) error {
	fence, err := c.fences.NewFence()
	if err != nil {
		return err
	}
	ret := vk.QueueSubmit(c.platform.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{buf},
	}}, fence)
	if isError(ret) {
		c.fences.Reset()
		return newError(ret)
	}
	if err := c.fences.Reset(); err != nil {
		return err
	}
	return newError(vk.QueueWaitIdle(c.platform.queue))
}

// oneShot records and runs a throwaway command buffer.
func (c *Context) oneShot(record func(cmd vk.CommandBuffer)) error {
	buf, err := c.cmds.NewCommandBuffer()
	if err != nil {
		return err
	}
	defer c.cmds.Release(buf)

	ret := vk.BeginCommandBuffer(buf, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if isError(ret) {
		return newError(ret)
	}
	record(buf)
	if ret := vk.EndCommandBuffer(buf); isError(ret) {
		return newError(ret)
	}
	return c.submit(buf)
}

// NewImageFromBitmap uploads bm through a host-visible staging buffer.
func (c *Context) NewImageFromBitmap(bm *gpu.Bitmap) (gpu.Image, error) {
	if err := bm.Validate(); err != nil {
		return nil, err
	}
	pix := bm.Packed()
	staging, err := c.newBuffer(len(pix), gpu.BufferUsageTransferSrc, gpu.MemoryHostVisible|gpu.MemoryHostCoherent)
	if err != nil {
		return nil, errors.Wrap(err, "staging buffer")
	}
	defer staging.Destroy()
	if err := staging.CopyFrom(pix); err != nil {
		return nil, err
	}

	w, h := uint32(bm.Width), uint32(bm.Height)
	img, err := c.newImage(w, h, gpu.ImageUsageTransferDst|gpu.ImageUsageSampled, nil)
	if err != nil {
		return nil, err
	}
	err = c.oneShot(func(cmd vk.CommandBuffer) {
		transition(gpu.LayoutUndefined, gpu.LayoutTransferDst, false).record(cmd, img.image)
		vk.CmdCopyBufferToImage(cmd, staging.buffer, img.image, vk.ImageLayoutTransferDstOptimal, 1,
			[]vk.BufferImageCopy{{
				ImageSubresource: colorLayers,
				ImageExtent:      vk.Extent3D{Width: w, Height: h, Depth: 1},
			}})
		transition(gpu.LayoutTransferDst, gpu.LayoutShaderReadOnly, true).record(cmd, img.image)
	})
	if err != nil {
		img.Destroy()
		return nil, errors.Wrap(err, "upload")
	}
	img.layout = gpu.LayoutShaderReadOnly
	return img, nil
}

// ReadImage copies img into a host buffer and restores its layout.
func (c *Context) ReadImage(img gpu.Image) (*image.RGBA, error) {
	im, ok := img.(*Image)
	if !ok || im.ctx != c {
		return nil, errors.Errorf("vulkan: foreign image %T", img)
	}
	if im.image == vk.NullImage {
		return nil, gpu.ErrDestroyed
	}
	if !im.usage.Has(gpu.ImageUsageTransferSrc) {
		return nil, errors.New("vulkan: image cannot be read back without TransferSrc usage")
	}
	out := image.NewRGBA(image.Rect(0, 0, int(im.width), int(im.height)))
	staging, err := c.newBuffer(len(out.Pix), gpu.BufferUsageTransferDst, gpu.MemoryHostVisible|gpu.MemoryHostCoherent)
	if err != nil {
		return nil, errors.Wrap(err, "staging buffer")
	}
	defer staging.Destroy()

	layout := im.layout
	err = c.oneShot(func(cmd vk.CommandBuffer) {
		transition(layout, gpu.LayoutTransferSrc, true).record(cmd, im.image)
		vk.CmdCopyImageToBuffer(cmd, im.image, vk.ImageLayoutTransferSrcOptimal, staging.buffer, 1,
			[]vk.BufferImageCopy{{
				ImageSubresource: colorLayers,
				ImageExtent:      vk.Extent3D{Width: im.width, Height: im.height, Depth: 1},
			}})
		if layout != gpu.LayoutUndefined {
			transition(gpu.LayoutTransferSrc, layout, true).record(cmd, im.image)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "read back")
	}
	if layout == gpu.LayoutUndefined {
		im.layout = gpu.LayoutTransferSrc
	}
	if err := staging.read(out.Pix); err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy waits for the device and releases the context objects. Images,
// buffers and pipelines must have been destroyed already.
func (c *Context) Destroy() {
	if c.platform == nil {
		return
	}
	device := c.device()
	if device != nil {
		vk.DeviceWaitIdle(device)
	}
	if c.sampler != nil {
		vk.DestroySampler(device, c.sampler, nil)
		c.sampler = nil
	}
	if c.descPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, c.descPool, nil)
		c.descPool = vk.NullDescriptorPool
	}
	if c.fences != nil {
		c.fences.Destroy()
		c.fences = nil
	}
	if c.cmds != nil {
		if n := c.cmds.Live(); n > 0 {
			c.log.Warn("device destroyed with live command buffers", zap.Int("count", n))
		}
		c.cmds.Destroy()
		c.cmds = nil
	}
	c.platform.destroy()
	c.platform = nil
}
