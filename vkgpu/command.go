package vkgpu

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vlur/gpu"
)

// CommandBuffer is a primary command buffer recorded for one-time submission.
type CommandBuffer struct {
	ctx        *Context
	buf        vk.CommandBuffer
	recording  bool
	executable bool
}

func (c *Context) NewCommandBuffer() (gpu.CommandBuffer, error) {
	buf, err := c.cmds.NewCommandBuffer()
	if err != nil {
		return nil, err
	}
	return &CommandBuffer{ctx: c, buf: buf}, nil
}

// recording checks cmd belongs to c and is between Begin and End.
func (c *Context) recording(cmd gpu.CommandBuffer) (*CommandBuffer, error) {
	cb, ok := cmd.(*CommandBuffer)
	if !ok || cb.ctx != c {
		return nil, errors.Errorf("vulkan: command buffer %T not from this device", cmd)
	}
	if cb.buf == nil {
		return nil, gpu.ErrDestroyed
	}
	if !cb.recording {
		return nil, gpu.ErrNotRecording
	}
	return cb, nil
}

func (cb *CommandBuffer) Begin() error {
	if cb.buf == nil {
		return gpu.ErrDestroyed
	}
	// an aborted recording must be reset before it can begin again
	if cb.recording {
		if ret := vk.ResetCommandBuffer(cb.buf, 0); isError(ret) {
			return newError(ret)
		}
		cb.recording = false
	}
	ret := vk.BeginCommandBuffer(cb.buf, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if isError(ret) {
		return newError(ret)
	}
	cb.recording = true
	cb.executable = false
	return nil
}

func (cb *CommandBuffer) End() error {
	if !cb.recording {
		return gpu.ErrNotRecording
	}
	cb.recording = false
	if ret := vk.EndCommandBuffer(cb.buf); isError(ret) {
		return newError(ret)
	}
	cb.executable = true
	return nil
}

func (cb *CommandBuffer) CopyImage(src, dst gpu.Image) error {
	if _, err := cb.ctx.recording(cb); err != nil {
		return err
	}
	s, ok1 := src.(*Image)
	d, ok2 := dst.(*Image)
	switch {
	case !ok1 || !ok2:
		return errors.Errorf("vulkan: copy between foreign images %T and %T", src, dst)
	case s.layout != gpu.LayoutTransferSrc || d.layout != gpu.LayoutTransferDst:
		return errors.Errorf("vulkan: copy from %s into %s layout", s.layout, d.layout)
	case s.width != d.width || s.height != d.height:
		return errors.Errorf("vulkan: copy %dx%d into %dx%d", s.width, s.height, d.width, d.height)
	}
	vk.CmdCopyImage(cb.buf, s.image, vk.ImageLayoutTransferSrcOptimal,
		d.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageCopy{{
			SrcSubresource: colorLayers,
			DstSubresource: colorLayers,
			Extent:         vk.Extent3D{Width: s.width, Height: s.height, Depth: 1},
		}})
	return nil
}

func (cb *CommandBuffer) Destroy() {
	if cb.buf == nil {
		return
	}
	cb.ctx.cmds.Release(cb.buf)
	cb.buf = nil
}
