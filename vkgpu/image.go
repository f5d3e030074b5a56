package vkgpu

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vlur/gpu"
)

const imageFormat = vk.FormatR8g8b8a8Unorm

var colorRange = vk.ImageSubresourceRange{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LevelCount: 1,
	LayerCount: 1,
}

var colorLayers = vk.ImageSubresourceLayers{
	AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	LayerCount: 1,
}

func vkLayout(l gpu.Layout) vk.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	}
	return vk.ImageLayoutUndefined
}

// accessFor is the access a layout is entered for and left after.
func accessFor(l gpu.Layout) vk.AccessFlags {
	switch l {
	case gpu.LayoutGeneral:
		return vk.AccessFlags(vk.AccessShaderWriteBit)
	case gpu.LayoutShaderReadOnly:
		return vk.AccessFlags(vk.AccessShaderReadBit)
	case gpu.LayoutTransferSrc:
		return vk.AccessFlags(vk.AccessTransferReadBit)
	case gpu.LayoutTransferDst:
		return vk.AccessFlags(vk.AccessTransferWriteBit)
	}
	return 0
}

// stageFor is the pipeline stage using an image in layout l.
func stageFor(l gpu.Layout) vk.PipelineStageFlags {
	switch l {
	case gpu.LayoutGeneral, gpu.LayoutShaderReadOnly:
		return vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	case gpu.LayoutTransferSrc, gpu.LayoutTransferDst:
		return vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	return vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
}

func imageUsageFlags(u gpu.ImageUsage) vk.ImageUsageFlags {
	var f vk.ImageUsageFlagBits
	if u.Has(gpu.ImageUsageTransferSrc) {
		f |= vk.ImageUsageTransferSrcBit
	}
	if u.Has(gpu.ImageUsageTransferDst) {
		f |= vk.ImageUsageTransferDstBit
	}
	if u.Has(gpu.ImageUsageSampled) {
		f |= vk.ImageUsageSampledBit
	}
	if u.Has(gpu.ImageUsageStorage) {
		f |= vk.ImageUsageStorageBit
	}
	return vk.ImageUsageFlags(f)
}

// barrier describes the transition of an image from one layout to another.
// Discarding transitions start from Undefined.
type barrier struct {
	oldLayout, newLayout vk.ImageLayout
	srcAccess, dstAccess vk.AccessFlags
	srcStage, dstStage   vk.PipelineStageFlags
}

func transition(from, to gpu.Layout, preserve bool) barrier {
	if !preserve {
		from = gpu.LayoutUndefined
	}
	return barrier{
		oldLayout: vkLayout(from),
		newLayout: vkLayout(to),
		srcAccess: accessFor(from),
		dstAccess: accessFor(to),
		srcStage:  stageFor(from),
		dstStage:  stageFor(to),
	}
}

func (b barrier) record(cmd vk.CommandBuffer, img vk.Image) {
	vk.CmdPipelineBarrier(cmd, b.srcStage, b.dstStage, vk.DependencyFlags(0),
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       b.srcAccess,
			DstAccessMask:       b.dstAccess,
			OldLayout:           b.oldLayout,
			NewLayout:           b.newLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img,
			SubresourceRange:    colorRange,
		}})
}

// Image is a 2D RGBA8 image with a view. Images wrapping shared memory do
// not own their memory.
type Image struct {
	ctx    *Context
	image  vk.Image
	view   vk.ImageView
	memory vk.DeviceMemory
	width  uint32
	height uint32
	usage  gpu.ImageUsage
	layout gpu.Layout
	shared *Shared
}

func (im *Image) Width() uint32         { return im.width }
func (im *Image) Height() uint32        { return im.height }
func (im *Image) Format() gpu.Format    { return gpu.FormatRGBA8Unorm }
func (im *Image) Usage() gpu.ImageUsage { return im.usage }
func (im *Image) Layout() gpu.Layout    { return im.layout }

func (im *Image) Shared() gpu.SharedMemory {
	if im.shared == nil {
		return nil
	}
	return im.shared
}

// needsBarrier reports whether moving from the tracked layout cur to to
// needs a barrier. Layouts are tracked at record time, so a discard is
// never skipped: it starts from Undefined and is valid whatever the image
// is really in.
func needsBarrier(cur, to gpu.Layout, preserve bool) bool {
	return !preserve || cur != to
}

func (c *Context) createImage(width, height uint32, usage gpu.ImageUsage) (vk.Image, error) {
	if width == 0 || height == 0 {
		return vk.NullImage, errors.Errorf("vulkan: image extent %dx%d", width, height)
	}
	var img vk.Image
	ret := vk.CreateImage(c.device(), &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        imageFormat,
		Extent:        vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if isError(ret) {
		return vk.NullImage, newError(ret)
	}
	return img, nil
}

// newImage creates an image bound to the memory of sh, or to a fresh
// device-local allocation when sh is nil.
func (c *Context) newImage(width, height uint32, usage gpu.ImageUsage, sh *Shared) (im *Image, err error) {
	device := c.device()
	img, err := c.createImage(width, height, usage)
	if err != nil {
		return nil, err
	}
	im = &Image{ctx: c, image: img, width: width, height: height, usage: usage}
	defer func() {
		if err != nil {
			im.free()
		}
	}()

	memory := vk.NullDeviceMemory
	if sh != nil {
		memory = sh.memory
	} else {
		var reqs vk.MemoryRequirements
		vk.GetImageMemoryRequirements(device, img, &reqs)
		if im.memory, err = c.allocate(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)); err != nil {
			return nil, err
		}
		memory = im.memory
	}
	if ret := vk.BindImageMemory(device, img, memory, 0); isError(ret) {
		return nil, newError(ret)
	}

	if usage&(gpu.ImageUsageSampled|gpu.ImageUsageStorage) != 0 {
		var view vk.ImageView
		ret := vk.CreateImageView(device, &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   imageFormat,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: colorRange,
		}, nil, &view)
		if isError(ret) {
			return nil, newError(ret)
		}
		im.view = view
	}
	if sh != nil {
		sh.Acquire()
		im.shared = sh
	}
	return im, nil
}

func (c *Context) NewDeviceLocalImage(width, height uint32, usage gpu.ImageUsage) (gpu.Image, error) {
	return c.newImage(width, height, usage, nil)
}

// RecordLayoutTransition records an image memory barrier. The barrier is
// skipped when the image is already in layout.
func (im *Image) RecordLayoutTransition(cmd gpu.CommandBuffer, layout gpu.Layout, preserve bool) error {
	cb, err := im.ctx.recording(cmd)
	if err != nil {
		return err
	}
	if im.image == vk.NullImage {
		return gpu.ErrDestroyed
	}
	if !needsBarrier(im.layout, layout, preserve) {
		return nil
	}
	transition(im.layout, layout, preserve).record(cb.buf, im.image)
	im.layout = layout
	return nil
}

func (im *Image) free() {
	device := im.ctx.device()
	if im.view != vk.NullImageView {
		vk.DestroyImageView(device, im.view, nil)
		im.view = vk.NullImageView
	}
	if im.image != vk.NullImage {
		vk.DestroyImage(device, im.image, nil)
		im.image = vk.NullImage
	}
	if im.memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, im.memory, nil)
		im.memory = vk.NullDeviceMemory
	}
}

func (im *Image) Destroy() {
	if im.image == vk.NullImage {
		return
	}
	im.free()
	if im.shared != nil {
		im.shared.Release()
		im.shared = nil
	}
}
