package softgpu

import (
	"fmt"
	"image"

	"github.com/pkg/errors"

	"github.com/andewx/vlur/gpu"
)

// poisonByte fills discarded or undefined image contents.
const poisonByte = 0xDE

func poison(pix []byte) {
	for i := range pix {
		pix[i] = poisonByte
	}
}

// Image is an RGBA8 image in host memory.
type Image struct {
	ctx       *Context
	id        int
	pix       *image.RGBA
	usage     gpu.ImageUsage
	layout    gpu.Layout
	shared    *Shared
	destroyed bool
}

// ID is a per-context sequence number used in command traces.
func (im *Image) ID() int { return im.id }

func (im *Image) String() string { return fmt.Sprintf("image%d", im.id) }

func (im *Image) Width() uint32  { return uint32(im.pix.Rect.Dx()) }
func (im *Image) Height() uint32 { return uint32(im.pix.Rect.Dy()) }

func (im *Image) Format() gpu.Format    { return gpu.FormatRGBA8Unorm }
func (im *Image) Usage() gpu.ImageUsage { return im.usage }
func (im *Image) Layout() gpu.Layout    { return im.layout }

func (im *Image) Shared() gpu.SharedMemory {
	if im.shared == nil {
		return nil
	}
	return im.shared
}

// usageFor is the usage an image needs before it may enter a layout.
func usageFor(layout gpu.Layout) (gpu.ImageUsage, bool) {
	switch layout {
	case gpu.LayoutGeneral:
		return gpu.ImageUsageStorage, true
	case gpu.LayoutShaderReadOnly:
		return gpu.ImageUsageSampled, true
	case gpu.LayoutTransferSrc:
		return gpu.ImageUsageTransferSrc, true
	case gpu.LayoutTransferDst:
		return gpu.ImageUsageTransferDst, true
	}
	return 0, false
}

func (im *Image) RecordLayoutTransition(cmd gpu.CommandBuffer, layout gpu.Layout, preserve bool) error {
	cb, err := im.ctx.recording(cmd)
	if err != nil {
		return err
	}
	if im.destroyed {
		return gpu.ErrDestroyed
	}
	// a discard is recorded even in place, it drops the contents
	if preserve && im.layout == layout {
		return nil
	}
	need, ok := usageFor(layout)
	if !ok {
		return cb.invalid("transition %s to %s", im, layout)
	}
	if !im.usage.Has(need) {
		return cb.invalid("transition %s to %s without usage %#x", im, layout, need)
	}

	mode := "preserve"
	if !preserve {
		mode = "discard"
	}
	cb.record(fmt.Sprintf("transition %s %s->%s %s", im, im.layout, layout, mode), func() error {
		if im.destroyed {
			return errors.Wrapf(gpu.ErrDestroyed, "%s", im)
		}
		if !preserve {
			poison(im.pix.Pix)
		}
		return nil
	})
	im.layout = layout
	return nil
}

func (im *Image) Destroy() {
	if im.destroyed {
		return
	}
	im.destroyed = true
	im.ctx.live.Images--
	if im.shared != nil {
		im.shared.Release()
		im.shared = nil
	}
}
