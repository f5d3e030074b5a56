package softgpu

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/andewx/vlur/gpu"
)

type op struct {
	name string
	run  func() error
}

// CommandBuffer records operations for one submission.
type CommandBuffer struct {
	ctx        *Context
	ops        []op
	recording  bool
	executable bool
	destroyed  bool
}

func (cb *CommandBuffer) Begin() error {
	if cb.destroyed {
		return gpu.ErrDestroyed
	}
	cb.ops = cb.ops[:0]
	cb.recording = true
	cb.executable = false
	return nil
}

func (cb *CommandBuffer) End() error {
	if !cb.recording {
		return gpu.ErrNotRecording
	}
	cb.recording = false
	cb.executable = true
	return nil
}

// Trace lists the recorded commands since the last Begin.
func (cb *CommandBuffer) Trace() []string {
	names := make([]string, len(cb.ops))
	for i, o := range cb.ops {
		names[i] = o.name
	}
	return names
}

func (cb *CommandBuffer) record(name string, run func() error) {
	cb.ops = append(cb.ops, op{name: name, run: run})
}

// invalid builds a validation error and reports it when validation output is enabled.
func (cb *CommandBuffer) invalid(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if cb.ctx.debug {
		cb.ctx.log.Error("validation", zap.String("message", msg))
	}
	return errors.Wrap(ErrValidation, msg)
}

// recording checks cmd belongs to c and is between Begin and End.
func (c *Context) recording(cmd gpu.CommandBuffer) (*CommandBuffer, error) {
	cb, ok := cmd.(*CommandBuffer)
	if !ok || cb.ctx != c {
		return nil, errors.Wrapf(ErrValidation, "command buffer %T not from this device", cmd)
	}
	if cb.destroyed {
		return nil, gpu.ErrDestroyed
	}
	if !cb.recording {
		return nil, gpu.ErrNotRecording
	}
	return cb, nil
}

func (cb *CommandBuffer) CopyImage(src, dst gpu.Image) error {
	if _, err := cb.ctx.recording(cb); err != nil {
		return err
	}
	s, ok1 := src.(*Image)
	d, ok2 := dst.(*Image)
	if !ok1 || !ok2 {
		return cb.invalid("copy between foreign images %T and %T", src, dst)
	}
	switch {
	case !s.usage.Has(gpu.ImageUsageTransferSrc):
		return cb.invalid("copy source %s lacks TransferSrc usage", s)
	case s.layout != gpu.LayoutTransferSrc:
		return cb.invalid("copy source %s in layout %s", s, s.layout)
	case !d.usage.Has(gpu.ImageUsageTransferDst):
		return cb.invalid("copy destination %s lacks TransferDst usage", d)
	case d.layout != gpu.LayoutTransferDst:
		return cb.invalid("copy destination %s in layout %s", d, d.layout)
	case s.pix.Rect != d.pix.Rect:
		return cb.invalid("copy extent %v into %v", s.pix.Rect.Size(), d.pix.Rect.Size())
	}
	cb.record(fmt.Sprintf("copy %s->%s", s, d), func() error {
		if s.destroyed || d.destroyed {
			return errors.Wrap(gpu.ErrDestroyed, "copy")
		}
		copy(d.pix.Pix, s.pix.Pix)
		return nil
	})
	return nil
}

func (cb *CommandBuffer) Destroy() {
	if cb.destroyed {
		return
	}
	cb.destroyed = true
	cb.ops = nil
	cb.ctx.live.CommandBuffers--
}
