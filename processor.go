// Package vlur blurs bitmaps on the GPU with a two-pass separable Gaussian
// and publishes each result as shareable GPU memory.
//
// A Processor owns one GPU context, one reusable command buffer, a uniform
// buffer holding the kernel and the horizontal and vertical compute
// pipelines. Bitmaps are configured into slots keyed by an integer id; each
// slot owns an input, a temp, a staging and a shareable output image.
//
// A Processor is not safe for concurrent use. Callers that share one across
// goroutines must serialize every call.
package vlur

import (
	"image"
	"io/fs"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/andewx/vlur/gpu"
	"github.com/andewx/vlur/logging"
)

// Option customizes New.
type Option func(*options)

type options struct {
	ctx gpu.Context
	log *zap.Logger
}

// WithContext runs the processor on ctx instead of opening the configured
// backend. The processor takes ownership and destroys ctx on Close.
func WithContext(ctx gpu.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// Processor runs the blur passes.
type Processor struct {
	id  uuid.UUID
	log *zap.Logger
	ctx gpu.Context
	// cmd is re-recorded by every Blur and is not reentrant.
	cmd        gpu.CommandBuffer
	uniform    gpu.Buffer
	horizontal gpu.Pipeline
	vertical   gpu.Pipeline
	slots      *slotTable
	closed     bool
}

// New builds a processor. Shader binaries are read from assets at the
// paths named in cfg. If any step fails everything built so far is
// destroyed and a KindInit error is returned.
func New(cfg Config, assets fs.FS, opts ...Option) (p *Processor, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	p = &Processor{
		id:    uuid.New(),
		slots: newSlotTable(),
	}
	p.log = logging.Or(o.log).Named("vlur").With(zap.Stringer("processor", p.id))

	defer func() {
		if err != nil {
			p.log.Error("init failed", zap.Error(err))
			p.destroy()
			p, err = nil, fail(KindInit, "new", 0, err)
		}
	}()

	if err = cfg.Validate(); err != nil {
		return p, err
	}

	p.ctx = o.ctx
	if p.ctx == nil {
		p.ctx, err = gpu.Open(cfg.Backend, gpu.Options{AppName: "vlur", Debug: cfg.Debug, Logger: p.log})
		if err != nil {
			return p, err
		}
	}
	if p.cmd, err = p.ctx.NewCommandBuffer(); err != nil {
		return p, errors.Wrap(err, "command buffer")
	}
	p.uniform, err = p.ctx.NewBuffer(KernelBytes, gpu.BufferUsageUniform, gpu.MemoryHostVisible|gpu.MemoryHostCoherent)
	if err != nil {
		return p, errors.Wrap(err, "uniform buffer")
	}
	p.horizontal, err = p.ctx.NewComputePipeline(gpu.PipelineDesc{
		Name:             "horizontal",
		Assets:           assets,
		ShaderPath:       cfg.HorizontalShader,
		PushConstantSize: 4,
		UseUniformBuffer: true,
	})
	if err != nil {
		return p, errors.Wrap(err, "horizontal pipeline")
	}
	p.vertical, err = p.ctx.NewComputePipeline(gpu.PipelineDesc{
		Name:             "vertical",
		Assets:           assets,
		ShaderPath:       cfg.VerticalShader,
		PushConstantSize: 4,
		UseUniformBuffer: true,
	})
	if err != nil {
		return p, errors.Wrap(err, "vertical pipeline")
	}

	p.log.Info("processor ready",
		zap.String("backend", p.ctx.Name()),
		zap.Uint32("workGroupSize", p.ctx.WorkGroupSize()))
	return p, nil
}

// destroy releases whatever has been built, newest first.
func (p *Processor) destroy() {
	p.slots.releaseAll()
	if p.vertical != nil {
		p.vertical.Destroy()
		p.vertical = nil
	}
	if p.horizontal != nil {
		p.horizontal.Destroy()
		p.horizontal = nil
	}
	if p.uniform != nil {
		p.uniform.Destroy()
		p.uniform = nil
	}
	if p.cmd != nil {
		p.cmd.Destroy()
		p.cmd = nil
	}
	if p.ctx != nil {
		p.ctx.Destroy()
		p.ctx = nil
	}
}

// ID identifies the processor in logs.
func (p *Processor) ID() uuid.UUID { return p.id }

// Context returns the GPU context the processor runs on.
func (p *Processor) Context() gpu.Context { return p.ctx }

// Slots lists the configured ids in ascending order.
func (p *Processor) Slots() []int { return p.slots.ids() }

// Configure uploads bm as the input of slot id and allocates the slot's
// temp, staging and shareable output images. A slot already stored under
// id is released once the new one is complete. On failure the previous
// slot, if any, stays in place.
func (p *Processor) Configure(bm *gpu.Bitmap, id int) error {
	if p.closed {
		return fail(KindMisuse, "configure", id, ErrClosed)
	}
	s, err := buildSlot(p.ctx, bm)
	if err != nil {
		p.log.Error("configure failed", zap.Int("id", id), zap.Error(err))
		return fail(KindConfigure, "configure", id, err)
	}
	replaced := p.slots.install(id, s)
	p.log.Info("configured",
		zap.Int("id", id),
		zap.Uint32("width", s.input.Width()),
		zap.Uint32("height", s.input.Height()),
		zap.Uint64("handle", uint64(s.output.Shared().Handle())),
		zap.Bool("replaced", replaced))
	return nil
}

// OutputHandle returns the handle of the shareable memory behind the
// output image of slot id.
func (p *Processor) OutputHandle(id int) (gpu.SharedHandle, error) {
	if p.closed {
		return gpu.InvalidHandle, fail(KindMisuse, "output handle", id, ErrClosed)
	}
	s, ok := p.slots.get(id)
	if !ok {
		return gpu.InvalidHandle, fail(KindMisuse, "output handle", id, ErrNotConfigured)
	}
	return s.output.Shared().Handle(), nil
}

// Blur blurs the input of slot id with the given radius into the slot's
// output and waits for the GPU to finish. Every call starts again from the
// input image, so repeated calls with the same radius give the same
// output.
func (p *Processor) Blur(radius float32, id int) error {
	if p.closed {
		return fail(KindMisuse, "blur", id, ErrClosed)
	}
	k, err := NewKernel(radius)
	if err != nil {
		return fail(KindParam, "blur", id, err)
	}
	s, ok := p.slots.get(id)
	if !ok {
		return fail(KindMisuse, "blur", id, ErrNotConfigured)
	}

	if err := p.uniform.CopyFrom(k.Bytes()); err != nil {
		return p.gpuFailure(id, errors.Wrap(err, "upload kernel"))
	}
	if err := p.record(s, k); err != nil {
		return p.gpuFailure(id, err)
	}
	if err := p.ctx.Submit(p.cmd); err != nil {
		return p.gpuFailure(id, errors.Wrap(err, "submit"))
	}
	s.state = slotBlurred
	p.log.Debug("blurred", zap.Int("id", id), zap.Float32("radius", radius), zap.Int("taps", k.Len()))
	return nil
}

func (p *Processor) gpuFailure(id int, err error) error {
	p.log.Error("blur failed", zap.Int("id", id), zap.Error(err))
	return fail(KindGPU, "blur", id, err)
}

// record fills the command buffer with both passes and the hand-off copy.
func (p *Processor) record(s *slot, k *BlurKernel) error {
	cmd := p.cmd
	push := k.PushConstants()

	if err := cmd.Begin(); err != nil {
		return errors.Wrap(err, "begin")
	}
	// temp is fully overwritten by the horizontal pass
	if err := s.temp.RecordLayoutTransition(cmd, gpu.LayoutGeneral, false); err != nil {
		return errors.Wrap(err, "temp to general")
	}
	if err := p.horizontal.RecordDispatch(cmd, push, s.input, s.temp, p.uniform); err != nil {
		return errors.Wrap(err, "horizontal pass")
	}
	if err := s.temp.RecordLayoutTransition(cmd, gpu.LayoutShaderReadOnly, true); err != nil {
		return errors.Wrap(err, "temp to shader read")
	}
	if err := s.staging.RecordLayoutTransition(cmd, gpu.LayoutGeneral, false); err != nil {
		return errors.Wrap(err, "staging to general")
	}
	if err := p.vertical.RecordDispatch(cmd, push, s.temp, s.staging, p.uniform); err != nil {
		return errors.Wrap(err, "vertical pass")
	}
	if err := s.staging.RecordLayoutTransition(cmd, gpu.LayoutTransferSrc, true); err != nil {
		return errors.Wrap(err, "staging to transfer source")
	}
	if err := cmd.CopyImage(s.staging, s.output); err != nil {
		return errors.Wrap(err, "copy to output")
	}
	return errors.Wrap(cmd.End(), "end")
}

// Snapshot copies the output of slot id back to host memory.
func (p *Processor) Snapshot(id int) (*image.RGBA, error) {
	if p.closed {
		return nil, fail(KindMisuse, "snapshot", id, ErrClosed)
	}
	s, ok := p.slots.get(id)
	if !ok {
		return nil, fail(KindMisuse, "snapshot", id, ErrNotConfigured)
	}
	img, err := p.ctx.ReadImage(s.output)
	if err != nil {
		return nil, fail(KindGPU, "snapshot", id, err)
	}
	return img, nil
}

// Close releases every slot, the pipelines, buffers and the GPU context.
// The processor cannot be used afterwards. Close is idempotent.
func (p *Processor) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.destroy()
	p.log.Info("processor closed")
	return nil
}
