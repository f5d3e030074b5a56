// Package softgpu runs the gpu command stream on the CPU.
//
// Commands are checked when recorded the way validation layers check them
// (usage flags, layouts, recording state) and executed in order on Submit.
// Shader passes are resolved by the shader asset name.
package softgpu

import (
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/andewx/vlur/gpu"
)

// ErrOutOfDeviceMemory is returned by allocations once the FailAfter budget is spent.
var ErrOutOfDeviceMemory = errors.New("softgpu: out of device memory")

// ErrValidation is wrapped by every recording or submission check failure.
var ErrValidation = errors.New("softgpu: validation failed")

// ErrDeviceLost is the error FailNextSubmit injects by default.
var ErrDeviceLost = errors.New("softgpu: device lost")

func init() {
	gpu.Register(gpu.BackendSoftware, func(opts gpu.Options) (gpu.Context, error) {
		return New(opts), nil
	})
}

// emulated device limits, matching a common desktop driver
var (
	maxWorkGroupSize        = [3]uint32{1024, 1024, 64}
	maxWorkGroupInvocations = uint32(1024)
)

// Counts are the live objects created from a context.
type Counts struct {
	Images         int
	Buffers        int
	Shared         int
	Pipelines      int
	CommandBuffers int
}

// Total sums all live objects.
func (c Counts) Total() int {
	return c.Images + c.Buffers + c.Shared + c.Pipelines + c.CommandBuffers
}

// Context is a CPU device. It is not safe for concurrent use.
type Context struct {
	log       *zap.Logger
	debug     bool
	live      Counts
	allocs    int
	failAfter int
	nextID    int
	submits   int
	submitErr error
}

// New creates a software context.
func New(opts gpu.Options) *Context {
	c := &Context{
		log:       opts.Log().Named("softgpu"),
		debug:     opts.Debug,
		failAfter: -1,
	}
	c.log.Debug("software device ready",
		zap.Uint32("workGroupSize", c.WorkGroupSize()),
		zap.Bool("validation", opts.Debug))
	return c
}

func (c *Context) Name() string { return gpu.BackendSoftware }

// FailAfter makes every allocation after the next n fail with
// ErrOutOfDeviceMemory. A negative n disables failure injection.
func (c *Context) FailAfter(n int) {
	c.failAfter = n
	c.allocs = 0
}

// FailNextSubmit makes the next Submit fail with err, or ErrDeviceLost
// when err is nil, without executing any command.
func (c *Context) FailNextSubmit(err error) {
	if err == nil {
		err = ErrDeviceLost
	}
	c.submitErr = err
}

// Live reports the objects created and not yet destroyed.
func (c *Context) Live() Counts { return c.live }

// Submits reports how many command buffers were executed.
func (c *Context) Submits() int { return c.submits }

func (c *Context) allocate(kind string) error {
	if c.failAfter >= 0 {
		if c.allocs >= c.failAfter {
			return errors.Wrapf(ErrOutOfDeviceMemory, "allocate %s", kind)
		}
		c.allocs++
	}
	return nil
}

func (c *Context) newID() int {
	c.nextID++
	return c.nextID
}

func (c *Context) WorkGroupSize() uint32 {
	return gpu.WorkGroupSize(maxWorkGroupSize, maxWorkGroupInvocations)
}

func (c *Context) NewCommandBuffer() (gpu.CommandBuffer, error) {
	if err := c.allocate("command buffer"); err != nil {
		return nil, err
	}
	c.live.CommandBuffers++
	return &CommandBuffer{ctx: c}, nil
}

// Submit executes the recorded commands in order. The queue is idle when it returns.
func (c *Context) Submit(cmd gpu.CommandBuffer) error {
	cb, ok := cmd.(*CommandBuffer)
	if !ok {
		return errors.Wrapf(ErrValidation, "foreign command buffer %T", cmd)
	}
	if cb.destroyed {
		return gpu.ErrDestroyed
	}
	if !cb.executable {
		return errors.Wrap(ErrValidation, "command buffer submitted without End")
	}
	cb.executable = false
	if err := c.submitErr; err != nil {
		c.submitErr = nil
		return errors.Wrap(err, "submit")
	}
	for i, op := range cb.ops {
		if err := op.run(); err != nil {
			return errors.Wrapf(err, "command %d (%s)", i, op.name)
		}
	}
	c.submits++
	c.log.Debug("submitted", zap.Int("commands", len(cb.ops)))
	return nil
}

func (c *Context) NewBuffer(size int, usage gpu.BufferUsage, props gpu.MemoryProperty) (gpu.Buffer, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrValidation, "buffer size %d", size)
	}
	if err := c.allocate("buffer"); err != nil {
		return nil, err
	}
	c.live.Buffers++
	return &Buffer{ctx: c, data: make([]byte, size), usage: usage, props: props}, nil
}

func (c *Context) NewImageFromBitmap(bm *gpu.Bitmap) (gpu.Image, error) {
	if err := bm.Validate(); err != nil {
		return nil, err
	}
	img, err := c.newImage(uint32(bm.Width), uint32(bm.Height), gpu.ImageUsageTransferDst|gpu.ImageUsageSampled, nil)
	if err != nil {
		return nil, err
	}
	copy(img.pix.Pix, bm.Packed())
	img.layout = gpu.LayoutShaderReadOnly
	return img, nil
}

func (c *Context) NewDeviceLocalImage(width, height uint32, usage gpu.ImageUsage) (gpu.Image, error) {
	img, err := c.newImage(width, height, usage, nil)
	if err != nil {
		return nil, err
	}
	poison(img.pix.Pix)
	return img, nil
}

func (c *Context) AllocateShared(desc gpu.SharedDesc) (gpu.SharedMemory, error) {
	if desc.Width == 0 || desc.Height == 0 || desc.Layers != 1 {
		return nil, errors.Wrapf(ErrValidation, "shared extent %dx%dx%d", desc.Width, desc.Height, desc.Layers)
	}
	if desc.Format != gpu.FormatRGBA8Unorm {
		return nil, errors.Wrapf(ErrValidation, "shared format %s", desc.Format)
	}
	if err := c.allocate("shared memory"); err != nil {
		return nil, err
	}
	c.live.Shared++
	return newShared(c, desc), nil
}

func (c *Context) NewImageFromShared(mem gpu.SharedMemory) (gpu.Image, error) {
	sh, ok := mem.(*Shared)
	if !ok || sh.ctx != c {
		return nil, errors.Wrapf(ErrValidation, "shared memory %T not from this device", mem)
	}
	if sh.refs <= 0 {
		return nil, gpu.ErrDestroyed
	}
	desc := sh.desc
	img, err := c.newImage(desc.Width, desc.Height, gpu.ImageUsageTransferDst|gpu.ImageUsageTransferSrc, sh)
	if err != nil {
		return nil, err
	}
	sh.Acquire()
	img.layout = gpu.LayoutTransferDst
	return img, nil
}

func (c *Context) newImage(width, height uint32, usage gpu.ImageUsage, sh *Shared) (*Image, error) {
	if width == 0 || height == 0 {
		return nil, errors.Wrapf(ErrValidation, "image extent %dx%d", width, height)
	}
	if err := c.allocate("image"); err != nil {
		return nil, err
	}
	img := &Image{
		ctx:    c,
		id:     c.newID(),
		usage:  usage,
		layout: gpu.LayoutUndefined,
		shared: sh,
	}
	rect := image.Rect(0, 0, int(width), int(height))
	if sh != nil {
		img.pix = &image.RGBA{Pix: sh.pix, Stride: int(width) * 4, Rect: rect}
	} else {
		img.pix = image.NewRGBA(rect)
	}
	c.live.Images++
	return img, nil
}

func (c *Context) ReadImage(img gpu.Image) (*image.RGBA, error) {
	im, ok := img.(*Image)
	if !ok {
		return nil, errors.Wrapf(ErrValidation, "foreign image %T", img)
	}
	if im.destroyed {
		return nil, gpu.ErrDestroyed
	}
	out := image.NewRGBA(im.pix.Rect)
	copy(out.Pix, im.pix.Pix)
	return out, nil
}

// Destroy reports objects still alive, as validation layers do on device teardown.
func (c *Context) Destroy() {
	if n := c.live.Total(); n > 0 {
		c.log.Warn("device destroyed with live objects",
			zap.Int("images", c.live.Images),
			zap.Int("buffers", c.live.Buffers),
			zap.Int("shared", c.live.Shared),
			zap.Int("pipelines", c.live.Pipelines),
			zap.Int("commandBuffers", c.live.CommandBuffers))
	}
}
