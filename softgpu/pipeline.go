package softgpu

import (
	"encoding/binary"
	"fmt"
	"image"
	"io/fs"
	"path"
	"strings"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/parallel"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/andewx/vlur/gpu"
)

// maxKernelRadius bounds the radius a pass accepts from its push constant.
const maxKernelRadius = 25

// pass convolves src into dst with a 1D kernel of 2*radius+1 weights.
type pass func(src, dst *image.RGBA, radius int, weights []float32)

var passes = map[string]pass{
	"BlurHorizontal": blurHorizontal,
	"BlurVertical":   blurVertical,
}

// Pipeline executes a named pass.
type Pipeline struct {
	ctx        *Context
	name       string
	shader     string
	run        pass
	pushSize   uint32
	useUniform bool
	destroyed  bool
}

// shaderName maps "shaders/BlurHorizontal.comp.spv" to "BlurHorizontal".
func shaderName(p string) string {
	base := path.Base(p)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}

// readShader loads the asset, falling back to the GLSL source next to a
// missing SPIR-V binary.
func readShader(assets fs.FS, p string) ([]byte, error) {
	if assets == nil {
		return nil, errors.New("no asset source")
	}
	code, err := fs.ReadFile(assets, p)
	if errors.Is(err, fs.ErrNotExist) && strings.HasSuffix(p, ".spv") {
		code, err = fs.ReadFile(assets, strings.TrimSuffix(p, ".spv"))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", p)
	}
	if len(code) == 0 {
		return nil, errors.Errorf("shader %s is empty", p)
	}
	return code, nil
}

func (c *Context) NewComputePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	if _, err := readShader(desc.Assets, desc.ShaderPath); err != nil {
		return nil, err
	}
	shader := shaderName(desc.ShaderPath)
	run, ok := passes[shader]
	if !ok {
		return nil, errors.Errorf("softgpu: no software pass for shader %q", shader)
	}
	if err := c.allocate("pipeline"); err != nil {
		return nil, err
	}
	c.live.Pipelines++
	c.log.Debug("pipeline created", zap.String("name", desc.Name), zap.String("shader", shader))
	return &Pipeline{
		ctx:        c,
		name:       desc.Name,
		shader:     shader,
		run:        run,
		pushSize:   desc.PushConstantSize,
		useUniform: desc.UseUniformBuffer,
	}, nil
}

func (p *Pipeline) RecordDispatch(cmd gpu.CommandBuffer, pushConstants []byte, src, dst gpu.Image, uniform gpu.Buffer) error {
	cb, err := p.ctx.recording(cmd)
	if err != nil {
		return err
	}
	if p.destroyed {
		return gpu.ErrDestroyed
	}
	s, ok1 := src.(*Image)
	d, ok2 := dst.(*Image)
	if !ok1 || !ok2 {
		return cb.invalid("dispatch with foreign images %T and %T", src, dst)
	}
	switch {
	case !s.usage.Has(gpu.ImageUsageSampled):
		return cb.invalid("%s: source %s lacks Sampled usage", p.shader, s)
	case s.layout != gpu.LayoutShaderReadOnly:
		return cb.invalid("%s: source %s in layout %s", p.shader, s, s.layout)
	case !d.usage.Has(gpu.ImageUsageStorage):
		return cb.invalid("%s: destination %s lacks Storage usage", p.shader, d)
	case d.layout != gpu.LayoutGeneral:
		return cb.invalid("%s: destination %s in layout %s", p.shader, d, d.layout)
	case s.pix.Rect != d.pix.Rect:
		return cb.invalid("%s: extent %v into %v", p.shader, s.pix.Rect.Size(), d.pix.Rect.Size())
	case uint32(len(pushConstants)) != p.pushSize:
		return cb.invalid("%s: push constants of %d bytes, layout declares %d", p.shader, len(pushConstants), p.pushSize)
	case p.pushSize != 4:
		return cb.invalid("%s: pass needs a 4 byte radius push constant", p.shader)
	}
	var ubo *Buffer
	if p.useUniform {
		b, ok := uniform.(*Buffer)
		if !ok || b == nil {
			return cb.invalid("%s: uniform buffer %T", p.shader, uniform)
		}
		if !b.usage.Has(gpu.BufferUsageUniform) {
			return cb.invalid("%s: buffer bound at binding 2 lacks Uniform usage", p.shader)
		}
		ubo = b
	}

	radius := int(int32(binary.LittleEndian.Uint32(pushConstants)))
	if radius < 0 || radius > maxKernelRadius {
		return cb.invalid("%s: radius %d", p.shader, radius)
	}
	if ubo == nil || ubo.Size() < 4*(2*radius+1) {
		return cb.invalid("%s: kernel of radius %d needs a larger uniform buffer", p.shader, radius)
	}

	wg := p.ctx.WorkGroupSize()
	name := fmt.Sprintf("dispatch %s %s->%s r=%d groups=%dx%d", p.shader, s, d, radius,
		gpu.CeilDiv(d.Width(), wg), gpu.CeilDiv(d.Height(), wg))
	cb.record(name, func() error {
		if s.destroyed || d.destroyed || ubo.destroyed {
			return errors.Wrap(gpu.ErrDestroyed, p.shader)
		}
		weights := make([]float32, 2*radius+1)
		for i := range weights {
			weights[i] = math32.Float32frombits(binary.LittleEndian.Uint32(ubo.data[4*i:]))
		}
		p.run(s.pix, d.pix, radius, weights)
		return nil
	})
	return nil
}

func (p *Pipeline) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.ctx.live.Pipelines--
}

// store converts a normalized channel the way an RGBA8 storage write does.
func store(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math32.Round(v * 255))
}

// convolve runs one pass over rows of padded, stepping step bytes per tap.
// padded holds src extended by radius texels on the convolved axis.
func convolve(padded, dst *image.RGBA, radius, step int, weights []float32) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				var acc [4]float32
				base := y*padded.Stride + x*4
				for k := 0; k <= 2*radius; k++ {
					i := base + k*step
					wk := weights[k]
					acc[0] += wk * float32(padded.Pix[i]) / 255
					acc[1] += wk * float32(padded.Pix[i+1]) / 255
					acc[2] += wk * float32(padded.Pix[i+2]) / 255
					acc[3] += wk * float32(padded.Pix[i+3]) / 255
				}
				o := y*dst.Stride + x*4
				dst.Pix[o] = store(acc[0])
				dst.Pix[o+1] = store(acc[1])
				dst.Pix[o+2] = store(acc[2])
				dst.Pix[o+3] = store(acc[3])
			}
		}
	})
}

// blurHorizontal samples with clamp-to-edge along x.
func blurHorizontal(src, dst *image.RGBA, radius int, weights []float32) {
	padded := clone.Pad(src, radius, 0, clone.EdgeExtend)
	convolve(padded, dst, radius, 4, weights)
}

// blurVertical samples with clamp-to-edge along y.
func blurVertical(src, dst *image.RGBA, radius int, weights []float32) {
	padded := clone.Pad(src, 0, radius, clone.EdgeExtend)
	convolve(padded, dst, radius, padded.Stride, weights)
}
