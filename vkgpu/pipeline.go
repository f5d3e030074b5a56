package vkgpu

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"github.com/andewx/vlur/gpu"
)

const (
	bindingSource  = 0
	bindingTarget  = 1
	bindingUniform = 2
)

// Pipeline is a compute pipeline with one descriptor set, rewritten on
// every dispatch.
type Pipeline struct {
	ctx        *Context
	name       string
	setLayout  vk.DescriptorSetLayout
	layout     vk.PipelineLayout
	pipeline   vk.Pipeline
	set        vk.DescriptorSet
	pushSize   uint32
	useUniform bool
}

func (c *Context) NewComputePipeline(desc gpu.PipelineDesc) (_ gpu.Pipeline, err error) {
	device := c.device()
	module, err := LoadShaderModule(device, desc.Assets, desc.ShaderPath)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(device, module, nil)

	p := &Pipeline{ctx: c, name: desc.Name, pushSize: desc.PushConstantSize, useUniform: desc.UseUniformBuffer}
	defer func() {
		if err != nil {
			p.Destroy()
		}
	}()

	stage := vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	bindings := []vk.DescriptorSetLayoutBinding{
		{Binding: bindingSource, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: stage},
		{Binding: bindingTarget, DescriptorType: vk.DescriptorTypeStorageImage, DescriptorCount: 1, StageFlags: stage},
	}
	if p.useUniform {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding: bindingUniform, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: stage,
		})
	}
	var setLayout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &setLayout)
	if isError(ret) {
		return nil, newError(ret)
	}
	p.setLayout = setLayout

	var ranges []vk.PushConstantRange
	if p.pushSize > 0 {
		ranges = []vk.PushConstantRange{{StageFlags: stage, Size: p.pushSize}}
	}
	var layout vk.PipelineLayout
	ret = vk.CreatePipelineLayout(device, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{p.setLayout},
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}, nil, &layout)
	if isError(ret) {
		return nil, newError(ret)
	}
	p.layout = layout

	// local_size_x_id = 0, local_size_y_id = 1
	wg := [2]uint32{c.wg, c.wg}
	var cache vk.PipelineCache
	pipelines := make([]vk.Pipeline, 1)
	ret = vk.CreateComputePipelines(device, cache, 1, []vk.ComputePipelineCreateInfo{{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Layout: p.layout,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  safeString("main"),
			PSpecializationInfo: []vk.SpecializationInfo{{
				MapEntryCount: 2,
				PMapEntries: []vk.SpecializationMapEntry{
					{ConstantID: 0, Offset: 0, Size: 4},
					{ConstantID: 1, Offset: 4, Size: 4},
				},
				DataSize: uint(unsafe.Sizeof(wg)),
				PData:    unsafe.Pointer(&wg[0]),
			}},
		},
	}}, nil, pipelines)
	if isError(ret) {
		return nil, newError(ret)
	}
	p.pipeline = pipelines[0]

	var set vk.DescriptorSet
	ret = vk.AllocateDescriptorSets(device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     c.descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{p.setLayout},
	}, &set)
	if isError(ret) {
		return nil, newError(ret)
	}
	p.set = set

	c.log.Debug("pipeline created", zap.String("name", p.name), zap.String("shader", desc.ShaderPath))
	return p, nil
}

func (p *Pipeline) RecordDispatch(cmd gpu.CommandBuffer, pushConstants []byte, src, dst gpu.Image, uniform gpu.Buffer) error {
	cb, err := p.ctx.recording(cmd)
	if err != nil {
		return err
	}
	if p.pipeline == vk.NullPipeline {
		return gpu.ErrDestroyed
	}
	s, ok1 := src.(*Image)
	d, ok2 := dst.(*Image)
	if !ok1 || !ok2 {
		return errors.Errorf("vulkan: dispatch with foreign images %T and %T", src, dst)
	}
	switch {
	case s.layout != gpu.LayoutShaderReadOnly:
		return errors.Errorf("vulkan: %s source in layout %s", p.name, s.layout)
	case d.layout != gpu.LayoutGeneral:
		return errors.Errorf("vulkan: %s destination in layout %s", p.name, d.layout)
	case s.width != d.width || s.height != d.height:
		return errors.Errorf("vulkan: %s extent %dx%d into %dx%d", p.name, s.width, s.height, d.width, d.height)
	case uint32(len(pushConstants)) != p.pushSize:
		return errors.Errorf("vulkan: %s push constants of %d bytes, layout declares %d", p.name, len(pushConstants), p.pushSize)
	}

	writes := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          p.set,
		DstBinding:      bindingSource,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     p.ctx.sampler,
			ImageView:   s.view,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}},
	}, {
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          p.set,
		DstBinding:      bindingTarget,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   d.view,
			ImageLayout: vk.ImageLayoutGeneral,
		}},
	}}
	if p.useUniform {
		u, ok := uniform.(*Buffer)
		if !ok || u.buffer == vk.NullBuffer {
			return errors.Errorf("vulkan: %s needs a uniform buffer, got %T", p.name, uniform)
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          p.set,
			DstBinding:      bindingUniform,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: u.buffer,
				Range:  vk.DeviceSize(u.size),
			}},
		})
	}
	vk.UpdateDescriptorSets(p.ctx.device(), uint32(len(writes)), writes, 0, nil)

	vk.CmdBindPipeline(cb.buf, vk.PipelineBindPointCompute, p.pipeline)
	vk.CmdBindDescriptorSets(cb.buf, vk.PipelineBindPointCompute, p.layout,
		0, 1, []vk.DescriptorSet{p.set}, 0, nil)
	if p.pushSize > 0 {
		vk.CmdPushConstants(cb.buf, p.layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			0, p.pushSize, unsafe.Pointer(&pushConstants[0]))
	}
	wg := p.ctx.wg
	vk.CmdDispatch(cb.buf, gpu.CeilDiv(d.width, wg), gpu.CeilDiv(d.height, wg), 1)
	return nil
}

func (p *Pipeline) Destroy() {
	device := p.ctx.device()
	if p.set != nil {
		vk.FreeDescriptorSets(device, p.ctx.descPool, 1, []vk.DescriptorSet{p.set})
		p.set = nil
	}
	if p.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(device, p.pipeline, nil)
		p.pipeline = vk.NullPipeline
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(device, p.layout, nil)
		p.layout = vk.NullPipelineLayout
	}
	if p.setLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, p.setLayout, nil)
		p.setLayout = vk.NullDescriptorSetLayout
	}
}
