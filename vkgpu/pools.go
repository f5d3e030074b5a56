package vkgpu

import vk "github.com/vulkan-go/vulkan"

// descriptorPoolSize bounds both the sets and the descriptors of each type.
const descriptorPoolSize = 10

func newCommandPool(device vk.Device, family uint32) (vk.CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		// buffers are reset individually on Begin
		Flags: vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if isError(ret) {
		return vk.NullCommandPool, newError(ret)
	}
	return pool, nil
}

func newDescriptorPool(device vk.Device) (vk.DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: descriptorPoolSize},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: descriptorPoolSize},
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: descriptorPoolSize},
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       descriptorPoolSize,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	if isError(ret) {
		return vk.NullDescriptorPool, newError(ret)
	}
	return pool, nil
}
