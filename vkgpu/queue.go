package vkgpu

import vk "github.com/vulkan-go/vulkan"

// queueFamilies lists the capability flags of every queue family of gpu.
func queueFamilies(gpu vk.PhysicalDevice) []vk.QueueFlags {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)

	flags := make([]vk.QueueFlags, count)
	for i := range props {
		props[i].Deref()
		flags[i] = props[i].QueueFlags
	}
	return flags
}

// findQueueFamily returns the first family supporting all of required.
func findQueueFamily(families []vk.QueueFlags, required vk.QueueFlags) (uint32, bool) {
	for i, flags := range families {
		if flags&required == required {
			return uint32(i), true
		}
	}
	return 0, false
}
