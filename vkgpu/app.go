package vkgpu

import vk "github.com/vulkan-go/vulkan"

const validationLayer = "VK_LAYER_KHRONOS_validation"

// Default versions reported to the driver.
var (
	DefaultAppVersion = vk.MakeVersion(1, 0, 0)
	DefaultAPIVersion = vk.MakeVersion(1, 1, 0)
)

// Application describes the instance the backend creates.
type Application struct {
	Name       string
	AppVersion vk.Version
	APIVersion vk.Version
	// Debug enables the validation layer and a debug report callback.
	Debug bool
}

func (a Application) appName() string {
	if a.Name == "" {
		return "vlur"
	}
	return a.Name
}

func (a Application) instanceExtensions() []string {
	if a.Debug {
		return []string{"VK_EXT_debug_report"}
	}
	return nil
}

// compute only, no presentation
func (a Application) deviceExtensions() []string {
	return nil
}

func (a Application) layers() []string {
	if a.Debug {
		return []string{validationLayer}
	}
	return nil
}
