package vkgpu

import (
	"sync"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vlur/gpu"
)

var (
	loadOnce sync.Once
	loadErr  error
)

func init() {
	gpu.Register(gpu.BackendVulkan, func(opts gpu.Options) (gpu.Context, error) {
		if err := Init(); err != nil {
			return nil, errors.Wrapf(gpu.ErrBackendNotAvailable, "vulkan loader: %v", err)
		}
		return New(opts)
	})
}

// Init loads the Vulkan entry points once. It resolves them through GLFW
// and falls back to the system loader when GLFW cannot start, as on a
// headless machine. Must be called from the main thread.
func Init() error {
	loadOnce.Do(func() {
		if err := glfw.Init(); err == nil && glfw.VulkanSupported() {
			vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
		} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loadErr = errors.Wrap(err, "no vulkan loader")
			return
		}
		loadErr = errors.Wrap(vk.Init(), "vk.Init")
	})
	return loadErr
}

// Terminate releases GLFW. Call as the last thing before exiting.
func Terminate() {
	glfw.Terminate()
}
