package vkgpu

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"go.uber.org/zap"
)

// platform owns the instance, the physical and logical device and the
// compute queue.
type platform struct {
	log *zap.Logger

	instance      vk.Instance
	debugCallback vk.DebugReportCallback
	gpu           vk.PhysicalDevice
	device        vk.Device
	queue         vk.Queue
	queueFamily   uint32

	gpuProperties vk.PhysicalDeviceProperties
	memoryTypes   []vk.MemoryPropertyFlags
	maxGroupSize  [3]uint32
	maxGroupCalls uint32
}

func newPlatform(app Application, log *zap.Logger) (_ *platform, err error) {
	p := &platform{log: log}
	defer func() {
		if err != nil {
			p.destroy()
		}
	}()
	defer checkErr(&err)

	available, err := InstanceExtensions()
	orPanic(err)
	instanceExtensions, missing := checkExisting(available, app.instanceExtensions())
	if missing > 0 {
		log.Warn("missing instance extensions", zap.Int("missing", missing))
	}

	var layers []string
	if wanted := app.layers(); len(wanted) > 0 {
		actual, err := ValidationLayers()
		orPanic(err)
		layers, missing = checkExisting(actual, wanted)
		if missing > 0 {
			log.Warn("validation layers unavailable", zap.Strings("wanted", wanted))
		}
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(app.APIVersion),
			ApplicationVersion: uint32(app.AppVersion),
			PApplicationName:   safeString(app.appName()),
			PEngineName:        "vlur\x00",
		},
		EnabledExtensionCount:   uint32(len(instanceExtensions)),
		PpEnabledExtensionNames: instanceExtensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &instance)
	orPanic(newError(ret))
	p.instance = instance
	vk.InitInstance(instance)

	if app.Debug && len(instanceExtensions) > 0 {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: p.debugReport,
		}, nil, &p.debugCallback)
		orPanic(newError(ret))
		log.Debug("debug report callback enabled")
	}

	var gpuCount uint32
	ret = vk.EnumeratePhysicalDevices(p.instance, &gpuCount, nil)
	orPanic(newError(ret))
	if gpuCount == 0 {
		return nil, errors.New("vulkan error: no GPU devices found")
	}
	gpus := make([]vk.PhysicalDevice, gpuCount)
	ret = vk.EnumeratePhysicalDevices(p.instance, &gpuCount, gpus)
	orPanic(newError(ret))

	// first device with a compute queue
	found := false
	for _, candidate := range gpus {
		family, ok := findQueueFamily(queueFamilies(candidate), vk.QueueFlags(vk.QueueComputeBit))
		if ok {
			p.gpu, p.queueFamily, found = candidate, family, true
			break
		}
	}
	if !found {
		return nil, errors.New("vulkan error: no device exposes a compute queue")
	}

	vk.GetPhysicalDeviceProperties(p.gpu, &p.gpuProperties)
	p.gpuProperties.Deref()
	p.gpuProperties.Limits.Deref()
	p.maxGroupSize = p.gpuProperties.Limits.MaxComputeWorkGroupSize
	p.maxGroupCalls = p.gpuProperties.Limits.MaxComputeWorkGroupInvocations

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(p.gpu, &memProps)
	memProps.Deref()
	p.memoryTypes = memoryTypes(memProps)

	available, err = DeviceExtensions(p.gpu)
	orPanic(err)
	deviceExtensions, missing := checkExisting(available, app.deviceExtensions())
	if missing > 0 {
		log.Warn("missing device extensions", zap.Int("missing", missing))
	}

	var device vk.Device
	ret = vk.CreateDevice(p.gpu, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: p.queueFamily,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}},
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: deviceExtensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &device)
	orPanic(newError(ret))
	p.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(p.device, p.queueFamily, 0, &queue)
	p.queue = queue

	log.Info("vulkan device ready",
		zap.String("device", vk.ToString(p.gpuProperties.DeviceName[:])),
		zap.Uint32("queueFamily", p.queueFamily),
		zap.Int("layers", len(layers)))
	return p, nil
}

func (p *platform) destroy() {
	if p.device != nil {
		vk.DeviceWaitIdle(p.device)
		vk.DestroyDevice(p.device, nil)
		p.device = nil
	}
	if p.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(p.instance, p.debugCallback, nil)
		p.debugCallback = vk.NullDebugReportCallback
	}
	if p.instance != nil {
		vk.DestroyInstance(p.instance, nil)
		p.instance = nil
	}
}

func (p *platform) debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	fields := []zap.Field{
		zap.String("layer", pLayerPrefix),
		zap.Int32("code", messageCode),
		zap.String("message", pMessage),
	}
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		p.log.Error("validation", fields...)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		p.log.Warn("validation", fields...)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		p.log.Warn("performance", fields...)
	default:
		p.log.Debug("validation", fields...)
	}
	return vk.Bool32(vk.False)
}
