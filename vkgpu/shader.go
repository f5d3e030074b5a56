package vkgpu

import (
	"encoding/binary"
	"io/fs"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

const spirvMagic = 0x07230203

// sliceUint32 converts a SPIR-V binary into the words Vulkan expects.
func sliceUint32(data []byte) ([]uint32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, errors.Errorf("spir-v: %d bytes is not a whole number of words", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	if words[0] != spirvMagic {
		return nil, errors.Errorf("spir-v: bad magic %#08x, was the shader compiled with go generate?", words[0])
	}
	return words, nil
}

// LoadShaderModule reads the SPIR-V binary at path from assets and creates a module.
func LoadShaderModule(device vk.Device, assets fs.FS, path string) (vk.ShaderModule, error) {
	if assets == nil {
		return vk.NullShaderModule, errors.New("no asset source")
	}
	data, err := fs.ReadFile(assets, path)
	if err != nil {
		return vk.NullShaderModule, errors.Wrapf(err, "read shader %s", path)
	}
	code, err := sliceUint32(data)
	if err != nil {
		return vk.NullShaderModule, errors.Wrap(err, path)
	}
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(data)),
		PCode:    code,
	}, nil, &module)
	if isError(ret) {
		return vk.NullShaderModule, newError(ret)
	}
	return module, nil
}
