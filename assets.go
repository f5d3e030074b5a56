package vlur

import (
	"embed"
	"io/fs"
	"os"
)

//go:generate glslc -fshader-stage=compute shaders/BlurHorizontal.comp -o shaders/BlurHorizontal.comp.spv
//go:generate glslc -fshader-stage=compute shaders/BlurVertical.comp -o shaders/BlurVertical.comp.spv

//go:embed shaders
var shaderSources embed.FS

// ShaderSources returns the embedded shaders/ directory: the GLSL sources
// of both passes and, once go generate has run, their SPIR-V binaries.
func ShaderSources() fs.FS { return shaderSources }

// Assets returns os.DirFS(cfg.AssetDir), or ShaderSources when no
// directory is configured.
func (c Config) Assets() fs.FS {
	if c.AssetDir == "" {
		return ShaderSources()
	}
	return os.DirFS(c.AssetDir)
}
