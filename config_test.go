package vlur

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vlur/gpu"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, gpu.BackendVulkan, cfg.Backend)
	assert.Equal(t, DefaultHorizontalShader, cfg.HorizontalShader)
	assert.Equal(t, DefaultVerticalShader, cfg.VerticalShader)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Preview)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vlur.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: software
debug: true
vertical_shader: custom/v.spv
log:
  level: debug
  error_file: /tmp/vlur-error.log
`), 0o644))

	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvPreview, "1")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, gpu.BackendSoftware, cfg.Backend)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Preview)
	assert.Equal(t, DefaultHorizontalShader, cfg.HorizontalShader)
	assert.Equal(t, "custom/v.spv", cfg.VerticalShader)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/vlur-error.log", cfg.Log.ErrorFile)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("backend: [unterminated"), 0o644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	t.Setenv(EnvDebug, "sometimes")
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestEnvBackendMustNotBeEmpty(t *testing.T) {
	t.Setenv(EnvBackend, "")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestAssets(t *testing.T) {
	cfg := DefaultConfig()
	_, err := fs.Stat(cfg.Assets(), "shaders/BlurHorizontal.comp")
	assert.NoError(t, err)
	_, err = fs.Stat(cfg.Assets(), "shaders/BlurVertical.comp")
	assert.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.spv"), []byte{1}, 0o644))
	cfg.AssetDir = dir
	_, err = fs.Stat(cfg.Assets(), "x.spv")
	assert.NoError(t, err)
}

func TestDefaultAssetsCarryCompiledShaders(t *testing.T) {
	assets := DefaultConfig().Assets()
	for _, path := range []string{DefaultHorizontalShader, DefaultVerticalShader} {
		if _, err := os.Stat(path); err != nil {
			t.Skipf("%s not generated, run go generate", path)
		}
		_, err := fs.Stat(assets, path)
		assert.NoError(t, err, path)
	}
}

func TestShaderSourcesEmbedWholeDirectory(t *testing.T) {
	entries, err := os.ReadDir("shaders")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		_, err := fs.Stat(ShaderSources(), "shaders/"+e.Name())
		assert.NoError(t, err, e.Name())
	}
}
