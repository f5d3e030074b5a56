package vlur

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/andewx/vlur/gpu"
	"github.com/andewx/vlur/logging"
)

// Default shader locations inside the asset source.
const (
	DefaultHorizontalShader = "shaders/BlurHorizontal.comp.spv"
	DefaultVerticalShader   = "shaders/BlurVertical.comp.spv"
)

// Environment variables overriding the loaded configuration.
const (
	EnvBackend  = "VLUR_BACKEND"
	EnvDebug    = "VLUR_DEBUG"
	EnvPreview  = "VLUR_PREVIEW"
	EnvAssets   = "VLUR_ASSETS"
	EnvLogLevel = "VLUR_LOG_LEVEL"
	EnvLogFile  = "VLUR_LOG_FILE"
)

// Config selects the backend, the shader assets and logging.
type Config struct {
	// Backend names a registered gpu backend.
	Backend string `yaml:"backend"`
	// Debug enables validation layers and debug logging in the backend.
	Debug bool `yaml:"debug"`
	// Preview swaps the GPU processor for a stub that does nothing.
	Preview bool `yaml:"preview"`
	// AssetDir is a directory holding the shaders. Empty uses the sources
	// built into the binary.
	AssetDir         string         `yaml:"asset_dir"`
	HorizontalShader string         `yaml:"horizontal_shader"`
	VerticalShader   string         `yaml:"vertical_shader"`
	Log              logging.Config `yaml:"log"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Backend:          gpu.BackendVulkan,
		HorizontalShader: DefaultHorizontalShader,
		VerticalShader:   DefaultVerticalShader,
		Log:              logging.Config{Level: "info"},
	}
}

// LoadConfig reads the YAML file at path over the defaults, applies the
// VLUR_* environment variables and validates the result. An empty path
// skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvBackend); ok {
		c.Backend = v
	}
	if v, ok := os.LookupEnv(EnvAssets); ok {
		c.AssetDir = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvLogFile); ok {
		c.Log.File = v
	}
	for name, dst := range map[string]*bool{EnvDebug: &c.Debug, EnvPreview: &c.Preview} {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s", name)
		}
		*dst = b
	}
	return nil
}

// Validate rejects configurations New cannot start from.
func (c Config) Validate() error {
	switch {
	case c.Backend == "":
		return errors.New("config: backend is empty")
	case c.HorizontalShader == "":
		return errors.New("config: horizontal shader path is empty")
	case c.VerticalShader == "":
		return errors.New("config: vertical shader path is empty")
	}
	return nil
}
