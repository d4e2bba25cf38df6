// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bus      BusConfig       `yaml:"bus"`
	Cache    CacheConfig     `yaml:"cache"`
	Emulator *EmulatorConfig `yaml:"emulator,omitempty"`
}

// ---- BUS ----

type BusConfig struct {
	Endpoint      string `yaml:"endpoint"`
	DialTimeoutMs int    `yaml:"dial_timeout_ms"`
}

// ---- CACHE ----

type CacheConfig struct {
	Lines int `yaml:"lines"`
}

// ---- EMULATOR (busdevd only) ----

type EmulatorConfig struct {
	Listen  string         `yaml:"listen"`
	Devices []DeviceConfig `yaml:"devices"`
}

type DeviceConfig struct {
	Sectors uint16 `yaml:"sectors"`
	Blocks  uint16 `yaml:"blocks"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &cfg, nil
}
