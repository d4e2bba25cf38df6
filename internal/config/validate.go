// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/busfs/internal/register"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.Bus.Endpoint == "" {
		return fmt.Errorf("bus: endpoint is required")
	}
	if cfg.Bus.DialTimeoutMs < 0 {
		return fmt.Errorf("bus: dial_timeout_ms must not be negative")
	}

	if cfg.Cache.Lines < 0 {
		return fmt.Errorf("cache: lines must not be negative")
	}

	// ------------------------------------------------------------
	// EMULATOR GEOMETRY (OPT-IN)
	// ------------------------------------------------------------

	if cfg.Emulator == nil {
		return nil
	}

	if cfg.Emulator.Listen == "" {
		return fmt.Errorf("emulator: listen address is required")
	}
	if len(cfg.Emulator.Devices) == 0 {
		return fmt.Errorf("emulator: at least one device is required")
	}
	if len(cfg.Emulator.Devices) > register.MaxDevices {
		return fmt.Errorf("emulator: at most %d devices, got %d",
			register.MaxDevices, len(cfg.Emulator.Devices))
	}

	for i, d := range cfg.Emulator.Devices {
		if d.Sectors == 0 {
			return fmt.Errorf("emulator: device %d: sectors must be > 0", i)
		}
		if d.Blocks == 0 {
			return fmt.Errorf("emulator: device %d: blocks must be > 0", i)
		}
	}

	return nil
}
