// internal/config/normalize.go
package config

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Bus.DialTimeoutMs == 0 {
		cfg.Bus.DialTimeoutMs = 5000
	}

	if cfg.Cache.Lines == 0 {
		cfg.Cache.Lines = 64
	}
}
