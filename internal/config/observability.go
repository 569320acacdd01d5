package config

import "fmt"

// ObservabilityConfig configures New Relic instrumentation.
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled"`
	LicenseKey  string `koanf:"license_key"`
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
}

// DefaultObservabilityConfig returns a disabled observability section.
func DefaultObservabilityConfig() *ObservabilityConfig {
	return &ObservabilityConfig{Enabled: false}
}

// Validate checks the observability section for consistency.
func (c *ObservabilityConfig) Validate() error {
	if c.Enabled && c.LicenseKey == "" {
		return fmt.Errorf("observability enabled but license_key is empty")
	}
	return nil
}
