// Package config loads the tessera runtime configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnknownKernelPolicy controls what happens when a kernel or activation
// name is executed without a registration.
type UnknownKernelPolicy string

const (
	// UnknownKernelIdentity copies input to output unchanged and logs a
	// warning. This mirrors the historical behavior and keeps partial
	// deployments running.
	UnknownKernelIdentity UnknownKernelPolicy = "identity"
	// UnknownKernelError fails the call with ErrUnknownKernel so
	// misconfigurations surface in tests.
	UnknownKernelError UnknownKernelPolicy = "error"
)

type Config struct {
	Compute struct {
		// Device is the requested placement: cpu, gpu or auto.
		Device string `yaml:"device"`
		// Backend optionally pins a GPU backend: cuda, rocm, metal, oneapi.
		// Empty means pick by detected vendor.
		Backend string `yaml:"backend"`
		// UnknownKernels is "identity" or "error".
		UnknownKernels UnknownKernelPolicy `yaml:"unknownKernels"`
	} `yaml:"compute"`
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file is given: auto
// device placement, info logging, identity fallback.
func Default() *Config {
	var cfg Config
	cfg.Compute.Device = "auto"
	cfg.Compute.UnknownKernels = UnknownKernelIdentity
	cfg.Logger.Verbosity = "info"
	cfg.Metrics.Listen = ":9090"
	return &cfg
}

// LoadConfig reads and validates a YAML configuration file. Missing fields
// take their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Compute.Device {
	case "cpu", "gpu", "auto":
	default:
		return fmt.Errorf("invalid compute device %q (want cpu, gpu or auto)", c.Compute.Device)
	}
	switch c.Compute.Backend {
	case "", "cuda", "rocm", "metal", "oneapi":
	default:
		return fmt.Errorf("invalid compute backend %q", c.Compute.Backend)
	}
	switch c.Compute.UnknownKernels {
	case UnknownKernelIdentity, UnknownKernelError:
	default:
		return fmt.Errorf("invalid unknownKernels policy %q (want identity or error)", c.Compute.UnknownKernels)
	}
	return nil
}
