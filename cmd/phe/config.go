package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"phe-toolkit/registry"
)

// Config is the file form of the CLI settings. Flags override it.
type Config struct {
	Registry   registry.Config `yaml:"registry"`
	Verbosity  int             `yaml:"verbosity"`
	Iterations int             `yaml:"iterations"`
}

func defaultConfig() *Config {
	return &Config{
		Registry: registry.Config{
			KeyDir: "keys",
			KeyID:  "0",
		},
		Verbosity:  3,
		Iterations: 20,
	}
}

// loadConfig reads path over the defaults. A missing file is not an error
// unless the path was given explicitly.
func loadConfig(path string, explicit bool) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %v", path, err)
	}
	return config, nil
}

func setupKeyDirectory(dir string) error {
	return os.MkdirAll(dir, 0o700)
}
