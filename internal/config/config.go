package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional ark.yaml project file: a debug level and the
// directories searched for plugins.
type Config struct {
	Debug    int      `yaml:"debug"`
	LibPaths []string `yaml:"lib_paths"`
}

// Load reads a config file. A missing file is not an error, it just yields
// the zero config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
