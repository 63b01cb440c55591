package config

import (
	"gopkg.in/yaml.v3"
)

// Dump renders the effective configuration (defaults applied) as YAML.
func Dump(cfg *Config) (string, error) {
	if cfg == nil {
		return "", nil
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
