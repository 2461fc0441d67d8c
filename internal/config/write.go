package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Write writes the configuration as YAML to path, creating the directory
// with 0700 and the file with 0600 permissions.
func Write(cfg *Config, path string) error {
	path = expandHome(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s; %w", dir, err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	header := fmt.Sprintf("# mailroom configuration\n# Generated: %s\n\n", time.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file %s; %w", path, err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config; %w", err)
	}
	return data, nil
}
