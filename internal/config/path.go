package config

import (
	"os"
	"path/filepath"
)

// EnvConfigDir overrides the config directory.
const EnvConfigDir = "MAILROOM_CONFIG_DIR"

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ConfigDir returns the config directory, honoring MAILROOM_CONFIG_DIR.
func ConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home := resolveHomeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "mailroom")
}

// ConfigExists returns true if the config file exists at the default path.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigPath())
	return err == nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	return expandHome(path)
}

func resolveHomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// expandHome expands a leading ~ in path to the user's home directory.
// Only "~" alone or "~/..." is expanded.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	if len(path) > 1 && path[1] != '/' {
		return path
	}

	home := resolveHomeDir()
	if home == "" {
		return path
	}
	if len(path) == 1 {
		return home
	}
	return filepath.Join(home, path[2:])
}
