// Package config loads, validates and hot-reloads mailroom configuration.
package config

import (
	"fmt"
	"log/slog"
	"sync"
)

var (
	stateMu sync.RWMutex

	// current is the loaded configuration; nil before Init.
	current *Config

	// configFilePath stores the path to the loaded config file
	configFilePath string

	reloadHooks []func(old, new *Config)
)

// Init loads the configuration and makes it available through Get.
// It searches for config.yaml in priority order:
//  1. Directory specified by the MAILROOM_CONFIG_DIR environment variable
//  2. ~/.config/mailroom/
//  3. Current working directory (.)
//
// If no config file is found, defaults are used. A config file that exists
// but is invalid or unreadable is an error.
func Init() error {
	cfg, path, err := load("")
	if err != nil {
		return err
	}

	stateMu.Lock()
	current = cfg
	configFilePath = path
	stateMu.Unlock()

	if path != "" {
		slog.Info("config initialized", "file", path)
	} else {
		slog.Debug("no config file found; using defaults")
	}
	return nil
}

// InitFromPath loads the configuration from an explicit file.
func InitFromPath(path string) error {
	cfg, used, err := load(path)
	if err != nil {
		return err
	}

	stateMu.Lock()
	current = cfg
	configFilePath = used
	stateMu.Unlock()

	slog.Info("config initialized", "file", used)
	return nil
}

// Get returns the current configuration. Before Init it returns defaults.
// Callers must not modify the returned value.
func Get() *Config {
	stateMu.RLock()
	defer stateMu.RUnlock()
	if current == nil {
		return LoadWithDefaults()
	}
	return current
}

// ConfigFilePath returns the path to the loaded config file,
// or empty string if using defaults only.
func ConfigFilePath() string {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return configFilePath
}

// OnReload registers fn to run after every successful reload.
func OnReload(fn func(old, new *Config)) {
	stateMu.Lock()
	defer stateMu.Unlock()
	reloadHooks = append(reloadHooks, fn)
}

// Reset clears the configuration state for testing purposes.
func Reset() {
	stateMu.Lock()
	defer stateMu.Unlock()
	current = nil
	configFilePath = ""
	reloadHooks = nil
}

// Reload re-reads the configuration from disk.
// On failure, the previous configuration is retained.
func Reload() error {
	stateMu.RLock()
	path := configFilePath
	old := current
	stateMu.RUnlock()

	cfg, used, err := load(path)
	if err != nil {
		slog.Error("config reload failed; retaining previous values", "error", err)
		publishConfigReloadFailed(path, err)
		return fmt.Errorf("failed to reload config; %w", err)
	}
	if old == nil {
		old = LoadWithDefaults()
	}

	stateMu.Lock()
	current = cfg
	configFilePath = used
	hooks := append(([]func(old, new *Config))(nil), reloadHooks...)
	stateMu.Unlock()

	slog.Info("config reloaded", "file", used)
	publishConfigReloaded(used, old, cfg)
	for _, fn := range hooks {
		fn(old, cfg)
	}
	return nil
}
