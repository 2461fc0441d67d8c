package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MAILROOM_STORE_URL.
const EnvPrefix = "MAILROOM"

// Load reads and returns the typed configuration from the search path.
// Missing config files are not an error; defaults are returned.
func Load() (*Config, error) {
	cfg, _, err := load("")
	return cfg, err
}

// LoadFromPath reads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

// LoadWithDefaults returns configuration using defaults only.
func LoadWithDefaults() *Config {
	cfg := NewDefaultConfig()
	return &cfg
}

// load reads path, or searches the config path when path is empty, and
// returns the typed config and the file actually used.
func load(path string) (*Config, string, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(expandHome(path))
	} else {
		v.SetConfigName("config")
		if dir := os.Getenv(EnvConfigDir); dir != "" {
			v.AddConfigPath(dir)
		}
		if home := resolveHomeDir(); home != "" {
			v.AddConfigPath(filepath.Join(home, ".config", "mailroom"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			cfg, err := unmarshalConfig(v)
			return cfg, "", err
		}
		if path != "" {
			return nil, "", fmt.Errorf("failed to read config from %s; %w", path, err)
		}
		return nil, "", fmt.Errorf("failed to read config; %w", err)
	}

	cfg, err := unmarshalConfig(v)
	if err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setViperDefaults(v)
	return v
}

// unmarshalConfig converts viper config to typed Config struct.
func unmarshalConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config; %w", err)
	}
	applyListDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
