// Package testutil provides isolated config environments for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leefowlercu/mailroom/internal/config"
)

// TestEnv is an isolated config directory with env overrides pointing every
// file path into it. Cleanup is automatic via t.Cleanup.
type TestEnv struct {
	t         *testing.T
	ConfigDir string
}

// NewTestEnv creates an isolated environment that uses the in-memory store.
// Tests in different packages may run in parallel; t.Setenv keeps the
// overrides test-scoped.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	configDir := filepath.Join(t.TempDir(), "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create test config dir: %v", err)
	}

	t.Setenv(config.EnvConfigDir, configDir)
	t.Setenv("MAILROOM_LOG_FILE", filepath.Join(configDir, "mailroom.log"))
	t.Setenv("MAILROOM_DAEMON_PID_FILE", filepath.Join(configDir, "daemon.pid"))
	t.Setenv("MAILROOM_STORE_DRIVER", "memory")

	config.Reset()
	if err := config.Init(); err != nil {
		t.Fatalf("failed to initialize test config: %v", err)
	}
	t.Cleanup(config.Reset)

	return &TestEnv{t: t, ConfigDir: configDir}
}

// ConfigPath returns the path of the environment's config.yaml.
func (e *TestEnv) ConfigPath() string {
	return filepath.Join(e.ConfigDir, "config.yaml")
}

// WriteConfig writes content as config.yaml and reloads the configuration.
func (e *TestEnv) WriteConfig(content string) {
	e.t.Helper()
	if err := os.WriteFile(e.ConfigPath(), []byte(content), 0600); err != nil {
		e.t.Fatalf("failed to write config: %v", err)
	}
	config.Reset()
	if err := config.Init(); err != nil {
		e.t.Fatalf("failed to initialize config: %v", err)
	}
}

// WriteFile writes a file under the environment's directory and returns its path.
func (e *TestEnv) WriteFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.ConfigDir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		e.t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}
