package cmdutil

import (
	"fmt"
	"path/filepath"

	"github.com/leefowlercu/mailroom/internal/config"
)

// ResolvePath expands "~" and returns an absolute, cleaned path. Empty
// input stays empty. Used for --config and payload file flags.
func ResolvePath(path string) (string, error) {
	expanded := config.ExpandPath(path)
	if expanded == "" {
		return "", nil
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s; %w", path, err)
	}
	return filepath.Clean(abs), nil
}
