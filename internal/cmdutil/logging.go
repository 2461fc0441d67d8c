package cmdutil

import (
	"log/slog"

	"github.com/leefowlercu/mailroom/internal/config"
	"github.com/leefowlercu/mailroom/internal/logging"
)

// logs is the process logging manager. It starts in bootstrap mode and is
// upgraded once configuration is loaded.
var logs = logging.NewManager()

// LogManager returns the process logging manager.
func LogManager() *logging.Manager {
	return logs
}

// UpgradeLogging applies the log section of cfg. With no log file only the
// level changes. Extra handlers, such as the alert log tap, receive every
// record from then on.
func UpgradeLogging(cfg *config.Config, extra ...slog.Handler) error {
	level := logging.ParseLevelOrDefault(cfg.Log.Level)
	if cfg.Log.File == "" {
		logs.SetLevel(level)
		return nil
	}

	file := logging.FileOptions{
		Path:       config.ExpandPath(cfg.Log.File),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
	return logs.Upgrade(file, level, extra...)
}
