// Package subcommands provides the daemon subcommands (start, stop, status).
package subcommands

import (
	"github.com/leefowlercu/mailroom/internal/config"
	"github.com/leefowlercu/mailroom/internal/daemon"
)

// pidFile returns the configured daemon PID file.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(config.ExpandPath(config.Get().Daemon.PIDFile))
}
