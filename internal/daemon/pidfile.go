package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrDaemonAlreadyRunning indicates that another daemon process holds the PID file.
	ErrDaemonAlreadyRunning = errors.New("daemon already running")

	// ErrDaemonNotRunning indicates that no live process holds the PID file.
	ErrDaemonNotRunning = errors.New("daemon not running")
)

// PIDFile manages the daemon's process ID file.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PIDFile for path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the path to the PID file.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process ID, replacing the file atomically.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create PID file directory; %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write temporary PID file; %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename PID file; %w", err)
	}
	return nil
}

// Read returns the PID stored in the file.
func (p *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file; %w", err)
	}

	s := strings.TrimSpace(string(content))
	if s == "" {
		return 0, errors.New("empty PID file")
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file; %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID %d; must be positive", pid)
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file; %w", err)
	}
	return nil
}

// Running returns the PID of the live process holding the file. It returns
// ErrDaemonNotRunning when the file is missing, unreadable as a PID, or
// names a process that no longer exists.
func (p *PIDFile) Running() (int, error) {
	pid, err := p.Read()
	if err != nil {
		return 0, fmt.Errorf("%w; %v", ErrDaemonNotRunning, err)
	}
	alive, err := processAlive(pid)
	if err != nil {
		return 0, err
	}
	if !alive {
		return 0, ErrDaemonNotRunning
	}
	return pid, nil
}

// IsStale reports whether the file exists but names no live process.
// Content that is not a valid PID counts as stale.
func (p *PIDFile) IsStale() (bool, error) {
	if _, err := os.Stat(p.path); os.IsNotExist(err) {
		return false, nil
	}
	pid, err := p.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return true, nil
	}
	alive, err := processAlive(pid)
	if err != nil {
		return false, err
	}
	return !alive, nil
}

// CheckAndClaim writes the current PID unless a live process already holds
// the file, in which case it returns ErrDaemonAlreadyRunning. A stale file
// is replaced.
func (p *PIDFile) CheckAndClaim() error {
	stale, err := p.IsStale()
	if err != nil {
		return fmt.Errorf("failed to check if PID file is stale; %w", err)
	}
	if _, statErr := os.Stat(p.path); statErr == nil && !stale {
		return ErrDaemonAlreadyRunning
	}
	if stale {
		if err := p.Remove(); err != nil {
			return fmt.Errorf("failed to remove stale PID file; %w", err)
		}
	}
	return p.Write()
}

// processAlive probes pid with signal 0.
func processAlive(pid int) (bool, error) {
	err := syscall.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, syscall.ESRCH):
		return false, nil
	case errors.Is(err, syscall.EPERM):
		// Exists but owned by another user.
		return true, nil
	default:
		return false, fmt.Errorf("failed to check process %d; %w", pid, err)
	}
}
