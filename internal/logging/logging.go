// Package logging owns the process logger: a text logger on stderr at
// bootstrap, upgraded after config load to a fanout of stderr text, a
// rotating JSON file and any extra handlers such as the alert log tap.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Manager handles logger lifecycle including bootstrap-to-full mode transitions.
// Components should obtain a logger via Logger() and use it for all logging.
type Manager struct {
	handler *SwappableHandler
	logger  *slog.Logger
	level   *slog.LevelVar
	stderr  io.Writer

	mu   sync.Mutex
	file *lumberjack.Logger
}

// NewManager creates a logging manager in bootstrap mode, writing text to
// stderr only. Call Upgrade after config is available.
func NewManager() *Manager {
	return newManager(os.Stderr)
}

func newManager(stderr io.Writer) *Manager {
	level := new(slog.LevelVar)
	level.Set(DefaultLevel)

	handler := NewSwappableHandler(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return &Manager{
		handler: handler,
		logger:  slog.New(handler),
		level:   level,
		stderr:  stderr,
	}
}

// Logger returns the current logger instance.
// The returned logger is stable across Upgrade calls.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Upgrade switches to full mode: text to stderr, JSON to a rotating file,
// plus every extra handler. Extra handlers receive records at their own
// level; the file and stderr follow the manager's level.
func (m *Manager) Upgrade(file FileOptions, level slog.Level, extra ...slog.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(file.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %q; %w", dir, err)
	}
	// lumberjack opens lazily; open once here so a bad path fails Upgrade.
	f, err := os.OpenFile(file.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %q; %w", file.Path, err)
	}
	_ = f.Close()

	rotator := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
	}
	if m.file != nil {
		_ = m.file.Close()
	}
	m.file = rotator
	m.level.Set(level)

	opts := &slog.HandlerOptions{Level: m.level}
	handlers := []slog.Handler{
		slog.NewTextHandler(m.stderr, opts),
		slog.NewJSONHandler(rotator, opts),
	}
	handlers = append(handlers, extra...)

	m.handler.Swap(slogmulti.Fanout(handlers...))
	return nil
}

// SetLevel changes the log level at runtime.
func (m *Manager) SetLevel(level slog.Level) {
	m.level.Set(level)
}

// Level returns the current level.
func (m *Manager) Level() slog.Level {
	return m.level.Level()
}

// Rotate closes the current log file and starts a new one.
func (m *Manager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	if err := m.file.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate log file; %w", err)
	}
	return nil
}

// Close closes the log file. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
