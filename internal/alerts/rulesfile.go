package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/leefowlercu/mailroom/internal/events"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads and validates a YAML rules file of the form
//
//	rules:
//	  - id: email-backlog
//	    type: metric
//	    target: email.backlog
//	    operator: ">"
//	    threshold: 1000
//	    severity: high
//	    enabled: true
//	    notify: [log]
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file; %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s; %w", path, err)
	}
	if err := ValidateRules(f.Rules); err != nil {
		return nil, fmt.Errorf("invalid rules file %s; %w", path, err)
	}
	return f.Rules, nil
}

// MergeRules combines base rules with file rules; a file rule replaces a
// base rule with the same id.
func MergeRules(base, file []Rule) []Rule {
	byID := make(map[string]int, len(base)+len(file))
	out := make([]Rule, 0, len(base)+len(file))
	for _, set := range [][]Rule{base, file} {
		for _, r := range set {
			if i, ok := byID[r.ID]; ok {
				out[i] = r
				continue
			}
			byID[r.ID] = len(out)
			out = append(out, r)
		}
	}
	return out
}

// RulesWatcher reloads a rules file into an Engine when it changes.
type RulesWatcher struct {
	engine   *Engine
	path     string
	base     []Rule
	bus      events.Bus
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	doneCh  chan struct{}
}

// NewRulesWatcher creates a watcher for path. base rules come from
// configuration and are merged under the file's rules on every reload.
func NewRulesWatcher(engine *Engine, path string, base []Rule, bus events.Bus, logger *slog.Logger) *RulesWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesWatcher{
		engine:   engine,
		path:     path,
		base:     base,
		bus:      bus,
		logger:   logger.With("component", "rules-watcher", "path", path),
		debounce: 250 * time.Millisecond,
	}
}

// Name returns the component name.
func (w *RulesWatcher) Name() string {
	return "rules-watcher"
}

// Reload loads the file and replaces the engine's rules. A file that fails
// to load leaves the current rules in place.
func (w *RulesWatcher) Reload(ctx context.Context) error {
	rules, err := LoadRulesFile(w.path)
	if err != nil {
		w.logger.Error("rules reload failed; keeping current rules", "error", err)
		w.publish(ctx, events.NewConfigReloadFailed(w.path, err))
		return err
	}
	w.mu.Lock()
	base := w.base
	w.mu.Unlock()
	merged := MergeRules(base, rules)
	if err := w.engine.SetRules(merged); err != nil {
		w.logger.Error("rules reload rejected; keeping current rules", "error", err)
		w.publish(ctx, events.NewConfigReloadFailed(w.path, err))
		return err
	}
	w.publish(ctx, events.NewRulesReloaded(w.path, len(merged)))
	return nil
}

// SetBase replaces the configured rules merged under the file's rules and
// reloads.
func (w *RulesWatcher) SetBase(ctx context.Context, base []Rule) error {
	w.mu.Lock()
	w.base = base
	w.mu.Unlock()
	return w.Reload(ctx)
}

func (w *RulesWatcher) publish(ctx context.Context, ev events.Event) {
	if w.bus == nil {
		return
	}
	if err := w.bus.Publish(ctx, ev); err != nil {
		w.logger.Debug("failed to publish event", "error", err)
	}
}

// Start watches the file's directory. Editors replace files on save, so the
// directory is watched and events are filtered by name.
func (w *RulesWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher; %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch rules directory; %w", err)
	}
	w.watcher = fsw
	w.doneCh = make(chan struct{})

	go w.run(context.WithoutCancel(ctx), fsw, w.doneCh)
	w.logger.Info("watching rules file")
	return nil
}

// Stop ends watching.
func (w *RulesWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	fsw, done := w.watcher, w.doneCh
	w.watcher = nil
	w.mu.Unlock()
	if fsw == nil {
		return nil
	}
	if err := fsw.Close(); err != nil {
		return fmt.Errorf("failed to close fsnotify watcher; %w", err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *RulesWatcher) run(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watcher error", "error", err)
		case <-fire:
			fire = nil
			_ = w.Reload(ctx)
		}
	}
}
