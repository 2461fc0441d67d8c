package config

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/leefowlercu/mailroom/internal/events"
)

var (
	eventBusMu sync.RWMutex
	eventBus   events.Bus
)

// SetEventBus sets the bus that receives config reload events.
func SetEventBus(bus events.Bus) {
	eventBusMu.Lock()
	defer eventBusMu.Unlock()
	eventBus = bus
}

// ReloadableSections lists the config sections applied by a running daemon
// on reload. Changes to other sections require a restart.
var ReloadableSections = []string{"log", "alerts"}

// ChangedSections compares two configs and returns the top-level sections
// that differ.
func ChangedSections(old, new *Config) []string {
	var changed []string
	ov, nv := reflect.ValueOf(*old), reflect.ValueOf(*new)
	t := ov.Type()
	for i := range t.NumField() {
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		changed = append(changed, t.Field(i).Tag.Get("mapstructure"))
	}
	return changed
}

func isReloadable(changed []string) bool {
	for _, section := range changed {
		reloadable := false
		for _, s := range ReloadableSections {
			if s == section {
				reloadable = true
				break
			}
		}
		if !reloadable {
			return false
		}
	}
	return true
}

func currentBus() events.Bus {
	eventBusMu.RLock()
	defer eventBusMu.RUnlock()
	return eventBus
}

func publishConfigReloaded(source string, old, new *Config) {
	changed := ChangedSections(old, new)
	if !isReloadable(changed) {
		slog.Warn("config reload includes non-reloadable sections; some changes require daemon restart",
			"changed_sections", changed)
	}

	bus := currentBus()
	if bus == nil {
		return
	}
	if err := bus.Publish(context.Background(), events.NewConfigReloaded(source)); err != nil {
		slog.Error("failed to publish config reload event", "error", err)
	}
}

func publishConfigReloadFailed(source string, err error) {
	bus := currentBus()
	if bus == nil {
		return
	}
	if pubErr := bus.Publish(context.Background(), events.NewConfigReloadFailed(source, err)); pubErr != nil {
		slog.Error("failed to publish config reload failed event", "error", pubErr)
	}
}
