package daemon

import (
	"context"
	"fmt"
	"sort"
)

// ComponentStatus represents the health state of a component.
type ComponentStatus string

const (
	// ComponentStatusRunning indicates the component is operating normally.
	ComponentStatusRunning ComponentStatus = "running"

	// ComponentStatusFailed indicates the component has encountered an error.
	ComponentStatusFailed ComponentStatus = "failed"

	// ComponentStatusDegraded indicates the component is running with reduced capabilities.
	ComponentStatusDegraded ComponentStatus = "degraded"

	// ComponentStatusStopped indicates the component has been intentionally stopped.
	ComponentStatusStopped ComponentStatus = "stopped"
)

// IsHealthy returns true if the component status indicates healthy operation.
func (s ComponentStatus) IsHealthy() bool {
	return s == ComponentStatusRunning
}

// Criticality describes whether a component failure is fatal to the daemon.
type Criticality string

const (
	CriticalityFatal      Criticality = "fatal"
	CriticalityDegradable Criticality = "degradable"
)

// RestartPolicy determines whether a component is restarted on failure.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on_failure"
)

// Component is a long-running part of the daemon. Start returns once the
// component's goroutines are running; Stop waits for them to exit.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// namedComponent gives a name to a component that does not carry one.
type namedComponent struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (c namedComponent) Name() string                    { return c.name }
func (c namedComponent) Start(ctx context.Context) error { return c.start(ctx) }
func (c namedComponent) Stop(ctx context.Context) error  { return c.stop(ctx) }

// ComponentDefinition declares how to build a component and how it is
// supervised once built.
type ComponentDefinition struct {
	Name          string
	Criticality   Criticality
	RestartPolicy RestartPolicy
	Dependencies  []string
	// Supervised components implement Component and are started by the
	// supervisor once the worker pool is running.
	Supervised bool
	// Build returns the constructed object. Returning nil skips the
	// component without error.
	Build func(ctx context.Context, rt *Runtime) (any, error)
}

// ComponentRegistry stores component definitions.
type ComponentRegistry struct {
	defs map[string]ComponentDefinition
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		defs: make(map[string]ComponentDefinition),
	}
}

// Register adds a definition, replacing one with the same name.
func (r *ComponentRegistry) Register(def ComponentDefinition) {
	r.defs[def.Name] = def
}

// Definitions returns all registered definitions.
func (r *ComponentRegistry) Definitions() map[string]ComponentDefinition {
	return r.defs
}

// TopologicalOrder returns component names ordered by dependencies.
// Independent components are ordered by name so the result is stable.
func (r *ComponentRegistry) TopologicalOrder() ([]string, error) {
	visited := make(map[string]bool)
	temp := make(map[string]bool)
	var order []string

	var visit func(string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if temp[name] {
			return fmt.Errorf("circular dependency detected at %s", name)
		}
		def, ok := r.defs[name]
		if !ok {
			return fmt.Errorf("component %s not registered", name)
		}
		temp[name] = true
		for _, dep := range def.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		temp[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}
