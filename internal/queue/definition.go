// Package queue defines the named queues and the Producer API used to put
// jobs on them.
package queue

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

// Default queue names.
const (
	Email      = "email"
	Imports    = "imports"
	Automation = "automation"
)

// Definition describes one named queue.
type Definition struct {
	Name        string       `json:"name"`
	Kinds       []jobs.Kind  `json:"kinds"`
	Concurrency int          `json:"concurrency"`
	MaxAttempts int          `json:"max_attempts"`
	Backoff     jobs.Backoff `json:"backoff"`
	// Critical queues take part in quick health.
	Critical        bool  `json:"critical"`
	BacklogWarn     int64 `json:"backlog_warn"`
	BacklogCritical int64 `json:"backlog_critical"`
}

// Handles reports whether kind is routed to this queue.
func (d Definition) Handles(kind jobs.Kind) bool {
	return slices.Contains(d.Kinds, kind)
}

// Validate checks a single definition.
func (d Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(d.Kinds) == 0 {
		errs = append(errs, errors.New("at least one kind is required"))
	}
	for _, k := range d.Kinds {
		if !k.Valid() {
			errs = append(errs, fmt.Errorf("unknown kind %q", k))
		}
	}
	if d.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	if d.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be at least 1"))
	}
	if d.Backoff.Base <= 0 || d.Backoff.Max < d.Backoff.Base {
		errs = append(errs, errors.New("backoff requires 0 < base <= max"))
	}
	if d.BacklogCritical > 0 && d.BacklogWarn > d.BacklogCritical {
		errs = append(errs, errors.New("backlog_warn must not exceed backlog_critical"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("queue %q: %w", d.Name, err)
	}
	return nil
}

// DefaultDefinitions returns the built-in queue layout.
func DefaultDefinitions() []Definition {
	backoff := jobs.Backoff{Base: 5 * time.Second, Max: 5 * time.Minute}
	return []Definition{
		{
			Name:            Email,
			Kinds:           []jobs.Kind{jobs.KindBulkSend},
			Concurrency:     4,
			MaxAttempts:     3,
			Backoff:         backoff,
			Critical:        true,
			BacklogWarn:     1000,
			BacklogCritical: 10000,
		},
		{
			Name:            Imports,
			Kinds:           []jobs.Kind{jobs.KindImport, jobs.KindChunkMerge},
			Concurrency:     2,
			MaxAttempts:     3,
			Backoff:         backoff,
			Critical:        true,
			BacklogWarn:     100,
			BacklogCritical: 1000,
		},
		{
			Name:            Automation,
			Kinds:           []jobs.Kind{jobs.KindAutomationRun},
			Concurrency:     2,
			MaxAttempts:     5,
			Backoff:         backoff,
			Critical:        false,
			BacklogWarn:     500,
			BacklogCritical: 5000,
		},
	}
}

// ValidateSet checks every definition plus cross-queue constraints: unique
// names and each kind routed to exactly one queue.
func ValidateSet(defs []Definition) error {
	if len(defs) == 0 {
		return errors.New("no queues defined")
	}
	var errs []error
	names := make(map[string]bool, len(defs))
	owners := make(map[jobs.Kind]string)
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
		if names[d.Name] {
			errs = append(errs, fmt.Errorf("duplicate queue %q", d.Name))
		}
		names[d.Name] = true
		for _, k := range d.Kinds {
			if prev, ok := owners[k]; ok && prev != d.Name {
				errs = append(errs, fmt.Errorf("kind %q routed to both %q and %q", k, prev, d.Name))
			}
			owners[k] = d.Name
		}
	}
	return errors.Join(errs...)
}

// Names returns the queue names in definition order.
func Names(defs []Definition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}
