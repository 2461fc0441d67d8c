package config

import (
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/queue"
)

// Definition converts the queue section into a queue definition.
func (q QueueConfig) Definition() queue.Definition {
	kinds := make([]jobs.Kind, len(q.Kinds))
	for i, k := range q.Kinds {
		kinds[i] = jobs.Kind(k)
	}
	return queue.Definition{
		Name:            q.Name,
		Kinds:           kinds,
		Concurrency:     q.Concurrency,
		MaxAttempts:     q.MaxAttempts,
		Backoff:         jobs.Backoff{Base: q.BackoffBase, Max: q.BackoffMax},
		Critical:        q.Critical,
		BacklogWarn:     q.BacklogWarn,
		BacklogCritical: q.BacklogCritical,
	}
}

// QueueDefinitions returns the configured queues as definitions.
func (c *Config) QueueDefinitions() []queue.Definition {
	defs := make([]queue.Definition, len(c.Queues))
	for i, q := range c.Queues {
		defs[i] = q.Definition()
	}
	return defs
}

// QueueConfigs converts definitions back into config sections.
func QueueConfigs(defs []queue.Definition) []QueueConfig {
	out := make([]QueueConfig, len(defs))
	for i, d := range defs {
		kinds := make([]string, len(d.Kinds))
		for j, k := range d.Kinds {
			kinds[j] = string(k)
		}
		out[i] = QueueConfig{
			Name:            d.Name,
			Kinds:           kinds,
			Concurrency:     d.Concurrency,
			MaxAttempts:     d.MaxAttempts,
			BackoffBase:     d.Backoff.Base,
			BackoffMax:      d.Backoff.Max,
			Critical:        d.Critical,
			BacklogWarn:     d.BacklogWarn,
			BacklogCritical: d.BacklogCritical,
		}
	}
	return out
}
