package events

// ConfigReloadEvent contains data for config reload events.
type ConfigReloadEvent struct {
	// Source is the file that triggered the reload.
	Source string `json:"source,omitempty"`

	// Count is the number of items loaded (rules for RulesReloaded).
	Count int `json:"count,omitempty"`

	// Error contains the error message if reload failed.
	Error string `json:"error,omitempty"`
}

// NewConfigReloaded creates a ConfigReloaded event.
func NewConfigReloaded(source string) Event {
	return NewEvent(ConfigReloaded, &ConfigReloadEvent{Source: source})
}

// NewConfigReloadFailed creates a ConfigReloadFailed event.
func NewConfigReloadFailed(source string, err error) Event {
	return NewEvent(ConfigReloadFailed, &ConfigReloadEvent{
		Source: source,
		Error:  errorString(err),
	})
}

// NewRulesReloaded creates a RulesReloaded event.
func NewRulesReloaded(source string, count int) Event {
	return NewEvent(RulesReloaded, &ConfigReloadEvent{Source: source, Count: count})
}
