package events

import (
	"fmt"
	"reflect"
)

var payloadTypes = map[EventType]reflect.Type{
	JobEnqueued:          reflect.TypeOf(&JobEvent{}),
	JobStarted:           reflect.TypeOf(&JobEvent{}),
	JobCompleted:         reflect.TypeOf(&JobEvent{}),
	JobRetrying:          reflect.TypeOf(&JobEvent{}),
	JobFailed:            reflect.TypeOf(&JobEvent{}),
	JobCancelled:         reflect.TypeOf(&JobEvent{}),
	JobReclaimed:         reflect.TypeOf(&JobEvent{}),
	WorkerFailed:         reflect.TypeOf(&WorkerEvent{}),
	PoolStarted:          reflect.TypeOf(&PoolEvent{}),
	PoolStopped:          reflect.TypeOf(&PoolEvent{}),
	StoreUnavailable:     reflect.TypeOf(&StoreEvent{}),
	StoreRecovered:       reflect.TypeOf(&StoreEvent{}),
	IncidentOpened:       reflect.TypeOf(&IncidentEvent{}),
	IncidentAcknowledged: reflect.TypeOf(&IncidentEvent{}),
	IncidentResolved:     reflect.TypeOf(&IncidentEvent{}),
	IncidentNotified:     reflect.TypeOf(&IncidentEvent{}),
	ConfigReloaded:       reflect.TypeOf(&ConfigReloadEvent{}),
	ConfigReloadFailed:   reflect.TypeOf(&ConfigReloadEvent{}),
	RulesReloaded:        reflect.TypeOf(&ConfigReloadEvent{}),
}

// PayloadType returns the expected payload type for an event type.
func PayloadType(eventType EventType) (reflect.Type, bool) {
	t, ok := payloadTypes[eventType]
	return t, ok
}

// ValidatePayload verifies that an event payload matches the expected type.
func ValidatePayload(event Event) error {
	if event.Payload == nil {
		return nil
	}

	expected, ok := payloadTypes[event.Type]
	if !ok {
		return fmt.Errorf("no payload mapping for event type %q; %w", event.Type, ErrInvalidPayload)
	}

	if reflect.TypeOf(event.Payload) != expected {
		return fmt.Errorf("event %q payload type mismatch: got %T, expected %s; %w", event.Type, event.Payload, expected, ErrInvalidPayload)
	}

	return nil
}
