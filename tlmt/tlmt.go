// Package tlmt defines the minimal telemetry surface. Events carry coarse
// run-mode counters only, never queries or provider payloads.
package tlmt

import "context"

// Event is a single named telemetry datum
type Event struct {
	Name  string
	Value map[string]any
}

// NewEvent creates an Event
func NewEvent(name string, value map[string]any) Event {
	return Event{
		Name:  name,
		Value: value,
	}
}

// Telemetry sends events to a sink
type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}
