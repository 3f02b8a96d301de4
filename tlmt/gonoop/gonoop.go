// Package gonoop is the telemetry backend used when reporting is disabled.
package gonoop

import (
	"context"

	"github.com/sadewadee/source-orchestrator/tlmt"
)

type noop struct{}

// New returns a Telemetry that discards every event
func New() tlmt.Telemetry {
	return noop{}
}

func (noop) Send(context.Context, tlmt.Event) error { return nil }

func (noop) Close() error { return nil }
