// Package simdata supplies raw aircraft telemetry from a flight-simulator
// data source. The real SimConnect bridge lives outside this repository; the
// package defines the provider contract the monitor consumes and a synthetic
// implementation used for bench flying and tests.
package simdata

import (
	"errors"

	"github.com/kafly/skymetrics/internal/telemetry"
)

// ErrSourceUnavailable signals that the simulator handle itself is gone
// (process exited, connection invalidated). The monitor distinguishes this
// from ordinary transient read errors: it flushes a session-end event and
// then keeps polling so the source can be re-established.
var ErrSourceUnavailable = errors.New("simulator source unavailable")

// Provider is the simulator-data contract consumed by the telemetry monitor.
type Provider interface {
	// Fetch reads one raw snapshot. An error wrapping ErrSourceUnavailable
	// means the upstream source is lost, anything else is transient.
	Fetch() (*telemetry.Snapshot, error)

	// Status describes the source (e.g. "SYNTHETIC", "SIMCONNECT").
	Status() string

	// Close releases the underlying simulator handle.
	Close() error
}
