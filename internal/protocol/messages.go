// Package protocol defines the wire messages exchanged between the telemetry
// client and the collector over the websocket link.
package protocol

import "github.com/kafly/skymetrics/internal/telemetry"

// Control commands sent from the collector to a client. These are the only
// two defined values; clients must ignore anything else.
const (
	CommandStartTransmission = "start_transmission"
	CommandStopTransmission  = "stop_transmission"
)

// Identification is sent once per connection, immediately after open.
type Identification struct {
	PilotName   string  `json:"pilot_name"`
	VatsimID    string  `json:"vatsim_id"`
	IvaoID      string  `json:"ivao_id"`
	DepartureID string  `json:"departure_id,omitempty"`
	ArrivalID   string  `json:"arrival_id,omitempty"`
	PacketsSent int     `json:"packets_sent"`
	MBSent      float64 `json:"mb_sent"`
}

// Telemetry is the repeated snapshot message. The rounded snapshot fields are
// inlined alongside the running transfer counters.
type Telemetry struct {
	telemetry.Snapshot
	PilotName   string  `json:"pilot_name"`
	PacketsSent int     `json:"packets_sent"`
	MBSent      float64 `json:"mb_sent"`
}

// Control is a single-field command message from the collector.
type Control struct {
	Command string `json:"command"`
}
