// Package presence verifies that a pilot is actually connected to an online
// flying network (VATSIM or IVAO) by reading the networks' public rosters.
// The collector only authorizes telemetry transmission for pilots it can see
// online.
package presence

import "context"

// Provider checks one network's live roster for a member ID.
type Provider interface {
	// Name identifies the network ("VATSIM", "IVAO").
	Name() string

	// Present reports whether the member ID appears in the network's roster
	// of connected pilots. An error means the roster could not be read and
	// says nothing about the pilot.
	Present(ctx context.Context, memberID string) (bool, error)
}

// RealID reports whether a member ID is usable for a roster lookup.
// Clients without a network account send placeholder values.
func RealID(id string) bool {
	switch id {
	case "", "0", "N/A", "n/a":
		return false
	}
	return true
}
