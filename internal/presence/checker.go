package presence

import (
	"context"

	"github.com/kafly/skymetrics/pkg/logger"
)

// Result classifies the outcome of a presence check.
type Result int

const (
	// Absent means every usable roster was read and the pilot was in none
	// of them.
	Absent Result = iota
	// Found means at least one network lists the pilot as connected.
	Found
	// Unknown means no roster listed the pilot but at least one could not
	// be read, so absence is not confirmed.
	Unknown
)

// String returns a label for logging.
func (r Result) String() string {
	switch r {
	case Absent:
		return "absent"
	case Found:
		return "found"
	case Unknown:
		return "unknown"
	}
	return "invalid"
}

// Identity carries the network member IDs a client announced.
type Identity struct {
	VatsimID string
	IvaoID   string
}

// Checker combines the configured network providers into a single presence
// decision: the pilot is present if ANY network lists them.
type Checker struct {
	vatsim Provider
	ivao   Provider
	logger *logger.Logger
}

// NewChecker creates a checker. Either provider may be nil when that network
// is disabled.
func NewChecker(vatsim, ivao Provider, log *logger.Logger) *Checker {
	return &Checker{
		vatsim: vatsim,
		ivao:   ivao,
		logger: log.Named("presence"),
	}
}

// Check looks the identity up on every enabled network. Placeholder IDs are
// never looked up; an identity with no usable ID on any enabled network is
// Absent. A roster read failure downgrades a would-be Absent to Unknown so
// callers do not revoke authorization on stale information.
func (c *Checker) Check(ctx context.Context, ident Identity) Result {
	type lookup struct {
		provider Provider
		memberID string
	}
	var lookups []lookup
	if c.vatsim != nil && RealID(ident.VatsimID) {
		lookups = append(lookups, lookup{c.vatsim, ident.VatsimID})
	}
	if c.ivao != nil && RealID(ident.IvaoID) {
		lookups = append(lookups, lookup{c.ivao, ident.IvaoID})
	}

	if len(lookups) == 0 {
		return Absent
	}

	indeterminate := false
	for _, lu := range lookups {
		present, err := lu.provider.Present(ctx, lu.memberID)
		if err != nil {
			c.logger.Warn("Roster check failed",
				logger.String("network", lu.provider.Name()),
				logger.String("member_id", lu.memberID),
				logger.Error(err))
			indeterminate = true
			continue
		}
		if present {
			return Found
		}
	}

	if indeterminate {
		return Unknown
	}
	return Absent
}
