package simdata

import (
	"sync"
	"time"

	"github.com/kafly/skymetrics/internal/telemetry"
)

// SyntheticProvider generates a deterministic flight profile driven by
// elapsed wall time: parked for 5s, engine start, a short taxi, climb-out,
// then a cruise/descent cycle that touches down once per minute. It stands
// in for the simulator when no real source is attached.
type SyntheticProvider struct {
	mu      sync.Mutex
	start   time.Time
	now     func() time.Time
	closed  bool
	baseLat float64
	baseLng float64
}

// NewSyntheticProvider creates a synthetic telemetry source anchored at the
// given position.
func NewSyntheticProvider(lat, lng float64) *SyntheticProvider {
	p := &SyntheticProvider{
		now:     time.Now,
		baseLat: lat,
		baseLng: lng,
	}
	p.start = p.now()
	return p
}

// Status implements Provider.
func (p *SyntheticProvider) Status() string { return "SYNTHETIC" }

// Close implements Provider. Fetch after Close reports the source as lost.
func (p *SyntheticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Fetch implements Provider.
func (p *SyntheticProvider) Fetch() (*telemetry.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrSourceUnavailable
	}

	t := p.now().Sub(p.start).Seconds()
	cycle := t - 60*float64(int(t)/60) // position within the minute

	engineOn := t > 5
	flying := t > 10 && !(cycle > 50) // on ground for the last 10s of each minute
	taxiing := t > 5 && t < 15 && cycle > 50

	snap := &telemetry.Snapshot{
		EngineCount: 2,
		GForce:      1.0,
		Lat:         p.baseLat + t/1e6,
		Lng:         p.baseLng,
		Com1Active:  122.8,
		Com2Active:  118.5,
	}

	if engineOn {
		snap.EngineCombustion = 1
		snap.LightBeaconOn = 1
		snap.EngineVibration = 0.05
	}
	snap.LightLandingOn = 1
	snap.LightStrobeOn = 1

	switch {
	case flying:
		snap.AltIndicated = 10000
		snap.AGL = 9950
		snap.IAS = 215
		snap.TAS = 230
		snap.GS = 250
		snap.TotalFuel = 3000
		snap.BankDegrees = 5.0
		if cycle > 10 && cycle < 50 {
			snap.VerticalSpeed = 1000
		}
	case taxiing:
		snap.OnGround = 1
		snap.GS = 12
		snap.TotalFuel = 3100
	default:
		snap.OnGround = 1
		snap.GearPosition = 100
		snap.TotalFuel = 3100
	}

	// Tiny vertical-speed jitter never survives rounding anyway; coerce it
	// to a hard zero so change detection stays quiet on the ground.
	if snap.VerticalSpeed > -0.5 && snap.VerticalSpeed < 0.5 {
		snap.VerticalSpeed = 0
	}

	return snap, nil
}
