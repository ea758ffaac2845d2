// Package flightlog detects flight-phase transitions from rounded telemetry
// snapshots and delivers the resulting event log to the ingestion endpoint
// in all-or-nothing batches.
package flightlog

import (
	"fmt"
	"math"
	"time"

	"github.com/kafly/skymetrics/internal/telemetry"
	"github.com/kafly/skymetrics/pkg/logger"
)

// Flight event names. Alert events share the "ALERT:" prefix and are
// individually rate-limited.
const (
	EventSessionStart    = "SESSION_START"
	EventEngineStart     = "ENGINE_START"
	EventFuelInitial     = "FUEL_INITIAL"
	EventFlightStart     = "FLIGHT_START"
	EventTakeoff         = "TAKEOFF"
	EventTouchdownVS     = "TOUCHDOWN_VS"
	EventLandingComplete = "LANDING_COMPLETE"
	EventFuelFinal       = "FUEL_FINAL"
	EventFlightEnded     = "FLIGHT_ENDED"
	EventSegmentComplete = "SEGMENT_COMPLETE"
	EventFlightReset     = "FLIGHT_RESET"
	EventConnectionLost  = "CONNECTION_LOST"

	AlertBankAngleHigh = "ALERT:BANK_ANGLE_HIGH"
	AlertStallWarning  = "ALERT:STALL_WARNING"
	AlertOverspeed     = "ALERT:OVERSPEED"
	AlertEngineFire    = "ALERT:ENGINE_FIRE"
	AlertGPWS          = "ALERT:GPWS"
)

// Thresholds contains the tunable constants of the phase state machine.
type Thresholds struct {
	TaxiStartKts      float64       // ground speed that starts a flight sequence
	TakeoffAGLFt      float64       // altitude above ground for takeoff detection
	TakeoffSpeedKts   float64       // ground speed for takeoff detection
	TouchdownAGLFt    float64       // max altitude above ground for touchdown detection
	TouchdownSpeedKts float64       // ground speed below which a landing is complete
	BankAlertDeg      float64       // bank angle that triggers the bank alert
	AlertCooldown     time.Duration // per-alert re-emission suppression window
}

// DefaultThresholds returns the stock detection constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TaxiStartKts:      10,
		TakeoffAGLFt:      50,
		TakeoffSpeedKts:   30,
		TouchdownAGLFt:    100,
		TouchdownSpeedKts: 10,
		BankAlertDeg:      30,
		AlertCooldown:     60 * time.Second,
	}
}

// PhaseState is the flight-progress record mutated exclusively by the
// detector. IsAirborne and HasLanded are never both true.
type PhaseState struct {
	IsAirborne    bool
	HasLanded     bool
	FuelLogged    bool
	FlightStarted bool
	LandingVS     *float64
	LastVS        float64
	FlightEnded   bool
}

// EventRecord is one append-only entry of the flight event log.
type EventRecord struct {
	Event       string
	Description string
	Timestamp   time.Time
	Lat         float64
	Lng         float64
	UserID      string
	DepartureID string
	ArrivalID   string
	// Extra carries event-specific fields: landing_vs for touchdown
	// events, total_fuel for fuel events.
	Extra map[string]string
}

// EventSink receives detected events. The batch uploader implements it; the
// detector never blocks on delivery.
type EventSink interface {
	Append(rec EventRecord)
	// Flush requests delivery of the accumulated batch.
	Flush()
	// SessionEnd performs one best-effort delivery and then clears the
	// buffer unconditionally.
	SessionEnd()
	// Pending reports the number of buffered records.
	Pending() int
}

// Identity names the pilot on whose behalf events are logged.
type Identity struct {
	UserID      string
	DepartureID string
	ArrivalID   string
}

// Detector is the flight-phase state machine. It is a pure consumer of
// rounded snapshots: snapshot in, zero or more events out, state mutated.
// It is driven from the single poll goroutine and holds no lock of its own;
// the sink is responsible for its own synchronization.
type Detector struct {
	cfg   Thresholds
	state PhaseState
	sink  EventSink
	ident Identity

	// sequenceStarted guards FLIGHT_START so taxiing does not re-emit it on
	// every poll. It survives a touch-and-go reset and is cleared only when
	// the flight ends.
	sequenceStarted bool
	lastAlert       map[string]time.Time
	now             func() time.Time
	logger          *logger.Logger
}

// NewDetector creates a detector and logs the session-start event.
func NewDetector(cfg Thresholds, ident Identity, sink EventSink, log *logger.Logger) *Detector {
	d := &Detector{
		cfg:   cfg,
		ident: ident,
		sink:  sink,
		state: PhaseState{
			// A fresh session is grounded with no flight in progress.
			HasLanded:   true,
			FlightEnded: true,
		},
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
		logger:    log.Named("flight-events"),
	}

	d.emit(EventSessionStart,
		fmt.Sprintf("Telemetry session started. DEP: %s, ARR: %s (network ID %s)",
			ident.DepartureID, ident.ArrivalID, ident.UserID),
		telemetry.Snapshot{}, nil)

	return d
}

// State returns a copy of the current phase state.
func (d *Detector) State() PhaseState {
	return d.state
}

// Observe advances the state machine with one rounded snapshot. It runs on
// every poll cycle regardless of transmission authorization so that events
// are not lost while the session waits for a start command.
func (d *Detector) Observe(snap telemetry.Snapshot) {
	st := &d.state
	onGround := snap.OnGround == 1
	engineOn := snap.EngineCombustion == 1

	// Engine start and initial fuel, even while parked. If the process
	// cold-boots into an in-progress taxi, the flight sequence starts here
	// too - exactly once, guarded by sequenceStarted.
	if !st.FuelLogged && engineOn && onGround {
		d.emit(EventEngineStart, "Engine detected running (parked or taxiing).", snap, nil)
		d.emit(EventFuelInitial,
			fmt.Sprintf("Engine on. Fuel: %.0f gal", snap.TotalFuel),
			snap, map[string]string{"total_fuel": fmt.Sprintf("%d", int(snap.TotalFuel))})
		st.FuelLogged = true

		if st.HasLanded && !st.IsAirborne && snap.GS >= d.cfg.TaxiStartKts && !d.sequenceStarted {
			d.emit(EventFlightStart,
				fmt.Sprintf("Taxi start detected at boot. GS >= %.0f kts on ground.", d.cfg.TaxiStartKts),
				snap, nil)
			st.HasLanded = false
			st.FlightEnded = false
			st.FlightStarted = true
			d.sequenceStarted = true
		}
	}

	// Taxi start: ground speed crosses the threshold for the first time in
	// this flight sequence.
	if st.FuelLogged && st.HasLanded && !st.IsAirborne && onGround &&
		snap.GS >= d.cfg.TaxiStartKts && !d.sequenceStarted {
		d.emit(EventFlightStart,
			fmt.Sprintf("Taxi start detected. GS >= %.0f kts on ground.", d.cfg.TaxiStartKts),
			snap, nil)
		st.HasLanded = false
		st.FlightEnded = false
		st.FlightStarted = true
		d.sequenceStarted = true
	}

	// Takeoff.
	if !st.IsAirborne && st.FuelLogged &&
		snap.AGL > d.cfg.TakeoffAGLFt && snap.GS > d.cfg.TakeoffSpeedKts {
		st.IsAirborne = true
		st.HasLanded = false
		st.FlightEnded = false
		d.emit(EventTakeoff,
			fmt.Sprintf("Takeoff detected (AGL > %.0f ft and GS > %.0f kts).",
				d.cfg.TakeoffAGLFt, d.cfg.TakeoffSpeedKts),
			snap, nil)
	}

	// Touchdown. The vertical speed at the moment of impact is unreliable,
	// so the value captured is the one from the poll cycle before ground
	// contact. Events fire once the roll-out slows below taxi speed.
	if st.IsAirborne && onGround && snap.AGL < d.cfg.TouchdownAGLFt && !st.HasLanded {
		if st.LandingVS == nil {
			vs := st.LastVS
			st.LandingVS = &vs
		}
		if snap.GS < d.cfg.TouchdownSpeedKts {
			st.HasLanded = true
			st.IsAirborne = false
			touchVS := *st.LandingVS
			d.emit(EventTouchdownVS,
				fmt.Sprintf("Vertical speed at touchdown: %.0f fpm.", touchVS),
				snap, map[string]string{"landing_vs": fmt.Sprintf("%d", int(touchVS))})
			d.emit(EventLandingComplete,
				fmt.Sprintf("Landing complete. Touchdown VS: %.0f fpm", touchVS),
				snap, nil)
		}
	}

	// Level-triggered alerts, each rate-limited per alert name.
	if math.Abs(snap.BankDegrees) > d.cfg.BankAlertDeg && d.shouldAlert(AlertBankAngleHigh) {
		d.emit(AlertBankAngleHigh,
			fmt.Sprintf("Excessive bank angle: %.1f degrees.", math.Abs(snap.BankDegrees)),
			snap, nil)
	}
	if snap.Alerts.StallWarning == 1 && d.shouldAlert(AlertStallWarning) {
		d.emit(AlertStallWarning, "Stall warning active.", snap, nil)
	}
	if snap.Alerts.OverspeedWarning == 1 && d.shouldAlert(AlertOverspeed) {
		d.emit(AlertOverspeed, "Overspeed warning active.", snap, nil)
	}
	if snap.Alerts.EngineFire == 1 && d.shouldAlert(AlertEngineFire) {
		d.emit(AlertEngineFire, "Engine fire warning active.", snap, nil)
	}
	if snap.Alerts.GPWSWarning == 1 && d.shouldAlert(AlertGPWS) {
		d.emit(AlertGPWS, "GPWS warning active.", snap, nil)
	}

	// Flight ended: engine shut down while landed. Flush the accumulated
	// log and re-arm for the next leg.
	if st.FuelLogged && st.HasLanded && !st.FlightEnded && !engineOn {
		st.FlightEnded = true
		d.emit(EventFuelFinal,
			fmt.Sprintf("Engine off. Final fuel: %.0f gal", snap.TotalFuel),
			snap, map[string]string{"total_fuel": fmt.Sprintf("%d", int(snap.TotalFuel))})
		d.emit(EventFlightEnded, "Flight session complete. Submitting flight log.", snap, nil)
		d.sink.Flush()

		st.IsAirborne = false
		st.HasLanded = true
		st.FuelLogged = false
		st.FlightStarted = false
		st.LandingVS = nil
		d.lastAlert = make(map[string]time.Time)
		d.sequenceStarted = false
	}

	// Touch-and-go: taxi speed again while landed closes the previous
	// segment and re-arms the sequence without requiring a new engine start.
	if st.FuelLogged && st.HasLanded && onGround && snap.GS >= d.cfg.TaxiStartKts {
		if d.sink.Pending() > 0 {
			d.emit(EventSegmentComplete,
				"Previous flight segment complete (touch-and-go or re-takeoff). Submitting accumulated log.",
				snap, nil)
			d.sink.Flush()
		}
		st.IsAirborne = false
		st.HasLanded = false
		st.FuelLogged = false
		st.FlightEnded = false
		st.LandingVS = nil
		d.emit(EventFlightReset, "Airborne or fast taxi after landing. Flight state re-armed.", snap, nil)
	}

	st.LastVS = snap.VerticalSpeed
}

// HandleSessionEnd is called when the upstream source dies or the monitor
// shuts down: it records the abrupt end if a flight is in progress, performs
// one best-effort delivery and clears local state.
func (d *Detector) HandleSessionEnd(snap telemetry.Snapshot) {
	if d.state.FuelLogged && !d.state.FlightEnded {
		d.emit(EventConnectionLost, "Connection terminated abruptly.", snap, nil)
		d.state.FlightEnded = true
	}
	d.sink.SessionEnd()
}

func (d *Detector) shouldAlert(name string) bool {
	now := d.now()
	if now.Sub(d.lastAlert[name]) >= d.cfg.AlertCooldown {
		d.lastAlert[name] = now
		return true
	}
	return false
}

func (d *Detector) emit(event, description string, snap telemetry.Snapshot, extra map[string]string) {
	d.logger.Info("Flight event",
		logger.String("event", event),
		logger.String("description", description))

	d.sink.Append(EventRecord{
		Event:       event,
		Description: description,
		Timestamp:   d.now(),
		Lat:         snap.Lat,
		Lng:         snap.Lng,
		UserID:      d.ident.UserID,
		DepartureID: d.ident.DepartureID,
		ArrivalID:   d.ident.ArrivalID,
		Extra:       extra,
	})
}
