package telemetry

import "math"

// Alerts holds the level-triggered warning flags read from the simulator.
// Values are 0/1 integers to match the wire format.
type Alerts struct {
	OverspeedWarning      int `json:"overspeed_warning"`
	StallWarning          int `json:"stall_warning"`
	BeaconOffEngineOn     int `json:"beacon_off_engine_on"`
	EngineFire            int `json:"engine_fire"`
	StallProtectionActive int `json:"stall_protection_active"`
	GPWSWarning           int `json:"gpws_warning"`
	FlapsSpeedExceeded    int `json:"flaps_speed_exceeded"`
	GearWarningActive     int `json:"gear_warning_system_active"`
}

// Snapshot is one capture of aircraft telemetry. Field names mirror the
// simulator variables they are read from; JSON tags define the wire format
// shared with the collector.
type Snapshot struct {
	AltIndicated     float64 `json:"alt_ind"`
	VerticalSpeed    float64 `json:"vs"`
	IAS              float64 `json:"ias"`
	GS               float64 `json:"gs"`
	TAS              float64 `json:"tas"`
	AGL              float64 `json:"agl"`
	OnGround         int     `json:"on_ground"`
	TotalFuel        float64 `json:"total_fuel"`
	GearPosition     float64 `json:"gear_left_pos"`
	GForce           float64 `json:"g_force"`
	EngineCount      int     `json:"engine_count"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	EngineCombustion int     `json:"eng_combustion"`
	LightBeaconOn    int     `json:"light_beacon_on"`
	LightLandingOn   int     `json:"light_landing_on"`
	LightStrobeOn    int     `json:"light_strobe_on"`
	BankDegrees      float64 `json:"plane_bank_degrees"`
	EngineVibration  float64 `json:"engine_vibration_1"`
	Com1Active       float64 `json:"com1_active"`
	Com2Active       float64 `json:"com2_active"`
	Alerts           Alerts  `json:"alerts"`
}

// precisionDigits defines the number of decimal digits each numeric field is
// rounded to before comparison and transmission. Two snapshots are materially
// equal iff every mapped field compares equal after this rounding.
var precisionDigits = map[string]int{
	"alt_ind":            0,
	"vs":                 0,
	"ias":                1,
	"gs":                 1,
	"tas":                1,
	"agl":                0,
	"on_ground":          0,
	"total_fuel":         0,
	"gear_left_pos":      0,
	"g_force":            1,
	"engine_count":       0,
	"lat":                3,
	"lng":                3,
	"eng_combustion":     0,
	"light_beacon_on":    0,
	"light_landing_on":   0,
	"light_strobe_on":    0,
	"plane_bank_degrees": 0,
	"engine_vibration_1": 0,
	"com1_active":        3,
	"com2_active":        3,
}

// roundTo rounds half away from zero to the given number of decimal digits.
func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}

// Round returns a copy of the snapshot with every field rounded to its
// configured precision. The result is immutable by convention: the pipeline
// passes rounded snapshots by value and never mutates them.
func (s Snapshot) Round() Snapshot {
	r := s
	r.AltIndicated = roundTo(s.AltIndicated, precisionDigits["alt_ind"])
	r.VerticalSpeed = roundTo(s.VerticalSpeed, precisionDigits["vs"])
	r.IAS = roundTo(s.IAS, precisionDigits["ias"])
	r.GS = roundTo(s.GS, precisionDigits["gs"])
	r.TAS = roundTo(s.TAS, precisionDigits["tas"])
	r.AGL = roundTo(s.AGL, precisionDigits["agl"])
	r.TotalFuel = roundTo(s.TotalFuel, precisionDigits["total_fuel"])
	r.GearPosition = roundTo(s.GearPosition, precisionDigits["gear_left_pos"])
	r.GForce = roundTo(s.GForce, precisionDigits["g_force"])
	r.Lat = roundTo(s.Lat, precisionDigits["lat"])
	r.Lng = roundTo(s.Lng, precisionDigits["lng"])
	r.BankDegrees = roundTo(s.BankDegrees, precisionDigits["plane_bank_degrees"])
	r.EngineVibration = roundTo(s.EngineVibration, precisionDigits["engine_vibration_1"])
	r.Com1Active = roundTo(s.Com1Active, precisionDigits["com1_active"])
	r.Com2Active = roundTo(s.Com2Active, precisionDigits["com2_active"])
	return r
}

// Equal reports whether two rounded snapshots are materially equal. This is
// the sole criterion for suppressing a redundant send.
func (s Snapshot) Equal(other Snapshot) bool {
	return s == other
}

// ChangedFrom reports whether the snapshot differs from the last sent one.
// A nil last value always counts as changed.
func (s Snapshot) ChangedFrom(last *Snapshot) bool {
	if last == nil {
		return true
	}
	return !s.Equal(*last)
}
