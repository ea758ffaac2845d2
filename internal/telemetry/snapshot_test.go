package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundAppliesPerFieldPrecision(t *testing.T) {
	s := Snapshot{
		AltIndicated:  1234.56,
		VerticalSpeed: -700.4,
		IAS:           120.34,
		GS:            118.25,
		TAS:           125.99,
		AGL:           50.7,
		TotalFuel:     3000.49,
		GForce:        1.04,
		Lat:           43.67721449,
		Lng:           -79.63055991,
		BankDegrees:   12.6,
		Com1Active:    122.80012,
	}

	r := s.Round()

	assert.Equal(t, 1235.0, r.AltIndicated)
	assert.Equal(t, -700.0, r.VerticalSpeed)
	assert.Equal(t, 120.3, r.IAS)
	assert.Equal(t, 118.3, r.GS)
	assert.Equal(t, 126.0, r.TAS)
	assert.Equal(t, 51.0, r.AGL)
	assert.Equal(t, 3000.0, r.TotalFuel)
	assert.Equal(t, 1.0, r.GForce)
	assert.Equal(t, 43.677, r.Lat)
	assert.Equal(t, -79.631, r.Lng)
	assert.Equal(t, 13.0, r.BankDegrees)
	assert.Equal(t, 122.8, r.Com1Active)
}

func TestRoundIsIdempotent(t *testing.T) {
	s := Snapshot{IAS: 120.37, Lat: 43.6772, VerticalSpeed: -655.5}
	once := s.Round()
	twice := once.Round()
	assert.Equal(t, once, twice)
}

func TestSubPrecisionJitterDoesNotCountAsChange(t *testing.T) {
	a := Snapshot{AltIndicated: 10000.2, IAS: 215.31, Lat: 43.6772004}
	b := Snapshot{AltIndicated: 10000.4, IAS: 215.33, Lat: 43.6772009}

	ra := a.Round()
	rb := b.Round()

	assert.True(t, ra.Equal(rb))
	assert.False(t, rb.ChangedFrom(&ra))
}

func TestMaterialChangeIsDetected(t *testing.T) {
	a := Snapshot{AltIndicated: 10000}.Round()
	b := Snapshot{AltIndicated: 10001}.Round()

	assert.True(t, b.ChangedFrom(&a))
}

func TestAlertFlagChangeIsDetected(t *testing.T) {
	a := Snapshot{Alerts: Alerts{StallWarning: 0}}.Round()
	b := Snapshot{Alerts: Alerts{StallWarning: 1}}.Round()

	assert.False(t, a.Equal(b))
}

func TestChangedFromNilBaselineAlwaysChanges(t *testing.T) {
	s := Snapshot{}.Round()
	assert.True(t, s.ChangedFrom(nil))
}
