package simdata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticProfilePhases(t *testing.T) {
	p := NewSyntheticProvider(43.677, -79.630)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.start = base

	// Parked, engines off.
	p.now = func() time.Time { return base.Add(2 * time.Second) }
	snap, err := p.Fetch()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.OnGround)
	assert.Equal(t, 0, snap.EngineCombustion)

	// Engine running before liftoff.
	p.now = func() time.Time { return base.Add(7 * time.Second) }
	snap, err = p.Fetch()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.EngineCombustion)
	assert.Equal(t, 1, snap.OnGround)

	// Climbing.
	p.now = func() time.Time { return base.Add(20 * time.Second) }
	snap, err = p.Fetch()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.OnGround)
	assert.Greater(t, snap.AGL, 1000.0)
	assert.Greater(t, snap.VerticalSpeed, 0.0)

	// Back on the ground at the end of the minute.
	p.now = func() time.Time { return base.Add(55 * time.Second) }
	snap, err = p.Fetch()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.OnGround)
	assert.Equal(t, 0.0, snap.VerticalSpeed)
}

func TestFetchAfterCloseReportsSourceUnavailable(t *testing.T) {
	p := NewSyntheticProvider(0, 0)
	require.NoError(t, p.Close())

	_, err := p.Fetch()
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}
