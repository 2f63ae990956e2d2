package service

import (
	"testing"
	"time"

	"gridwarden/internal/core/domain"
	"gridwarden/pkg/gridlink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloorToResolution(t *testing.T) {
	assert.Equal(t, 100.0, FloorToResolution(123, 50))
	assert.Equal(t, -100.0, FloorToResolution(-123, 50))
	assert.Equal(t, 0.0, FloorToResolution(49, 50))
	assert.Equal(t, 150.0, FloorToResolution(150, 50))
	// non-positive resolution leaves the value untouched
	assert.Equal(t, 123.0, FloorToResolution(123, 0))
}

func TestEffectiveLifetime(t *testing.T) {
	p := DefaultSetpointPolicy()

	d, err := p.EffectiveLifetime(0)
	require.NoError(t, err)
	assert.Equal(t, DEFAULT_POWER_LIFETIME, d)

	d, err = p.EffectiveLifetime(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = p.EffectiveLifetime(time.Second)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	_, err = p.EffectiveLifetime(time.Hour)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestResolutionFor(t *testing.T) {
	f := gridlink.Features{ActivePowerResolutionW: 50}

	res, err := ResolutionFor(f, gridlink.PowerActive)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res)

	// no reactive resolution means no reactive setpoints
	_, err = ResolutionFor(f, gridlink.PowerReactive)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}
