package service

import (
	"fmt"
	"math"
	"time"

	"gridwarden/internal/core/domain"
	"gridwarden/pkg/gridlink"
)

const (
	DEFAULT_POWER_LIFETIME = 60 * time.Second
	MIN_POWER_LIFETIME     = 10 * time.Second
	MAX_POWER_LIFETIME     = 15 * time.Minute
)

// SetpointPolicy holds the watchdog lifetime rules for power commands.
type SetpointPolicy struct {
	DefaultLifetime time.Duration
	MinLifetime     time.Duration
	MaxLifetime     time.Duration
}

func DefaultSetpointPolicy() SetpointPolicy {
	return SetpointPolicy{
		DefaultLifetime: DEFAULT_POWER_LIFETIME,
		MinLifetime:     MIN_POWER_LIFETIME,
		MaxLifetime:     MAX_POWER_LIFETIME,
	}
}

// EffectiveLifetime resolves a requested lifetime. Zero selects the
// default; anything else must fall inside [MinLifetime, MaxLifetime].
func (p SetpointPolicy) EffectiveLifetime(requested time.Duration) (time.Duration, error) {
	if requested == 0 {
		return p.DefaultLifetime, nil
	}
	if requested < p.MinLifetime || requested > p.MaxLifetime {
		return 0, domain.InvalidArgument(fmt.Sprintf("lifetime %s outside allowed range [%s, %s]",
			requested, p.MinLifetime, p.MaxLifetime))
	}
	return requested, nil
}

// FloorToResolution floors the magnitude toward zero to the nearest
// multiple of resolution, preserving sign. A floored value of 0 is a
// valid stop command.
func FloorToResolution(value, resolution float64) float64 {
	if resolution <= 0 {
		return value
	}
	floored := math.Trunc(math.Abs(value)/resolution) * resolution
	if value < 0 {
		return -floored
	}
	return floored
}

// ResolutionFor reports the setpoint resolution for a power kind, or an
// error when the component cannot apply that kind at all.
func ResolutionFor(f gridlink.Features, kind gridlink.PowerKind) (float64, error) {
	res := f.Resolution(kind)
	if res <= 0 {
		return 0, domain.InvalidArgument(fmt.Sprintf("component does not support %s power setpoints", kind))
	}
	return res, nil
}
