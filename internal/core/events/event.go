package events

import (
	"time"

	"gridwarden/pkg/gridlink"
)

// Events published on the actor system's event stream. The MQTT adapter
// fans them out as retained topic updates.

type ComponentEvent interface {
	Component() uint32
}

type componentEventMixIn struct {
	ComponentId uint32 `json:"component_id"`
}

func (e componentEventMixIn) Component() uint32 {
	return e.ComponentId
}

// LifecycleChangedEvent fires on every observed lifecycle state change,
// whether commanded or reported by the hardware.
type LifecycleChangedEvent struct {
	componentEventMixIn
	Previous string    `json:"previous"`
	Current  string    `json:"current"`
	At       time.Time `json:"at"`
}

func NewLifecycleChangedEvent(id uint32, previous, current string, at time.Time) LifecycleChangedEvent {
	return LifecycleChangedEvent{
		componentEventMixIn: componentEventMixIn{ComponentId: id},
		Previous:            previous,
		Current:             current,
		At:                  at,
	}
}

// PowerCommandEvent fires when a setpoint is installed, refreshed or
// reverted to zero by the watchdog.
type PowerCommandEvent struct {
	componentEventMixIn
	Kind       string    `json:"kind"`
	Value      float64   `json:"value"`
	Reverted   bool      `json:"reverted"`
	ValidUntil time.Time `json:"valid_until,omitempty"`
}

func NewPowerCommandEvent(id uint32, kind gridlink.PowerKind, value float64, validUntil time.Time) PowerCommandEvent {
	return PowerCommandEvent{
		componentEventMixIn: componentEventMixIn{ComponentId: id},
		Kind:                kind.String(),
		Value:               value,
		ValidUntil:          validUntil,
	}
}

func NewPowerRevertedEvent(id uint32, kind gridlink.PowerKind) PowerCommandEvent {
	return PowerCommandEvent{
		componentEventMixIn: componentEventMixIn{ComponentId: id},
		Kind:                kind.String(),
		Value:               0,
		Reverted:            true,
	}
}

// BoundsUpdatedEvent carries the merged interval set after a submission
// or a sweep changed it.
type BoundsUpdatedEvent struct {
	componentEventMixIn
	Metric     string       `json:"metric"`
	Intervals  [][2]float64 `json:"intervals"`
	ValidUntil time.Time    `json:"valid_until"`
}

func NewBoundsUpdatedEvent(id uint32, metric string, intervals [][2]float64, validUntil time.Time) BoundsUpdatedEvent {
	return BoundsUpdatedEvent{
		componentEventMixIn: componentEventMixIn{ComponentId: id},
		Metric:              metric,
		Intervals:           intervals,
		ValidUntil:          validUntil,
	}
}

// SampleOutOfRangeEvent fires when a measurement lands outside every
// active bound interval of its metric.
type SampleOutOfRangeEvent struct {
	componentEventMixIn
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

func NewSampleOutOfRangeEvent(id uint32, metric string, value float64, at time.Time) SampleOutOfRangeEvent {
	return SampleOutOfRangeEvent{
		componentEventMixIn: componentEventMixIn{ComponentId: id},
		Metric:              metric,
		Value:               value,
		At:                  at,
	}
}

// SessionStateEvent reports the control session going online or offline.
type SessionStateEvent struct {
	SessionId string `json:"session_id"`
	Online    bool   `json:"online"`
	Version   string `json:"version,omitempty"`
}
