package domain

import (
	"time"

	"gridwarden/pkg/gridlink"
)

const (
	ACTOR_ID_GRID = "grid"
	ACTOR_ID_MQTT = "mqtt"
)

// Facade requests routed by the grid actor to the owning component actor.
// Every request names its component; responses carry errors in the mixin.

type AddBoundsRequest struct {
	ActorRequestMixIn
	ComponentId uint32
	Metric      Metric
	Intervals   []Interval
	// zero means the default validity
	Validity time.Duration
}

type AddBoundsResponse struct {
	ActorResponseMixIn
	ValidUntil time.Time
}

type SetPowerRequest struct {
	ActorRequestMixIn
	ComponentId uint32
	Kind        gridlink.PowerKind
	Value       float64
	// zero means the default lifetime
	Lifetime time.Duration
}

type SetPowerResponse struct {
	ActorResponseMixIn
	// the floored magnitude actually installed
	InstalledValue float64
	ValidUntil     time.Time
}

type StartComponentRequest struct {
	ActorRequestMixIn
	ComponentId uint32
}

type PutInStandbyRequest struct {
	ActorRequestMixIn
	ComponentId uint32
}

type StopComponentRequest struct {
	ActorRequestMixIn
	ComponentId uint32
}

type AckErrorRequest struct {
	ActorRequestMixIn
	ComponentId uint32
}

type TransitionResponse struct {
	ActorResponseMixIn
	State LifecycleState
}

// MeasurementSample is a driver-side metric reading entering the control
// plane for bounds validation and watchdog liveness.
type MeasurementSample struct {
	ActorRequestMixIn
	ComponentId uint32
	Metric      Metric
	Value       float64
	At          time.Time
}

type MeasurementResult struct {
	ActorResponseMixIn
	InBounds bool
}

// HardwareReport is an asynchronous hardware-state push, e.g. a precharge
// sequence completing or an error being raised.
type HardwareReport struct {
	ComponentId uint32
	Hardware    gridlink.HardwareState
	Error       gridlink.ErrorState
}

type ListComponentsRequest struct {
	ActorRequestMixIn
}

type ListComponentsResponse struct {
	ActorResponseMixIn
	Components []gridlink.ComponentInfo
}

type GetComponentStateRequest struct {
	ActorRequestMixIn
	ComponentId uint32
}

type GetComponentStateResponse struct {
	ActorResponseMixIn
	Component Component
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
