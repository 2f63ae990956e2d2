package domain

import (
	"time"

	"gridwarden/pkg/gridlink"
)

// LifecycleState is the control-plane state of a component. It is mutated
// only by transitions and by asynchronous hardware reports.
type LifecycleState int

const (
	StateUnknown LifecycleState = iota
	StateStopped
	StateStandby
	StateOperational
	StateError
)

func (s LifecycleState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStandby:
		return "standby"
	case StateOperational:
		return "operational"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

type Transition int

const (
	TransitionStart Transition = iota
	TransitionStandby
	TransitionStop
)

func (t Transition) String() string {
	switch t {
	case TransitionStandby:
		return "standby"
	case TransitionStop:
		return "stop"
	default:
		return "start"
	}
}

func (t Transition) Target() LifecycleState {
	switch t {
	case TransitionStandby:
		return StateStandby
	case TransitionStop:
		return StateStopped
	default:
		return StateOperational
	}
}

type Component struct {
	ID       uint32
	Name     string
	Category gridlink.Category
	Features gridlink.Features

	Lifecycle LifecycleState
	Hardware  gridlink.HardwareState

	// liveness only, never gates commands
	LastSampleAt time.Time
}

// ValidateTransition checks a requested transition against the current
// lifecycle state. It reports noop when the component is already in the
// target state.
func ValidateTransition(current LifecycleState, t Transition) (noop bool, err error) {
	if current == StateUnknown {
		return false, Unavailable("component state unknown, driver unreachable")
	}
	if current == t.Target() {
		return true, nil
	}
	switch t {
	case TransitionStart:
		// Stopped, Standby and Error may all start
		return false, nil
	case TransitionStandby:
		if current != StateOperational {
			return false, InvalidState("standby requires an operational component, current state " + current.String())
		}
		return false, nil
	case TransitionStop:
		// Operational, Standby and Error may all stop
		return false, nil
	}
	return false, InvalidState("unsupported transition")
}

// InferLifecycle derives the lifecycle state from a hardware snapshot,
// at component spawn and again on every hardware report. Only relays the
// component actually has are considered. prev breaks the tie for DC-only
// components, whose closed contactor looks the same in standby and in
// operation.
func InferLifecycle(f gridlink.Features, hw gridlink.HardwareState, errSt gridlink.ErrorState, prev LifecycleState) LifecycleState {
	if errSt != gridlink.ErrorNone {
		return StateError
	}
	acClosed := f.HasACRelay && hw.ACRelayClosed
	dcClosed := f.HasDCRelay && hw.DCRelayClosed
	switch {
	case !acClosed && !dcClosed:
		return StateStopped
	case acClosed:
		return StateOperational
	case f.HasACRelay:
		// AC open with the DC side energized is the standby posture
		return StateStandby
	default:
		if prev == StateStandby {
			return StateStandby
		}
		return StateOperational
	}
}

// RecoveryState is the state a component settles in after an
// acknowledged error. Inverters keep their DC side and recover to
// standby; everything else recovers to stopped.
func RecoveryState(cat gridlink.Category) LifecycleState {
	if cat == gridlink.CategoryInverter {
		return StateStandby
	}
	return StateStopped
}
