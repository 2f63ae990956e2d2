package port

import (
	"gridwarden/pkg/gridlink"
)

// StepIssuer is the slice of the driver capability surface the command
// sequencer actuates through. gridlink.Driver satisfies it.
type StepIssuer interface {
	SetRelay(id uint32, relay gridlink.Relay, closed bool) error
	SetPower(id uint32, kind gridlink.PowerKind, value float64) error
	BeginPrecharge(id uint32) error
}
