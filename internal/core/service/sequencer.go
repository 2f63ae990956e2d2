package service

import (
	"fmt"

	"gridwarden/internal/core/domain"
	"gridwarden/internal/core/port"
	"gridwarden/pkg/gridlink"
)

type stepAction int

const (
	actionCloseRelay stepAction = iota
	actionOpenRelay
	actionSetPowerZero
	actionVerifyClosed
	actionVerifyPowerZero
	actionBeginPrecharge
)

// Capability gates a step on the component's feature set. A step carrying
// a capability is skipped, not failed, when the capability is absent.
type Capability int

const (
	capNone Capability = iota
	capDCRelay
	capPrecharge
)

// Step is one idempotent action of a transition plan. Steps whose effect
// is already observable in the hardware snapshot are skipped, which makes
// whole plans safe to repeat and to resume after a partial failure.
type Step struct {
	Name     string
	action   stepAction
	relay    gridlink.Relay
	requires Capability
	// relays whose closed state a verify step asserts; relays absent
	// from the feature set are not asserted
	verifyRelays []gridlink.Relay
}

func (s Step) available(f gridlink.Features) bool {
	switch s.requires {
	case capDCRelay:
		return f.HasDCRelay
	case capPrecharge:
		return f.SupportsPrecharge
	default:
		return true
	}
}

// satisfied reports whether the step's effect already holds, in which
// case no driver call is issued. Verify steps are satisfied once the
// phase they guard has completed (the AC side already opened, the DC
// relay already opened), so re-running a plan from a later state no-ops.
func (s Step) satisfied(hw gridlink.HardwareState) bool {
	switch s.action {
	case actionCloseRelay:
		return hw.RelayClosed(s.relay)
	case actionOpenRelay:
		return !hw.RelayClosed(s.relay)
	case actionSetPowerZero:
		return !hw.ACRelayClosed
	case actionVerifyClosed:
		return !hw.ACRelayClosed
	case actionVerifyPowerZero:
		return !hw.DCRelayClosed
	case actionBeginPrecharge:
		return hw.DCRelayClosed
	}
	return false
}

type planKey struct {
	cat gridlink.Category
	tr  domain.Transition
}

// PlanTable is the static table of ordered action plans per
// (category, transition). Resolved once at startup.
type PlanTable struct {
	plans map[planKey][]Step
}

func NewPlanTable() *PlanTable {
	t := &PlanTable{plans: map[planKey][]Step{}}

	t.put(gridlink.CategoryInverter, domain.TransitionStart,
		Step{Name: "close_dc_relay", action: actionCloseRelay, relay: gridlink.RelayDC, requires: capDCRelay},
		Step{Name: "close_ac_relay", action: actionCloseRelay, relay: gridlink.RelayAC},
		Step{Name: "set_power_zero", action: actionSetPowerZero},
	)
	t.put(gridlink.CategoryInverter, domain.TransitionStandby,
		Step{Name: "verify_relays_closed", action: actionVerifyClosed, verifyRelays: []gridlink.Relay{gridlink.RelayAC, gridlink.RelayDC}},
		Step{Name: "set_power_zero", action: actionSetPowerZero},
		Step{Name: "open_ac_relay", action: actionOpenRelay, relay: gridlink.RelayAC},
	)
	// stop is the standby plan plus opening the DC side
	t.put(gridlink.CategoryInverter, domain.TransitionStop,
		Step{Name: "verify_relays_closed", action: actionVerifyClosed, verifyRelays: []gridlink.Relay{gridlink.RelayAC, gridlink.RelayDC}},
		Step{Name: "set_power_zero", action: actionSetPowerZero},
		Step{Name: "open_ac_relay", action: actionOpenRelay, relay: gridlink.RelayAC},
		Step{Name: "open_dc_relay", action: actionOpenRelay, relay: gridlink.RelayDC, requires: capDCRelay},
	)

	t.put(gridlink.CategoryBattery, domain.TransitionStart,
		Step{Name: "close_dc_relay", action: actionCloseRelay, relay: gridlink.RelayDC},
	)
	t.put(gridlink.CategoryBattery, domain.TransitionStop,
		Step{Name: "verify_power_zero", action: actionVerifyPowerZero},
		Step{Name: "open_dc_relay", action: actionOpenRelay, relay: gridlink.RelayDC},
	)

	t.put(gridlink.CategoryRelay, domain.TransitionStart,
		Step{Name: "close_relay", action: actionCloseRelay, relay: gridlink.RelayAC},
	)
	t.put(gridlink.CategoryRelay, domain.TransitionStop,
		Step{Name: "open_relay", action: actionOpenRelay, relay: gridlink.RelayAC},
	)

	t.put(gridlink.CategoryPrecharge, domain.TransitionStart,
		Step{Name: "begin_precharge", action: actionBeginPrecharge, requires: capPrecharge},
	)
	t.put(gridlink.CategoryPrecharge, domain.TransitionStop,
		Step{Name: "open_dc_relay", action: actionOpenRelay, relay: gridlink.RelayDC},
	)

	return t
}

func (t *PlanTable) put(cat gridlink.Category, tr domain.Transition, steps ...Step) {
	t.plans[planKey{cat: cat, tr: tr}] = steps
}

func (t *PlanTable) Plan(cat gridlink.Category, tr domain.Transition) ([]Step, bool) {
	steps, ok := t.plans[planKey{cat: cat, tr: tr}]
	return steps, ok
}

// ExecutePlan runs the steps strictly in order against the issuer.
// The returned snapshot reflects every confirmed step; on failure it is
// the last confirmed state, completed steps are never rolled back.
// issued counts driver calls actually made.
func ExecutePlan(issuer port.StepIssuer, id uint32, f gridlink.Features, hw gridlink.HardwareState, steps []Step) (gridlink.HardwareState, int, error) {
	issued := 0
	for _, st := range steps {
		if !st.available(f) {
			continue
		}
		if st.satisfied(hw) {
			continue
		}
		switch st.action {
		case actionVerifyClosed:
			for _, r := range st.verifyRelays {
				if f.HasRelay(r) && !hw.RelayClosed(r) {
					return hw, issued, domain.PreconditionFailed(st.Name,
						fmt.Sprintf("%s relay not confirmed closed", r))
				}
			}
		case actionVerifyPowerZero:
			if hw.ActivePowerWatt != 0 {
				return hw, issued, domain.PreconditionFailed(st.Name,
					fmt.Sprintf("power output reads %g W, expected 0", hw.ActivePowerWatt))
			}
		case actionCloseRelay:
			issued++
			if err := issuer.SetRelay(id, st.relay, true); err != nil {
				return hw, issued, domain.DriverFailure(st.Name, err)
			}
			hw = withRelay(hw, st.relay, true)
		case actionOpenRelay:
			issued++
			if err := issuer.SetRelay(id, st.relay, false); err != nil {
				return hw, issued, domain.DriverFailure(st.Name, err)
			}
			hw = withRelay(hw, st.relay, false)
		case actionSetPowerZero:
			issued++
			if err := issuer.SetPower(id, gridlink.PowerActive, 0); err != nil {
				return hw, issued, domain.DriverFailure(st.Name, err)
			}
			hw.ActivePowerWatt = 0
		case actionBeginPrecharge:
			issued++
			if err := issuer.BeginPrecharge(id); err != nil {
				return hw, issued, domain.DriverFailure(st.Name, err)
			}
			// asynchronous; DC relay closure arrives via hardware report
		}
	}
	return hw, issued, nil
}

func withRelay(hw gridlink.HardwareState, r gridlink.Relay, closed bool) gridlink.HardwareState {
	if r == gridlink.RelayDC {
		hw.DCRelayClosed = closed
	} else {
		hw.ACRelayClosed = closed
	}
	return hw
}
