package service

import (
	"errors"
	"testing"

	"gridwarden/internal/core/domain"
	"gridwarden/pkg/gridlink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planFor(t *testing.T, cat gridlink.Category, tr domain.Transition) []Step {
	t.Helper()
	steps, ok := NewPlanTable().Plan(cat, tr)
	require.True(t, ok, "no plan for %s/%s", cat, tr)
	return steps
}

func TestInverterStartOrder(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := gridlink.Features{HasACRelay: true, HasDCRelay: true, ActivePowerResolutionW: 50}

	hw, issued, err := ExecutePlan(sim, 1, f, gridlink.HardwareState{}, planFor(t, gridlink.CategoryInverter, domain.TransitionStart))
	require.NoError(t, err)
	assert.Equal(t, 3, issued)
	assert.True(t, hw.ACRelayClosed)
	assert.True(t, hw.DCRelayClosed)

	calls := sim.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, gridlink.SimCall{Op: "SetRelay", ID: 1, Detail: "dc=true"}, calls[0])
	assert.Equal(t, gridlink.SimCall{Op: "SetRelay", ID: 1, Detail: "ac=true"}, calls[1])
	assert.Equal(t, gridlink.SimCall{Op: "SetPower", ID: 1, Detail: "active=0"}, calls[2])
}

func TestStartSkipsDCStepWithoutDCRelay(t *testing.T) {
	sim := gridlink.NewSimDriver()
	sim.AddComponent(gridlink.ComponentInfo{ID: 7, Category: gridlink.CategoryInverter,
		Features: gridlink.Features{HasACRelay: true, ActivePowerResolutionW: 50}})
	f := gridlink.Features{HasACRelay: true, ActivePowerResolutionW: 50}

	_, issued, err := ExecutePlan(sim, 7, f, gridlink.HardwareState{}, planFor(t, gridlink.CategoryInverter, domain.TransitionStart))
	require.NoError(t, err)
	assert.Equal(t, 2, issued)

	calls := sim.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "ac=true", calls[0].Detail)
	assert.Equal(t, "active=0", calls[1].Detail)
}

func TestStandbyRequiresRelaysClosed(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := gridlink.Features{HasACRelay: true, HasDCRelay: true}

	// AC closed but DC open is a half state the plan refuses to touch
	hw := gridlink.HardwareState{ACRelayClosed: true, DCRelayClosed: false}
	_, issued, err := ExecutePlan(sim, 1, f, hw, planFor(t, gridlink.CategoryInverter, domain.TransitionStandby))
	require.Error(t, err)
	assert.Equal(t, domain.KindPreconditionFailed, domain.KindOf(err))
	assert.Equal(t, 0, issued, "no driver call before the verify step passes")
}

func TestStandbyFromOperational(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := gridlink.Features{HasACRelay: true, HasDCRelay: true, ActivePowerResolutionW: 50}
	hw := gridlink.HardwareState{ACRelayClosed: true, DCRelayClosed: true, ActivePowerWatt: 500}

	hw, issued, err := ExecutePlan(sim, 1, f, hw, planFor(t, gridlink.CategoryInverter, domain.TransitionStandby))
	require.NoError(t, err)
	assert.Equal(t, 2, issued)
	assert.False(t, hw.ACRelayClosed)
	assert.True(t, hw.DCRelayClosed, "standby keeps the dc side closed")
	assert.Equal(t, 0.0, hw.ActivePowerWatt)
}

func TestStopFromStandbyOnlyOpensDCRelay(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := gridlink.Features{HasACRelay: true, HasDCRelay: true, ActivePowerResolutionW: 50}

	// standby: ac already open, dc still closed
	hw := gridlink.HardwareState{ACRelayClosed: false, DCRelayClosed: true}
	hw, issued, err := ExecutePlan(sim, 1, f, hw, planFor(t, gridlink.CategoryInverter, domain.TransitionStop))
	require.NoError(t, err)
	assert.Equal(t, 1, issued)
	assert.False(t, hw.DCRelayClosed)

	calls := sim.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, gridlink.SimCall{Op: "SetRelay", ID: 1, Detail: "dc=false"}, calls[0])
}

func TestBatteryStopRefusedWhilePowerFlows(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := gridlink.Features{HasDCRelay: true, ActivePowerResolutionW: 100}
	hw := gridlink.HardwareState{DCRelayClosed: true, ActivePowerWatt: 300}

	_, issued, err := ExecutePlan(sim, 2, f, hw, planFor(t, gridlink.CategoryBattery, domain.TransitionStop))
	require.Error(t, err)
	assert.Equal(t, domain.KindPreconditionFailed, domain.KindOf(err))
	assert.Equal(t, 0, issued)
	assert.Empty(t, sim.Calls(), "battery stop must not issue anything until power reads zero")
}

func TestBatteryStopAtZeroPower(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := gridlink.Features{HasDCRelay: true, ActivePowerResolutionW: 100}
	hw := gridlink.HardwareState{DCRelayClosed: true}

	hw, issued, err := ExecutePlan(sim, 2, f, hw, planFor(t, gridlink.CategoryBattery, domain.TransitionStop))
	require.NoError(t, err)
	assert.Equal(t, 1, issued)
	assert.False(t, hw.DCRelayClosed)
}

func TestDriverErrorAbortsPlan(t *testing.T) {
	sim := gridlink.NewSimFleet()
	boom := errors.New("modbus timeout")
	sim.SetFailure("SetRelay", boom)
	f := gridlink.Features{HasACRelay: true, HasDCRelay: true, ActivePowerResolutionW: 50}

	hw, issued, err := ExecutePlan(sim, 1, f, gridlink.HardwareState{}, planFor(t, gridlink.CategoryInverter, domain.TransitionStart))
	require.Error(t, err)
	assert.Equal(t, domain.KindDriverError, domain.KindOf(err))
	assert.ErrorIs(t, err, boom)

	var ce *domain.ControlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "close_dc_relay", ce.Step)

	assert.Equal(t, 1, issued, "plan stops at the first failing step")
	assert.False(t, hw.ACRelayClosed)
	assert.False(t, hw.DCRelayClosed)
}

func TestPrechargeStart(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := gridlink.Features{HasDCRelay: true, SupportsPrecharge: true}

	_, issued, err := ExecutePlan(sim, 4, f, gridlink.HardwareState{}, planFor(t, gridlink.CategoryPrecharge, domain.TransitionStart))
	require.NoError(t, err)
	assert.Equal(t, 1, issued)
	assert.Equal(t, 1, sim.CallCount("BeginPrecharge", 4))
}

func TestRerunningSatisfiedPlanIssuesNothing(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := gridlink.Features{HasACRelay: true}
	hw := gridlink.HardwareState{ACRelayClosed: true}

	_, issued, err := ExecutePlan(sim, 3, f, hw, planFor(t, gridlink.CategoryRelay, domain.TransitionStart))
	require.NoError(t, err)
	assert.Equal(t, 0, issued)
	assert.Empty(t, sim.Calls())
}

func TestNoStandbyPlanForBattery(t *testing.T) {
	_, ok := NewPlanTable().Plan(gridlink.CategoryBattery, domain.TransitionStandby)
	assert.False(t, ok)
}
