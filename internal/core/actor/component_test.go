package actor

import (
	"errors"
	"testing"
	"time"

	"gridwarden/internal/core/domain"
	"gridwarden/internal/core/service"
	"gridwarden/pkg/gridlink"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type componentFixture struct {
	as      *actor.ActorSystem
	context *actor.RootContext
	sim     *gridlink.SimDriver
	pid     *actor.PID
}

func newComponentFixture(t *testing.T, sim *gridlink.SimDriver, id uint32) *componentFixture {
	t.Helper()

	as := actor.NewActorSystem()
	logger := zap.Must(zap.NewDevelopmentConfig().Build())

	infos, err := sim.ListComponents()
	require.NoError(t, err)
	var info gridlink.ComponentInfo
	for _, i := range infos {
		if i.ID == id {
			info = i
		}
	}
	require.Equal(t, id, info.ID, "component %d not in sim fleet", id)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewComponentActor(info, sim, service.DefaultSetpointPolicy(), &eventstream.EventStream{}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, ComponentActorId(id))
	require.NoError(t, err)

	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return &componentFixture{as: as, context: as.Root, sim: sim, pid: pid}
}

func (f *componentFixture) transition(t *testing.T, msg domain.ActorRequest) domain.TransitionResponse {
	t.Helper()
	res, err := f.context.RequestFuture(f.pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.TransitionResponse)
	require.True(t, ok, "unexpected response %T", res)
	return resp
}

func (f *componentFixture) setPower(t *testing.T, msg domain.SetPowerRequest) domain.SetPowerResponse {
	t.Helper()
	res, err := f.context.RequestFuture(f.pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.SetPowerResponse)
	require.True(t, ok, "unexpected response %T", res)
	return resp
}

func (f *componentFixture) state(t *testing.T) domain.Component {
	t.Helper()
	res, err := f.context.RequestFuture(f.pid, domain.GetComponentStateRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.GetComponentStateResponse)
	require.True(t, ok, "unexpected response %T", res)
	return resp.Component
}

func TestComponentStartIsIdempotent(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)

	resp := f.transition(t, domain.StartComponentRequest{ComponentId: 1})
	require.False(t, resp.HasResponseError(), "start failed: %v", resp.GetResponseError())
	assert.Equal(t, domain.StateOperational, resp.State)
	assert.Equal(t, 3, sim.CallCount("", 1), "dc close, ac close, power zero")

	// second start is a no-op
	resp = f.transition(t, domain.StartComponentRequest{ComponentId: 1})
	require.False(t, resp.HasResponseError())
	assert.Equal(t, domain.StateOperational, resp.State)
	assert.Equal(t, 3, sim.CallCount("", 1), "no extra driver calls on repeated start")
}

func TestComponentSetPowerFloorsToResolution(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)
	f.transition(t, domain.StartComponentRequest{ComponentId: 1})
	sim.ResetCalls()

	resp := f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 123})
	require.False(t, resp.HasResponseError(), "set power failed: %v", resp.GetResponseError())
	assert.Equal(t, 100.0, resp.InstalledValue, "123 W floored to 50 W resolution")

	calls := sim.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, gridlink.SimCall{Op: "SetPower", ID: 1, Detail: "active=100"}, calls[0])
}

func TestComponentSetPowerLifetimeValidation(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)
	f.transition(t, domain.StartComponentRequest{ComponentId: 1})

	resp := f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 100, Lifetime: time.Second})
	require.True(t, resp.HasResponseError())
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(resp.GetResponseError()))
}

func TestComponentSetPowerRequiresOperational(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)

	resp := f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 100})
	require.True(t, resp.HasResponseError())
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(resp.GetResponseError()))
}

func TestComponentWatchdogRevertsExpiredSetpoint(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)
	f.transition(t, domain.StartComponentRequest{ComponentId: 1})

	resp := f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 500})
	require.False(t, resp.HasResponseError())
	sim.ResetCalls()

	// force the expiry instead of waiting out the lifetime
	f.context.Send(f.pid, powerExpireTick{Kind: gridlink.PowerActive, Seq: 1})

	assert.Eventually(t, func() bool {
		return sim.CallCount("SetPower", 1) == 1
	}, 2*time.Second, 20*time.Millisecond, "watchdog should revert to zero")
	calls := sim.Calls()
	assert.Equal(t, "active=0", calls[len(calls)-1].Detail)
	assert.Equal(t, 0.0, f.state(t).Hardware.ActivePowerWatt)

	// a stale tick for the already-reverted command does nothing
	f.context.Send(f.pid, powerExpireTick{Kind: gridlink.PowerActive, Seq: 1})
	f.state(t)
	assert.Equal(t, 1, sim.CallCount("SetPower", 1))
}

func TestComponentRefreshInvalidatesOlderExpiry(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)
	f.transition(t, domain.StartComponentRequest{ComponentId: 1})

	f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 500})
	f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 600})
	sim.ResetCalls()

	// the first command's expiry tick must not revert the refreshed value
	f.context.Send(f.pid, powerExpireTick{Kind: gridlink.PowerActive, Seq: 1})
	assert.Equal(t, 600.0, f.state(t).Hardware.ActivePowerWatt)
	assert.Equal(t, 0, sim.CallCount("SetPower", 1))

	// the current seq still expires normally
	f.context.Send(f.pid, powerExpireTick{Kind: gridlink.PowerActive, Seq: 2})
	assert.Eventually(t, func() bool {
		return f.state(t).Hardware.ActivePowerWatt == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestComponentBoundsGateSetpoints(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)
	f.transition(t, domain.StartComponentRequest{ComponentId: 1})

	res, err := f.context.RequestFuture(f.pid, domain.AddBoundsRequest{
		ComponentId: 1,
		Metric:      domain.MetricActivePower,
		Intervals:   []domain.Interval{{Lower: 100, Upper: 300}},
		Validity:    time.Minute,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	boundsResp, ok := res.(domain.AddBoundsResponse)
	require.True(t, ok)
	require.False(t, boundsResp.HasResponseError())

	resp := f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 500})
	require.True(t, resp.HasResponseError())
	assert.Equal(t, domain.KindPreconditionFailed, domain.KindOf(resp.GetResponseError()))

	// zero is always allowed, even outside the bound set
	resp = f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 0})
	require.False(t, resp.HasResponseError())

	resp = f.setPower(t, domain.SetPowerRequest{ComponentId: 1, Kind: gridlink.PowerActive, Value: 200})
	require.False(t, resp.HasResponseError())
	assert.Equal(t, 200.0, resp.InstalledValue)
}

func TestComponentMeasurementValidation(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)

	res, err := f.context.RequestFuture(f.pid, domain.AddBoundsRequest{
		ComponentId: 1,
		Metric:      domain.MetricVoltage,
		Intervals:   []domain.Interval{{Lower: 220, Upper: 240}},
		Validity:    time.Minute,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	require.False(t, res.(domain.AddBoundsResponse).HasResponseError())

	res, err = f.context.RequestFuture(f.pid, domain.MeasurementSample{
		ComponentId: 1, Metric: domain.MetricVoltage, Value: 230,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.MeasurementResult).InBounds)

	res, err = f.context.RequestFuture(f.pid, domain.MeasurementSample{
		ComponentId: 1, Metric: domain.MetricVoltage, Value: 250,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.False(t, res.(domain.MeasurementResult).InBounds)
}

func TestComponentErrorAckRecovery(t *testing.T) {
	sim := gridlink.NewSimFleet()
	sim.SetErrorState(1, gridlink.ErrorRecoverable)
	f := newComponentFixture(t, sim, 1)

	assert.Equal(t, domain.StateError, f.state(t).Lifecycle)

	resp := f.transition(t, domain.AckErrorRequest{ComponentId: 1})
	require.False(t, resp.HasResponseError())
	assert.Equal(t, domain.StateStandby, resp.State, "inverters recover to standby")
	assert.Equal(t, 1, sim.CallCount("AckError", 1))

	// ack without a pending error is refused
	resp = f.transition(t, domain.AckErrorRequest{ComponentId: 1})
	require.True(t, resp.HasResponseError())
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(resp.GetResponseError()))
}

func TestComponentStartAndStopAllowedFromError(t *testing.T) {
	sim := gridlink.NewSimFleet()
	sim.SetErrorState(1, gridlink.ErrorRecoverable)
	f := newComponentFixture(t, sim, 1)
	require.Equal(t, domain.StateError, f.state(t).Lifecycle)

	// standby still needs an operational component
	resp := f.transition(t, domain.PutInStandbyRequest{ComponentId: 1})
	require.True(t, resp.HasResponseError())
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(resp.GetResponseError()))

	resp = f.transition(t, domain.StartComponentRequest{ComponentId: 1})
	require.False(t, resp.HasResponseError(), "start from error: %v", resp.GetResponseError())
	assert.Equal(t, domain.StateOperational, resp.State)
	assert.Equal(t, 3, sim.CallCount("", 1), "dc close, ac close, power zero")

	resp = f.transition(t, domain.StopComponentRequest{ComponentId: 1})
	require.False(t, resp.HasResponseError())
	assert.Equal(t, domain.StateStopped, resp.State)
}

func TestBatteryReportKeepsOperational(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 2)

	resp := f.transition(t, domain.StartComponentRequest{ComponentId: 2})
	require.False(t, resp.HasResponseError())
	assert.Equal(t, domain.StateOperational, resp.State)

	// a truthful report for a running DC-only battery looks exactly
	// like standby on the wire, the commanded state must win
	f.context.Send(f.pid, domain.HardwareReport{
		ComponentId: 2,
		Hardware:    gridlink.HardwareState{DCRelayClosed: true, ActivePowerWatt: 300},
	})
	comp := f.state(t)
	assert.Equal(t, domain.StateOperational, comp.Lifecycle)
	assert.Equal(t, 300.0, comp.Hardware.ActivePowerWatt)

	// an all-open report still stops it
	f.context.Send(f.pid, domain.HardwareReport{ComponentId: 2})
	assert.Equal(t, domain.StateStopped, f.state(t).Lifecycle)
}

func TestBatteryStopRequiresZeroPower(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 2)

	resp := f.transition(t, domain.StartComponentRequest{ComponentId: 2})
	require.False(t, resp.HasResponseError())
	assert.Equal(t, domain.StateOperational, resp.State)

	pwr := f.setPower(t, domain.SetPowerRequest{ComponentId: 2, Kind: gridlink.PowerActive, Value: 300})
	require.False(t, pwr.HasResponseError())

	resp = f.transition(t, domain.StopComponentRequest{ComponentId: 2})
	require.True(t, resp.HasResponseError())
	assert.Equal(t, domain.KindPreconditionFailed, domain.KindOf(resp.GetResponseError()))

	pwr = f.setPower(t, domain.SetPowerRequest{ComponentId: 2, Kind: gridlink.PowerActive, Value: 0})
	require.False(t, pwr.HasResponseError())

	resp = f.transition(t, domain.StopComponentRequest{ComponentId: 2})
	require.False(t, resp.HasResponseError())
	assert.Equal(t, domain.StateStopped, resp.State)
}

func TestComponentUnavailableWhenDriverUnreachable(t *testing.T) {
	sim := gridlink.NewSimFleet()
	sim.SetFailure("GetHardwareState", errors.New("gateway down"))
	f := newComponentFixture(t, sim, 1)

	resp := f.transition(t, domain.StartComponentRequest{ComponentId: 1})
	require.True(t, resp.HasResponseError())
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(resp.GetResponseError()))
}

func TestInverterStandbyKeepsDCRelayClosed(t *testing.T) {
	sim := gridlink.NewSimFleet()
	f := newComponentFixture(t, sim, 1)
	f.transition(t, domain.StartComponentRequest{ComponentId: 1})

	resp := f.transition(t, domain.PutInStandbyRequest{ComponentId: 1})
	require.False(t, resp.HasResponseError())
	assert.Equal(t, domain.StateStandby, resp.State)

	comp := f.state(t)
	assert.False(t, comp.Hardware.ACRelayClosed)
	assert.True(t, comp.Hardware.DCRelayClosed)

	// standby from stopped is invalid
	resp = f.transition(t, domain.StopComponentRequest{ComponentId: 1})
	require.False(t, resp.HasResponseError())
	resp = f.transition(t, domain.PutInStandbyRequest{ComponentId: 1})
	require.True(t, resp.HasResponseError())
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(resp.GetResponseError()))
}
