package actor

import (
	"fmt"
	"time"

	"gridwarden/internal/core/domain"
	"gridwarden/internal/core/events"
	"gridwarden/internal/core/service"
	. "gridwarden/internal/util/actorutil"
	"gridwarden/pkg/gridlink"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	HARDWARE_PROBE_RETRY_INTERVAL = 10 * time.Second
	WATCHDOG_REVERT_RETRY         = 5 * time.Second
)

// ComponentActor owns one component: its lifecycle state, its bound
// intervals and its power setpoints. All commands for the component are
// serialized through its mailbox, so no two transitions or setpoint
// writes ever interleave.
type ComponentActor struct {
	ActorWithStates
	scheduler   *scheduler.TimerScheduler
	stash       *Stash
	driver      gridlink.Driver
	plans       *service.PlanTable
	policy      service.SetpointPolicy
	bounds      *service.BoundsLedger
	power       map[gridlink.PowerKind]*powerSlot
	comp        domain.Component
	eventStream *eventstream.EventStream

	logger *zap.Logger
}

// powerSlot tracks the watchdog of one setpoint kind. seq invalidates
// expiry ticks scheduled before the latest refresh.
type powerSlot struct {
	cmd    domain.PowerCommand
	seq    uint64
	cancel scheduler.CancelFunc
}

type powerExpireTick struct {
	Kind gridlink.PowerKind
	Seq  uint64
}

type boundsSweepTick struct{}

type hardwareProbeTick struct{}

type hardwareSnapshot struct {
	domain.ActorResponseMixIn
	Hardware gridlink.HardwareState
	Error    gridlink.ErrorState
}

func ComponentActorId(id uint32) string {
	return fmt.Sprintf("component-%d", id)
}

func NewComponentActor(info gridlink.ComponentInfo, driver gridlink.Driver, policy service.SetpointPolicy, eventStream *eventstream.EventStream, logger *zap.Logger) *ComponentActor {
	act := &ComponentActor{
		driver:      driver,
		stash:       &Stash{},
		plans:       service.NewPlanTable(),
		policy:      policy,
		bounds:      service.NewBoundsLedger(),
		power:       map[gridlink.PowerKind]*powerSlot{},
		eventStream: eventStream,
		logger:      ActorLogger(ComponentActorId(info.ID), logger),
		comp: domain.Component{
			ID:        info.ID,
			Name:      info.Name,
			Category:  info.Category,
			Features:  info.Features,
			Lifecycle: domain.StateUnknown,
		},
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(ComponentStartingState{
		actor: act,
	})
	return act
}

func (state *ComponentActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type ComponentStartingState struct {
	ActorState
	actor *ComponentActor
}

func (state ComponentStartingState) Name() string {
	return "starting"
}

func (state ComponentStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("component@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.probeHardware(ctx)
	case hardwareSnapshot:
		if msg.HasResponseError() {
			state.actor.logger.Error("component@starting hardware probe failed", zap.Error(msg.GetResponseError()))
			// stay Unknown, retry in the background
			state.actor.scheduler.RequestOnce(HARDWARE_PROBE_RETRY_INTERVAL, ctx.Self(), hardwareProbeTick{})
		} else {
			state.actor.comp.Hardware = msg.Hardware
			state.actor.setLifecycle(domain.InferLifecycle(state.actor.comp.Features, msg.Hardware, msg.Error, state.actor.comp.Lifecycle))
		}
		state.actor.Become(ComponentReadyState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	case *actor.Stopping:
	default:
		state.actor.logger.Debug("component@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Ready state

type ComponentReadyState struct {
	ActorState
	actor *ComponentActor
}

func (state ComponentReadyState) Name() string {
	return "ready"
}

func (state ComponentReadyState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.StartComponentRequest:
		state.actor.handleTransition(ctx, msg, domain.TransitionStart)
	case domain.PutInStandbyRequest:
		state.actor.handleTransition(ctx, msg, domain.TransitionStandby)
	case domain.StopComponentRequest:
		state.actor.handleTransition(ctx, msg, domain.TransitionStop)
	case domain.AckErrorRequest:
		state.actor.handleAckError(ctx, msg)
	case domain.SetPowerRequest:
		state.actor.handleSetPower(ctx, msg)
	case domain.AddBoundsRequest:
		state.actor.handleAddBounds(ctx, msg)
	case domain.MeasurementSample:
		state.actor.handleSample(ctx, msg)
	case domain.HardwareReport:
		state.actor.handleHardwareReport(msg)
	case domain.GetComponentStateRequest:
		ForRequest(msg).Respond(ctx, domain.GetComponentStateResponse{
			Component: state.actor.comp,
		})
	case domain.ActorHealthRequest:
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      ComponentActorId(state.actor.comp.ID),
			Healthy: state.actor.comp.Lifecycle != domain.StateUnknown,
			State:   state.actor.comp.Lifecycle.String(),
		})
	case powerExpireTick:
		state.actor.handlePowerExpire(ctx, msg)
	case boundsSweepTick:
		dropped := state.actor.bounds.Sweep(time.Now())
		if dropped > 0 {
			state.actor.logger.Debug("component@ready bounds sweep", zap.Int("dropped", dropped))
		}
	case hardwareProbeTick:
		if state.actor.comp.Lifecycle == domain.StateUnknown {
			state.actor.probeHardware(ctx)
		}
	case hardwareSnapshot:
		if msg.HasResponseError() {
			state.actor.logger.Warn("component@ready hardware probe failed", zap.Error(msg.GetResponseError()))
			state.actor.scheduler.RequestOnce(HARDWARE_PROBE_RETRY_INTERVAL, ctx.Self(), hardwareProbeTick{})
		} else {
			state.actor.handleHardwareReport(domain.HardwareReport{
				ComponentId: state.actor.comp.ID,
				Hardware:    msg.Hardware,
				Error:       msg.Error,
			})
		}
	case *actor.Stopping:
		state.actor.cancelAllWatchdogs()
	default:
		state.actor.logger.Debug("component@ready recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// probeHardware reads the component's hardware and error state and
// pipes the snapshot back to self. The reads run inline under a hard
// timeout, so a slow driver stalls only this component's mailbox.
func (state *ComponentActor) probeHardware(ctx actor.Context) {
	driver := state.driver
	id := state.comp.ID
	NewBackgroundTask(ctx, func() (*hardwareSnapshot, error) {
		hw, err := driver.GetHardwareState(id)
		if err != nil {
			return nil, err
		}
		errSt, err := driver.GetErrorState(id)
		if err != nil {
			return nil, err
		}
		return &hardwareSnapshot{Hardware: *hw, Error: errSt}, nil
	}).WithTimeout(5 * time.Second).Recover(func(err error) hardwareSnapshot {
		return hardwareSnapshot{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	}).PipeTo(ctx.Self())
}

func (state *ComponentActor) handleTransition(ctx actor.Context, msg domain.ActorRequest, tr domain.Transition) {
	state.logger.Debug("component@ready transition", zap.String("transition", tr.String()),
		zap.String("from", state.comp.Lifecycle.String()))

	noop, err := domain.ValidateTransition(state.comp.Lifecycle, tr)
	if err != nil {
		ForRequest(msg).Respond(ctx, domain.TransitionResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			State:              state.comp.Lifecycle,
		})
		return
	}
	if noop {
		ForRequest(msg).Respond(ctx, domain.TransitionResponse{State: state.comp.Lifecycle})
		return
	}

	plan, ok := state.plans.Plan(state.comp.Category, tr)
	if !ok {
		ForRequest(msg).Respond(ctx, domain.TransitionResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: domain.InvalidArgument(fmt.Sprintf("no %s transition for category %s", tr, state.comp.Category)),
			},
			State: state.comp.Lifecycle,
		})
		return
	}

	hw, issued, err := service.ExecutePlan(state.driver, state.comp.ID, state.comp.Features, state.comp.Hardware, plan)
	state.comp.Hardware = hw
	if err != nil {
		state.logger.Error("component@ready transition failed", zap.String("transition", tr.String()),
			zap.Int("issued", issued), zap.Error(err))
		ForRequest(msg).Respond(ctx, domain.TransitionResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			State:              state.comp.Lifecycle,
		})
		return
	}

	if tr != domain.TransitionStart {
		// leaving operational invalidates every setpoint
		state.cancelAllWatchdogs()
	}
	state.setLifecycle(tr.Target())
	ForRequest(msg).Respond(ctx, domain.TransitionResponse{State: state.comp.Lifecycle})
}

func (state *ComponentActor) handleAckError(ctx actor.Context, msg domain.AckErrorRequest) {
	if state.comp.Lifecycle != domain.StateError {
		ForRequest(msg).Respond(ctx, domain.TransitionResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: domain.InvalidState("component not in error state"),
			},
			State: state.comp.Lifecycle,
		})
		return
	}
	if err := state.driver.AckError(state.comp.ID); err != nil {
		ForRequest(msg).Respond(ctx, domain.TransitionResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: domain.DriverFailure("ack_error", err),
			},
			State: state.comp.Lifecycle,
		})
		return
	}
	state.setLifecycle(domain.RecoveryState(state.comp.Category))
	ForRequest(msg).Respond(ctx, domain.TransitionResponse{State: state.comp.Lifecycle})
}

func (state *ComponentActor) handleSetPower(ctx actor.Context, msg domain.SetPowerRequest) {
	respondErr := func(err error) {
		ForRequest(msg).Respond(ctx, domain.SetPowerResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	}

	if state.comp.Lifecycle == domain.StateUnknown {
		respondErr(domain.Unavailable("component state unknown, driver unreachable"))
		return
	}
	if state.comp.Lifecycle != domain.StateOperational {
		respondErr(domain.InvalidState("power commands require an operational component, current state " + state.comp.Lifecycle.String()))
		return
	}

	res, err := service.ResolutionFor(state.comp.Features, msg.Kind)
	if err != nil {
		respondErr(err)
		return
	}
	lifetime, err := state.policy.EffectiveLifetime(msg.Lifetime)
	if err != nil {
		respondErr(err)
		return
	}

	floored := service.FloorToResolution(msg.Value, res)
	now := time.Now()

	metric := domain.MetricActivePower
	if msg.Kind == gridlink.PowerReactive {
		metric = domain.MetricReactivePower
	}
	inBounds, constrained := state.bounds.Validate(metric, floored, now)
	if constrained && !inBounds {
		respondErr(domain.PreconditionFailed("bounds_check",
			fmt.Sprintf("setpoint %g outside active %s bounds", floored, metric)))
		return
	}

	if err := state.driver.SetPower(state.comp.ID, msg.Kind, floored); err != nil {
		respondErr(domain.DriverFailure("set_power", err))
		return
	}

	validUntil := now.Add(lifetime)
	slot := state.power[msg.Kind]
	if slot == nil {
		slot = &powerSlot{}
		state.power[msg.Kind] = slot
	}
	if slot.cancel != nil {
		slot.cancel()
	}
	slot.seq++
	slot.cmd = domain.PowerCommand{Kind: msg.Kind, Watts: floored, ExpiresAt: validUntil}
	slot.cancel = state.scheduler.RequestOnce(lifetime, ctx.Self(), powerExpireTick{Kind: msg.Kind, Seq: slot.seq})

	if msg.Kind == gridlink.PowerReactive {
		state.comp.Hardware.ReactivePowerVAr = floored
	} else {
		state.comp.Hardware.ActivePowerWatt = floored
	}

	state.logger.Info("component@ready setpoint installed", zap.String("kind", msg.Kind.String()),
		zap.Float64("value", floored), zap.Duration("lifetime", lifetime))
	state.eventStream.Publish(events.NewPowerCommandEvent(state.comp.ID, msg.Kind, floored, validUntil))

	ForRequest(msg).Respond(ctx, domain.SetPowerResponse{
		InstalledValue: floored,
		ValidUntil:     validUntil,
	})
}

// handlePowerExpire reverts an expired setpoint to zero. A tick whose
// seq no longer matches the slot belongs to a refreshed command and is
// dropped.
func (state *ComponentActor) handlePowerExpire(ctx actor.Context, tick powerExpireTick) {
	slot := state.power[tick.Kind]
	if slot == nil || slot.seq != tick.Seq {
		return
	}
	if err := state.driver.SetPower(state.comp.ID, tick.Kind, 0); err != nil {
		state.logger.Error("component@ready watchdog revert failed, retrying", zap.String("kind", tick.Kind.String()), zap.Error(err))
		slot.cancel = state.scheduler.RequestOnce(WATCHDOG_REVERT_RETRY, ctx.Self(), powerExpireTick{Kind: tick.Kind, Seq: tick.Seq})
		return
	}
	delete(state.power, tick.Kind)
	if tick.Kind == gridlink.PowerReactive {
		state.comp.Hardware.ReactivePowerVAr = 0
	} else {
		state.comp.Hardware.ActivePowerWatt = 0
	}
	state.logger.Warn("component@ready setpoint expired, reverted to zero", zap.String("kind", tick.Kind.String()))
	state.eventStream.Publish(events.NewPowerRevertedEvent(state.comp.ID, tick.Kind))
}

func (state *ComponentActor) handleAddBounds(ctx actor.Context, msg domain.AddBoundsRequest) {
	respondErr := func(err error) {
		ForRequest(msg).Respond(ctx, domain.AddBoundsResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	}

	validity, err := service.NormalizeValidity(msg.Validity)
	if err != nil {
		respondErr(err)
		return
	}
	now := time.Now()
	validUntil, err := state.bounds.Add(msg.Metric, msg.Intervals, now, now.Add(validity))
	if err != nil {
		respondErr(err)
		return
	}

	merged := state.bounds.Active(msg.Metric, now)
	pairs := make([][2]float64, len(merged))
	for i, in := range merged {
		pairs[i] = [2]float64{in.Lower, in.Upper}
	}
	state.eventStream.Publish(events.NewBoundsUpdatedEvent(state.comp.ID, string(msg.Metric), pairs, validUntil))

	ForRequest(msg).Respond(ctx, domain.AddBoundsResponse{
		ValidUntil: validUntil,
	})
}

func (state *ComponentActor) handleSample(ctx actor.Context, msg domain.MeasurementSample) {
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}
	state.comp.LastSampleAt = at

	inBounds, constrained := state.bounds.Validate(msg.Metric, msg.Value, at)
	if constrained && !inBounds {
		state.logger.Warn("component@ready sample out of bounds", zap.String("metric", string(msg.Metric)),
			zap.Float64("value", msg.Value))
		state.eventStream.Publish(events.NewSampleOutOfRangeEvent(state.comp.ID, string(msg.Metric), msg.Value, at))
	}
	if ctx.Sender() != nil || msg.ReplyTo() != nil {
		ForRequest(msg).Respond(ctx, domain.MeasurementResult{InBounds: inBounds})
	}
}

// handleHardwareReport folds an asynchronous hardware push into the
// component view. An error report always wins; an existing error state
// is only left through ack.
func (state *ComponentActor) handleHardwareReport(msg domain.HardwareReport) {
	state.comp.Hardware = msg.Hardware
	switch {
	case msg.Error != gridlink.ErrorNone:
		state.setLifecycle(domain.StateError)
	case state.comp.Lifecycle == domain.StateError:
		// stays until acknowledged
	default:
		state.setLifecycle(domain.InferLifecycle(state.comp.Features, msg.Hardware, msg.Error, state.comp.Lifecycle))
	}
}

func (state *ComponentActor) setLifecycle(next domain.LifecycleState) {
	prev := state.comp.Lifecycle
	if prev == next {
		return
	}
	state.comp.Lifecycle = next
	state.logger.Info("component lifecycle changed", zap.String("from", prev.String()), zap.String("to", next.String()))
	state.eventStream.Publish(events.NewLifecycleChangedEvent(state.comp.ID, prev.String(), next.String(), time.Now()))
}

func (state *ComponentActor) cancelAllWatchdogs() {
	for kind, slot := range state.power {
		if slot.cancel != nil {
			slot.cancel()
		}
		delete(state.power, kind)
	}
}
