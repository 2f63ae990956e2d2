package actor

import (
	"context"
	"fmt"
	"sort"
	"time"

	adactor "gridwarden/internal/adapter/actor"
	"gridwarden/internal/config"
	"gridwarden/internal/core/domain"
	"gridwarden/internal/core/events"
	"gridwarden/internal/core/service"
	. "gridwarden/internal/util/actorutil"
	"gridwarden/pkg/gridlink"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const (
	DISCOVERY_RETRY_INTERVAL     = 10 * time.Second
	DEFAULT_BOUNDS_SWEEP_PERIOD  = 5 * time.Second
	CHILD_HEALTHCHECK_TIMEOUT    = 500 * time.Millisecond
	HEALTHCHECK_RECEIVE_DEADLINE = 1 * time.Second
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// GridActor is the control session master. It discovers the fleet,
// spawns one ComponentActor per component and routes every request to
// the owning child.
type GridActor struct {
	config    config.Config
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	sessionId   string
	driver      gridlink.Driver
	policy      service.SetpointPolicy
	eventStream *eventstream.EventStream
	sweeper     quartz.Scheduler

	infos             map[uint32]gridlink.ComponentInfo
	children          map[uint32]*actor.PID
	mqttActor         *actor.PID
	mqttActorProvider MQTTActorProvider

	currentHealthCheck gridHealthCheck

	logger *zap.Logger
}

type gridHealthCheck struct {
	expected  int
	received  int
	unhealthy int
	respondTo *actor.PID
}

type discoveryResult struct {
	domain.ActorResponseMixIn
	infos []gridlink.ComponentInfo
}

type discoveryRetryTick struct{}

type gridSweepTick struct{}

func NewGridActor(config config.Config, driver gridlink.Driver, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *GridActor {
	act := &GridActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		sessionId:         uuid.NewString(),
		driver:            driver,
		policy:            setpointPolicyFromConfig(config),
		eventStream:       &eventstream.EventStream{},
		infos:             map[uint32]gridlink.ComponentInfo{},
		children:          map[uint32]*actor.PID{},
		mqttActorProvider: mqttActorProvider,
		logger:            ActorLogger(domain.ACTOR_ID_GRID, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func setpointPolicyFromConfig(cfg config.Config) service.SetpointPolicy {
	policy := service.DefaultSetpointPolicy()
	if cfg.Control.DefaultPowerLifetimeSeconds > 0 {
		policy.DefaultLifetime = time.Duration(cfg.Control.DefaultPowerLifetimeSeconds) * time.Second
	}
	return policy
}

func (state *GridActor) SessionId() string {
	return state.sessionId
}

func (state *GridActor) EventStream() *eventstream.EventStream {
	return state.eventStream
}

func (state *GridActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *GridActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("grid@starting started", zap.String("session", state.sessionId))
		state.scheduler = scheduler.NewTimerScheduler(ctx)

		if state.mqttActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID
		}

		state.runDiscovery(ctx)
	case discoveryResult:
		if msg.HasResponseError() {
			state.logger.Error("grid@starting discovery failed", zap.Error(msg.GetResponseError()))
			state.scheduler.RequestOnce(DISCOVERY_RETRY_INTERVAL, ctx.Self(), discoveryRetryTick{})
		} else {
			state.adoptFleet(ctx, msg.infos)
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.driver.Close()
	default:
		state.logger.Debug("grid@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GridActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.AddBoundsRequest:
		state.route(ctx, msg.ComponentId, msg, func(err error) domain.ActorResponse {
			return domain.AddBoundsResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
		})
	case domain.SetPowerRequest:
		state.route(ctx, msg.ComponentId, msg, func(err error) domain.ActorResponse {
			return domain.SetPowerResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
		})
	case domain.StartComponentRequest:
		state.routeTransition(ctx, msg.ComponentId, msg)
	case domain.PutInStandbyRequest:
		state.routeTransition(ctx, msg.ComponentId, msg)
	case domain.StopComponentRequest:
		state.routeTransition(ctx, msg.ComponentId, msg)
	case domain.AckErrorRequest:
		state.routeTransition(ctx, msg.ComponentId, msg)
	case domain.GetComponentStateRequest:
		state.route(ctx, msg.ComponentId, msg, func(err error) domain.ActorResponse {
			return domain.GetComponentStateResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
		})
	case domain.MeasurementSample:
		state.route(ctx, msg.ComponentId, msg, func(err error) domain.ActorResponse {
			return domain.MeasurementResult{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
		})
	case domain.HardwareReport:
		if child, ok := state.children[msg.ComponentId]; ok {
			ctx.Send(child, msg)
		}
	case domain.ListComponentsRequest:
		infos := make([]gridlink.ComponentInfo, 0, len(state.infos))
		for _, info := range state.infos {
			infos = append(infos, info)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
		ForRequest(msg).Respond(ctx, domain.ListComponentsResponse{Components: infos})
	case domain.ActorHealthRequest:
		state.logger.Debug("grid@default ActorHealthRequest")
		state.startHealthCheck(ctx, msg)
	case gridSweepTick:
		for _, child := range state.children {
			ctx.Send(child, boundsSweepTick{})
		}
	case discoveryRetryTick:
		if len(state.children) == 0 {
			state.logger.Info("grid@default retrying discovery")
			state.runDiscovery(ctx)
		}
	case discoveryResult:
		if msg.HasResponseError() {
			state.logger.Error("grid@default discovery failed", zap.Error(msg.GetResponseError()))
			state.scheduler.RequestOnce(DISCOVERY_RETRY_INTERVAL, ctx.Self(), discoveryRetryTick{})
		} else if len(state.children) == 0 {
			state.adoptFleet(ctx, msg.infos)
		}
	case *actor.Stopping:
		state.logger.Info("grid@default stopping session", zap.String("session", state.sessionId))
		if state.sweeper != nil {
			state.sweeper.Stop()
		}
		state.eventStream.Publish(events.SessionStateEvent{SessionId: state.sessionId, Online: false})
		state.driver.Close()
	default:
		state.logger.Debug("grid@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *GridActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// children that did not respond count as unhealthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.unhealthy += state.currentHealthCheck.expected - state.currentHealthCheck.received
		state.respondHealthCheck(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("grid@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.received++
		if !msg.Healthy {
			state.currentHealthCheck.unhealthy++
		}
		if state.currentHealthCheck.received >= state.currentHealthCheck.expected {
			ctx.SetReceiveTimeout(0)
			state.respondHealthCheck(ctx)
		} else {
			ctx.SetReceiveTimeout(HEALTHCHECK_RECEIVE_DEADLINE)
		}
	default:
		state.logger.Debug("grid@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *GridActor) startHealthCheck(ctx actor.Context, msg domain.ActorHealthRequest) {
	targets := make([]*actor.PID, 0, len(state.children)+1)
	for _, child := range state.children {
		targets = append(targets, child)
	}
	if state.mqttActor != nil {
		targets = append(targets, state.mqttActor)
	}
	if len(targets) == 0 {
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_GRID,
			Healthy: false,
			State:   "no components",
		})
		return
	}

	state.currentHealthCheck = gridHealthCheck{
		expected:  len(targets),
		respondTo: ForRequest(msg).ReplyTo(ctx),
	}
	for _, pid := range targets {
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, CHILD_HEALTHCHECK_TIMEOUT), func(err error) any {
			return domain.ActorHealthResponse{Healthy: false}
		})
	}
	ctx.SetReceiveTimeout(HEALTHCHECK_RECEIVE_DEADLINE)
	state.behavior.BecomeStacked(state.HealthCheckReceive)
}

func (state *GridActor) respondHealthCheck(ctx actor.Context) {
	if state.currentHealthCheck.respondTo != nil {
		ctx.Send(state.currentHealthCheck.respondTo, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_GRID,
			Healthy: state.currentHealthCheck.unhealthy == 0,
			State:   fmt.Sprintf("%d components", len(state.children)),
		})
	}
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

// route hands a component-scoped request to the owning child, keeping
// the original requester as sender so the child responds directly.
func (state *GridActor) route(ctx actor.Context, id uint32, msg domain.ActorRequest, errResp func(error) domain.ActorResponse) {
	if len(state.children) == 0 {
		ForRequest(msg).Respond(ctx, errResp(domain.Unavailable("fleet not discovered, driver unreachable")))
		return
	}
	child, ok := state.children[id]
	if !ok {
		ForRequest(msg).Respond(ctx, errResp(domain.NotFound(fmt.Sprintf("unknown component id %d", id))))
		return
	}
	ctx.RequestWithCustomSender(child, msg, ForRequest(msg).ReplyTo(ctx))
}

func (state *GridActor) routeTransition(ctx actor.Context, id uint32, msg domain.ActorRequest) {
	state.route(ctx, id, msg, func(err error) domain.ActorResponse {
		return domain.TransitionResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
	})
}

// runDiscovery opens the driver and lists the fleet, piping the result
// back to self. The calls run inline under a hard timeout, so a dead
// gateway stalls the mailbox at most once per retry.
func (state *GridActor) runDiscovery(ctx actor.Context) {
	driver := state.driver
	NewBackgroundTask(ctx, func() (*discoveryResult, error) {
		if err := driver.Open(); err != nil {
			return nil, err
		}
		infos, err := driver.ListComponents()
		if err != nil {
			return nil, err
		}
		return &discoveryResult{infos: infos}, nil
	}).WithTimeout(15 * time.Second).Recover(func(err error) discoveryResult {
		return discoveryResult{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	}).PipeTo(ctx.Self())
}

func (state *GridActor) adoptFleet(ctx actor.Context, infos []gridlink.ComponentInfo) {
	for _, info := range infos {
		pid, err := state.startComponentActor(ctx, info)
		if err != nil {
			panic(err)
		}
		state.infos[info.ID] = info
		state.children[info.ID] = pid
	}
	state.logger.Info("grid@starting fleet discovered", zap.Int("components", len(infos)))

	if err := state.startBoundsSweeper(ctx); err != nil {
		panic(err)
	}

	state.eventStream.Publish(events.SessionStateEvent{
		SessionId: state.sessionId,
		Online:    true,
		Version:   versioninfo.Short(),
	})
}

func (state *GridActor) startComponentActor(ctx actor.Context, info gridlink.ComponentInfo) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewComponentActor(info, state.driver, state.policy, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	pid, err := ctx.SpawnNamed(props, ComponentActorId(info.ID))
	if err != nil {
		return nil, err
	}

	return pid, nil
}

func (state *GridActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

// startBoundsSweeper schedules the periodic expired-bounds sweep. The
// job only sends a tick into the mailbox, the actual sweep runs inside
// each component actor.
func (state *GridActor) startBoundsSweeper(ctx actor.Context) error {
	period := DEFAULT_BOUNDS_SWEEP_PERIOD
	if state.config.Control.BoundsSweepIntervalSeconds > 0 {
		period = time.Duration(state.config.Control.BoundsSweepIntervalSeconds) * time.Second
	}

	sched := quartz.NewStdScheduler()
	sched.Start(context.Background())

	root := ctx.ActorSystem().Root
	self := ctx.Self()
	sweepJob := job.NewFunctionJob(func(_ context.Context) (bool, error) {
		root.Send(self, gridSweepTick{})
		return true, nil
	})
	detail := quartz.NewJobDetail(sweepJob, quartz.NewJobKey("bounds_sweep"))
	if err := sched.ScheduleJob(detail, quartz.NewSimpleTrigger(period)); err != nil {
		sched.Stop()
		return err
	}
	state.sweeper = sched
	return nil
}
