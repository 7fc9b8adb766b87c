package actor

import (
	"fmt"
	"time"

	adactor "github.com/lrp/dvi2mqtt/internal/adapter/actor"
	"github.com/lrp/dvi2mqtt/internal/config"
	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/events"
	"github.com/lrp/dvi2mqtt/internal/core/port"
	"github.com/lrp/dvi2mqtt/internal/core/service"
	. "github.com/lrp/dvi2mqtt/internal/util/actorutil"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type DeviceActorProvider func() *adactor.DeviceActor

// BridgeActor is the single loop between the heatpump and the broker. It owns
// the device and mqtt actors, the poll schedule and the published state.
type BridgeActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck  healthCheckResult
	eventStream         *eventstream.EventStream
	deviceActor         *actor.PID
	mqttActor           *actor.PID
	deviceActorProvider DeviceActorProvider
	mqttActorProvider   MQTTActorProvider
	validator           port.CommandValidator
	descriptor          domain.DiscoveryDescriptor
	tracker             *service.StateTracker
	lastPublished       domain.Reading
	stateMachine        *service.BridgeStateMachine
	poller              *Poller
	requestTimeout      time.Duration
	shutdownReplyTo     *actor.PID
	logger              *zap.Logger
}

type healthCheckResult struct {
	deviceActorHealthy bool
	mqttActorHealthy   bool
	checksReceived     int
	respondTo          *actor.PID
}

type mqttFlushed struct {
}

func NewBridgeActor(config *config.Config, validator port.CommandValidator, descriptor domain.DiscoveryDescriptor, eventStream *eventstream.EventStream,
	deviceActorProvider DeviceActorProvider, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *BridgeActor {
	if eventStream == nil {
		eventStream = &eventstream.EventStream{}
	}
	// a poll may queue behind every other group and a command
	requestTimeout := 30 * config.Serial.Timeout()
	if requestTimeout < 5*time.Second {
		requestTimeout = 5 * time.Second
	}
	act := &BridgeActor{
		config:              config,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_BRIDGE, logger),
		eventStream:         eventStream,
		deviceActorProvider: deviceActorProvider,
		mqttActorProvider:   mqttActorProvider,
		validator:           validator,
		descriptor:          descriptor,
		tracker:             service.NewStateTracker(),
		lastPublished:       domain.NewReading(),
		stateMachine:        service.NewBridgeStateMachine(),
		requestTimeout:      requestTimeout,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *BridgeActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *BridgeActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("bridge@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start MQTT child first so discovery is pending before any state
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{Descriptor: state.descriptor})
		ctx.Send(state.mqttActor, domain.PublishStatusRequest{Status: state.stateMachine.Status()})

		// start device child
		deviceActorPID, err := state.startDeviceActor(ctx)
		if err != nil {
			panic(err)
		}
		state.deviceActor = deviceActorPID

		self := ctx.Self()
		system := ctx.ActorSystem()
		poller, err := StartPoller(PollIntervals(state.config.Poll), func(tick pollTick) {
			system.Root.Send(self, tick)
		}, state.logger)
		if err != nil {
			panic(err)
		}
		state.poller = poller

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("bridge@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BridgeActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.LinkStateChanged:
		state.onLinkStateChanged(ctx, msg)
	case pollTick:
		status := state.stateMachine.Status()
		if status.Serial != domain.LinkConnected {
			state.logger.Debug("bridge@default skip poll, serial link down", zap.String("group", string(msg.Group)))
			return
		}
		state.logger.Debug("bridge@default poll", zap.String("group", string(msg.Group)))
		group := msg.Group
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.deviceActor, domain.PollRequest{Group: group}, state.requestTimeout), func(err error) any {
			return domain.PollResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
				Group:              group,
			}
		})
	case domain.PollResponse:
		state.onPollResponse(ctx, msg)
	case domain.CommandReceived:
		state.onCommand(ctx, msg.Command)
	case domain.WriteCommandResponse:
		if msg.HasResponseError() {
			state.logger.Error("bridge@default command failed", zap.Stringer("command", msg.Command), zap.Error(msg.GetResponseError()))
			state.eventStream.Publish(domain.CommandResultEvent{Command: msg.Command, Result: domain.COMMAND_RESULT_FAILED, Error: msg.GetResponseError()})
		} else {
			state.logger.Info("bridge@default command applied", zap.Stringer("command", msg.Command), zap.Float64("applied", msg.Applied))
			state.eventStream.Publish(domain.CommandResultEvent{Command: msg.Command, Result: domain.COMMAND_RESULT_APPLIED})
		}
		// queued behind the write on the device actor
		ctx.Send(ctx.Self(), pollTick{Group: dvi_modbus.GroupSettings})
	case domain.GetReadingRequest:
		reading, ok := state.tracker.Current()
		ctx.Respond(domain.GetReadingResponse{Reading: reading, Valid: ok})
	case domain.GetStatusRequest:
		ctx.Respond(domain.GetStatusResponse{Status: state.stateMachine.Status()})
	case domain.ActorHealthRequest:
		state.logger.Debug("bridge@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// Device Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.deviceActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_DEVICE,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.ShutdownRequest:
		state.logger.Info("bridge@default shutdown")
		state.shutdownReplyTo = ForRequest(msg).ReplyTo(ctx)
		state.poller.Stop()
		state.poller = nil
		status, _ := state.stateMachine.Stop()
		state.publishStatus(ctx, status)
		// answered once the mqtt actor went through its mailbox
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return mqttFlushed{}
		})
		state.behavior.Become(state.StoppingReceive)
	case *actor.Stopping:
		state.poller.Stop()
		state.poller = nil
	case *actor.Stopped:
		state.logger.Info("bridge@default stopped", zap.Stringer("state", state.stateMachine.Stopped().State))
	case *actor.Terminated:
		state.logger.Warn("bridge@default child terminated", zap.String("who", msg.Who.Id))
	default:
		state.logger.Debug("bridge@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *BridgeActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.respondHealth(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("bridge@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			if msg.Id == domain.ACTOR_ID_DEVICE {
				state.currentHealthCheck.deviceActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_MQTT {
				state.currentHealthCheck.mqttActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			state.respondHealth(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	case *actor.Stopping:
		state.poller.Stop()
		state.poller = nil
	default:
		state.logger.Debug("bridge@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BridgeActor) StoppingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case mqttFlushed, domain.ActorHealthResponse:
		if state.shutdownReplyTo != nil {
			ctx.Send(state.shutdownReplyTo, domain.ShutdownResponse{Status: state.stateMachine.Status()})
			state.shutdownReplyTo = nil
		}
	case domain.GetStatusRequest:
		ctx.Respond(domain.GetStatusResponse{Status: state.stateMachine.Status()})
	case domain.GetReadingRequest:
		reading, ok := state.tracker.Current()
		ctx.Respond(domain.GetReadingResponse{Reading: reading, Valid: ok})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_BRIDGE, Healthy: false, State: "stopping"})
	case *actor.Stopped:
		state.logger.Info("bridge@stopping stopped", zap.Stringer("state", state.stateMachine.Stopped().State))
	default:
		state.logger.Debug("bridge@stopping dropped", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *BridgeActor) onLinkStateChanged(ctx actor.Context, msg domain.LinkStateChanged) {
	prev := state.stateMachine.Status()
	status, changed := state.stateMachine.SetLink(msg.Link, msg.State)
	if !changed {
		return
	}
	if msg.Error != nil {
		state.logger.Warn("bridge@default link changed", zap.String("link", string(msg.Link)), zap.Stringer("state", msg.State), zap.Error(msg.Error))
	} else {
		state.logger.Info("bridge@default link changed", zap.String("link", string(msg.Link)), zap.Stringer("state", msg.State))
	}
	if status.State != prev.State {
		state.logger.Info("bridge@default state changed", zap.Stringer("from", prev.State), zap.Stringer("to", status.State))
	}
	state.publishStatus(ctx, status)

	if status.State == domain.BridgeRunning && prev.State != domain.BridgeRunning {
		for _, group := range dvi_modbus.Groups {
			ctx.Send(ctx.Self(), pollTick{Group: group})
		}
	}
}

func (state *BridgeActor) onPollResponse(ctx actor.Context, msg domain.PollResponse) {
	if msg.HasResponseError() {
		// link failures reach us as LinkStateChanged from the device actor
		state.logger.Warn("bridge@default poll failed", zap.String("group", string(msg.Group)), zap.Error(msg.GetResponseError()))
	}
	if msg.Sample == nil {
		return
	}
	if msg.Sample.Malformed > 0 || msg.Sample.Timeouts > 0 {
		state.logger.Debug("bridge@default poll incomplete", zap.String("group", string(msg.Group)),
			zap.Int("malformed", msg.Sample.Malformed), zap.Int("timeouts", msg.Sample.Timeouts))
	}
	reading, changed := state.tracker.Merge(msg.Sample, time.Now())
	if !changed {
		return
	}
	state.logger.Debug("bridge@default publish state", zap.Strings("changed", events.ChangedFields(state.lastPublished, reading)))
	state.lastPublished = reading
	ctx.Send(state.mqttActor, domain.PublishStateRequest{Reading: reading})
	state.eventStream.Publish(domain.ReadingPublishedEvent{Reading: reading})
}

func (state *BridgeActor) onCommand(ctx actor.Context, cmd domain.Command) {
	state.logger.Debug("bridge@default command", zap.Stringer("command", cmd))
	if _, err := state.validator.Validate(cmd); err != nil {
		state.logger.Warn("bridge@default command rejected", zap.Stringer("command", cmd), zap.Error(err))
		state.eventStream.Publish(domain.CommandResultEvent{Command: cmd, Result: domain.COMMAND_RESULT_REJECTED, Error: err})
		return
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.deviceActor, domain.WriteCommandRequest{Command: cmd}, state.requestTimeout), func(err error) any {
		return domain.WriteCommandResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			Command:            cmd,
		}
	})
}

func (state *BridgeActor) publishStatus(ctx actor.Context, status domain.BridgeStatus) {
	ctx.Send(state.mqttActor, domain.PublishStatusRequest{Status: status})
	state.eventStream.Publish(domain.BridgeStatusChangedEvent{Status: status})
}

func (state *BridgeActor) respondHealth(ctx actor.Context) {
	ctx.SetReceiveTimeout(0)
	state.currentHealthCheck.respond(ctx, state.stateMachine.Status())
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *BridgeActor) startDeviceActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	deviceProps := actor.PropsFromProducer(func() actor.Actor {
		return state.deviceActorProvider()
	}, actor.WithSupervisor(supervisor))
	deviceActorPID, err := ctx.SpawnNamed(deviceProps, domain.ACTOR_ID_DEVICE)
	if err != nil {
		return nil, err
	}

	return deviceActorPID, nil
}

func (state *BridgeActor) decideChildFailure(reason interface{}) actor.Directive {
	state.logger.Warn("bridge: restarting failed child", zap.Any("reason", reason))
	return actor.RestartDirective
}

func (state *BridgeActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, state.decideChildFailure)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.deviceActorHealthy = false
	state.mqttActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 2
}

func (state *healthCheckResult) allHealthy() bool {
	return state.deviceActorHealthy && state.mqttActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context, status domain.BridgeStatus) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_BRIDGE,
		Healthy: state.allHealthy() && status.State == domain.BridgeRunning,
		State:   status.State.String(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
