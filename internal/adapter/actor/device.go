package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/service"
	"github.com/lrp/dvi2mqtt/internal/util/actorutil"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

var ErrDeviceNotConnected = fmt.Errorf("%w: device not connected", dvi_modbus.ErrConnection)

// DeviceActor owns the heatpump connection. Requests are served one at a
// time; while a serial transaction runs every other request is stashed.
type DeviceActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	scheduler   *scheduler.TimerScheduler
	device      dvi_modbus.Device
	backoff     *service.Backoff
	taskTimeout time.Duration
	cancel      context.CancelFunc
	logger      *zap.Logger
}

type openResult struct {
	Error error
}

type reconnectTick struct {
}

type deviceTaskResult struct {
	message any
	replyTo *actor.PID
	err     error
}

func NewDeviceActor(device dvi_modbus.Device, backoff *service.Backoff, taskTimeout time.Duration, logger *zap.Logger) *DeviceActor {
	act := &DeviceActor{
		device:      device,
		backoff:     backoff,
		taskTimeout: taskTimeout,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_DEVICE, logger),
	}
	act.behavior.Become(act.ConnectingReceive)
	return act
}

func (state *DeviceActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DeviceActor) ConnectingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("device@connecting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.open(ctx)
	case reconnectTick:
		state.logger.Debug("device@connecting reconnect", zap.Int("attempt", state.backoff.Attempts()))
		state.open(ctx)
	case openResult:
		if msg.Error != nil {
			state.logger.Warn("device@connecting open failed", zap.Error(msg.Error))
			state.notifyLink(ctx, domain.LinkDisconnected, msg.Error)
			state.scheduleReconnect(ctx, msg.Error)
			return
		}
		state.logger.Info("device@connecting connected")
		state.backoff.Reset()
		state.notifyLink(ctx, domain.LinkConnected, nil)
		state.behavior.Become(state.DefaultReceive)
	case domain.PollRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PollResponse{
			ActorResponseMixIn: domain.ErrorResponse(ErrDeviceNotConnected),
			Group:              msg.Group,
		})
	case domain.WriteCommandRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.WriteCommandResponse{
			ActorResponseMixIn: domain.ErrorResponse(ErrDeviceNotConnected),
			Command:            msg.Command,
		})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DEVICE,
			Healthy: false,
			State:   "connecting",
		})
	case *actor.Restarting, *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("device@connecting ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DeviceActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("device@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DEVICE,
			Healthy: true,
			State:   "idle",
		})
	case domain.PollRequest:
		state.logger.Debug("device@default PollRequest", zap.String("group", string(msg.Group)))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		group := msg.Group
		state.runTask(ctx, sender, func(taskCtx context.Context) (any, error) {
			sample, err := state.device.Poll(taskCtx, group)
			return domain.PollResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
				Group:              group,
				Sample:             sample,
			}, err
		}, func(err error) any {
			return domain.PollResponse{ActorResponseMixIn: domain.ErrorResponse(err), Group: group}
		})
	case domain.WriteCommandRequest:
		state.logger.Debug("device@default WriteCommandRequest", zap.Stringer("command", msg.Command))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		cmd := msg.Command
		state.runTask(ctx, sender, func(taskCtx context.Context) (any, error) {
			resp := domain.WriteCommandResponse{Command: cmd}
			result, err := state.device.Write(taskCtx, cmd.Field, cmd.Value)
			if err != nil {
				resp.ResponseError = err
			} else {
				resp.Applied = result.Value
			}
			return resp, err
		}, func(err error) any {
			return domain.WriteCommandResponse{ActorResponseMixIn: domain.ErrorResponse(err), Command: cmd}
		})
	case *actor.Restarting, *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("device@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DeviceActor) WaitingDevice(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case deviceTaskResult:
		state.logger.Debug("device@waiting result", zap.String("type", fmt.Sprintf("%T", msg.message)), zap.Int("stashed", state.stash.Len()))
		state.cancel = nil
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		if linkDown(msg.err) {
			state.logger.Warn("device@waiting link lost", zap.Error(msg.err))
			state.device.Close()
			state.notifyLink(ctx, domain.LinkDisconnected, msg.err)
			state.behavior.Become(state.ConnectingReceive)
			state.scheduleReconnect(ctx, msg.err)
		}
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DEVICE,
			Healthy: true,
			State:   "busy",
		})
	case *actor.Restarting, *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("device@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// runTask runs fn in the background with its own deadline and pipes the
// result back to the actor. onError builds the reply when the task itself
// fails (panic or timeout).
func (state *DeviceActor) runTask(ctx actor.Context, replyTo *actor.PID, fn func(context.Context) (any, error), onError func(error) any) {
	taskCtx, cancel := context.WithTimeout(context.Background(), state.taskTimeout)
	state.cancel = cancel
	actorutil.NewBackgroundTask(ctx, func() (*deviceTaskResult, error) {
		defer cancel()
		message, err := fn(taskCtx)
		return &deviceTaskResult{message: message, replyTo: replyTo, err: err}, nil
	}).Recover(func(err error) deviceTaskResult {
		cancel()
		return deviceTaskResult{
			message: onError(err),
			replyTo: replyTo,
			err:     fmt.Errorf("%w: %w", dvi_modbus.ErrConnection, err),
		}
	}).WithTimeout(state.taskTimeout + time.Second).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingDevice)
}

func (state *DeviceActor) open(ctx actor.Context) {
	state.notifyLink(ctx, domain.LinkConnecting, nil)
	device := state.device
	actorutil.NewBackgroundTaskNoError(ctx, func() *openResult {
		return &openResult{Error: device.Open()}
	}).Recover(func(err error) openResult {
		return openResult{Error: err}
	}).WithTimeout(state.taskTimeout).PipeTo(ctx.Self())
}

func (state *DeviceActor) scheduleReconnect(ctx actor.Context, cause error) {
	delay, ok := state.backoff.Next()
	if !ok {
		// let the supervisor decide
		state.logger.Error("device@connecting reconnect attempts exhausted", zap.Error(cause))
		panic(cause)
	}
	state.logger.Info("device@connecting reconnect scheduled", zap.Duration("delay", delay))
	state.scheduler.RequestOnce(delay, ctx.Self(), reconnectTick{})
}

func (state *DeviceActor) notifyLink(ctx actor.Context, linkState domain.LinkState, err error) {
	if ctx.Parent() == nil {
		return
	}
	ctx.Send(ctx.Parent(), domain.LinkStateChanged{
		Link:  domain.LINK_SERIAL,
		State: linkState,
		Error: err,
	})
}

func (state *DeviceActor) close() {
	state.logger.Debug("device: close")
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	state.device.Close()
}

func linkDown(err error) bool {
	return dvi_modbus.IsLinkFailure(err) || errors.Is(err, context.DeadlineExceeded)
}
