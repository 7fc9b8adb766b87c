package actor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lrp/dvi2mqtt/internal/config"
	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/events"
	"github.com/lrp/dvi2mqtt/internal/core/service"
	"github.com/lrp/dvi2mqtt/internal/mqtt"
	"github.com/lrp/dvi2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrMQTTNotConnected = errors.New("mqtt: not connected")

// MQTTClientProvider builds the client used by the actor. onConnectionLost is
// called from paho goroutines.
type MQTTClientProvider func(cfg *config.Config, onConnectionLost func(error)) *mqtt.MQTTClient

func DefaultMQTTClientProvider(cfg *config.Config, onConnectionLost func(error)) *mqtt.MQTTClient {
	return mqtt.CreateMQTTClient(cfg, mqtt.OptsFromConfig(cfg), nil, func(_ pahomqtt.Client, err error) {
		onConnectionLost(err)
	})
}

type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	scheduler      *scheduler.TimerScheduler
	clientProvider MQTTClientProvider
	client         *mqtt.MQTTClient
	backoff        *service.Backoff
	eventStream    *eventstream.EventStream
	logger         *zap.Logger

	descriptor     *domain.DiscoveryDescriptor
	status         *domain.BridgeStatus
	reading        *domain.Reading
	awaitingStatus bool

	// test actor only
	published chan<- any
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type mqttReconnectTick struct {
}

type publishResult struct {
	Kind  string
	Topic string
	Error error
}

type commandMessage struct {
	message pahomqtt.Message
}

func NewMQTTActor(config *config.Config, clientProvider MQTTClientProvider, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	reconnect := config.MQTT.Reconnect
	act := &MQTTActor{
		config:         config,
		behavior:       actor.NewBehavior(),
		clientProvider: clientProvider,
		backoff:        service.NewBackoff(reconnect.Initial(), reconnect.Max(), reconnect.Multiplier, reconnect.MaxAttempts),
		eventStream:    eventStream,
		logger:         actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DisconnectedReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) DisconnectedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@disconnected started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		self := ctx.Self()
		system := ctx.ActorSystem()
		state.client = state.clientProvider(state.config, func(err error) {
			system.Root.Send(self, MQTTConnectionLost{Error: err})
		})
		state.connect(ctx)
	case mqttReconnectTick:
		state.logger.Debug("mqtt@disconnected reconnect", zap.Int("attempt", state.backoff.Attempts()))
		state.connect(ctx)
	case MQTTConnected:
		state.logger.Info("mqtt@disconnected connected")
		state.backoff.Reset()
		// subscribe to MQTT command topic
		self := ctx.Self()
		system := ctx.ActorSystem()
		state.client.SubscribeToCommandTopic(func(_ pahomqtt.Client, m pahomqtt.Message) {
			system.Root.Send(self, commandMessage{message: m})
		}, func(err error) {
			if err != nil {
				system.Root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				system.Root.Send(self, MQTTSubscribed{})
			}
		}, 5*time.Second)
	case MQTTSubscribed:
		state.logger.Debug("mqtt@disconnected subscribed")
		state.announce(ctx)
		state.behavior.Become(state.ConnectedReceive)
		state.notifyLink(ctx, domain.LinkConnected, nil)
	case MQTTConnectionLost:
		state.logger.Warn("mqtt@disconnected connection failed", zap.Error(msg.Error))
		if state.client.IsConnected() {
			// subscription failed on an open connection
			state.client.Disconnect(0)
		}
		state.notifyLink(ctx, domain.LinkDisconnected, msg.Error)
		state.scheduleReconnect(ctx, msg.Error)
	case domain.PublishStateRequest:
		state.reading = &msg.Reading
	case domain.PublishStatusRequest:
		state.status = &msg.Status
	case domain.PublishDiscoveryRequest:
		state.descriptor = &msg.Descriptor
	case domain.PublishMessageRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{
			ActorResponseMixIn: domain.ErrorResponse(ErrMQTTNotConnected),
		})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
			State:   "disconnected",
		})
	case commandMessage, publishResult:
	case *actor.Restarting, *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@disconnected ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) ConnectedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting, *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@connected ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case commandMessage:
		cmd, err := state.client.ParseMQTTCommand(msg.message)
		if err != nil {
			state.logger.Warn("mqtt@connected discarded command", zap.String("topic", msg.message.Topic()), zap.Error(err))
			return
		}
		state.logger.Debug("mqtt@connected command", zap.String("field", cmd.Field), zap.Float64("value", cmd.Value))
		if ctx.Parent() != nil {
			ctx.Send(ctx.Parent(), domain.CommandReceived{Command: actorutil.ParsedMQTTCommandToCommand(*cmd)})
		}
	case domain.PublishStateRequest:
		state.reading = &msg.Reading
		if state.awaitingStatus {
			// flushed after the first status of this connection
			return
		}
		state.publishState(ctx)
	case domain.PublishStatusRequest:
		state.status = &msg.Status
		state.publishStatus(ctx)
		if state.awaitingStatus {
			state.awaitingStatus = false
			state.publishState(ctx)
		}
	case domain.PublishDiscoveryRequest:
		state.descriptor = &msg.Descriptor
		state.publishDiscovery(ctx)
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@connected PublishMessageRequest", zap.String("topic", msg.Topic))
		replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
		self := ctx.Self()
		system := ctx.ActorSystem()
		state.client.Publish(msg.Topic, msg.Payload, 1, msg.Retain, func(err error) {
			if replyTo != nil {
				system.Root.Send(replyTo, domain.PublishMessageResponse{ActorResponseMixIn: domain.ErrorResponse(err)})
			}
			if err != nil {
				system.Root.Send(self, publishResult{Topic: msg.Topic, Error: err})
			}
		}, 5*time.Second)
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@connected could not publish a message", zap.String("topic", msg.Topic), zap.Error(msg.Error))
			return
		}
		if msg.Kind != "" && state.eventStream != nil {
			state.eventStream.Publish(domain.MessagePublishedEvent{Kind: msg.Kind, Topic: msg.Topic})
		}
	case MQTTConnectionLost:
		state.logger.Error("mqtt@connected connection lost", zap.Error(msg.Error))
		state.awaitingStatus = false
		state.behavior.Become(state.DisconnectedReceive)
		state.notifyLink(ctx, domain.LinkDisconnected, msg.Error)
		state.scheduleReconnect(ctx, msg.Error)
	case MQTTConnected, MQTTSubscribed, mqttReconnectTick:
	default:
		state.logger.Debug("mqtt@connected ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) connect(ctx actor.Context) {
	state.notifyLink(ctx, domain.LinkConnecting, nil)
	self := ctx.Self()
	system := ctx.ActorSystem()
	state.client.Connect(func(err error) {
		if err != nil {
			system.Root.Send(self, MQTTConnectionLost{Error: err})
		} else {
			system.Root.Send(self, MQTTConnected{})
		}
	}, 10*time.Second)
}

// announce publishes availability and discovery. State goes out once the
// parent sent the status for this connection.
func (state *MQTTActor) announce(ctx actor.Context) {
	state.publish(ctx, state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, true, "")
	state.publishDiscovery(ctx)
	state.awaitingStatus = true
}

func (state *MQTTActor) publishDiscovery(ctx actor.Context) {
	if state.descriptor == nil {
		return
	}
	for _, entity := range state.descriptor.Entities {
		if err := state.publishJSON(ctx, state.client.DiscoveryTopic(entity.Id), mqtt.EntityToDescriptorEntry(state.client, entity)); err != nil {
			state.logger.Error("mqtt@publish descriptor", zap.String("entity", entity.Id), zap.Error(err))
		}
	}
	if !state.client.HADiscoveryEnabled() {
		return
	}
	entities := append(events.BridgeSensors(state.descriptor.Bridge), state.descriptor.Entities...)
	for _, entity := range entities {
		if err := state.publishJSON(ctx, state.client.HADiscoveryTopic(entity), mqtt.EntityToHADiscoveryMessage(state.client, entity)); err != nil {
			state.logger.Error("mqtt@publish HA discovery", zap.String("entity", entity.Id), zap.Error(err))
		}
	}
}

func (state *MQTTActor) publishStatus(ctx actor.Context) {
	if state.status == nil {
		return
	}
	payload, err := state.status.Payload()
	if err != nil {
		state.logger.Error("mqtt@publish status", zap.Error(err))
		return
	}
	state.publish(ctx, state.client.BridgeStatusTopic(), payload, true, domain.PUBLISH_KIND_STATUS)
}

func (state *MQTTActor) publishState(ctx actor.Context) {
	if state.reading == nil {
		return
	}
	payload, err := state.reading.Payload()
	if err != nil {
		state.logger.Error("mqtt@publish state", zap.Error(err))
		return
	}
	state.logger.Sugar().Debugf("mqtt@publish: state => %s", payload)
	state.publish(ctx, state.client.StateTopic(), payload, false, domain.PUBLISH_KIND_STATE)
}

func (state *MQTTActor) publishJSON(ctx actor.Context, topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	state.publish(ctx, topic, payload, true, domain.PUBLISH_KIND_DISCOVERY)
	return nil
}

func (state *MQTTActor) publish(ctx actor.Context, topic string, payload any, retain bool, kind string) {
	self := ctx.Self()
	system := ctx.ActorSystem()
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		system.Root.Send(self, publishResult{Kind: kind, Topic: topic, Error: err})
	}, 5*time.Second)
}

func (state *MQTTActor) scheduleReconnect(ctx actor.Context, cause error) {
	delay, ok := state.backoff.Next()
	if !ok {
		// let the supervisor decide
		state.logger.Error("mqtt@disconnected reconnect attempts exhausted", zap.Error(cause))
		panic(cause)
	}
	state.logger.Info("mqtt@disconnected reconnect scheduled", zap.Duration("delay", delay))
	state.scheduler.RequestOnce(delay, ctx.Self(), mqttReconnectTick{})
}

func (state *MQTTActor) notifyLink(ctx actor.Context, linkState domain.LinkState, err error) {
	if ctx.Parent() == nil {
		return
	}
	ctx.Send(ctx.Parent(), domain.LinkStateChanged{
		Link:  domain.LINK_MQTT,
		State: linkState,
		Error: err,
	})
}

func (state *MQTTActor) stop() {
	if state.client == nil {
		return
	}
	state.logger.Debug("mqtt: disconnect")
	if state.client.IsConnected() {
		if err := state.client.PublishSync(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 1, true, 500*time.Millisecond); err != nil {
			state.logger.Warn("mqtt: could not publish offline state", zap.Error(err))
		}
	}
	state.client.Disconnect(500 * time.Millisecond)
	state.client = nil
}

// NewTestMQTTActor returns an actor that reports a connected link and hands
// every publish request to published instead of a broker.
func NewTestMQTTActor(config *config.Config, published chan<- any, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:    config,
		behavior:  actor.NewBehavior(),
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
		published: published,
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.notifyLink(ctx, domain.LinkConnected, nil)
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.CommandReceived:
		// injected by tests as if parsed from the broker
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishMessageRequest:
		state.published <- msg
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{})
	case domain.PublishStateRequest, domain.PublishStatusRequest, domain.PublishDiscoveryRequest:
		state.published <- msg
	}
}
