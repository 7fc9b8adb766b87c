package domain

import (
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"
)

const (
	ACTOR_ID_BRIDGE = "bridge"
	ACTOR_ID_DEVICE = "device"
	ACTOR_ID_MQTT   = "mqtt"
)

type PollRequest struct {
	ActorRequestMixIn
	Group dvi_modbus.Group
}

type PollResponse struct {
	ActorResponseMixIn
	Group  dvi_modbus.Group
	Sample *dvi_modbus.Sample
}

type WriteCommandRequest struct {
	ActorRequestMixIn
	Command Command
}

type WriteCommandResponse struct {
	ActorResponseMixIn
	Command Command
	Applied float64
}

// CommandReceived is sent by the mqtt actor to its parent for every
// parsed command message.
type CommandReceived struct {
	Command Command
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishStateRequest struct {
	Reading Reading
}

type PublishStatusRequest struct {
	Status BridgeStatus
}

type PublishDiscoveryRequest struct {
	Descriptor DiscoveryDescriptor
}

type GetReadingRequest struct {
	ActorRequestMixIn
}

type GetReadingResponse struct {
	ActorResponseMixIn
	Reading Reading
	Valid   bool
}

type GetStatusRequest struct {
	ActorRequestMixIn
}

type GetStatusResponse struct {
	ActorResponseMixIn
	Status BridgeStatus
}

// LinkStateChanged is sent by link owning actors to their parent.
type LinkStateChanged struct {
	Link  Link
	State LinkState
	Error error
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// ShutdownRequest asks the bridge to publish its stopping status before the
// actor system is stopped.
type ShutdownRequest struct {
	ActorRequestMixIn
}

type ShutdownResponse struct {
	ActorResponseMixIn
	Status BridgeStatus
}
