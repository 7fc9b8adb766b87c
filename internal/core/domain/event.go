package domain

// ReadingPublishedEvent is published on the actor system eventstream every
// time a Reading goes out on the state topic.
type ReadingPublishedEvent struct {
	Reading Reading
}

type BridgeStatusChangedEvent struct {
	Status BridgeStatus
}

type CommandResultEvent struct {
	Command Command
	Result  string
	Error   error
}

const (
	COMMAND_RESULT_APPLIED  = "applied"
	COMMAND_RESULT_REJECTED = "rejected"
	COMMAND_RESULT_FAILED   = "failed"
)

const (
	PUBLISH_KIND_STATE     = "state"
	PUBLISH_KIND_DISCOVERY = "discovery"
	PUBLISH_KIND_STATUS    = "status"
)

// MessagePublishedEvent is published by the mqtt actor once the broker
// acknowledged a message.
type MessagePublishedEvent struct {
	Kind  string
	Topic string
}
