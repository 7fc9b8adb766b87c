package domain

import (
	"encoding/json"
)

type Link string

const (
	LINK_SERIAL Link = "serial"
	LINK_MQTT   Link = "mqtt"
)

type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDegraded
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type BridgeState int

const (
	BridgeStarting BridgeState = iota
	BridgeRunning
	BridgeDegraded
	BridgeStopping
	BridgeStopped
)

func (s BridgeState) String() string {
	switch s {
	case BridgeRunning:
		return "running"
	case BridgeDegraded:
		return "degraded"
	case BridgeStopping:
		return "stopping"
	case BridgeStopped:
		return "stopped"
	default:
		return "starting"
	}
}

func (s BridgeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BridgeStatus is the bridge state together with the state of each link.
type BridgeStatus struct {
	State  BridgeState `json:"state"`
	Serial LinkState   `json:"serial"`
	MQTT   LinkState   `json:"mqtt"`
}

func (s BridgeStatus) Payload() ([]byte, error) {
	return json.Marshal(s)
}
