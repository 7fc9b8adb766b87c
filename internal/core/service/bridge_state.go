package service

import (
	"github.com/lrp/dvi2mqtt/internal/core/domain"
)

// BridgeStateMachine derives the bridge state from the state of the serial
// and mqtt links.
type BridgeStateMachine struct {
	status domain.BridgeStatus
}

func NewBridgeStateMachine() *BridgeStateMachine {
	return &BridgeStateMachine{
		status: domain.BridgeStatus{
			State:  domain.BridgeStarting,
			Serial: domain.LinkDisconnected,
			MQTT:   domain.LinkDisconnected,
		},
	}
}

func (m *BridgeStateMachine) Status() domain.BridgeStatus {
	return m.status
}

// SetLink records a link state and returns the new status and whether it
// changed.
func (m *BridgeStateMachine) SetLink(link domain.Link, state domain.LinkState) (domain.BridgeStatus, bool) {
	prev := m.status
	switch link {
	case domain.LINK_SERIAL:
		m.status.Serial = state
	case domain.LINK_MQTT:
		m.status.MQTT = state
	}
	m.status.State = m.next(state)
	return m.status, prev != m.status
}

func (m *BridgeStateMachine) next(changed domain.LinkState) domain.BridgeState {
	healthy := m.status.Serial == domain.LinkConnected && m.status.MQTT == domain.LinkConnected
	switch m.status.State {
	case domain.BridgeStopping, domain.BridgeStopped:
		return m.status.State
	case domain.BridgeStarting:
		if healthy {
			return domain.BridgeRunning
		}
		// a link that failed its first attempt
		if changed == domain.LinkDisconnected || changed == domain.LinkDegraded {
			return domain.BridgeDegraded
		}
		return domain.BridgeStarting
	default:
		if healthy {
			return domain.BridgeRunning
		}
		return domain.BridgeDegraded
	}
}

func (m *BridgeStateMachine) Stop() (domain.BridgeStatus, bool) {
	if m.status.State == domain.BridgeStopping || m.status.State == domain.BridgeStopped {
		return m.status, false
	}
	m.status.State = domain.BridgeStopping
	return m.status, true
}

func (m *BridgeStateMachine) Stopped() domain.BridgeStatus {
	m.status.State = domain.BridgeStopped
	return m.status
}
