package service

import (
	"testing"
	"time"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/stretchr/testify/assert"
)

func TestIdenticalReadingsPublishOnce(t *testing.T) {

	assert := assert.New(t)

	tracker := NewStateTracker()
	sample := &dvi_modbus.Sample{Inputs: map[string]float64{"cv_forward": 21}}

	_, changed := tracker.Merge(sample, time.Now())
	assert.True(changed, "first reading")
	_, changed = tracker.Merge(sample, time.Now())
	assert.False(changed, "identical reading")

	r, changed := tracker.Merge(&dvi_modbus.Sample{Inputs: map[string]float64{"cv_forward": 21.5}}, time.Now())
	assert.True(changed)
	assert.Equal(21.5, r.Inputs["cv_forward"])
}

func TestEmptySampleIsNotPublished(t *testing.T) {

	assert := assert.New(t)

	tracker := NewStateTracker()
	_, changed := tracker.Merge(&dvi_modbus.Sample{}, time.Now())
	assert.False(changed)
	_, ok := tracker.Current()
	assert.False(ok)
}

func TestBridgeStateTransitions(t *testing.T) {

	assert := assert.New(t)

	m := NewBridgeStateMachine()
	assert.Equal(domain.BridgeStarting, m.Status().State)

	_, changed := m.SetLink(domain.LINK_SERIAL, domain.LinkConnected)
	assert.True(changed)
	assert.Equal(domain.BridgeStarting, m.Status().State, "mqtt still down")

	status, _ := m.SetLink(domain.LINK_MQTT, domain.LinkConnected)
	assert.Equal(domain.BridgeRunning, status.State)

	status, _ = m.SetLink(domain.LINK_SERIAL, domain.LinkDisconnected)
	assert.Equal(domain.BridgeDegraded, status.State)
	assert.Equal(domain.LinkConnected, status.MQTT, "other link untouched")

	status, _ = m.SetLink(domain.LINK_SERIAL, domain.LinkConnecting)
	assert.Equal(domain.BridgeDegraded, status.State)

	status, _ = m.SetLink(domain.LINK_SERIAL, domain.LinkConnected)
	assert.Equal(domain.BridgeRunning, status.State)

	_, changed = m.SetLink(domain.LINK_SERIAL, domain.LinkConnected)
	assert.False(changed, "no change")

	status, changed = m.Stop()
	assert.True(changed)
	assert.Equal(domain.BridgeStopping, status.State)
	status, _ = m.SetLink(domain.LINK_MQTT, domain.LinkDisconnected)
	assert.Equal(domain.BridgeStopping, status.State, "stopping is terminal")
	assert.Equal(domain.BridgeStopped, m.Stopped().State)
}

func TestStartupFailureIsDegraded(t *testing.T) {

	assert := assert.New(t)

	m := NewBridgeStateMachine()
	status, _ := m.SetLink(domain.LINK_SERIAL, domain.LinkDisconnected)
	assert.Equal(domain.BridgeDegraded, status.State)
}
