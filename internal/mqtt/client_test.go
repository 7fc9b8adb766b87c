package mqtt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/lrp/dvi2mqtt/internal/config"
	"github.com/lrp/dvi2mqtt/internal/core/events"

	"github.com/stretchr/testify/assert"
)

func testClient() *MQTTClient {
	return NewMQTTClient(config.MQTTConfig{BaseTopic: "dvi", HADiscoveryTopic: "homeassistant", HADiscoveryEnable: true}, nil)
}

func TestCommandTopicParse(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	matches := r.FindStringSubmatch("loremTopic/set/vv_setpoint")

	assert.Equal("vv_setpoint", matches[1], "field extract")
}

func TestCommandTopicParseFail(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	assert.Nil(r.FindStringSubmatch("loremTopic/state"))
	assert.Nil(r.FindStringSubmatch("loremTopic/set/vv_setpoint/extra"))
	assert.Nil(r.FindStringSubmatch("other/loremTopic/set/vv_setpoint"))
}

func TestParseCommandPayload(t *testing.T) {

	assert := assert.New(t)

	cases := map[string]float64{
		"23.5":                   23.5,
		" 53 ":                   53,
		"on":                     1,
		"OFF":                    0,
		`{"set_vv_setpoint":53}`: 53,
		`{"value": 40}`:          40,
		`{"value": "41"}`:        41,
	}
	for payload, expected := range cases {
		v, err := ParseCommandPayload("vv_setpoint", []byte(payload))
		assert.NoError(err, payload)
		assert.Equal(expected, v, payload)
	}
}

func TestParseCommandPayloadRejects(t *testing.T) {

	assert := assert.New(t)

	for _, payload := range []string{
		"",
		"warm",
		`{"set_cv_curve":5}`,
		`{"value":true}`,
		`{"value":1,"set_vv_setpoint":2}`,
		`[53]`,
	} {
		_, err := ParseCommandPayload("vv_setpoint", []byte(payload))
		assert.True(errors.Is(err, ErrInvalidCommand), payload)
	}
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	assert.Equal("dvi/state", c.StateTopic())
	assert.Equal("dvi/set/cv_mode", c.CommandTopic("cv_mode"))
	assert.Equal("dvi/bridge/state", c.BridgeStateTopic())
	assert.Equal("dvi/bridge/status", c.BridgeStatusTopic())
	assert.Equal("dvi/discovery/outdoor", c.DiscoveryTopic("outdoor"))
	assert.Equal("dvi/set/+", c.commandTopic())
}

func TestClientId(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("custom", ClientId(config.MQTTConfig{ClientId: "custom"}))
	id := ClientId(config.MQTTConfig{})
	assert.Len(id, len("dvi2mqtt_")+8)
	assert.NotEqual(id, ClientId(config.MQTTConfig{}))
}

func TestHADiscoveryMessages(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	d := events.Descriptor("dvi", nil)

	setpoint, _ := d.Entity("vv_setpoint")
	msg := EntityToHADiscoveryMessage(c, setpoint)
	assert.Equal("dvi/set/vv_setpoint", msg.CommandTopic)
	assert.Equal("{{ value_json.write_registers.vv_setpoint }}", msg.ValueTemplate)
	assert.Equal("dvi/bridge/state", msg.AvTopic)
	assert.Equal(10.0, *msg.Min)
	assert.Equal(60.0, *msg.Max)
	assert.Equal("homeassistant/number/"+d.Device.Id+"/vv_setpoint/config", c.HADiscoveryTopic(setpoint))

	pump, _ := d.Entity("circ_pump_cv")
	msg = EntityToHADiscoveryMessage(c, pump)
	assert.Empty(msg.CommandTopic)
	assert.Equal(MQTT_PAYLOAD_ON, msg.PayloadOn)

	bridge := events.BridgeSensors(d.Bridge)[0]
	msg = EntityToHADiscoveryMessage(c, bridge)
	assert.Equal("dvi/bridge/state", msg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, msg.PayloadOn)

	assert.Nil(msg.Min)

	payload, err := json.Marshal(msg)
	assert.NoError(err)
	assert.NotContains(string(payload), `"min"`)
}

func TestDescriptorEntry(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	d := events.Descriptor("dvi", nil)

	outdoor, _ := d.Entity("outdoor")
	entry := EntityToDescriptorEntry(c, outdoor)
	assert.Equal("input_registers.outdoor", entry.ValueKey)
	assert.Empty(entry.CommandTopic)
	assert.Nil(entry.Min)

	mode, _ := d.Entity("cv_mode")
	entry = EntityToDescriptorEntry(c, mode)
	assert.Equal("dvi/set/cv_mode", entry.CommandTopic)
	assert.Equal([]string{"0", "1"}, entry.Options)
}
