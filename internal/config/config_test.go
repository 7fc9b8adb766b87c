package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	reconnect := ReconnectConfig{InitialMillis: 1000, MaxMillis: 30000, Multiplier: 2}
	return Config{
		Serial: SerialConfig{
			Device:        "/dev/ttyACM0",
			BaudRate:      9600,
			Parity:        "N",
			SlaveId:       16,
			TimeoutMillis: 2000,
			MaxTimeouts:   3,
			Reconnect:     reconnect,
		},
		MQTT: MQTTConfig{
			Host:             "localhost",
			BaseTopic:        "DVI",
			HADiscoveryTopic: "homeassistant",
			Reconnect:        reconnect,
		},
		Poll: PollConfig{
			CoilsIntervalMillis:    13000,
			InputsIntervalMillis:   17000,
			SettingsIntervalMillis: 60000,
		},
	}
}

func TestValidate(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	assert.NoError(Validate(&cfg))
	assert.Equal("dvi", cfg.MQTT.BaseTopic, "topic is lowercased")
}

func TestValidateRejects(t *testing.T) {

	assert := assert.New(t)

	cases := map[string]func(*Config){
		"no device":      func(c *Config) { c.Serial.Device = "" },
		"parity":         func(c *Config) { c.Serial.Parity = "X" },
		"slave":          func(c *Config) { c.Serial.SlaveId = 0 },
		"topic":          func(c *Config) { c.MQTT.BaseTopic = "dvi/bridge" },
		"ha topic":       func(c *Config) { c.MQTT.HADiscoveryTopic = "home assistant" },
		"poll interval":  func(c *Config) { c.Poll.CoilsIntervalMillis = 10 },
		"limits":         func(c *Config) { c.Limits = map[string]LimitConfig{"vv_setpoint": {Min: 60, Max: 10}} },
		"backoff":        func(c *Config) { c.MQTT.Reconnect.MaxMillis = 10 },
		"multiplier":     func(c *Config) { c.Serial.Reconnect.Multiplier = 0.5 },
		"influx missing": func(c *Config) { c.Influx.Enable = true },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		err := Validate(&cfg)
		assert.True(errors.Is(err, ErrConfiguration), name)
	}
}

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("Dvi_LV12")
	assert.NoError(err)
	assert.Equal("dvi_lv12", topic)

	_, err = CheckMQTTTopic("dvi/#")
	assert.Error(err)
}
