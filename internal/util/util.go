package util

import (
	"github.com/lrp/dvi2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	reconnect := config.ReconnectConfig{
		InitialMillis: 50,
		MaxMillis:     200,
		Multiplier:    2,
	}
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Device:          "/dev/ttyACM0",
			BaudRate:        9600,
			DataBits:        8,
			StopBits:        1,
			Parity:          "N",
			SlaveId:         0x10,
			TimeoutMillis:   100,
			MaxTimeouts:     3,
			StartupAttempts: 1,
			Reconnect:       reconnect,
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "dvi",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
			Reconnect:         reconnect,
		},
		Poll: config.PollConfig{
			CoilsIntervalMillis:    13000,
			InputsIntervalMillis:   17000,
			SettingsIntervalMillis: 60000,
		},
		Limits: map[string]config.LimitConfig{
			"vv_setpoint": {Min: 10, Max: 60},
		},
		Port: 8080,
	}
}
