package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

var ErrConfiguration = errors.New("configuration error")

type Config struct {
	LogLevel zapcore.Level
	Serial   SerialConfig           `mapstructure:"serial"`
	MQTT     MQTTConfig             `mapstructure:"mqtt"`
	Poll     PollConfig             `mapstructure:"poll"`
	Limits   map[string]LimitConfig `mapstructure:"limits"`
	Influx   InfluxConfig           `mapstructure:"influx"`
	Port     uint                   `mapstructure:"port"`
	HttpLog  bool                   `mapstructure:"http_log"`
}

type SerialConfig struct {
	Device          string
	BaudRate        int             `mapstructure:"baud_rate"`
	DataBits        int             `mapstructure:"data_bits"`
	StopBits        int             `mapstructure:"stop_bits"`
	Parity          string          `mapstructure:"parity"`
	SlaveId         uint            `mapstructure:"slave_id"`
	TimeoutMillis   uint32          `mapstructure:"timeout_millis"`
	MaxTimeouts     int             `mapstructure:"max_timeouts"`
	StartupAttempts int             `mapstructure:"startup_attempts"`
	Reconnect       ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	InitialMillis uint32  `mapstructure:"initial_millis"`
	MaxMillis     uint32  `mapstructure:"max_millis"`
	Multiplier    float64 `mapstructure:"multiplier"`
	MaxAttempts   int     `mapstructure:"max_attempts"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	ClientId          string          `mapstructure:"client_id"`
	BaseTopic         string          `mapstructure:"base_topic"`
	HADiscoveryEnable bool            `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string          `mapstructure:"ha_discovery_topic"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect"`
}

type PollConfig struct {
	CoilsIntervalMillis    uint32 `mapstructure:"coils_interval_millis"`
	InputsIntervalMillis   uint32 `mapstructure:"inputs_interval_millis"`
	SettingsIntervalMillis uint32 `mapstructure:"settings_interval_millis"`
}

// LimitConfig narrows the range a command accepts from MQTT.
type LimitConfig struct {
	Min float64
	Max float64
}

type InfluxConfig struct {
	Enable              bool
	URL                 string `mapstructure:"url"`
	Token               string
	Org                 string
	Bucket              string
	BatchSize           uint `mapstructure:"batch_size"`
	FlushIntervalMillis uint `mapstructure:"flush_interval_millis"`
}

func (c SerialConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c ReconnectConfig) Initial() time.Duration {
	return time.Duration(c.InitialMillis) * time.Millisecond
}

func (c ReconnectConfig) Max() time.Duration {
	return time.Duration(c.MaxMillis) * time.Millisecond
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks bounds and normalises topics in place. Every returned error
// wraps ErrConfiguration.
func Validate(cfg *Config) error {
	if cfg.Serial.Device == "" {
		return configError("serial.device is required")
	}
	if cfg.Serial.BaudRate <= 0 {
		return configError("serial.baud_rate should be > 0")
	}
	switch cfg.Serial.Parity {
	case "N", "E", "O":
	default:
		return configError("serial.parity must be one of N, E, O")
	}
	if cfg.Serial.SlaveId == 0 || cfg.Serial.SlaveId > 247 {
		return configError("serial.slave_id must be in 1..247")
	}
	if cfg.Serial.TimeoutMillis < 100 {
		return configError("serial.timeout_millis should be >= 100")
	}
	if cfg.Serial.MaxTimeouts < 1 {
		return configError("serial.max_timeouts should be >= 1")
	}

	if cfg.MQTT.Host == "" {
		return configError("mqtt.host is required")
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return configError("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return configError("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	for name, r := range map[string]ReconnectConfig{"serial": cfg.Serial.Reconnect, "mqtt": cfg.MQTT.Reconnect} {
		if r.InitialMillis == 0 || r.MaxMillis < r.InitialMillis {
			return configError("%s.reconnect needs 0 < initial_millis <= max_millis", name)
		}
		if r.Multiplier < 1 {
			return configError("%s.reconnect.multiplier should be >= 1", name)
		}
	}

	if cfg.Poll.CoilsIntervalMillis < 1000 || cfg.Poll.InputsIntervalMillis < 1000 || cfg.Poll.SettingsIntervalMillis < 1000 {
		return configError("poll intervals should be >= 1000ms")
	}

	for field, l := range cfg.Limits {
		if l.Min > l.Max {
			return configError("limits.%s: min %v > max %v", field, l.Min, l.Max)
		}
	}

	if cfg.Influx.Enable && (cfg.Influx.URL == "" || cfg.Influx.Bucket == "") {
		return configError("influx.url and influx.bucket are required when influx is enabled")
	}
	return nil
}
