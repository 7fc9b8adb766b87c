package mqtt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lrp/dvi2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

var ErrTimeout = errors.New("mqtt: operation timed out")

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(ClientId(cfg.MQTT))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	// reconnection is driven by the mqtt actor
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func ClientId(cfg config.MQTTConfig) string {
	if cfg.ClientId != "" {
		return cfg.ClientId
	}
	return fmt.Sprintf("dvi2mqtt_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return NewMQTTClient(cfg.MQTT, mqtt.NewClient(opts))
}

// NewMQTTClient wraps an existing paho client.
func NewMQTTClient(cfg config.MQTTConfig, client mqtt.Client) *MQTTClient {
	return &MQTTClient{
		client:        client,
		cfg:           cfg,
		commandRegexp: commandExtractor(cfg.BaseTopic),
	}
}

type MQTTClient struct {
	client        mqtt.Client
	cfg           config.MQTTConfig
	commandRegexp *regexp.Regexp
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) haTopic() string {
	if c.cfg.HADiscoveryTopic == "" {
		return "homeassistant"
	}
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) HADiscoveryEnabled() bool {
	return c.cfg.HADiscoveryEnable
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) BridgeStatusTopic() string {
	return fmt.Sprintf("%s/bridge/status", c.baseTopic())
}

func (c *MQTTClient) StateTopic() string {
	return fmt.Sprintf("%s/state", c.baseTopic())
}

func (c *MQTTClient) CommandTopic(field string) string {
	return fmt.Sprintf("%s/set/%s", c.baseTopic(), field)
}

func (c *MQTTClient) DiscoveryTopic(entityId string) string {
	return fmt.Sprintf("%s/discovery/%s", c.baseTopic(), entityId)
}

func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	matches := c.commandRegexp.FindStringSubmatch(msg.Topic())
	if len(matches) != 2 {
		return nil, fmt.Errorf("%w: topic %s", ErrInvalidCommand, msg.Topic())
	}
	field := matches[1]
	value, err := ParseCommandPayload(field, msg.Payload())
	if err != nil {
		return nil, err
	}
	return &ParsedMQTTCommand{
		Field: field,
		Value: value,
		Topic: msg.Topic(),
	}, nil
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		continuation(wait(token, timeout, "publish"))
	}()
}

// PublishSync publishes and waits for the broker. It must not be called
// from an actor receive loop.
func (c *MQTTClient) PublishSync(topic string, payload any, qos byte, retain bool, timeout time.Duration) error {
	return wait(c.client.Publish(topic, qos, retain, payload), timeout, "publish")
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		continuation(wait(token, timeout, "subscribe"))
	}()
}

func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.commandTopic(), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		continuation(wait(token, timeout, "connect"))
	}()
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/set/+", c.baseTopic())
}

func wait(token mqtt.Token, timeout time.Duration, op string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	return token.Error()
}

func commandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/set/([a-zA-Z0-9_]+)$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
