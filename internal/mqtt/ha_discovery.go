package mqtt

import (
	"fmt"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/events"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	ValueTemplate     string            `json:"value_template,omitempty"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	Min               *float64          `json:"min,omitempty"`
	Max               *float64          `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
	Options           []string          `json:"options,omitempty"`
	Precision         *uint             `json:"suggested_display_precision,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func (c *MQTTClient) HADiscoveryTopic(entity domain.Entity) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.haTopic(), entity.Kind, entity.Device.Id, entity.Id)
}

func EntityToHADiscoveryMessage(client *MQTTClient, entity domain.Entity) HADiscoveryConfig {
	disConfig := HADiscoveryConfig{
		Device:            device(entity.Device),
		StateTopic:        client.StateTopic(),
		StateClass:        entity.StateClass,
		DeviceClass:       entity.DeviceClass,
		UnitOfMeasurement: entity.UnitOfMeasurement,
		AvTopic:           client.BridgeStateTopic(),
		EntityCategory:    entity.EntityCategory,
		Name:              entity.Name,
		UniqueId:          entity.UniqueId,
		Icon:              entity.Icon,
		Platform:          "mqtt",
	}
	valuePath := fmt.Sprintf("value_json.%s.%s", entity.ValueGroup, entity.Id)

	switch entity.Kind {
	case domain.KIND_BINARY_SENSOR:
		if entity.Id == events.SENSOR_ID_BRIDGE_STATE {
			disConfig.StateTopic = client.BridgeStateTopic()
			disConfig.AvTopic = ""
			disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
			disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
			break
		}
		disConfig.ValueTemplate = fmt.Sprintf("{{ '%s' if %s else '%s' }}", MQTT_PAYLOAD_ON, valuePath, MQTT_PAYLOAD_OFF)
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	case domain.KIND_SELECT:
		disConfig.ValueTemplate = fmt.Sprintf("{{ %s | int }}", valuePath)
		disConfig.CommandTopic = client.CommandTopic(entity.Id)
		disConfig.Options = entity.Options
	case domain.KIND_NUMBER:
		disConfig.ValueTemplate = fmt.Sprintf("{{ %s }}", valuePath)
		disConfig.CommandTopic = client.CommandTopic(entity.Id)
		disConfig.Min = optionalFloat(entity.Min)
		disConfig.Max = optionalFloat(entity.Max)
		disConfig.Step = entity.Step
		disConfig.Mode = "box"
	default:
		disConfig.ValueTemplate = fmt.Sprintf("{{ %s }}", valuePath)
		if entity.Decimals > 0 {
			decimals := entity.Decimals
			disConfig.Precision = &decimals
		}
	}
	return disConfig
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}

func optionalFloat(v float64) *float64 {
	return &v
}
