package mqtt

import (
	"github.com/lrp/dvi2mqtt/internal/core/domain"
)

// DescriptorEntry is the retained document published for each entity on
// the discovery topic.
type DescriptorEntry struct {
	Id           string            `json:"id"`
	Name         string            `json:"name"`
	Kind         domain.EntityKind `json:"kind"`
	Device       string            `json:"device"`
	StateTopic   string            `json:"state_topic"`
	ValueKey     string            `json:"value_key"`
	CommandTopic string            `json:"command_topic,omitempty"`
	Unit         string            `json:"unit,omitempty"`
	DeviceClass  string            `json:"device_class,omitempty"`
	Min          *float64          `json:"min,omitempty"`
	Max          *float64          `json:"max,omitempty"`
	Step         float64           `json:"step,omitempty"`
	Options      []string          `json:"options,omitempty"`
}

func EntityToDescriptorEntry(client *MQTTClient, entity domain.Entity) DescriptorEntry {
	entry := DescriptorEntry{
		Id:          entity.Id,
		Name:        entity.Name,
		Kind:        entity.Kind,
		Device:      entity.Device.Id,
		StateTopic:  client.StateTopic(),
		ValueKey:    entity.ValueGroup + "." + entity.Id,
		Unit:        entity.UnitOfMeasurement,
		DeviceClass: entity.DeviceClass,
	}
	if entity.Writable {
		entry.CommandTopic = client.CommandTopic(entity.Id)
		entry.Min = optionalFloat(entity.Min)
		entry.Max = optionalFloat(entity.Max)
		entry.Step = entity.Step
		entry.Options = entity.Options
	}
	return entry
}
