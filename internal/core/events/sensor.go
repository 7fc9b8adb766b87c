package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	. "github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	VALUE_GROUP_COILS            = "coils"
	VALUE_GROUP_INPUTS           = "input_registers"
	VALUE_GROUP_SETTINGS         = "write_registers"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_PROBLEM         = "problem"
	DEVICE_CLASS_RUNNING         = "running"
	DEVICE_CLASS_DURATION        = "duration"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
)

// CommandRange reports the effective range of a writable field.
type CommandRange interface {
	Range(field string) (min float64, max float64, ok bool)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("dvi2mqtt_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "dvi2mqtt",
		Model:        "dvi2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("DVI bridge %s", md5HashShort(baseTopic)),
	}
}

func HeatpumpDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("dvi_lv12_%s", md5HashShort(baseTopic)),
		Manufacturer: "DVI",
		Model:        "LV12",
		Name:         "DVI LV12",
		ViaDevice:    BridgeDevice(baseTopic).Id,
	}
}

// Descriptor lists every entity the bridge exposes for the heatpump.
func Descriptor(baseTopic string, ranges CommandRange) DiscoveryDescriptor {
	device := HeatpumpDevice(baseTopic)
	var entities []Entity

	for _, coil := range dvi_modbus.Coils {
		e := Entity{
			Device:      device,
			Id:          coil.Id,
			Kind:        KIND_BINARY_SENSOR,
			Name:        coil.Name,
			UniqueId:    uniqueId(device.Id, coil.Id),
			ValueGroup:  VALUE_GROUP_COILS,
			DeviceClass: DEVICE_CLASS_RUNNING,
		}
		if coil.Id == "sum_alarm" {
			e.DeviceClass = DEVICE_CLASS_PROBLEM
		}
		entities = append(entities, e)
	}

	inputs := append(append([]dvi_modbus.Register{}, dvi_modbus.Inputs...), dvi_modbus.Energy)
	for _, reg := range inputs {
		entities = append(entities, registerSensor(device, reg, VALUE_GROUP_INPUTS))
	}

	for _, reg := range dvi_modbus.Settings {
		cmd, ok := dvi_modbus.CommandById(reg.Id)
		if !ok {
			e := registerSensor(device, reg, VALUE_GROUP_SETTINGS)
			if reg.DeviceClass == DEVICE_CLASS_DURATION {
				e.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
			}
			entities = append(entities, e)
			continue
		}
		entities = append(entities, commandEntity(device, reg, cmd, ranges))
	}

	return DiscoveryDescriptor{
		Device:   device,
		Bridge:   BridgeDevice(baseTopic),
		Entities: entities,
	}
}

// BridgeSensors are the entities describing the bridge itself.
func BridgeSensors(bridgeDevice Device) []Entity {
	return []Entity{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		Kind:           KIND_BINARY_SENSOR,
		Name:           "Bridge state",
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
	}}
}

func registerSensor(device Device, reg dvi_modbus.Register, group string) Entity {
	return Entity{
		Device:            device,
		Id:                reg.Id,
		Kind:              KIND_SENSOR,
		Name:              reg.Name,
		UniqueId:          uniqueId(device.Id, reg.Id),
		ValueGroup:        group,
		UnitOfMeasurement: reg.Unit,
		StateClass:        reg.StateClass,
		DeviceClass:       reg.DeviceClass,
		Decimals:          uint(reg.Decimals),
	}
}

func commandEntity(device Device, reg dvi_modbus.Register, cmd dvi_modbus.Command, ranges CommandRange) Entity {
	min, max := cmd.Min, cmd.Max
	if ranges != nil {
		if lo, hi, ok := ranges.Range(cmd.Id); ok {
			min, max = lo, hi
		}
	}
	e := Entity{
		Device:            device,
		Id:                cmd.Id,
		Name:              cmd.Name,
		UniqueId:          uniqueId(device.Id, cmd.Id),
		ValueGroup:        VALUE_GROUP_SETTINGS,
		UnitOfMeasurement: cmd.Unit,
		EntityCategory:    ENTITY_CLASS_CONFIG,
		Writable:          true,
		Min:               min,
		Max:               max,
		Step:              cmd.Step,
	}
	switch cmd.Kind {
	case dvi_modbus.CommandSelect:
		e.Kind = KIND_SELECT
		for v := min; v <= max; v += cmd.Step {
			e.Options = append(e.Options, fmt.Sprintf("%g", v))
		}
	default:
		e.Kind = KIND_NUMBER
	}
	if reg.Decimals > 0 {
		e.Decimals = uint(reg.Decimals)
	}
	return e
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
