package domain

type EntityKind string

const (
	KIND_SENSOR        EntityKind = "sensor"
	KIND_BINARY_SENSOR EntityKind = "binary_sensor"
	KIND_NUMBER        EntityKind = "number"
	KIND_SELECT        EntityKind = "select"
)

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

// Entity describes one value of the heatpump. ValueGroup and Id locate the
// value inside the state payload.
type Entity struct {
	Device            Device
	Id                string
	Kind              EntityKind
	Name              string
	UniqueId          string
	ValueGroup        string
	UnitOfMeasurement string
	StateClass        string
	DeviceClass       string
	EntityCategory    string
	Icon              string
	Decimals          uint
	Writable          bool
	Min               float64
	Max               float64
	Step              float64
	Options           []string
}

type DiscoveryDescriptor struct {
	Device   Device
	Bridge   Device
	Entities []Entity
}

func (d DiscoveryDescriptor) Entity(id string) (Entity, bool) {
	for _, e := range d.Entities {
		if e.Id == id {
			return e, true
		}
	}
	return Entity{}, false
}
