package domain

import (
	"encoding/json"
	"maps"
	"strconv"
	"time"

	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"
)

const (
	MODE_HEAT    = "heat"
	MODE_OFF     = "off"
	MODE_UNKNOWN = "unknown"
)

// Reading is a snapshot of the heatpump. It is never modified after it is
// built; Merge returns a new value.
type Reading struct {
	Coils    map[string]bool
	Inputs   map[string]float64
	Settings map[string]float64
	Time     time.Time
}

func NewReading() Reading {
	return Reading{
		Coils:    map[string]bool{},
		Inputs:   map[string]float64{},
		Settings: map[string]float64{},
	}
}

// Merge overlays the values of a poll sample. Registers missing from the
// sample keep their previous value.
func (r Reading) Merge(s *dvi_modbus.Sample, at time.Time) Reading {
	next := Reading{
		Coils:    maps.Clone(r.Coils),
		Inputs:   maps.Clone(r.Inputs),
		Settings: maps.Clone(r.Settings),
		Time:     at,
	}
	if next.Coils == nil {
		next.Coils = map[string]bool{}
	}
	if next.Inputs == nil {
		next.Inputs = map[string]float64{}
	}
	if next.Settings == nil {
		next.Settings = map[string]float64{}
	}
	if s == nil {
		return next
	}
	maps.Copy(next.Coils, s.Coils)
	maps.Copy(next.Inputs, s.Inputs)
	maps.Copy(next.Settings, s.Settings)
	return next
}

func (r Reading) Empty() bool {
	return len(r.Coils) == 0 && len(r.Inputs) == 0 && len(r.Settings) == 0
}

// Equal compares values only, the timestamp is ignored.
func (r Reading) Equal(o Reading) bool {
	return maps.Equal(r.Coils, o.Coils) && maps.Equal(r.Inputs, o.Inputs) && maps.Equal(r.Settings, o.Settings)
}

func (r Reading) Mode() string {
	v, ok := r.Settings[dvi_modbus.SettingCVMode]
	switch {
	case !ok:
		return MODE_UNKNOWN
	case v == 1:
		return MODE_HEAT
	default:
		return MODE_OFF
	}
}

func (r Reading) Temp() (float64, bool) {
	v, ok := r.Inputs[dvi_modbus.InputCVForward]
	return v, ok
}

type statePayload struct {
	Mode     string             `json:"mode"`
	Temp     *oneDecimal        `json:"temp,omitempty"`
	Coils    map[string]bool    `json:"coils"`
	Inputs   map[string]float64 `json:"input_registers"`
	Settings map[string]float64 `json:"write_registers"`
}

type oneDecimal float64

func (d oneDecimal) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(d), 'f', 1, 64)), nil
}

// Payload is the JSON document published on the state topic.
func (r Reading) Payload() ([]byte, error) {
	p := statePayload{
		Mode:     r.Mode(),
		Coils:    r.Coils,
		Inputs:   r.Inputs,
		Settings: r.Settings,
	}
	if t, ok := r.Temp(); ok {
		d := oneDecimal(t)
		p.Temp = &d
	}
	return json.Marshal(p)
}
