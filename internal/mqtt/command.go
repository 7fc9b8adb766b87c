package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidCommand = errors.New("invalid command")

type ParsedMQTTCommand struct {
	Topic string
	Field string
	Value float64
}

// ParseCommandPayload reads the value of a command sent to the set topic of
// field. Accepted forms are a bare number, on/off, {"set_<field>": v} and
// {"value": v}.
func ParseCommandPayload(field string, payload []byte) (float64, error) {
	text := strings.TrimSpace(string(payload))
	switch strings.ToLower(text) {
	case MQTT_PAYLOAD_ON:
		return 1, nil
	case MQTT_PAYLOAD_OFF:
		return 0, nil
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, nil
	}

	var obj map[string]json.Number
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	if err := decoder.Decode(&obj); err != nil {
		return 0, fmt.Errorf("%w: payload %q", ErrInvalidCommand, text)
	}
	if len(obj) != 1 {
		return 0, fmt.Errorf("%w: expected a single key in %q", ErrInvalidCommand, text)
	}
	for key, raw := range obj {
		if key != "value" && key != "set_"+field {
			return 0, fmt.Errorf("%w: key %q does not match field %s", ErrInvalidCommand, key, field)
		}
		v, err := raw.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidCommand, raw)
		}
		return v, nil
	}
	return 0, ErrInvalidCommand
}
