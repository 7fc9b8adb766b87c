package service

import (
	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/port"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"go.uber.org/zap"
)

type Limit struct {
	Min float64
	Max float64
}

// DefaultCommandValidator accepts a command when the device supports the
// field and the value is inside both the device range and the configured
// limit for that field.
type DefaultCommandValidator struct {
	Limits map[string]Limit
	Logger *zap.Logger
}

var _ port.CommandValidator = (*DefaultCommandValidator)(nil)

func (v *DefaultCommandValidator) Validate(cmd domain.Command) (dvi_modbus.WriteRegister, error) {
	req, err := dvi_modbus.EncodeCommand(cmd.Field, cmd.Value)
	if err != nil {
		if v.Logger != nil {
			v.Logger.Debug("command rejected",
				zap.String("field", cmd.Field), zap.Float64("value", cmd.Value), zap.Error(err))
		}
		return dvi_modbus.WriteRegister{}, err
	}
	if limit, ok := v.Limits[cmd.Field]; ok && (cmd.Value < limit.Min || cmd.Value > limit.Max) {
		if v.Logger != nil {
			v.Logger.Debug("command outside configured limits",
				zap.String("field", cmd.Field), zap.Float64("value", cmd.Value),
				zap.Float64("min", limit.Min), zap.Float64("max", limit.Max))
		}
		return dvi_modbus.WriteRegister{}, &dvi_modbus.UnsupportedCommandError{
			Field:  cmd.Field,
			Value:  cmd.Value,
			Reason: "outside configured limits",
		}
	}
	return req, nil
}

// Range is the effective range of a command field.
func (v *DefaultCommandValidator) Range(field string) (float64, float64, bool) {
	cmd, ok := dvi_modbus.CommandById(field)
	if !ok {
		return 0, 0, false
	}
	min, max := cmd.Min, cmd.Max
	if limit, ok := v.Limits[field]; ok {
		if limit.Min > min {
			min = limit.Min
		}
		if limit.Max < max {
			max = limit.Max
		}
	}
	return min, max, true
}
