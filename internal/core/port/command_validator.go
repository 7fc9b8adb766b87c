package port

import (
	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"
)

// CommandValidator checks a command against device capabilities and the
// configured limits and returns the register write that applies it.
type CommandValidator interface {
	Validate(cmd domain.Command) (dvi_modbus.WriteRegister, error)
}
