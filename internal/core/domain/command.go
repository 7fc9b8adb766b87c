package domain

import (
	"fmt"
	"time"
)

// Command is a requested setting change. It is only ever written to the
// device, never applied to a Reading.
type Command struct {
	Id       string
	Field    string
	Value    float64
	Received time.Time
}

func (c Command) String() string {
	return fmt.Sprintf("%s=%v", c.Field, c.Value)
}
