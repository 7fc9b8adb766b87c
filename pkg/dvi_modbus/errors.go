package dvi_modbus

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrConnection is wrapped by every failure of the underlying serial port.
	ErrConnection = errors.New("dvi: connection error")
	// ErrTimeout is returned when the device does not answer within the read window.
	ErrTimeout = errors.New("dvi: timeout")
	// ErrClosed is returned by a transport that has not been opened or was closed.
	ErrClosed = errors.New("dvi: transport closed")
)

type MalformedFrameError struct {
	Frame  []byte
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("dvi: malformed frame (%s): %s", e.Reason, hex.EncodeToString(e.Frame))
}

func malformed(frame []byte, format string, args ...any) error {
	return &MalformedFrameError{
		Frame:  append([]byte(nil), frame...),
		Reason: fmt.Sprintf(format, args...),
	}
}

type UnsupportedCommandError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("dvi: unsupported command %s=%v: %s", e.Field, e.Value, e.Reason)
}

func IsMalformed(err error) bool {
	var m *MalformedFrameError
	return errors.As(err, &m)
}

func IsUnsupported(err error) bool {
	var u *UnsupportedCommandError
	return errors.As(err, &u)
}

// IsLinkFailure reports whether err means the serial link itself is unusable,
// as opposed to a single bad frame or a refused request.
func IsLinkFailure(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrClosed)
}
