package dvi_modbus

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
)

// max bytes discarded while resynchronising after garbage on the line
const maxDrain = 4 * rtuMaxSize

// Framer splits the byte stream of a serial port into RTU frames using the
// length rules of each function code.
type Framer struct {
	r io.Reader
}

func NewFramer(r io.Reader) *Framer {
	return &Framer{r: r}
}

// Frames yields frames until the underlying port fails. Timeouts and
// malformed frames are yielded as errors without ending the sequence.
func (f *Framer) Frames() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			frame, err := f.ReadFrame()
			if !yield(frame, err) {
				return
			}
			if err != nil && IsLinkFailure(err) {
				return
			}
		}
	}
}

func (f *Framer) ReadFrame() ([]byte, error) {
	head := make([]byte, 2, rtuMaxSize)
	if err := f.readFull(head); err != nil {
		return nil, err
	}

	var rest int
	fc := head[1]
	switch {
	case fc&0x80 != 0:
		rest = 3
	case fc == modbus.FuncCodeReadCoils, fc == modbus.FuncCodeReadDiscreteInputs,
		fc == modbus.FuncCodeReadHoldingRegisters, fc == modbus.FuncCodeReadInputRegisters:
		count := make([]byte, 1)
		if err := f.readFull(count); err != nil {
			return nil, err
		}
		head = append(head, count[0])
		rest = int(count[0]) + 2
	case fc == modbus.FuncCodeWriteSingleCoil, fc == modbus.FuncCodeWriteSingleRegister,
		fc == modbus.FuncCodeWriteMultipleCoils, fc == modbus.FuncCodeWriteMultipleRegisters:
		rest = 6
	default:
		f.Discard()
		return nil, malformed(head, "unknown function code %d", fc)
	}

	body := make([]byte, rest)
	if err := f.readFull(body); err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, malformed(append(head, body...), "truncated frame")
		}
		return nil, err
	}
	return append(head, body...), nil
}

func (f *Framer) readFull(buf []byte) error {
	_, err := io.ReadFull(f.r, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, serial.ErrTimeout):
		return ErrTimeout
	default:
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
}

// Discard drops input until a read times out, so a late answer to an earlier
// request is not taken for the answer to the next one.
func (f *Framer) Discard() {
	buf := make([]byte, 64)
	for total := 0; total < maxDrain; {
		n, err := f.r.Read(buf)
		total += n
		if err != nil {
			return
		}
	}
}
